package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/housekeeping/internal/store"
)

// Error codes
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes one error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// storeError maps store errors onto HTTP responses.
func (s *Server) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		abort(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, store.ErrInvalid):
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, store.ErrClosed):
		abort(c, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	default:
		s.logger.Error("store request failed", "path", c.FullPath(), "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
