package httpapi

import (
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/realtime"
)

// SSE event names
const (
	EventChange = "change"
	EventReady  = "ready"
)

type subscribeFunc func(fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error)

// streamChanges relays every ChangeEvent broadcast on the bus topic.
func (s *Server) streamChanges(c *gin.Context) {
	if s.deps.Bus == nil {
		abort(c, http.StatusServiceUnavailable, CodeUnavailable, "event bus not configured")
		return
	}
	s.stream(c, "changes", func(fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error) {
		return realtime.Listen(s.deps.Bus, s.deps.Topic, fn), nil
	})
}

// streamRoom relays changes to one room over a dedicated subscription.
func (s *Server) streamRoom(c *gin.Context) {
	id := c.Param("id")
	s.stream(c, "room:"+id, func(fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error) {
		return s.deps.Realtime.SubscribeToResource(id, fn)
	})
}

// streamStatus relays changes to rooms currently in a status.
func (s *Server) streamStatus(c *gin.Context) {
	status := c.Param("status")
	s.stream(c, "status:"+status, func(fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error) {
		return s.deps.Realtime.SubscribeToFilteredEvents(status, fn)
	})
}

// stream writes events as server-sent events until the client goes away.
// Events for a client that falls StreamBuffer behind are dropped.
func (s *Server) stream(c *gin.Context, name string, subscribe subscribeFunc) {
	events := make(chan realtime.ChangeEvent, s.cfg.StreamBuffer)
	var dropped atomic.Int64
	unsubscribe, err := subscribe(func(ev realtime.ChangeEvent) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	if err != nil {
		s.logger.Warn("stream subscribe failed", "stream", name, "error", err)
		abort(c, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
		return
	}
	defer unsubscribe()

	var keepAlive <-chan time.Time
	if s.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(s.cfg.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	s.logger.Debug("stream opened", "stream", name)
	defer func() { s.logger.Debug("stream closed", "stream", name, "dropped", dropped.Load()) }()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(EventReady, gin.H{"stream": name})
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent(EventChange, ev)
			return true
		case <-keepAlive:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case <-done:
			return false
		}
	})
}
