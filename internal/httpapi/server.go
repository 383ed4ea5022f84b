package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/journal"
	"github.com/rickgao/housekeeping/internal/metrics"
	"github.com/rickgao/housekeeping/internal/model"
	"github.com/rickgao/housekeeping/internal/realtime"
	"github.com/rickgao/housekeeping/internal/roomcache"
	"github.com/rickgao/housekeeping/internal/store"
)

// Defaults
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultStreamBuffer    = 64
	DefaultKeepAlive       = 15 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string

	// StreamBuffer is the per-client event buffer for SSE streams. Events
	// are dropped for clients that fall this far behind.
	StreamBuffer int

	// KeepAlive is the SSE comment interval. Zero disables it.
	KeepAlive time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		ReadTimeout:     DefaultReadTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MetricsPath:     DefaultMetricsPath,
		StreamBuffer:    DefaultStreamBuffer,
		KeepAlive:       DefaultKeepAlive,
	}
}

// Realtime is the connection surface the API drives. *realtime.Manager
// satisfies it.
type Realtime interface {
	Status() realtime.Status
	Connect()
	Disconnect()
	Reconnect()
	SubscribeToResource(id string, fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error)
	SubscribeToFilteredEvents(value string, fn func(realtime.ChangeEvent)) (feed.UnsubscribeFunc, error)
}

// RoomReader is the read side. *roomcache.Cache satisfies it.
type RoomReader interface {
	Rooms() []model.Room
	Room(id string) (model.Room, bool)
	RoomsByStatus(status string) []model.Room
	Statuses() []model.CustomStatus
	Stats() roomcache.Stats
}

// JournalStats is satisfied by *journal.Journal.
type JournalStats interface {
	Stats() journal.Stats
}

// Pinger checks database reachability. *pgxpool.Pool and *store.SQLite
// satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server is built on. Database, Journal and
// Metrics are optional.
type Deps struct {
	Realtime Realtime
	Rooms    RoomReader
	Store    store.Store
	Bus      *eventbus.Bus
	Topic    string
	Database Pinger
	Journal  JournalStats
	Metrics  *metrics.Metrics
}

// Server is the HTTP front end.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds the router. It does not start listening.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = d.MetricsPath
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = d.StreamBuffer
	}
	if deps.Topic == "" {
		deps.Topic = realtime.DefaultTopic
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.observe())
	s.routes(engine)
	s.engine = engine

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)
	if s.deps.Metrics != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := r.Group("/api")

	rt := api.Group("/realtime")
	rt.GET("/status", s.realtimeStatus)
	rt.POST("/connect", s.realtimeConnect)
	rt.POST("/disconnect", s.realtimeDisconnect)
	rt.POST("/reconnect", s.realtimeReconnect)

	api.GET("/rooms", s.listRooms)
	api.GET("/rooms/:id", s.getRoom)
	api.POST("/rooms", s.createRoom)
	api.PUT("/rooms/:id", s.updateRoom)
	api.DELETE("/rooms/:id", s.deleteRoom)

	api.GET("/statuses", s.listStatuses)
	api.POST("/statuses", s.createStatus)
	api.PUT("/statuses/:id", s.updateStatus)
	api.DELETE("/statuses/:id", s.deleteStatus)

	api.GET("/stats", s.stats)

	streams := api.Group("/streams")
	streams.GET("/changes", s.streamChanges)
	streams.GET("/rooms/:id", s.streamRoom)
	streams.GET("/status/:status", s.streamStatus)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// observe logs each request and records it in metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), elapsed)
		}
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"elapsed", elapsed,
		)
	}
}
