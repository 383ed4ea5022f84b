package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/housekeeping/internal/config"
	"github.com/rickgao/housekeeping/internal/database"
	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/feed/pgfeed"
	"github.com/rickgao/housekeeping/internal/feed/wsfeed"
	"github.com/rickgao/housekeeping/internal/journal"
	"github.com/rickgao/housekeeping/internal/realtime"
	"github.com/rickgao/housekeeping/internal/roomcache"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Channel is a feed.Channel that owns resources released by Close.
type Channel interface {
	feed.Channel
	Close() error
}

// NewChannel builds the change-feed transport named by feed.transport. hub
// backs the memory transport and may be nil otherwise. It returns nil for
// the none transport, which leaves the Manager unconfigured.
func NewChannel(cfg *config.Config, hub *feed.Hub, logger *slog.Logger) (Channel, error) {
	switch cfg.Feed.Transport {
	case config.TransportNone:
		return nil, nil

	case config.TransportMemory:
		if hub == nil {
			return nil, fmt.Errorf("feed transport %s needs a local store", cfg.Feed.Transport)
		}
		return hub, nil

	case config.TransportPostgres:
		return pgfeed.New(pgfeed.Config{
			ConnString:    database.BuildConnString(cfg.Database.Postgres),
			ChannelPrefix: cfg.Feed.ChannelPrefix,
			PollInterval:  cfg.Feed.PollInterval,
		}, logger), nil

	case config.TransportWebSocket:
		return wsfeed.New(wsfeed.Config{
			URL:              cfg.Feed.URL,
			Token:            cfg.Feed.Token,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
			WriteTimeout:     cfg.Feed.WriteTimeout,
			PingInterval:     cfg.Feed.PingInterval,
			PingTimeout:      cfg.Feed.PingTimeout,
			SubscribeTimeout: cfg.Feed.SubscribeTimeout,
			BufferSize:       cfg.Feed.BufferSize,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown feed transport %q", cfg.Feed.Transport)
}

// RealtimeConfig maps the realtime section onto a Manager config.
func RealtimeConfig(cfg config.RealtimeConfig) (realtime.Config, error) {
	event, err := feed.ParseEventFilter(cfg.Event)
	if err != nil {
		return realtime.Config{}, fmt.Errorf("realtime.event: %w", err)
	}
	return realtime.Config{
		Resource:       cfg.Resource,
		Event:          event,
		ConnectTimeout: cfg.ConnectTimeout,
		Topic:          cfg.Topic,
		Policy: realtime.Policy{
			MaxAttempts: cfg.MaxReconnectAttempts,
			Delay:       cfg.ReconnectDelay,
			Multiplier:  cfg.ReconnectMultiplier,
			MaxDelay:    cfg.ReconnectMaxDelay,
		},
	}, nil
}

// CacheConfig maps the cache section onto a room cache config.
func CacheConfig(cfg *config.Config) roomcache.Config {
	c := roomcache.DefaultConfig()
	c.Topic = cfg.Realtime.Topic
	c.ReconcileInterval = cfg.Cache.ReconcileInterval
	return c
}

// JournalConfig maps the journal section onto a journal config.
func JournalConfig(cfg *config.Config) journal.Config {
	return journal.Config{
		Topic:         cfg.Realtime.Topic,
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}
}
