package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	usesPostgres := false
	switch c.Store.Driver {
	case DriverPostgres:
		usesPostgres = true
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	switch c.Feed.Transport {
	case TransportNone:
	case TransportMemory:
		if c.Store.Driver != DriverSQLite {
			return errors.New("feed.transport memory requires store.driver sqlite")
		}
	case TransportPostgres:
		usesPostgres = true
	case TransportWebSocket:
		if c.Feed.URL == "" {
			return errors.New("feed.url is required")
		}
		if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
			return fmt.Errorf("feed.url must start with ws:// or wss://, got %q", c.Feed.URL)
		}
	default:
		return fmt.Errorf("feed.transport must be one of none, memory, postgres, websocket, got %q", c.Feed.Transport)
	}

	if c.Journal.Enabled {
		if c.Store.Driver != DriverPostgres {
			return errors.New("journal.enabled requires store.driver postgres")
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if usesPostgres {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Realtime.Resource == "" {
		return errors.New("realtime.resource is required")
	}
	switch strings.ToLower(c.Realtime.Event) {
	case "*", "all", "insert", "update", "delete":
	default:
		return fmt.Errorf("realtime.event must be one of *, insert, update, delete, got %q", c.Realtime.Event)
	}
	if c.Realtime.ConnectTimeout <= 0 {
		return errors.New("realtime.connect_timeout must be > 0")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return errors.New("realtime.max_reconnect_attempts must be >= 1")
	}
	if c.Realtime.ReconnectMultiplier < 1 {
		return fmt.Errorf("realtime.reconnect_multiplier must be >= 1, got %v", c.Realtime.ReconnectMultiplier)
	}

	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
