package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultStoreDriver          = DriverSQLite
	DefaultSQLitePath           = "housekeeping.db"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultFeedBufferSize       = 256
	DefaultChannelPrefix        = "housekeeping"
	DefaultPollInterval         = 250 * time.Millisecond
	DefaultResource             = "rooms"
	DefaultEvent                = "*"
	DefaultTopic                = "realtime:change"
	DefaultConnectTimeout       = 5 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 1 * time.Second
	DefaultReconnectMultiplier  = 1.0
	DefaultReconcileInterval    = 5 * time.Minute
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultJournalBufferSize    = 1000
	DefaultHTTPAddr             = ":8080"
	DefaultReadTimeout          = 15 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultMetricsNamespace     = "housekeeping"
	DefaultMetricsPath          = "/metrics"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Store defaults
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = DefaultSQLitePath
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Feed defaults
	if c.Feed.Transport == "" {
		if c.Store.Driver == DriverPostgres {
			c.Feed.Transport = TransportPostgres
		} else {
			c.Feed.Transport = TransportMemory
		}
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.SubscribeTimeout == 0 {
		c.Feed.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
	if c.Feed.ChannelPrefix == "" {
		c.Feed.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultPollInterval
	}

	// Realtime defaults
	if c.Realtime.Resource == "" {
		c.Realtime.Resource = DefaultResource
	}
	if c.Realtime.Event == "" {
		c.Realtime.Event = DefaultEvent
	}
	if c.Realtime.Topic == "" {
		c.Realtime.Topic = DefaultTopic
	}
	if c.Realtime.ConnectTimeout == 0 {
		c.Realtime.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.ReconnectDelay == 0 {
		c.Realtime.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Realtime.ReconnectMultiplier == 0 {
		c.Realtime.ReconnectMultiplier = DefaultReconnectMultiplier
	}

	// Cache defaults
	if c.Cache.ReconcileInterval == 0 {
		c.Cache.ReconcileInterval = DefaultReconcileInterval
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// HTTP defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = DefaultReadTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Metrics defaults
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
