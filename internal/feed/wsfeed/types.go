package wsfeed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/housekeeping/internal/feed"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrSubscribeTimeout = errors.New("subscribe timeout")
)

// Config configures a Client.
type Config struct {
	URL   string
	Token string // sent as a bearer token when set

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	SubscribeTimeout time.Duration

	// BufferSize is the initial inbound queue capacity.
	BufferSize int
}

// Defaults
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second
	DefaultBufferSize       = 256
)

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Command types.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// Server message types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypeChange       = "change"
)

// Command is a client-to-server command.
type Command struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params interface{} `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Resource string       `json:"resource"`
	Event    string       `json:"event,omitempty"`
	Filter   *feed.Filter `json:"filter,omitempty"`
}

// UnsubscribeParams are parameters for an unsubscribe command.
type UnsubscribeParams struct {
	SIDs []int64 `json:"sids"`
}

// Message is any server-to-client message. Command responses carry the
// command ID; change messages carry the subscription ID.
type Message struct {
	ID   int64           `json:"id,omitempty"`
	Type string          `json:"type"`
	SID  int64           `json:"sid,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// SubscribedMsg is the body of a "subscribed" response.
type SubscribedMsg struct {
	SID int64 `json:"sid"`
}

// ErrorMsg is the body of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorMsg) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
