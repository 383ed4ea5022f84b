package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timers and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// Manager keeps one primary subscription alive on a channel.
type Manager struct {
	cfg        Config
	registry   *Registry
	dispatcher *Dispatcher
	clock      clockwork.Clock
	recorder   Recorder
	logger     *slog.Logger

	// opMu serializes Connect, Disconnect, Reconnect, Close and retries.
	opMu sync.Mutex

	mu           sync.Mutex
	status       Status
	gen          uint64
	failed       bool // current generation has already failed
	cleanStart   bool // current generation started without an error
	connectTimer clockwork.Timer
	retryTimer   clockwork.Timer
	closed       bool

	teardowns sync.WaitGroup
}

// NewManager creates a disconnected Manager. A nil channel is allowed; Connect
// then reports MsgNotConfigured. A nil bus gets a private one.
func NewManager(cfg Config, channel feed.Channel, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		recorder: nopRecorder{},
		logger:   logger,
		status:   Status{State: StateDisconnected},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}

	m.registry = NewRegistry(channel, logger)
	m.dispatcher = NewDispatcher(bus, cfg.Topic, cfg.Resource, m.clock, logger)
	m.dispatcher.recorder = m.recorder
	return m
}

// Status returns a copy of the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Topic returns the bus topic ChangeEvents are broadcast on.
func (m *Manager) Topic() string {
	return m.dispatcher.Topic()
}

// Registry returns the subscription registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect opens a fresh primary subscription and returns without waiting for
// the outcome. Any pending timers and the previous subscription are dropped
// first.
func (m *Manager) Connect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.connect()
}

// Reconnect resets the attempt budget and connects.
func (m *Manager) Reconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.status.ConnectionAttempts = 0
	m.status.Error = ""
	m.mu.Unlock()

	m.logger.Info("manual reconnect", "resource", m.cfg.Resource)
	m.connect()
}

// Disconnect cancels all timers and closes the primary subscription. It is
// idempotent. Error and ConnectionAttempts are kept; only Reconnect or a
// successful connect clears the error.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.disconnect()
}

// Close disconnects and stops the Manager. Later control calls are no-ops.
func (m *Manager) Close() {
	m.opMu.Lock()
	m.disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.opMu.Unlock()

	m.teardowns.Wait()
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if !m.registry.Configured() {
		m.stopTimersLocked()
		m.gen++
		m.status.IsConnected = false
		m.status.IsSubscribed = false
		m.status.Error = MsgNotConfigured
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.logger.Warn("realtime connect skipped", "error", MsgNotConfigured)
		return
	}

	m.stopTimersLocked()
	m.gen++
	gen := m.gen
	m.failed = false
	m.cleanStart = m.status.Error == ""
	m.status.IsConnected = false
	m.status.IsSubscribed = false
	m.setStateLocked(StateConnecting)
	m.connectTimer = m.clock.AfterFunc(m.cfg.ConnectTimeout, func() { m.onTimeout(gen) })
	attempts := m.status.ConnectionAttempts
	m.mu.Unlock()

	m.logger.Info("realtime connecting",
		"resource", m.cfg.Resource,
		"event", m.cfg.Event,
		"attempts", attempts,
	)

	_, err := m.registry.RegisterPrimary(
		m.cfg.Resource,
		m.cfg.Event,
		func(p feed.Payload) { m.onPayload(gen, p) },
		func(state feed.SubscribeState, err error) { m.onChannelStatus(gen, state, err) },
	)
	if err != nil {
		m.fail(gen, err.Error(), err)
	}
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	m.stopTimersLocked()
	m.gen++
	wasDisconnected := m.status.State == StateDisconnected
	m.status.IsConnected = false
	m.status.IsSubscribed = false
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	m.registry.UnregisterPrimary()

	if !wasDisconnected {
		m.logger.Info("realtime disconnected", "resource", m.cfg.Resource)
	}
}

// retry runs when a scheduled reconnect timer fires.
func (m *Manager) retry(gen uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if gen != m.gen || m.closed || m.retryTimer == nil {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	attempts := m.status.ConnectionAttempts
	m.mu.Unlock()

	m.logger.Info("realtime retrying", "resource", m.cfg.Resource, "attempts", attempts)
	m.connect()
}

func (m *Manager) onTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.connectTimer == nil {
		m.mu.Unlock()
		return
	}
	m.connectTimer = nil
	teardown := m.failLocked(gen, MsgConnectionTimeout, ErrConnectionTimeout)
	m.mu.Unlock()

	m.afterFail(gen, MsgConnectionTimeout, teardown)
}

func (m *Manager) onChannelStatus(gen uint64, state feed.SubscribeState, err error) {
	switch state {
	case feed.StatusSubscribed:
		m.confirm(gen)
	case feed.StatusChannelError, feed.StatusTimedOut, feed.StatusClosed:
		msg := string(state)
		if err != nil {
			msg = err.Error()
		}
		m.fail(gen, msg, err)
	default:
		m.logger.Debug("ignoring channel status", "state", state)
	}
}

func (m *Manager) onPayload(gen uint64, p feed.Payload) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.status.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	confirmed := false
	if !m.status.IsConnected {
		m.confirmLocked()
		confirmed = true
	}
	m.status.LastUpdate = m.clock.Now()
	m.mu.Unlock()

	if confirmed {
		m.logger.Info("realtime connected", "resource", m.cfg.Resource, "via", "payload")
	}
	m.dispatcher.Dispatch(p)
}

func (m *Manager) confirm(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.status.IsConnected || m.status.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.confirmLocked()
	m.mu.Unlock()

	m.logger.Info("realtime connected", "resource", m.cfg.Resource, "via", "ack")
}

// confirmLocked marks the current generation connected.
func (m *Manager) confirmLocked() {
	m.stopTimersLocked()
	m.failed = false
	if m.cleanStart {
		m.status.ConnectionAttempts = 0
	}
	m.status.IsConnected = true
	m.status.IsSubscribed = true
	m.status.Error = ""
	m.setStateLocked(StateConnected)
}

func (m *Manager) fail(gen uint64, msg string, cause error) {
	m.mu.Lock()
	teardown := m.failLocked(gen, msg, cause)
	m.mu.Unlock()

	m.afterFail(gen, msg, teardown)
}

// failLocked records a failure of generation gen and hands it to the
// Policy. It reports whether the primary subscription must be torn down, in
// which case a teardowns slot has been reserved.
func (m *Manager) failLocked(gen uint64, msg string, cause error) bool {
	if gen != m.gen || m.closed || m.failed || m.status.State == StateDisconnected {
		return false
	}
	m.failed = true
	m.stopConnectTimerLocked()

	m.status.IsConnected = false
	m.status.IsSubscribed = false
	m.status.Error = msg
	if !errors.Is(cause, feed.ErrNotConfigured) {
		m.status.ConnectionAttempts++
	}
	m.setStateLocked(StateError)
	m.recorder.AttemptFailed(msg)

	return m.reactLocked(gen, cause)
}

// reactLocked is the single place a retry is scheduled. It runs only while
// an error is set, the channel is down and no retry is pending.
func (m *Manager) reactLocked(gen uint64, cause error) bool {
	if m.status.Error == "" || m.status.IsConnected {
		return false
	}

	d := m.cfg.Policy.Decide(m.status.ConnectionAttempts, cause)
	if !d.Retry {
		m.stopRetryTimerLocked()
		m.status.Error = d.Reason
		m.setStateLocked(StateDisconnected)
		m.teardowns.Add(1)
		return true
	}

	if m.retryTimer != nil {
		return false
	}
	m.setStateLocked(StateReconnecting)
	m.retryTimer = m.clock.AfterFunc(d.Delay, func() { m.retry(gen) })
	m.recorder.ReconnectScheduled(d.Delay)
	return false
}

func (m *Manager) afterFail(gen uint64, msg string, teardown bool) {
	status := m.Status()
	m.logger.Warn("realtime connection failed",
		"resource", m.cfg.Resource,
		"error", msg,
		"attempts", status.ConnectionAttempts,
		"state", status.State,
	)
	if !teardown {
		return
	}

	m.logger.Error("realtime giving up", "resource", m.cfg.Resource, "error", status.Error)

	// Teardown runs off the callback goroutine so channels may invoke
	// callbacks while holding their own locks.
	go func() {
		defer m.teardowns.Done()
		m.opMu.Lock()
		defer m.opMu.Unlock()

		m.mu.Lock()
		current := gen == m.gen
		m.mu.Unlock()
		if current {
			m.registry.UnregisterPrimary()
		}
	}()
}

func (m *Manager) setStateLocked(s State) {
	if m.status.State == s {
		return
	}
	m.status.State = s
	m.recorder.StateChanged(s)
}

func (m *Manager) stopTimersLocked() {
	m.stopConnectTimerLocked()
	m.stopRetryTimerLocked()
}

func (m *Manager) stopConnectTimerLocked() {
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
}

func (m *Manager) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
