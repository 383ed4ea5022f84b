// Package pgfeed is a feed.Channel over Postgres LISTEN/NOTIFY.
//
// Each resource maps to the notification channel "<prefix>_<resource>",
// which the store's change trigger publishes to. One goroutine owns a
// dedicated connection: it applies LISTEN/UNLISTEN for the current
// subscription set between bounded waits for notifications.
package pgfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/housekeeping/internal/feed"
)

// Config configures a Listener.
type Config struct {
	// ConnString is a pgx connection string.
	ConnString string

	// ChannelPrefix prefixes every notification channel name.
	ChannelPrefix string

	// PollInterval bounds each wait for a notification. Subscription
	// changes are applied between waits.
	PollInterval time.Duration
}

// Defaults
const (
	DefaultChannelPrefix = "housekeeping"
	DefaultPollInterval  = 250 * time.Millisecond
)

// ChannelName returns the notification channel for resource.
func ChannelName(prefix, resource string) string {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return prefix + "_" + resource
}

// Listener implements feed.Channel.
type Listener struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string]map[uint64]*subscription // channel -> id -> sub
	nextID  uint64
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type subscription struct {
	id      uint64
	channel string
	handler feed.Handler
	opts    feed.Options
	acked   bool
}

// New creates a listener. No connection is made until the first Subscribe.
func New(cfg Config, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Listener{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]map[uint64]*subscription),
	}
}

// Subscribe registers a subscription. It is acknowledged with
// feed.StatusSubscribed once the LISTEN has been issued.
func (l *Listener) Subscribe(resource string, handler feed.Handler, opts feed.Options) (feed.UnsubscribeFunc, error) {
	if l.cfg.ConnString == "" {
		return nil, feed.ErrNotConfigured
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, feed.ErrClosed
	}

	l.nextID++
	sub := &subscription{
		id:      l.nextID,
		channel: ChannelName(l.cfg.ChannelPrefix, resource),
		handler: handler,
		opts:    opts,
	}
	if l.subs[sub.channel] == nil {
		l.subs[sub.channel] = make(map[uint64]*subscription)
	}
	l.subs[sub.channel][sub.id] = sub

	if !l.running {
		l.startLocked()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(sub) })
	}, nil
}

// Close stops the listener goroutine and notifies every remaining
// subscription with feed.StatusClosed.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	subs := l.takeAllLocked()
	l.mu.Unlock()

	for _, sub := range subs {
		sub.opts.Notify(feed.StatusClosed, feed.ErrClosed)
	}
	return nil
}

func (l *Listener) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)
}

func (l *Listener) remove(sub *subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if subs, ok := l.subs[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(l.subs, sub.channel)
		}
	}
}

// run owns the connection until it fails, the listener closes, or the last
// subscription goes away.
func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	conn, err := pgx.Connect(ctx, l.cfg.ConnString)
	if err != nil {
		l.fail(ctx, fmt.Errorf("connect: %w", err))
		return
	}
	defer conn.Close(context.Background())

	l.logger.Info("pg listener connected")
	listening := make(map[string]bool)

	for {
		if err := l.sync(ctx, conn, listening); err != nil {
			l.fail(ctx, err)
			return
		}
		if len(listening) == 0 && l.stopIfIdle() {
			l.logger.Info("pg listener idle, disconnecting")
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, l.cfg.PollInterval)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil && !conn.PgConn().IsClosed() {
				continue
			}
			l.fail(ctx, fmt.Errorf("wait for notification: %w", err))
			return
		}

		l.dispatch(n.Channel, n.Payload)
	}
}

// sync issues LISTEN for new channels and UNLISTEN for abandoned ones, then
// acknowledges subscriptions whose channel is listened to.
func (l *Listener) sync(ctx context.Context, conn *pgx.Conn, listening map[string]bool) error {
	l.mu.Lock()
	wanted := make(map[string]bool, len(l.subs))
	for ch := range l.subs {
		wanted[ch] = true
	}
	l.mu.Unlock()

	for ch := range wanted {
		if listening[ch] {
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
		listening[ch] = true
		l.logger.Debug("listening", "channel", ch)
	}
	for ch := range listening {
		if wanted[ch] {
			continue
		}
		if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("unlisten %s: %w", ch, err)
		}
		delete(listening, ch)
		l.logger.Debug("unlistened", "channel", ch)
	}

	var acks []*subscription
	l.mu.Lock()
	for ch, subs := range l.subs {
		if !listening[ch] {
			continue
		}
		for _, sub := range subs {
			if !sub.acked {
				sub.acked = true
				acks = append(acks, sub)
			}
		}
	}
	l.mu.Unlock()

	for _, sub := range acks {
		sub.opts.Notify(feed.StatusSubscribed, nil)
	}
	return nil
}

// stopIfIdle marks the loop stopped when no subscriptions remain.
func (l *Listener) stopIfIdle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) > 0 {
		return false
	}
	l.running = false
	return true
}

func (l *Listener) dispatch(channel, raw string) {
	p, err := ParsePayload(raw)
	if err != nil {
		l.logger.Warn("invalid notification payload", "channel", channel, "error", err)
		return
	}

	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs[channel]))
	for _, sub := range l.subs[channel] {
		subs = append(subs, sub)
	}
	l.mu.Unlock()

	for _, sub := range subs {
		if sub.opts.Matches(p) {
			sub.handler(p)
		}
	}
}

// fail drops every subscription with a channel error. The next Subscribe
// reconnects.
func (l *Listener) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	l.logger.Warn("pg listener failed", "error", err)

	l.mu.Lock()
	l.running = false
	subs := l.takeAllLocked()
	l.mu.Unlock()

	for _, sub := range subs {
		sub.opts.Notify(feed.StatusChannelError, err)
	}
}

func (l *Listener) takeAllLocked() []*subscription {
	var out []*subscription
	for ch, subs := range l.subs {
		for _, sub := range subs {
			out = append(out, sub)
		}
		delete(l.subs, ch)
	}
	return out
}

// ParsePayload decodes a change-trigger notification payload.
func ParsePayload(raw string) (feed.Payload, error) {
	var p feed.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, errors.New("decode payload: empty")
	}
	return p, nil
}
