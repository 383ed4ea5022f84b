// Package wsfeed is a feed.Channel over a JSON WebSocket change-feed.
//
// The client multiplexes every subscription over one connection. Commands
// are correlated with responses by ID; change messages are routed by the
// server-assigned subscription ID. The connection is dialed lazily on the
// first Subscribe and redialed by the next Subscribe after it breaks.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/housekeeping/internal/buffer"
	"github.com/rickgao/housekeeping/internal/feed"
)

// Client implements feed.Channel.
type Client struct {
	cfg    Config
	logger *slog.Logger

	nextCmd atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	sess    *session
	pending map[int64]*subscription // command ID -> awaiting response
	active  map[int64]*subscription // sid -> subscription
	closed  bool

	inbox     *buffer.Queue[delivery]
	startOnce sync.Once
	wg        sync.WaitGroup
}

// session is one dialed connection.
type session struct {
	conn *websocket.Conn
	done chan struct{}

	mu         sync.Mutex
	lastPingAt time.Time
}

type subscription struct {
	resource string
	handler  feed.Handler
	opts     feed.Options
	cmdID    int64
	sid      int64
	timer    *time.Timer
	closed   bool // guarded by Client.mu
}

// delivery is one handler or status callback queued for the delivery
// goroutine. Exactly one of payload and state is set.
type delivery struct {
	sub     *subscription
	payload feed.Payload
	state   feed.SubscribeState
	err     error
}

// New creates a client. Nothing is dialed until the first Subscribe.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[int64]*subscription),
		active:  make(map[int64]*subscription),
		inbox:   buffer.New[delivery](cfg.BufferSize, 0),
	}
}

// Subscribe sends a subscribe command and returns once it is written. The
// outcome arrives later through opts.OnStatus.
func (c *Client) Subscribe(resource string, handler feed.Handler, opts feed.Options) (feed.UnsubscribeFunc, error) {
	if c.cfg.URL == "" {
		return nil, feed.ErrNotConfigured
	}

	sess, err := c.ensureSession()
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		resource: resource,
		handler:  handler,
		opts:     opts,
		cmdID:    c.nextCmd.Add(1),
	}

	c.mu.Lock()
	c.pending[sub.cmdID] = sub
	sub.timer = time.AfterFunc(c.cfg.SubscribeTimeout, func() { c.expire(sub) })
	c.mu.Unlock()

	params := SubscribeParams{Resource: resource, Filter: opts.Filter}
	if opts.Event != "" && opts.Event != feed.EventAll {
		params.Event = string(opts.Event)
	}
	if err := c.send(sess, Command{ID: sub.cmdID, Cmd: CmdSubscribe, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, sub.cmdID)
		sub.timer.Stop()
		c.mu.Unlock()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	c.logger.Debug("subscribe sent", "resource", resource, "id", sub.cmdID)

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(sub) })
	}, nil
}

// Close closes the connection and notifies every subscription with
// feed.StatusClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	c.sess = nil
	subs := c.takeAllLocked()
	for _, sub := range subs {
		c.queueLocked(delivery{sub: sub, state: feed.StatusClosed, err: feed.ErrClosed})
	}
	c.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.close()
	}

	c.inbox.Close()
	c.wg.Wait()
	return err
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

func (c *Client) ensureSession() (*session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, feed.ErrClosed
	}
	if c.sess != nil {
		sess := c.sess
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	sess, err := c.dial()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.close()
		return nil, feed.ErrClosed
	}
	if c.sess != nil {
		// Lost a dial race; keep the winner.
		winner := c.sess
		c.mu.Unlock()
		sess.close()
		return winner, nil
	}
	c.sess = sess
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.deliverLoop()
	})
	c.wg.Add(2)
	c.mu.Unlock()

	go c.readLoop(sess)
	go c.heartbeatLoop(sess)

	c.logger.Info("websocket connected", "url", c.cfg.URL)
	return sess, nil
}

func (c *Client) dial() (*session, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	sess := &session{
		conn:       conn,
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
	}

	// Server sends ping, we respond with pong.
	conn.SetPingHandler(func(data string) error {
		sess.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		sess.touch()
		return nil
	})

	return sess, nil
}

func (c *Client) send(sess *session, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-sess.done:
		return ErrNotConnected
	default:
	}

	sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mu.Lock()
	sub.closed = true
	sess := c.sess
	sid := sub.sid
	if sid != 0 && c.active[sid] == sub {
		delete(c.active, sid)
	} else {
		sid = 0
	}
	c.mu.Unlock()

	// A pending subscription stays in the pending map; its ack triggers the
	// server-side unsubscribe.
	if sid == 0 || sess == nil {
		return
	}
	cmd := Command{
		ID:     c.nextCmd.Add(1),
		Cmd:    CmdUnsubscribe,
		Params: UnsubscribeParams{SIDs: []int64{sid}},
	}
	if err := c.send(sess, cmd); err != nil {
		c.logger.Debug("unsubscribe send failed", "sid", sid, "error", err)
	}
}

// expire fires when a subscribe command got no response in time.
func (c *Client) expire(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[sub.cmdID] != sub {
		return
	}
	delete(c.pending, sub.cmdID)
	if !sub.closed {
		c.queueLocked(delivery{sub: sub, state: feed.StatusTimedOut, err: ErrSubscribeTimeout})
	}
}

// readLoop reads messages until the session ends.
func (c *Client) readLoop(sess *session) {
	defer c.wg.Done()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-sess.done:
			default:
				c.drop(sess, fmt.Errorf("read: %w", err))
			}
			return
		}
		c.route(sess, data)
	}
}

// route handles one server message.
func (c *Client) route(sess *session, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("failed to parse message", "error", err)
		return
	}

	switch msg.Type {
	case TypeSubscribed:
		c.handleSubscribed(sess, msg)
	case TypeError:
		c.handleError(msg)
	case TypeChange:
		c.handleChange(msg)
	case TypeUnsubscribed:
		c.logger.Debug("unsubscribed", "id", msg.ID)
	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (c *Client) handleSubscribed(sess *session, msg Message) {
	var body SubscribedMsg
	if err := json.Unmarshal(msg.Msg, &body); err != nil || body.SID == 0 {
		c.logger.Warn("invalid subscribed response", "id", msg.ID, "error", err)
		return
	}

	c.mu.Lock()
	sub, ok := c.pending[msg.ID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("subscribed response for unknown command", "id", msg.ID)
		return
	}
	delete(c.pending, msg.ID)
	sub.timer.Stop()
	sub.sid = body.SID
	closed := sub.closed
	if !closed {
		c.active[body.SID] = sub
		c.queueLocked(delivery{sub: sub, state: feed.StatusSubscribed})
	}
	c.mu.Unlock()

	if closed {
		cmd := Command{
			ID:     c.nextCmd.Add(1),
			Cmd:    CmdUnsubscribe,
			Params: UnsubscribeParams{SIDs: []int64{body.SID}},
		}
		if err := c.send(sess, cmd); err != nil {
			c.logger.Debug("unsubscribe send failed", "sid", body.SID, "error", err)
		}
		return
	}

	c.logger.Debug("subscribed", "resource", sub.resource, "sid", body.SID)
}

func (c *Client) handleError(msg Message) {
	var body ErrorMsg
	if err := json.Unmarshal(msg.Msg, &body); err != nil {
		body.Message = string(msg.Msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.pending[msg.ID]
	if !ok {
		c.logger.Warn("server error", "id", msg.ID, "error", body.Error())
		return
	}
	delete(c.pending, msg.ID)
	sub.timer.Stop()
	if !sub.closed {
		c.queueLocked(delivery{
			sub:   sub,
			state: feed.StatusChannelError,
			err:   fmt.Errorf("subscribe %s rejected: %w", sub.resource, body),
		})
	}
}

func (c *Client) handleChange(msg Message) {
	var payload feed.Payload
	if err := json.Unmarshal(msg.Msg, &payload); err != nil {
		c.logger.Warn("invalid change message", "sid", msg.SID, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.active[msg.SID]
	if !ok || sub.closed {
		return
	}
	if !sub.opts.Matches(payload) {
		return
	}
	c.queueLocked(delivery{sub: sub, payload: payload})
}

// drop tears down a broken session and reports the error to every
// subscription on it.
func (c *Client) drop(sess *session, err error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	subs := c.takeAllLocked()
	for _, sub := range subs {
		c.queueLocked(delivery{sub: sub, state: feed.StatusChannelError, err: err})
	}
	c.mu.Unlock()

	c.logger.Warn("websocket connection lost", "error", err, "subscriptions", len(subs))
	sess.close()
}

// takeAllLocked removes and returns every open subscription.
func (c *Client) takeAllLocked() []*subscription {
	subs := make([]*subscription, 0, len(c.pending)+len(c.active))
	for id, sub := range c.pending {
		sub.timer.Stop()
		delete(c.pending, id)
		if !sub.closed {
			subs = append(subs, sub)
		}
	}
	for sid, sub := range c.active {
		delete(c.active, sid)
		if !sub.closed {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (c *Client) queueLocked(d delivery) {
	if !c.inbox.Push(d) {
		c.logger.Debug("delivery dropped after close", "resource", d.sub.resource)
	}
}

// deliverLoop runs handlers and status callbacks in arrival order.
func (c *Client) deliverLoop() {
	defer c.wg.Done()

	for {
		d, ok := c.inbox.Receive(context.Background())
		if !ok {
			return
		}

		c.mu.Lock()
		closed := d.sub.closed
		c.mu.Unlock()

		switch {
		case d.state != "":
			if !closed || d.state == feed.StatusClosed {
				d.sub.opts.Notify(d.state, d.err)
			}
		case !closed:
			d.sub.handler(d.payload)
		}
	}
}

// heartbeatLoop pings the server and drops the session when it goes quiet.
func (c *Client) heartbeatLoop(sess *session) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
			c.writeMu.Unlock()

			if last := sess.lastPing(); time.Since(last) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", last,
					"timeout", c.cfg.PingTimeout,
				)
				c.drop(sess, ErrStaleConnection)
				return
			}
		}
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

func (s *session) lastPing() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPingAt
}

// close ends the session. It is safe to call more than once.
func (s *session) close() error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	s.mu.Unlock()

	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
