package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	dialTimeout    = 10 * time.Second
)

// Channel is the duplex message transport the engine talks through.
type Channel interface {
	Connect(ctx context.Context) error
	Send(m Message) error
	Subscribe(handler func(Message)) (unsubscribe func())
	Disconnect() error
}

// Options bound the reconnection behaviour.
type Options struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client is a websocket Channel. Outgoing messages go through an ordered
// outbox that survives reconnects; a message is only dropped from it once the
// write succeeded.
type Client struct {
	serverURL string
	opts      Options
	dialer    *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	outbox      []Message
	subs        map[int]func(Message)
	nextSub     int
	onReconnect []func() []Message
	onError     []func(error)
	connected   bool
	closed      bool
	started     bool

	wake     chan struct{}
	finished chan struct{}
}

var _ Channel = (*Client)(nil)

// NewClient creates a client for serverURL. Nothing is dialed until Connect.
func NewClient(serverURL string, opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 250 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serverURL: serverURL,
		opts:      opts,
		dialer: &websocket.Dialer{
			NetDialContext:   dns.Dialer(),
			HandshakeTimeout: dialTimeout,
		},
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]func(Message)),
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// Connect dials the relay, retrying with backoff, and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.serverURL); err != nil {
		return &TransportError{Op: "connect", URL: c.serverURL, Err: fmt.Errorf("invalid server URL: %w", err)}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dialFirst(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.started = true
	c.connected = true
	c.mu.Unlock()

	go c.maintain(conn)
	return nil
}

// Send queues m for delivery. It never blocks on the network.
func (c *Client) Send(m Message) error {
	if _, err := Encode(m); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.outbox = append(c.outbox, m)
	c.mu.Unlock()

	c.signal()
	return nil
}

// Subscribe registers handler for every inbound message. Handlers run on the
// read goroutine in arrival order.
func (c *Client) Subscribe(handler func(Message)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// OnReconnect registers fn to run after the socket has been re-established.
// The messages fn returns go out before anything queued during the outage.
func (c *Client) OnReconnect(fn func() []Message) {
	c.mu.Lock()
	c.onReconnect = append(c.onReconnect, fn)
	c.mu.Unlock()
}

// OnError registers fn to receive a *TransportError when reconnection gives up.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pending returns the number of queued, unsent messages.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Disconnect closes the socket and stops reconnecting. It is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if started {
		select {
		case <-c.finished:
		case <-time.After(writeWait):
			slog.Warn("signaling: pumps did not stop in time")
		}
	}
	return nil
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.serverURL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

func (c *Client) dialFirst(ctx context.Context) (*websocket.Conn, error) {
	conn, err := c.dial(ctx)
	if err == nil {
		return conn, nil
	}
	slog.Warn("signaling: connect failed, retrying", "url", c.serverURL, "error", err)
	return c.redial(ctx, err)
}

// redial retries with capped exponential backoff. lastErr seeds the error
// reported if every attempt fails.
func (c *Client) redial(ctx context.Context, lastErr error) (*websocket.Conn, error) {
	for attempt := 0; attempt < c.opts.Attempts; attempt++ {
		delay := BackoffDelay(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
		delay += jitter(delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.ctx.Done():
			timer.Stop()
			return nil, ErrClosed
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Debug("signaling: reconnect attempt failed", "attempt", attempt+1, "error", err)
	}

	return nil, &TransportError{
		Op:       "connect",
		URL:      c.serverURL,
		Attempts: c.opts.Attempts + 1,
		Err:      fmt.Errorf("%w: %v", ErrUnavailable, lastErr),
	}
}

// maintain owns the connection lifecycle until Disconnect or until
// reconnection gives up.
func (c *Client) maintain(conn *websocket.Conn) {
	defer close(c.finished)

	for {
		err := c.serve(conn)

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		if c.isClosed() {
			return
		}
		slog.Warn("signaling: connection lost", "error", err)

		conn, err = c.redial(c.ctx, err)
		if err != nil {
			if !c.isClosed() {
				c.fail(err)
			}
			return
		}

		c.mu.Lock()
		c.connected = true
		hooks := append([]func() []Message{}, c.onReconnect...)
		c.mu.Unlock()

		// The writer only starts with the next serve, so nothing leaves the
		// outbox while the hooks run; sends made meanwhile queue behind it.
		var first []Message
		for _, fn := range hooks {
			first = append(first, fn()...)
		}

		c.mu.Lock()
		c.outbox = append(first, c.outbox...)
		queued := len(c.outbox)
		c.mu.Unlock()
		c.signal()

		slog.Info("signaling: reconnected", "url", c.serverURL, "queued", queued)
	}
}

// serve runs both pumps on conn and returns when it dies.
func (c *Client) serve(conn *websocket.Conn) error {
	writerDone := make(chan struct{})
	connDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		c.writePump(conn, connDone)
	}()

	err := c.readPump(conn)
	close(connDone)
	conn.Close()
	<-writerDone
	return err
}

func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("signaling: dropping unreadable frame", "error", err)
			continue
		}
		msg, err := Decode(&env)
		if err != nil {
			slog.Warn("signaling: dropping message", "type", env.Type, "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	handlers := make([]func(Message), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, c.subs[id])
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// writePump drains the outbox and sends periodic pings. It is the only
// goroutine writing to conn.
func (c *Client) writePump(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// anything queued before this socket came up
	if !c.flush(conn) {
		conn.Close()
		return
	}

	for {
		select {
		case <-c.wake:
			if !c.flush(conn) {
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-c.ctx.Done():
			c.flush(conn)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return

		case <-connDone:
			return
		}
	}
}

// flush writes queued messages in order. A failed write leaves its message at
// the head of the outbox.
func (c *Client) flush(conn *websocket.Conn) bool {
	for {
		c.mu.Lock()
		if len(c.outbox) == 0 {
			c.mu.Unlock()
			return true
		}
		msg := c.outbox[0]
		c.mu.Unlock()

		data, err := Marshal(msg)
		if err != nil {
			slog.Error("signaling: dropping unencodable message", "type", msg.Type(), "error", err)
			c.popHead()
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("signaling: write failed, keeping message queued", "type", msg.Type(), "error", err)
			return false
		}
		c.popHead()
	}
}

func (c *Client) popHead() {
	c.mu.Lock()
	if len(c.outbox) > 0 {
		c.outbox = c.outbox[1:]
	}
	c.mu.Unlock()
}

func (c *Client) fail(err error) {
	slog.Error("signaling: giving up on relay", "error", err)

	c.mu.Lock()
	hooks := append([]func(error){}, c.onError...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(err)
	}
}

// BackoffDelay is min(base*2^attempt, max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d / 2)))
}
