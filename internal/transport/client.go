// Package transport is the client side of the collaboration WebSocket: one
// persistent connection with fixed-delay reconnect, typed event handlers and
// ack-correlated requests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"review-collab/internal/logger"
	"review-collab/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultAckTimeout        = 10 * time.Second

	writeWait = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrAckTimeout   = errors.New("timed out waiting for ack")
	ErrRejected     = errors.New("request rejected by server")
)

// Handler receives one decoded server event.
type Handler func(models.Event)

type Option func(*Client)

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithReconnect sets how many times a dropped connection is redialled and
// the pause before each attempt.
func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// Client is a reconnecting connection to the collaboration server.
// Handlers run one at a time on the read goroutine.
type Client struct {
	dialer     *websocket.Dialer
	header     http.Header
	log        *slog.Logger
	attempts   int
	delay      time.Duration
	ackTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	endpoint  string
	connected bool
	stop      context.CancelFunc // ends the read and reconnect loop

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[models.EventType][]Handler
	status     []func(bool)

	nextAck   atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan models.Event
}

func New(opts ...Option) *Client {
	c := &Client{
		dialer:     websocket.DefaultDialer,
		log:        logger.Discard(),
		attempts:   DefaultReconnectAttempts,
		delay:      DefaultReconnectDelay,
		ackTimeout: DefaultAckTimeout,
		handlers:   make(map[models.EventType][]Handler),
		pending:    make(map[uint64]chan models.Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "transport"))
	return c
}

// On registers h for events of type t.
func (c *Client) On(t models.EventType, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// OnStatus registers fn to be told about every connect and disconnect.
func (c *Client) OnStatus(fn func(connected bool)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.status = append(c.status, fn)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials endpoint once. Later drops are retried in the background.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	const op = "transport.Connect"

	c.Disconnect()

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.endpoint = endpoint
	c.stop = stop
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("connected", slog.String("endpoint", endpoint))
	c.notifyStatus(true)

	go c.run(loopCtx, conn)
	return nil
}

// Disconnect closes the connection and cancels any reconnect in progress.
func (c *Client) Disconnect() {
	c.mu.Lock()
	stop, conn, was := c.stop, c.conn, c.connected
	c.stop = nil
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.failPending()
	if was {
		c.notifyStatus(false)
	}
}

// Emit sends ev without waiting for a reply. While disconnected the event is
// dropped; the caller resynchronises after reconnect.
func (c *Client) Emit(ev models.Event) {
	if err := c.write(ev, 0); err != nil {
		c.log.Debug("event dropped", slog.String("event", string(ev.EventType())), logger.Err(err))
	}
}

// Authenticate performs the token handshake for sessionID.
func (c *Client) Authenticate(ctx context.Context, sessionID, userID, token string) (models.Ack, error) {
	ack, err := c.requestAck(ctx, models.Authenticate{SessionID: sessionID, UserID: userID, Token: token})
	if err != nil {
		return ack, err
	}
	if !ack.Success {
		return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	return ack, nil
}

// Ping measures the round trip to the server.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.requestAck(ctx, models.Ping{Timestamp: start.UnixMilli()}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Request sends ev with a fresh ack id and waits for the reply carrying it.
func (c *Client) Request(ctx context.Context, ev models.Event) (models.Event, error) {
	id := c.nextAck.Add(1)
	reply := make(chan models.Event, 1)

	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ev, id); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrAckTimeout, ev.EventType())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) requestAck(ctx context.Context, ev models.Event) (models.Ack, error) {
	res, err := c.Request(ctx, ev)
	if err != nil {
		return models.Ack{}, err
	}
	ack, ok := res.(models.Ack)
	if !ok {
		return models.Ack{}, fmt.Errorf("unexpected %s reply to %s", res.EventType(), ev.EventType())
	}
	return ack, nil
}

func (c *Client) write(ev models.Event, ack uint64) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	data, err := models.Encode(ev, ack)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", ev.EventType(), err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return conn, nil
}

// run reads from conn until it fails, then redials. It returns when ctx is
// cancelled or reconnecting gives up.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	for conn != nil {
		c.readLoop(conn)

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.connected = false
		}
		endpoint := c.endpoint
		c.mu.Unlock()

		c.failPending()
		c.notifyStatus(false)
		c.log.Warn("connection lost", slog.String("endpoint", endpoint))

		conn = c.reconnect(ctx, endpoint)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		ev, ack, err := models.Decode(data)
		if err != nil {
			c.log.Debug("dropping undecodable frame", logger.Err(err))
			continue
		}

		if ack != 0 && c.resolve(ack, ev) {
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) reconnect(ctx context.Context, endpoint string) *websocket.Conn {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}

		conn, err := c.dial(ctx, endpoint)
		if err != nil {
			c.log.Warn("reconnect failed", slog.Int("attempt", attempt), logger.Err(err))
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		c.log.Info("reconnected", slog.Int("attempt", attempt))
		c.notifyStatus(true)
		return conn
	}

	c.log.Error("giving up reconnecting", slog.Int("attempts", c.attempts))
	return nil
}

func (c *Client) resolve(id uint64, ev models.Event) bool {
	c.pendingMu.Lock()
	reply, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if ok {
		reply <- ev
	}
	return ok
}

// failPending wakes every waiting request with ErrNotConnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

func (c *Client) dispatch(ev models.Event) {
	c.handlersMu.RLock()
	hs := append([]Handler(nil), c.handlers[ev.EventType()]...)
	c.handlersMu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

func (c *Client) notifyStatus(connected bool) {
	c.handlersMu.RLock()
	fns := append([]func(bool){}, c.status...)
	c.handlersMu.RUnlock()

	for _, fn := range fns {
		fn(connected)
	}
}
