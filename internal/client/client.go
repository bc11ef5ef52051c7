package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal/models"
)

// Handler receives incoming relay events for a subscribed kind.
type Handler func(env models.Envelope)

// Subscription identifies one registered handler. Removing a handler requires
// either this handle or an explicit OffAll call; there is no implicit mass
// unsubscription.
type Subscription struct {
	kind string
	id   int
}

// ConnectionError means the handshake could not be established within the
// reconnection budget. Recoverable by calling Connect again.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Options bound the connect/reconnect behavior.
type Options struct {
	Attempts         int
	Delay            time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		Attempts:         5,
		Delay:            2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Client manages one connection to the relay server and exposes a typed
// send/subscribe surface. Sends are fire-and-forget: while disconnected they
// are dropped with a warning, never queued.
type Client struct {
	url  string
	opts Options

	mu       sync.Mutex
	ws       *websocket.Conn
	socketID string

	connected atomic.Bool
	manual    atomic.Bool

	writeMu sync.Mutex

	subMu   sync.RWMutex
	subs    map[string]map[int]Handler
	nextSub int
}

func New(url string, opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Client{
		url:  url,
		opts: opts,
		subs: make(map[string]map[int]Handler),
	}
}

// Connect dials the relay with a bounded attempt budget and a fixed
// inter-attempt delay. It returns once the connected handshake completes, or
// a ConnectionError when the budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	log := logrus.WithField("prefix", "Client.Connect")

	if c.connected.Load() {
		return nil
	}
	c.manual.Store(false)

	var lastErr error
	backoff := retry.WithMaxRetries(uint64(c.opts.Attempts-1), retry.NewConstant(c.opts.Delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.dial(ctx); err != nil {
			lastErr = err
			log.Warnf("connect attempt failed: %v", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return &ConnectionError{Attempts: c.opts.Attempts, Err: lastErr}
	}
	log.Infof("connected to relay as %v", c.SocketID())
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	// The handshake is complete only when the server's connected event lands.
	if err := ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		_ = ws.Close()
		return err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("handshake read: %w", err)
	}
	var env models.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		_ = ws.Close()
		return fmt.Errorf("handshake decode: %w", err)
	}
	if env.Kind != models.KindConnected {
		_ = ws.Close()
		return fmt.Errorf("unexpected handshake event %q", env.Kind)
	}
	var hello models.Connected
	if err := env.Decode(&hello); err != nil {
		_ = ws.Close()
		return fmt.Errorf("handshake decode: %w", err)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		_ = ws.Close()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.socketID = hello.SocketID
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(ws)
	return nil
}

func (c *Client) readLoop(ws *websocket.Conn) {
	log := logrus.WithField("prefix", "Client.readLoop")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.connected.Store(false)
			if !c.manual.Load() {
				log.Warnf("relay connection lost: %v", err)
				c.dispatch(models.Envelope{Kind: models.KindDisconnected, Timestamp: models.Now()})
			}
			return
		}
		var env models.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			log.Warnf("malformed envelope: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	c.subMu.RLock()
	handlers := make([]Handler, 0, len(c.subs[env.Kind]))
	for _, fn := range c.subs[env.Kind] {
		handlers = append(handlers, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
}

// Disconnect tears down the active connection. Idempotent.
func (c *Client) Disconnect() {
	c.manual.Store(true)
	if !c.connected.Swap(false) {
		return
	}
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// IsConnected reports whether the handshake has completed and the transport
// is still up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SocketID returns the server-assigned connection identifier, or "" before
// the first successful handshake.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Emit sends a fire-and-forget event. While disconnected the event is
// dropped with a warning; it is never queued.
func (c *Client) Emit(kind string, data interface{}) {
	log := logrus.WithField("prefix", "Client.Emit")

	if !c.connected.Load() {
		log.Warnf("relay not connected, dropping %q event", kind)
		return
	}
	env, err := models.NewEnvelope(kind, data)
	if err != nil {
		log.Errorf("failed to build %q envelope: %v", kind, err)
		return
	}
	raw, err := sonic.Marshal(env)
	if err != nil {
		log.Errorf("failed to marshal %q envelope: %v", kind, err)
		return
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		log.Warnf("relay not connected, dropping %q event", kind)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Warnf("failed to send %q event: %v", kind, err)
	}
}

// On registers a handler for an incoming event kind and returns its handle.
func (c *Client) On(kind string, fn Handler) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subs[kind] == nil {
		c.subs[kind] = make(map[int]Handler)
	}
	c.nextSub++
	c.subs[kind][c.nextSub] = fn
	return Subscription{kind: kind, id: c.nextSub}
}

// Off removes exactly the handler identified by the subscription.
func (c *Client) Off(sub Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if handlers, ok := c.subs[sub.kind]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(c.subs, sub.kind)
		}
	}
}

// OffAll removes every handler registered for the kind.
func (c *Client) OffAll(kind string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, kind)
}
