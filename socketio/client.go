// Package socketio implements a websocket-only Socket.IO v5 client
// (Engine.IO v4, no long-polling fallback).
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	// DefaultPath is the default Socket.IO endpoint path.
	DefaultPath = "/socket.io/"
	// DefaultReadLimit bounds a single websocket message. Frames carry base64 JPEGs.
	DefaultReadLimit = 16 << 20

	handshakeTimeout = 20 * time.Second
)

// Reserved lifecycle events. They are never sent by the server.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	// ErrNotConnected is returned by Emit while no connection is established.
	ErrNotConnected = errors.New("socketio: not connected")

	errServerClosed        = errors.New("server closed the transport")
	errNamespaceDisconnect = errors.New("server disconnected the namespace")
)

// Handler receives the first argument of an event. data is nil when the event
// carried no arguments.
type Handler func(data json.RawMessage)

// ClientConfig holds configuration for the Socket.IO client.
type ClientConfig struct {
	URL       string // http(s):// or ws(s):// backend address
	Path      string // Default: DefaultPath
	Namespace string // Default: "/"
	Header    http.Header
	Backoff   Backoff
	ReadLimit int64 // Default: DefaultReadLimit
}

type subscription struct {
	id uint64
	fn Handler
}

// Client maintains a Socket.IO connection and dispatches server events to
// registered handlers. Handlers for one connection run sequentially on the
// read goroutine.
type Client struct {
	url       string
	namespace string
	header    http.Header
	backoff   Backoff
	readLimit int64

	mu       sync.Mutex
	handlers map[string][]subscription
	nextID   uint64
	conn     *websocket.Conn
	sid      string
	closed   bool
	done     chan struct{}
}

// NewClient creates a new Socket.IO client. It does not connect; call Run.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint, err := EndpointURL(cfg.URL, cfg.Path)
	if err != nil {
		return nil, err
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "/"
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	backoff := cfg.Backoff
	if backoff.Min == 0 && backoff.Max == 0 {
		backoff = DefaultBackoff()
	}

	return &Client{
		url:       endpoint,
		namespace: namespace,
		header:    cfg.Header,
		backoff:   backoff,
		readLimit: readLimit,
		handlers:  make(map[string][]subscription),
		done:      make(chan struct{}),
	}, nil
}

// EndpointURL builds the websocket URL for a backend address.
func EndpointURL(raw, path string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("backend url has no host: %q", raw)
	}

	if path == "" {
		path = DefaultPath
	}
	u.Path = path

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// URL returns the websocket endpoint the client dials.
func (c *Client) URL() string {
	return c.url
}

// ─────────────────────────────────────────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────────────────────────────────────────

// On registers fn for event and returns a function that removes it.
// Subscriptions survive reconnects.
func (c *Client) On(event string, fn Handler) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(event, id) })
	}
}

func (c *Client) remove(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := slices.DeleteFunc(c.handlers[event], func(s subscription) bool {
		return s.id == id
	})
	if len(subs) == 0 {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = subs
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	subs := slices.Clone(c.handlers[event])
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(data)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection
// ─────────────────────────────────────────────────────────────────────────────

// Run connects and keeps the connection alive, reconnecting with backoff,
// until ctx is done or Close is called. It returns nil after Close.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := c.backoff.NewPolicy()
	attempt := 0
	for {
		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return c.exitErr(ctx)
		}
		if connected {
			policy.Reset()
			attempt = 0
		}

		delay := policy.NextBackOff()
		attempt++
		slog.Warn("backend connection lost", "url", c.url, "error", err, "attempt", attempt, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return c.exitErr(ctx)
		case <-timer.C:
		}
	}
}

func (c *Client) exitErr(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return ctx.Err()
}

// runOnce serves a single connection. connected reports whether the
// handshake completed.
func (c *Client) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(c.readLimit)

	open, err := c.handshake(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("handshake: %w", err)
	}

	c.setConn(conn, open.SID)
	slog.Info("backend connected", "url", c.url, "sid", open.SID, "namespace", c.namespace)
	c.dispatch(EventConnect, nil)

	err = c.readLoop(ctx, conn, open)

	c.setConn(nil, "")
	reason, _ := json.Marshal(disconnectReason(err))
	c.dispatch(EventDisconnect, reason)

	return true, err
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (OpenPacket, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	frame, err := readText(ctx, conn)
	if err != nil {
		return OpenPacket{}, fmt.Errorf("read open packet: %w", err)
	}
	typ, payload, err := splitEngine(frame)
	if err != nil {
		return OpenPacket{}, err
	}
	if typ != engineOpen {
		return OpenPacket{}, fmt.Errorf("expected open packet, got type %q", typ)
	}
	open, err := parseOpen(payload)
	if err != nil {
		return OpenPacket{}, err
	}

	if err := write(ctx, conn, engineFrame(ConnectPacket(c.namespace))); err != nil {
		return OpenPacket{}, fmt.Errorf("send connect: %w", err)
	}

	for {
		frame, err := readText(ctx, conn)
		if err != nil {
			return OpenPacket{}, fmt.Errorf("read connect ack: %w", err)
		}
		typ, payload, err := splitEngine(frame)
		if err != nil {
			continue
		}

		switch typ {
		case enginePing:
			if err := pong(ctx, conn, payload); err != nil {
				return OpenPacket{}, err
			}
		case engineClose:
			return OpenPacket{}, errServerClosed
		case engineMessage:
			p, err := DecodePacket(payload)
			if err != nil || p.Namespace != c.namespace {
				continue
			}
			switch p.Type {
			case PacketConnect:
				return open, nil
			case PacketConnectError:
				return OpenPacket{}, parseConnectError(p.Data)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, open OpenPacket) error {
	timeout := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		frame, err := readText(readCtx, conn)
		cancel()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if err := c.handleFrame(ctx, conn, frame); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, frame string) error {
	typ, payload, err := splitEngine(frame)
	if err != nil {
		return nil
	}

	switch typ {
	case enginePing:
		return pong(ctx, conn, payload)
	case engineClose:
		return errServerClosed
	case engineNoop, enginePong:
		return nil
	case engineMessage:
	default:
		slog.Debug("ignore engine packet", "type", string(rune(typ)))
		return nil
	}

	p, err := DecodePacket(payload)
	if err != nil {
		slog.Debug("drop malformed packet", "error", err)
		return nil
	}
	if p.Namespace != c.namespace {
		return nil
	}

	switch p.Type {
	case PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			slog.Debug("drop malformed event", "error", err)
			return nil
		}
		if name == EventConnect || name == EventDisconnect {
			return nil
		}
		var data json.RawMessage
		if len(args) > 0 {
			data = args[0]
		}
		c.dispatch(name, data)
	case PacketDisconnect:
		return errNamespaceDisconnect
	case PacketConnectError:
		return parseConnectError(p.Data)
	}
	return nil
}

// Emit sends an event to the server.
func (c *Client) Emit(ctx context.Context, event string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	p, err := EventPacket(c.namespace, event, args...)
	if err != nil {
		return err
	}
	return write(ctx, conn, engineFrame(p))
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SID returns the Engine.IO session id of the current connection.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Close stops Run and closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

func (c *Client) setConn(conn *websocket.Conn, sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.sid = sid
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func readText(ctx context.Context, conn *websocket.Conn) (string, error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return "", err
		}
		if typ == websocket.MessageText {
			return string(data), nil
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, frame string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(frame))
}

func pong(ctx context.Context, conn *websocket.Conn, payload string) error {
	if err := write(ctx, conn, string(rune(enginePong))+payload); err != nil {
		return fmt.Errorf("send pong: %w", err)
	}
	return nil
}

func parseConnectError(data json.RawMessage) error {
	ce := &ConnectError{}
	if err := json.Unmarshal(data, ce); err != nil {
		var msg string
		if json.Unmarshal(data, &msg) == nil {
			ce.Message = msg
		} else {
			ce.Message = string(data)
		}
	}
	return ce
}

// disconnectReason maps a read loop error onto socket.io-client's reason strings.
func disconnectReason(err error) string {
	switch {
	case errors.Is(err, errNamespaceDisconnect):
		return "io server disconnect"
	case errors.Is(err, errServerClosed):
		return "transport close"
	case errors.Is(err, context.DeadlineExceeded):
		return "ping timeout"
	case errors.Is(err, context.Canceled):
		return "io client disconnect"
	default:
		return "transport error"
	}
}
