// Package transport implements the duplex websocket channel to the
// analysis service, with fixed-delay automatic reconnection.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/drowsiness-detection/streaming-client/internal/logger"
	"github.com/drowsiness-detection/streaming-client/internal/metrics"
	"github.com/drowsiness-detection/streaming-client/pkg/types"
	"github.com/gorilla/websocket"
)

// State is the lifecycle state of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Config controls dialing and reconnection.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration // fixed delay before each reconnect
	MaxAttempts      int           // consecutive reconnects before giving up
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables keepalive pings
}

// DefaultConfig returns the browser client's reconnect policy: 5 attempts, 2s apart.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8000/ws",
		ReconnectDelay:   2 * time.Second,
		MaxAttempts:      5,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// Handlers receive channel events. Nil handlers are skipped. Handlers are
// invoked from the channel's goroutines and must not block for long.
type Handlers struct {
	OnMessage func(types.InboundMessage)
	OnError   func(error)
	OnOpen    func()
	OnClose   func()
	OnState   func(State)
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Channel is a single websocket connection with automatic reconnection.
type Channel struct {
	cfg     Config
	dialer  Dialer
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	handlers Handlers
	attempts int
	gen      uint64 // bumped by Connect and Disconnect; stale pumps and timers compare against it
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc

	writeMu sync.Mutex
}

// NewChannel creates a disconnected channel. A nil dialer uses a
// websocket.Dialer with the configured handshake timeout; m may be nil.
func NewChannel(cfg Config, dialer Dialer, m *metrics.Metrics) *Channel {
	d := DefaultConfig()
	if cfg.ReconnectDelay < 0 {
		cfg.ReconnectDelay = 0
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = d.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return &Channel{
		cfg:     cfg,
		dialer:  dialer,
		metrics: m,
		state:   Disconnected,
	}
}

// Connect dials the configured URL and installs h. It is a no-op while the
// channel is connecting or open. A failed dial is returned and also treated
// as a close, so the reconnect policy takes over.
func (c *Channel) Connect(ctx context.Context, h Handlers) error {
	c.mu.Lock()
	if c.state == Connecting || c.state == Open {
		c.mu.Unlock()
		return nil
	}
	c.handlers = h
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.state = Connecting
	c.mu.Unlock()

	notifyState(h, Connecting)
	logger.Info("Transport", "Connecting to %s", c.cfg.URL)
	return c.dial(ctx, gen)
}

func (c *Channel) dial(ctx context.Context, gen uint64) error {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	conn, resp, err := c.dialer.DialContext(dctx, c.cfg.URL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return &ChannelError{Op: "dial", Err: ErrDisconnected}
	}

	if err != nil {
		h := c.handlers
		c.mu.Unlock()

		cerr := &ChannelError{Op: "dial", Err: err}
		logger.Error("Transport", "Connection to %s failed: %v", c.cfg.URL, err)
		if h.OnError != nil {
			h.OnError(cerr)
		}
		c.handleClose(gen)
		return cerr
	}

	c.conn = conn
	c.state = Open
	c.attempts = 0
	h := c.handlers
	c.mu.Unlock()

	c.metrics.SetConnected(true)
	logger.Info("Transport", "Connected to %s", c.cfg.URL)
	notifyState(h, Open)
	if h.OnOpen != nil {
		h.OnOpen()
	}

	done := make(chan struct{})
	go c.readPump(conn, gen, done)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, gen, done)
	}
	return nil
}

// handleClose applies the reconnect policy after the socket for gen closed.
func (c *Channel) handleClose(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	h := c.handlers

	if c.attempts < c.cfg.MaxAttempts {
		c.attempts++
		attempt := c.attempts
		c.state = Connecting
		c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() { c.redial(gen) })
		c.mu.Unlock()

		c.metrics.SetConnected(false)
		c.metrics.ReconnectAttempt()
		logger.Warn("Transport", "Connection closed, reconnecting in %v (attempt %d/%d)",
			c.cfg.ReconnectDelay, attempt, c.cfg.MaxAttempts)
		if h.OnClose != nil {
			h.OnClose()
		}
		notifyState(h, Connecting)
		return
	}

	c.state = Disconnected
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	logger.Error("Transport", "%v after %d attempts", ErrReconnectExhausted, c.cfg.MaxAttempts)
	if h.OnClose != nil {
		h.OnClose()
	}
	notifyState(h, Disconnected)
	if h.OnError != nil {
		h.OnError(ErrReconnectExhausted)
	}
}

func (c *Channel) redial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.ctx
	attempt := c.attempts
	c.mu.Unlock()

	logger.Info("Transport", "Reconnect attempt %d/%d", attempt, c.cfg.MaxAttempts)
	_ = c.dial(ctx, gen)
}

func (c *Channel) readPump(conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
		c.handleClose(gen)
	}()

	if c.cfg.PingInterval > 0 {
		wait := c.cfg.PingInterval * 2
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.reportReadError(gen, err)
			return
		}

		msg, err := types.DecodeInboundMessage(data)
		if err != nil {
			perr := &ParseError{Size: len(data), Err: err}
			logger.Warn("Transport", "%v", perr)
			c.metrics.ParseFailed()
			continue
		}

		c.metrics.MessageReceived()
		if h, ok := c.handlersFor(gen); ok && h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

func (c *Channel) reportReadError(gen uint64, err error) {
	h, ok := c.handlersFor(gen)
	if !ok {
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		logger.Info("Transport", "Server closed the connection: %v", ce)
		return
	}

	logger.Warn("Transport", "Read failed: %v", err)
	if h.OnError != nil {
		h.OnError(&ChannelError{Op: "read", Err: err})
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, gen uint64, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, ok := c.handlersFor(gen); !ok {
				return
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Debug("Transport", "Ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// handlersFor returns the installed handlers if gen is still current.
func (c *Channel) handlersFor(gen uint64) (Handlers, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers, gen == c.gen
}

// Send writes payload as a text message. It returns false without
// queueing when the channel is not open or the write fails.
func (c *Channel) Send(payload string) bool {
	c.mu.Lock()
	if c.state != Open || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		logger.Warn("Transport", "Send skipped: channel %s", state)
		return false
	}
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, []byte(payload))
	c.writeMu.Unlock()

	if err != nil {
		logger.Warn("Transport", "Write failed: %v", err)
		if h, ok := c.handlersFor(gen); ok && h.OnError != nil {
			h.OnError(&ChannelError{Op: "write", Err: err})
		}
		// The read pump observes the closed socket and runs the reconnect policy.
		conn.Close()
		return false
	}
	return true
}

// Disconnect closes the socket and cancels any pending reconnect. No
// reconnect happens afterwards until the next Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = Closing
	h := c.handlers
	c.mu.Unlock()

	notifyState(h, Closing)
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state = Disconnected
	}
	c.mu.Unlock()

	c.metrics.SetConnected(false)
	logger.Info("Transport", "Disconnected from %s", c.cfg.URL)
	notifyState(h, Disconnected)
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel is open.
func (c *Channel) IsConnected() bool {
	return c.State() == Open
}

// Attempts returns the consecutive reconnect attempts since the last open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func notifyState(h Handlers, s State) {
	if h.OnState != nil {
		h.OnState(s)
	}
}
