package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/config"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second

	// closeWait bounds how long Close waits for the peer to acknowledge
	// the close handshake before dropping the socket.
	closeWait = 3 * time.Second

	// defaultHandshakeTimeout applies when Options.HandshakeTimeout is zero.
	defaultHandshakeTimeout = 15 * time.Second

	// abnormalClosure is reported when the socket drops without a close frame.
	abnormalClosure = websocket.CloseAbnormalClosure
)

// State is the lifecycle state of a single live feed connection.
type State int32

// Connection states, in the order a healthy connection passes through them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingConnected
	StateLive
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingConnected:
		return "awaiting_connected"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler receives connection events. All methods are called from the
// client's read goroutine, in the order frames arrive.
type Handler interface {
	// OnConnected is called once the broker answers CONNECT.
	OnConnected(frame Frame)

	// OnDisconnected is called exactly once per started connection,
	// including connections ended by Close.
	OnDisconnected(code int, reason string)

	// OnError is called for ERROR frames. The connection stays open
	// unless the broker closes it.
	OnError(frame Frame)

	// OnMessage is called for every other decoded frame.
	OnMessage(frame Frame)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Client.
type Options struct {
	URL      string
	Login    string
	Passcode string
	Host     string

	// Heartbeat is offered in CONNECT.
	Heartbeat Heartbeat

	// HandshakeTimeout bounds the dial and the wait for CONNECTED.
	HandshakeTimeout time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// RequestHeader is sent with the WebSocket upgrade request.
	RequestHeader http.Header
}

// OptionsFromConfig builds Options from the stomp configuration section.
func OptionsFromConfig(cfg config.StompConfig) Options {
	return Options{
		URL:      cfg.URL,
		Login:    cfg.Login,
		Passcode: cfg.Passcode,
		Host:     cfg.Host,
		Heartbeat: Heartbeat{
			Send:   time.Duration(cfg.Heartbeat.Send) * time.Millisecond,
			Expect: time.Duration(cfg.Heartbeat.Expect) * time.Millisecond,
		},
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
	}
}

// Client is a single STOMP-over-WebSocket connection.
//
// A Client is started at most once. After it disconnects, a new Client
// must be created to reconnect; the session layer does this.
//
// Thread Safety:
//   - Subscribe, Send, State and Close are safe for concurrent use.
//   - Handler callbacks run on one goroutine, strictly in receipt order.
type Client struct {
	opts    Options
	handler Handler

	state atomic.Int32

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closing bool

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once

	// readTimeout is the negotiated liveness window; owned by the read goroutine.
	readTimeout time.Duration

	// beatStop ends the heart-beat sender; owned by the read goroutine.
	beatStop chan struct{}
	beating  bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates an unstarted Client that reports events to h.
func NewClient(opts Options, h Handler) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		opts:    opts,
		handler: h,
		done:    make(chan struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for connection events and decode failures.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection has ended and OnDisconnected has returned,
// or immediately when Close is called on a client that was never started.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Start dials the broker, sends CONNECT and launches the read goroutine.
//
// Start returns once CONNECT has been written; CONNECTED is reported
// asynchronously through Handler.OnConnected. If Start returns an error,
// no Handler method is called.
//
// Parameters:
//   - ctx: Bounds the dial only; the connection outlives it
//
// Returns:
//   - error: ErrAlreadyStarted, ErrClosed, ErrDialFailed or ErrSendFailed
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	c.log().Debug("dialing live feed", "url", c.opts.URL)

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.opts.URL, c.opts.RequestHeader)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // upgrade response body carries nothing useful
	}
	if err != nil {
		c.abort()
		return fmt.Errorf("%w: %w", ErrDialFailed, err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close() //nolint:errcheck // closed during dial
		c.abort()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	// The handshake deadline holds until CONNECTED arrives.
	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)) //nolint:errcheck // only fails on a closed conn

	connect := ConnectFrame(c.opts.Login, c.opts.Passcode, c.opts.Host, c.opts.Heartbeat)
	if err := c.write(conn, connect.Encode()); err != nil {
		conn.Close() //nolint:errcheck // already failing
		c.abort()
		return fmt.Errorf("%w: CONNECT: %w", ErrSendFailed, err)
	}

	c.state.Store(int32(StateAwaitingConnected))
	go c.readLoop(conn)
	return nil
}

// abort marks a connection that never reached the read loop as finished.
func (c *Client) abort() {
	c.state.Store(int32(StateDisconnected))
	c.closeDone()
}

func (c *Client) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readLoop owns all reads on conn and dispatches frames in receipt order.
func (c *Client) readLoop(conn *websocket.Conn) {
	code, reason := abnormalClosure, ""
	c.beatStop = make(chan struct{})

	defer func() {
		close(c.beatStop)
		conn.Close() //nolint:errcheck // best effort
		c.state.Store(int32(StateDisconnected))
		c.log().Info("live feed disconnected", "code", code, "reason", reason)
		c.safeCall("OnDisconnected", func() { c.handler.OnDisconnected(code, reason) })
		c.closeDone()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason = closeDetails(err)
			return
		}

		if c.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.readTimeout)) //nolint:errcheck // only fails on a closed conn
		}

		c.dispatch(conn, string(data))
	}
}

// dispatch handles one text payload.
func (c *Client) dispatch(conn *websocket.Conn, payload string) {
	if IsHeartbeat(payload) {
		if err := c.write(conn, "\n"); err != nil {
			c.log().Warn("failed to answer heart-beat", "error", err)
		}
		return
	}

	frame, err := Decode(payload)
	if err != nil {
		c.log().Warn("dropping undecodable frame", "error", err, "size", len(payload))
		return
	}

	switch frame.Command {
	case CmdConnected:
		c.negotiate(conn, frame)
		c.state.Store(int32(StateLive))
		c.log().Info("live feed connected", "version", frame.Header(HeaderVersion), "read_timeout", c.readTimeout)
		c.safeCall("OnConnected", func() { c.handler.OnConnected(frame) })
	case CmdError:
		c.log().Warn("broker error frame", "message", frame.Header(HeaderMessage))
		c.safeCall("OnError", func() { c.handler.OnError(frame) })
	default:
		c.safeCall("OnMessage", func() { c.handler.OnMessage(frame) })
	}
}

// negotiate derives both heart-beat directions from the server's
// heart-beat header. Twice the server interval is allowed before the
// connection is declared dead; the client sends "\n" at its own interval
// regardless of how busy the feed is.
func (c *Client) negotiate(conn *websocket.Conn, connected Frame) {
	c.readTimeout = 0

	if v, ok := connected.Lookup(HeaderHeartBeat); ok {
		server, err := ParseHeartbeat(v)
		if err != nil {
			c.log().Warn("ignoring heart-beat header", "error", err)
		} else {
			if interval := ServerInterval(c.opts.Heartbeat, server); interval > 0 {
				c.readTimeout = 2 * interval
			}
			if interval := ClientInterval(c.opts.Heartbeat, server); interval > 0 && !c.beating {
				c.beating = true
				go c.sendHeartbeats(conn, interval, c.beatStop)
			}
		}
	}

	if c.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout)) //nolint:errcheck // only fails on a closed conn
	} else {
		conn.SetReadDeadline(time.Time{}) //nolint:errcheck // only fails on a closed conn
	}
}

// sendHeartbeats writes a bare "\n" every interval until stop is closed
// or a write fails.
func (c *Client) sendHeartbeats(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(conn, "\n"); err != nil {
				c.log().Debug("heart-beat send failed", "error", err)
				return
			}
		}
	}
}

// Subscribe sends a SUBSCRIBE frame for destination with the given subscription id.
//
// Returns:
//   - error: ErrNotConnected before CONNECTED or after disconnect, ErrSendFailed on write failure
func (c *Client) Subscribe(destination, id string) error {
	return c.Send(SubscribeFrame(destination, id))
}

// Send writes an arbitrary frame on a live connection.
func (c *Client) Send(frame Frame) error {
	if c.State() != StateLive {
		return ErrNotConnected
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := c.write(conn, frame.Encode()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, frame.Command, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck // only fails on a closed conn
	return conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Close ends the connection with a normal-closure close frame.
//
// Close is idempotent and safe to call before Start. When the connection
// is running it waits, bounded, for the read goroutine to finish, so
// OnDisconnected has normally been delivered when Close returns.
// Close must not be expected to wait when called from a Handler callback.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.wait()
		return nil
	}
	c.closing = true
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	if !started {
		c.state.Store(int32(StateDisconnected))
		c.closeDone()
		return nil
	}
	if conn == nil {
		// Start is dialing; it will observe closing and abort.
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log().Debug("close frame not sent", "error", err)
		conn.Close() //nolint:errcheck // unblocks the read goroutine
	}

	select {
	case <-c.done:
	case <-time.After(closeWait):
		conn.Close() //nolint:errcheck // peer never answered the close handshake
		c.wait()
	}
	return nil
}

// wait blocks until the read goroutine has finished, bounded by closeWait.
func (c *Client) wait() {
	select {
	case <-c.done:
	case <-time.After(closeWait):
	}
}

// safeCall runs a handler callback, recovering and logging panics so one
// misbehaving observer cannot kill the read goroutine.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("panic in live feed handler", "callback", name, "panic", r)
		}
	}()
	fn()
}

// closeDetails extracts the close code and reason from a read error.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return abnormalClosure, err.Error()
}
