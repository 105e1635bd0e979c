package stomp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testWait = 2 * time.Second

type disconnectEvent struct {
	code   int
	reason string
}

// recordingHandler captures handler callbacks on channels.
type recordingHandler struct {
	connected    chan Frame
	disconnected chan disconnectEvent
	errors       chan Frame
	messages     chan Frame
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan Frame, 4),
		disconnected: make(chan disconnectEvent, 4),
		errors:       make(chan Frame, 4),
		messages:     make(chan Frame, 16),
	}
}

func (h *recordingHandler) OnConnected(f Frame) { h.connected <- f }
func (h *recordingHandler) OnDisconnected(code int, reason string) {
	h.disconnected <- disconnectEvent{code, reason}
}
func (h *recordingHandler) OnError(f Frame)   { h.errors <- f }
func (h *recordingHandler) OnMessage(f Frame) { h.messages <- f }

// fakeBroker is an httptest WebSocket server handing accepted connections to the test.
type fakeBroker struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()

	upgrader := websocket.Upgrader{}
	b := &fakeBroker{conns: make(chan *websocket.Conn, 1)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBroker) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(testWait):
		t.Fatal("client never connected")
		return nil
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("broker read error: %v", err)
	}
	return string(data)
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("broker write error: %v", err)
	}
}

// startLive dials the broker, checks CONNECT, and answers CONNECTED.
func startLive(t *testing.T, b *fakeBroker, h *recordingHandler, serverHeartbeat string) (*Client, *websocket.Conn) {
	t.Helper()
	return startLiveWith(t, b, h, h.connected, serverHeartbeat)
}

func startLiveWith(t *testing.T, b *fakeBroker, h Handler, connectedCh <-chan Frame, serverHeartbeat string) (*Client, *websocket.Conn) {
	t.Helper()

	client := NewClient(Options{
		URL:              b.url(),
		Login:            "appuser",
		Passcode:         "appuser",
		Host:             "/",
		Heartbeat:        Heartbeat{Send: 10 * time.Second, Expect: 10 * time.Second},
		HandshakeTimeout: testWait,
	}, h)
	t.Cleanup(func() { client.Close() })

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := b.accept(t)

	connect, err := Decode(readText(t, conn))
	if err != nil {
		t.Fatalf("decode CONNECT: %v", err)
	}
	if connect.Command != CmdConnect || connect.Header(HeaderLogin) != "appuser" || connect.Header(HeaderHeartBeat) != "10000,10000" {
		t.Fatalf("unexpected CONNECT frame: %+v", connect)
	}
	if client.State() != StateAwaitingConnected {
		t.Errorf("State() = %v, want %v", client.State(), StateAwaitingConnected)
	}

	connected := Frame{Command: CmdConnected, Headers: map[string]string{HeaderVersion: "1.2"}}
	if serverHeartbeat != "" {
		connected.Headers[HeaderHeartBeat] = serverHeartbeat
	}
	sendText(t, conn, connected.Encode())

	select {
	case <-connectedCh:
	case <-time.After(testWait):
		t.Fatal("OnConnected not called")
	}
	if client.State() != StateLive {
		t.Errorf("State() = %v, want %v", client.State(), StateLive)
	}
	return client, conn
}

func TestClient_HeartbeatEchoedOnce(t *testing.T) {
	b := newFakeBroker(t)
	h := newRecordingHandler()
	client, conn := startLive(t, b, h, "0,0")

	sendText(t, conn, "\n")
	if got := readText(t, conn); got != "\n" {
		t.Fatalf("heart-beat reply = %q, want %q", got, "\n")
	}

	msg := Frame{Command: CmdMessage, Headers: map[string]string{HeaderSubscription: "sub-1"}, Body: "{}"}
	sendText(t, conn, msg.Encode())

	select {
	case got := <-h.messages:
		if got.Header(HeaderSubscription) != "sub-1" || got.Body != "{}" {
			t.Errorf("OnMessage frame = %+v", got)
		}
	case <-time.After(testWait):
		t.Fatal("OnMessage not called")
	}

	select {
	case extra := <-h.messages:
		t.Fatalf("heart-beat produced a data callback: %+v", extra)
	default:
	}

	// The next thing the broker sees is the close handshake, not a second "\n".
	go client.Close()
	conn.SetReadDeadline(time.Now().Add(testWait))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("broker received %q, want close frame", data)
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("broker read error = %v, want normal closure", err)
	}
}

func TestClient_SubscribeAndError(t *testing.T) {
	b := newFakeBroker(t)
	h := newRecordingHandler()
	client, conn := startLive(t, b, h, "")

	if err := client.Subscribe("/queue/notification", "sub-0"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sub, err := Decode(readText(t, conn))
	if err != nil {
		t.Fatalf("decode SUBSCRIBE: %v", err)
	}
	if sub.Command != CmdSubscribe || sub.Header(HeaderID) != "sub-0" ||
		sub.Header(HeaderDestination) != "/queue/notification" || sub.Header(HeaderAck) != "auto" {
		t.Errorf("unexpected SUBSCRIBE frame: %+v", sub)
	}

	errFrame := Frame{Command: CmdError, Headers: map[string]string{HeaderMessage: "no such destination"}}
	sendText(t, conn, errFrame.Encode())

	select {
	case got := <-h.errors:
		if got.Header(HeaderMessage) != "no such destination" {
			t.Errorf("OnError frame = %+v", got)
		}
	case <-time.After(testWait):
		t.Fatal("OnError not called")
	}

	if client.State() != StateLive {
		t.Errorf("ERROR frame changed state to %v", client.State())
	}

	sendText(t, conn, "not a frame")
	sendText(t, conn, Frame{Command: CmdMessage, Body: "after"}.Encode())
	select {
	case got := <-h.messages:
		if got.Body != "after" {
			t.Errorf("OnMessage body = %q, want %q", got.Body, "after")
		}
	case <-time.After(testWait):
		t.Fatal("undecodable frame stopped the read loop")
	}
}

func TestClient_ServerCloseReportsCode(t *testing.T) {
	b := newFakeBroker(t)
	h := newRecordingHandler()
	client, conn := startLive(t, b, h, "0,0")

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(testWait)); err != nil {
		t.Fatalf("write close: %v", err)
	}

	select {
	case ev := <-h.disconnected:
		if ev.code != websocket.CloseGoingAway || ev.reason != "restart" {
			t.Errorf("OnDisconnected(%d, %q), want (%d, %q)", ev.code, ev.reason, websocket.CloseGoingAway, "restart")
		}
	case <-time.After(testWait):
		t.Fatal("OnDisconnected not called")
	}

	select {
	case <-client.Done():
	case <-time.After(testWait):
		t.Fatal("Done() not closed")
	}

	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", client.State(), StateDisconnected)
	}

	if err := client.Subscribe("/queue/notification", "sub-0"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() after disconnect error = %v, want ErrNotConnected", err)
	}

	// Close after the peer closed still returns and does not report twice.
	client.Close()
	select {
	case ev := <-h.disconnected:
		t.Errorf("OnDisconnected reported twice: %+v", ev)
	default:
	}
}

func TestClient_HeartbeatTimeoutDisconnects(t *testing.T) {
	b := newFakeBroker(t)
	h := newRecordingHandler()
	client := NewClient(Options{
		URL:              b.url(),
		Heartbeat:        Heartbeat{Send: 50 * time.Millisecond, Expect: 50 * time.Millisecond},
		HandshakeTimeout: testWait,
	}, h)
	t.Cleanup(func() { client.Close() })

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := b.accept(t)
	readText(t, conn)

	// Server promises 50ms heart-beats and then goes silent.
	connected := Frame{Command: CmdConnected, Headers: map[string]string{HeaderHeartBeat: "50,50"}}
	sendText(t, conn, connected.Encode())

	select {
	case ev := <-h.disconnected:
		if ev.code != websocket.CloseAbnormalClosure {
			t.Errorf("OnDisconnected code = %d, want %d", ev.code, websocket.CloseAbnormalClosure)
		}
	case <-time.After(testWait):
		t.Fatal("silent broker did not trigger disconnect")
	}
}

// countingHandler counts messages instead of buffering them.
type countingHandler struct {
	*recordingHandler
	messageCount atomic.Int32
}

func (h *countingHandler) OnMessage(Frame) { h.messageCount.Add(1) }

func TestClient_SendsHeartbeatsWhileBusy(t *testing.T) {
	b := newFakeBroker(t)
	h := &countingHandler{recordingHandler: newRecordingHandler()}
	client := NewClient(Options{
		URL:              b.url(),
		Heartbeat:        Heartbeat{Send: 200 * time.Millisecond},
		HandshakeTimeout: testWait,
	}, h)
	t.Cleanup(func() { client.Close() })

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := b.accept(t)
	readText(t, conn)

	// The broker expects a heart-beat every 200ms and never sends its own.
	connected := Frame{Command: CmdConnected, Headers: map[string]string{HeaderHeartBeat: "0,200"}}
	sendText(t, conn, connected.Encode())
	select {
	case <-h.connected:
	case <-time.After(testWait):
		t.Fatal("OnConnected not called")
	}

	const busyFor = 1200 * time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := Frame{Command: CmdMessage, Headers: map[string]string{HeaderSubscription: "sub-1"}, Body: "{}"}.Encode()
		deadline := time.Now().Add(busyFor)
		for time.Now().Before(deadline) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	beats := 0
	stopAt := time.Now().Add(busyFor)
	for time.Now().Before(stopAt) {
		conn.SetReadDeadline(stopAt)
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(data) == "\n" {
			beats++
		}
	}
	<-done

	if beats < 3 {
		t.Errorf("client sent %d heart-beats during %v of traffic, want at least 3", beats, busyFor)
	}
	if h.messageCount.Load() == 0 {
		t.Error("no MESSAGE frames delivered")
	}
}

func TestClient_CloseBeforeStart(t *testing.T) {
	h := newRecordingHandler()
	client := NewClient(Options{URL: "ws://127.0.0.1:1/ws"}, h)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	select {
	case <-client.Done():
	default:
		t.Error("Done() not closed after Close on unstarted client")
	}

	if err := client.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}

	select {
	case ev := <-h.disconnected:
		t.Errorf("unexpected OnDisconnected: %+v", ev)
	default:
	}
}

func TestClient_StartTwice(t *testing.T) {
	b := newFakeBroker(t)
	h := newRecordingHandler()
	client, _ := startLive(t, b, h, "0,0")

	if err := client.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := newRecordingHandler()
	client := NewClient(Options{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		HandshakeTimeout: testWait,
	}, h)

	err := client.Start(context.Background())
	if !errors.Is(err, ErrDialFailed) {
		t.Fatalf("Start() error = %v, want ErrDialFailed", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", client.State(), StateDisconnected)
	}

	select {
	case <-client.Done():
	default:
		t.Error("Done() not closed after failed Start")
	}
}

func TestClient_HandlerPanicRecovered(t *testing.T) {
	b := newFakeBroker(t)
	h := &panickyHandler{recordingHandler: newRecordingHandler()}
	_, conn := startLiveWith(t, b, h, h.connected, "0,0")

	sendText(t, conn, Frame{Command: CmdMessage, Body: "boom"}.Encode())
	sendText(t, conn, "\n")

	if got := readText(t, conn); got != "\n" {
		t.Fatalf("read loop died after handler panic; got %q", got)
	}
}

type panickyHandler struct {
	*recordingHandler
}

func (h *panickyHandler) OnMessage(Frame) { panic("observer failure") }
