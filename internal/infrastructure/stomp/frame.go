package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	stompframe "github.com/go-stomp/stomp/v3/frame"
)

// Frame commands used by the live feed.
const (
	CmdConnect    = stompframe.CONNECT
	CmdConnected  = stompframe.CONNECTED
	CmdSubscribe  = stompframe.SUBSCRIBE
	CmdMessage    = stompframe.MESSAGE
	CmdError      = stompframe.ERROR
	CmdDisconnect = stompframe.DISCONNECT
)

// Header names used by the live feed.
const (
	HeaderAcceptVersion = stompframe.AcceptVersion
	HeaderHost          = stompframe.Host
	HeaderLogin         = stompframe.Login
	HeaderPasscode      = stompframe.Passcode
	HeaderHeartBeat     = stompframe.HeartBeat
	HeaderVersion       = stompframe.Version
	HeaderID            = stompframe.Id
	HeaderDestination   = stompframe.Destination
	HeaderAck           = stompframe.Ack
	HeaderSubscription  = stompframe.Subscription
	HeaderMessageID     = stompframe.MessageId
	HeaderMessage       = stompframe.Message
	HeaderContentLength = stompframe.ContentLength
	HeaderContentType   = stompframe.ContentType
)

// AcceptVersions is offered in every CONNECT frame.
const AcceptVersions = "1.1,1.2"

// Frame is a decoded STOMP frame.
//
// Headers holds the first occurrence of each header name; repeated
// headers are dropped on decode.
type Frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// Header returns the value of key, or "" when absent.
func (f Frame) Header(key string) string {
	if f.Headers == nil {
		return ""
	}
	return f.Headers[key]
}

// Lookup returns the value of key and whether it was present.
func (f Frame) Lookup(key string) (string, bool) {
	if f.Headers == nil {
		return "", false
	}
	v, ok := f.Headers[key]
	return v, ok
}

// Encode renders the frame as a NUL-terminated text payload with
// STOMP 1.2 header escaping. Headers are written in sorted order.
func (f Frame) Encode() string {
	out := stompframe.New(f.Command)
	for _, k := range slices.Sorted(maps.Keys(f.Headers)) {
		out.Header.Add(k, f.Headers[k])
	}
	if f.Body != "" {
		out.Body = []byte(f.Body)
	}

	var buf bytes.Buffer
	stompframe.NewWriter(&buf).Write(out) //nolint:errcheck // bytes.Buffer writes do not fail
	return buf.String()
}

// Decode parses a single text payload into a Frame.
//
// Heart-beat end-of-line bytes preceding the frame are skipped. The body
// ends at content-length when the header is present, otherwise at the
// first NUL.
//
// Returns ErrInvalidFrame for an empty or heart-beat-only payload, an
// unknown command, a malformed header or a missing terminator.
func Decode(payload string) (Frame, error) {
	r := stompframe.NewReader(strings.NewReader(payload))

	for {
		in, err := r.Read()
		if errors.Is(err, io.EOF) {
			return Frame{}, fmt.Errorf("%w: no frame in payload", ErrInvalidFrame)
		}
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
		if in == nil {
			continue
		}
		return fromWire(in), nil
	}
}

func fromWire(in *stompframe.Frame) Frame {
	f := Frame{
		Command: in.Command,
		Headers: make(map[string]string, in.Header.Len()),
		Body:    string(in.Body),
	}
	for i := 0; i < in.Header.Len(); i++ {
		k, v := in.Header.GetAt(i)
		if _, dup := f.Headers[k]; !dup {
			f.Headers[k] = v
		}
	}
	return f
}

// IsHeartbeat reports whether payload consists only of end-of-line bytes.
func IsHeartbeat(payload string) bool {
	if payload == "" {
		return false
	}
	return strings.Trim(payload, "\r\n") == ""
}

// ConnectFrame builds the CONNECT frame for the given credentials.
func ConnectFrame(login, passcode, host string, hb Heartbeat) Frame {
	return Frame{
		Command: CmdConnect,
		Headers: map[string]string{
			HeaderAcceptVersion: AcceptVersions,
			HeaderHost:          host,
			HeaderLogin:         login,
			HeaderPasscode:      passcode,
			HeaderHeartBeat:     hb.String(),
		},
	}
}

// SubscribeFrame builds a SUBSCRIBE frame with automatic acknowledgement.
func SubscribeFrame(destination, id string) Frame {
	return Frame{
		Command: CmdSubscribe,
		Headers: map[string]string{
			HeaderID:          id,
			HeaderDestination: destination,
			HeaderAck:         "auto",
		},
	}
}

// Heartbeat is a heart-beat header pair.
// Send is how often a peer promises to send; Expect is how often it wants to receive.
type Heartbeat struct {
	Send   time.Duration
	Expect time.Duration
}

// String renders the pair in the "<sendMs>,<expectMs>" header form.
func (h Heartbeat) String() string {
	return strconv.FormatInt(h.Send.Milliseconds(), 10) + "," + strconv.FormatInt(h.Expect.Milliseconds(), 10)
}

// ParseHeartbeat parses a "<sendMs>,<expectMs>" header value.
func ParseHeartbeat(v string) (Heartbeat, error) {
	send, expect, err := stompframe.ParseHeartBeat(strings.TrimSpace(v))
	if err != nil {
		return Heartbeat{}, fmt.Errorf("%w: heart-beat %q: %w", ErrInvalidFrame, v, err)
	}
	return Heartbeat{Send: send, Expect: expect}, nil
}

// ServerInterval returns how often the server will send heart-beats given
// what the client offered and what the server answered in CONNECTED.
// Zero means the server sends none.
func ServerInterval(client, server Heartbeat) time.Duration {
	if server.Send == 0 || client.Expect == 0 {
		return 0
	}
	return max(server.Send, client.Expect)
}

// ClientInterval returns how often the client must send heart-beats given
// what it offered and what the server answered in CONNECTED.
// Zero means the server expects none.
func ClientInterval(client, server Heartbeat) time.Duration {
	if client.Send == 0 || server.Expect == 0 {
		return 0
	}
	return max(client.Send, server.Expect)
}
