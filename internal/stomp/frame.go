// Package stomp implements the subset of STOMP 1.2 framing the chat backend
// speaks: client frames CONNECT, SUBSCRIBE, UNSUBSCRIBE, SEND, DISCONNECT and
// server frames CONNECTED, MESSAGE, RECEIPT, ERROR, plus newline heartbeats.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Common header names.
const (
	HdrDestination   = "destination"
	HdrSubscription  = "subscription"
	HdrID            = "id"
	HdrReceipt       = "receipt"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrAcceptVersion = "accept-version"
	HdrHeartBeat     = "heart-beat"
	HdrAuthorization = "Authorization"
	HdrMessage       = "message"
)

// Heartbeat is the wire form of a STOMP heartbeat.
var Heartbeat = []byte("\n")

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// New builds a frame from a command and header key/value pairs.
func New(command string, headers ...string) *Frame {
	if len(headers)%2 != 0 {
		panic("stomp: odd header pair count")
	}
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2)}
	for i := 0; i < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Header returns the value for name, or "" when absent.
func (f *Frame) Header(name string) string {
	return f.Headers[name]
}

// Marshal encodes the frame in wire format, terminated by a NUL octet.
// A content-length header is added when a body is present so NUL octets in
// the body survive.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for k, v := range f.Headers {
		buf.WriteString(escape(k))
		buf.WriteByte(':')
		buf.WriteString(escape(v))
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Headers[HdrContentLength]; !ok {
			buf.WriteString(HdrContentLength)
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(len(f.Body)))
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Parse decodes a single wire frame. A lone EOL parses to (nil, nil): that is
// a heartbeat, not an error.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimPrefix(data, []byte("\r"))
	if len(data) == 0 || bytes.Equal(data, Heartbeat) || bytes.Equal(data, []byte("\r\n")) {
		return nil, nil
	}

	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("stomp: missing header terminator")
	}
	body = bytes.TrimSuffix(body, []byte{0})

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	if lines[0] == "" {
		return nil, fmt.Errorf("stomp: empty command")
	}

	f := &Frame{Command: lines[0], Headers: make(map[string]string)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		// First occurrence wins per STOMP 1.2.
		key := unescape(k)
		if _, seen := f.Headers[key]; !seen {
			f.Headers[key] = unescape(v)
		}
	}

	if cl := f.Headers[HdrContentLength]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", cl)
		}
		body = body[:n]
	}
	f.Body = body
	return f, nil
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, ":", `\c`, "\r", `\r`)

var unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\c`, ":", `\r`, "\r")

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }
