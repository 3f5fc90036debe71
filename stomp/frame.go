// Package stomp implements the minimal STOMP 1.2 session this service
// speaks over the framed transport: the CONNECT handshake, a single topic
// subscription, and SEND publishes.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
)

// Commands this client sends or recognizes. Anything else arriving from the
// broker is ignored.
const (
	cmdConnect   = "CONNECT"
	cmdConnected = "CONNECTED"
	cmdSubscribe = "SUBSCRIBE"
	cmdSend      = "SEND"
	cmdMessage   = "MESSAGE"
)

// subscriptionID is fixed: this client holds exactly one subscription.
const subscriptionID = "sub-0"

// Frame is one STOMP frame: a command line, header lines, a blank line, an
// optional body, and a NUL terminator.
type Frame struct {
	Command string
	Headers [][2]string
	Body    []byte
}

// Marshal renders the frame in wire form.
func (f Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for _, h := range f.Headers {
		buf.WriteString(h[0])
		buf.WriteByte(':')
		buf.WriteString(h[1])
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Header returns the value of the named header, or "" if absent.
func (f Frame) Header(name string) string {
	for _, h := range f.Headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

// Parse splits a raw frame into command, headers and body. The body is
// everything after the first blank line, with a trailing NUL stripped if
// present.
func Parse(data []byte) (Frame, error) {
	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		head = data
		body = nil
	}
	if n := len(body); n > 0 && body[n-1] == 0 {
		body = body[:n-1]
	}

	lines := bytes.Split(head, []byte("\n"))
	if len(lines) == 0 || len(lines[0]) == 0 {
		return Frame{}, fmt.Errorf("stomp: empty frame")
	}

	f := Frame{Command: string(lines[0]), Body: body}
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		k, v, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		f.Headers = append(f.Headers, [2]string{string(k), string(v)})
	}
	return f, nil
}

func connectFrame() Frame {
	return Frame{
		Command: cmdConnect,
		Headers: [][2]string{
			{"accept-version", "1.2"},
			{"host", "/"},
		},
	}
}

func subscribeFrame(topic string) Frame {
	return Frame{
		Command: cmdSubscribe,
		Headers: [][2]string{
			{"destination", "/topic/" + topic},
			{"id", subscriptionID},
			{"ack", "auto"},
		},
	}
}

func sendFrame(topic string, body []byte) Frame {
	return Frame{
		Command: cmdSend,
		Headers: [][2]string{
			{"destination", "/topic/" + topic},
			{"content-type", "application/json"},
			{"content-length", strconv.Itoa(len(body))},
		},
		Body: body,
	}
}
