// Package wsock implements the client side of the websocket framed
// transport used to reach the message broker: the HTTP upgrade handshake,
// outbound frame masking, and inbound frame reassembly.
package wsock

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
)

// ErrNotConnected is returned by Send and Read after the connection has
// been closed.
var ErrNotConnected = fmt.Errorf("wsock: not connected")

// HandshakeError reports an upgrade handshake that the server did not
// accept. Response holds the raw bytes of the server's reply for
// diagnostics.
type HandshakeError struct {
	Response string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("wsock: handshake rejected by server: %q", e.Response)
}

// Conn is a client websocket connection. One goroutine may call Read while
// any number call Send; writes are serialized internally.
type Conn struct {
	raw net.Conn
	br  *bufio.Reader

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	// buf holds bytes read from the socket that have not yet been decoded
	// into a complete frame. After each decode only the consumed prefix is
	// dropped; trailing bytes of pipelined or partial frames stay put.
	buf []byte
}

// Dial connects to a broker websocket address of the form
// scheme://host:port/path and performs the upgrade handshake with the
// "stomp" subprotocol.
func Dial(addr string) (*Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("wsock: invalid broker address %q: %w", addr, err)
	}

	// Bare host:port and tcp:// addresses are accepted as ws://.
	if u.Scheme == "" || u.Scheme == "tcp" {
		u.Scheme = "ws"
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("wsock: broker address %q has no host", addr)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	raw, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("wsock: failed to connect to %s: %w", addr, err)
	}

	c := &Conn{raw: raw, br: bufio.NewReader(raw)}
	if err := c.handshake(net.JoinHostPort(host, port), path); err != nil {
		raw.Close()
		return nil, err
	}

	slog.Debug("Websocket connection established", "addr", addr)
	return c, nil
}

// handshake sends the HTTP upgrade request and validates the response. The
// connection is usable only if the server switches protocols and confirms
// the websocket upgrade.
func (c *Conn) handshake(hostport, path string) error {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("wsock: failed to generate handshake key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(nonce[:])

	req := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + hostport + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Protocol: stomp\r\n" +
		"\r\n"

	c.writeMu.Lock()
	_, err := c.raw.Write([]byte(req))
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("wsock: failed to send handshake: %w", err)
	}

	var resp strings.Builder
	for {
		line, err := c.br.ReadString('\n')
		resp.WriteString(line)
		if err != nil {
			return fmt.Errorf("wsock: failed to read handshake response: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	lower := strings.ToLower(resp.String())
	statusLine, _, _ := strings.Cut(lower, "\n")
	if !strings.Contains(statusLine, "101") ||
		!strings.Contains(lower, "upgrade") ||
		!strings.Contains(lower, "websocket") {
		return &HandshakeError{Response: resp.String()}
	}
	return nil
}

// Send writes payload as a single masked text frame.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	frame, err := encodeFrame(opText, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.raw.Write(frame); err != nil {
		return fmt.Errorf("wsock: write failed: %w", err)
	}
	return nil
}

// Read blocks until the next complete data frame arrives and returns its
// payload. A close frame or peer disconnect yields io.EOF. Frames that
// arrive concatenated in one socket read are returned one per call, in
// order.
func (c *Conn) Read() ([]byte, error) {
	for {
		payload, op, consumed, err := decodeFrame(c.buf)
		if err != nil {
			return nil, err
		}
		if consumed > 0 {
			c.buf = append(c.buf[:0], c.buf[consumed:]...)
			switch op {
			case opClose:
				return nil, io.EOF
			case opText, opBinary:
				return payload, nil
			default:
				// Control frames this client does not use are skipped.
				continue
			}
		}

		chunk := make([]byte, 4096)
		n, err := c.br.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return nil, ErrNotConnected
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("wsock: read failed: %w", err)
		}
	}
}

// Close shuts down the underlying socket, unblocking any pending Read.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.raw.Close()
}
