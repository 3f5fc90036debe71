package stomp

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Transport carries raw frame payloads to and from the broker. wsock.Conn
// satisfies it; tests substitute channel-backed fakes.
type Transport interface {
	Send(payload []byte) error
	Read() ([]byte, error)
	Close() error
}

// Client is a single-connection STOMP session. It owns the receiver loop:
// after Connect, inbound frames are parsed on a dedicated goroutine and
// MESSAGE bodies are delivered synchronously to the subscribed callback,
// so no two deliveries ever run concurrently.
type Client struct {
	transport Transport

	// AckTimeout bounds the wait for the broker's CONNECTED frame. Its
	// absence is logged but does not fail the session.
	AckTimeout time.Duration

	mu        sync.Mutex
	onMessage func(body []byte)
	started   bool

	ackOnce sync.Once
	ack     chan struct{}
	done    chan struct{}
}

// NewClient wraps an established transport in a STOMP session.
func NewClient(t Transport) *Client {
	return &Client{
		transport:  t,
		AckTimeout: 3 * time.Second,
		ack:        make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Connect sends the CONNECT frame, starts the receiver loop, and waits up
// to AckTimeout for the broker's CONNECTED reply. Some brokers delay or
// omit the reply on websocket sessions, so a timeout only logs a warning;
// a transport failure is a hard error.
func (c *Client) Connect() error {
	if err := c.transport.Send(connectFrame().Marshal()); err != nil {
		return fmt.Errorf("stomp: failed to send CONNECT: %w", err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.readLoop()

	select {
	case <-c.ack:
		slog.Info("STOMP session established")
	case <-time.After(c.AckTimeout):
		slog.Warn("No CONNECTED frame within timeout, proceeding anyway",
			"timeout", c.AckTimeout)
	case <-c.done:
		return fmt.Errorf("stomp: connection closed before session was established")
	}
	return nil
}

// Subscribe registers fn for the topic and sends the SUBSCRIBE frame. Only
// one subscription is held at a time; a second call replaces the callback.
func (c *Client) Subscribe(topic string, fn func(body []byte)) error {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()

	if err := c.transport.Send(subscribeFrame(topic).Marshal()); err != nil {
		return fmt.Errorf("stomp: failed to subscribe to %s: %w", topic, err)
	}
	slog.Info("Subscribed to topic", "topic", topic, "id", subscriptionID)
	return nil
}

// Send publishes body to the topic as a SEND frame.
func (c *Client) Send(topic string, body []byte) error {
	if err := c.transport.Send(sendFrame(topic, body).Marshal()); err != nil {
		return fmt.Errorf("stomp: failed to send to %s: %w", topic, err)
	}
	return nil
}

// Close shuts the transport down and waits for the receiver loop to exit,
// so no callback is abandoned mid-delivery.
func (c *Client) Close() error {
	err := c.transport.Close()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
	return err
}

// Done is closed once the receiver loop has exited, whether by Close or by
// a broker disconnect.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		payload, err := c.transport.Read()
		if err != nil {
			if err != io.EOF {
				slog.Warn("Receiver loop ended", "error", err)
			} else {
				slog.Info("Broker closed the connection")
			}
			return
		}

		frame, err := Parse(payload)
		if err != nil {
			slog.Warn("Dropping unparseable frame", "error", err, "size", len(payload))
			continue
		}

		switch frame.Command {
		case cmdConnected:
			c.ackOnce.Do(func() { close(c.ack) })
		case cmdMessage:
			c.mu.Lock()
			fn := c.onMessage
			c.mu.Unlock()
			if fn != nil {
				fn(frame.Body)
			} else {
				slog.Warn("MESSAGE frame with no subscriber registered",
					"destination", frame.Header("destination"))
			}
		default:
			slog.Debug("Ignoring frame", "command", frame.Command)
		}
	}
}
