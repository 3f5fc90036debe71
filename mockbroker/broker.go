// Package mockbroker is a minimal STOMP-over-websocket topic relay used for
// local demos and end-to-end tests in place of a real message broker. It
// understands just enough of the protocol for this service: CONNECT,
// SUBSCRIBE, and SEND, relaying each SEND body to topic subscribers as a
// MESSAGE frame.
package mockbroker

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sarlink/atruci/stomp"
)

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"stomp"},
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type session struct {
	conn *websocket.Conn

	// gorilla connections do not allow concurrent writers.
	writeMu sync.Mutex
}

func (s *session) send(frame stomp.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame.Marshal())
}

type Broker struct {
	Addr   string
	server *http.Server

	mu      sync.Mutex
	subs    map[string]map[*session]bool // destination -> subscribers
	msgSeq  int
	started bool
}

func New(addr string) *Broker {
	return &Broker{
		Addr: addr,
		subs: make(map[string]map[*session]bool),
	}
}

// Start serves websocket sessions until Shutdown. It blocks.
func (b *Broker) Start() error {
	slog.Info("Starting mock STOMP broker", "addr", b.Addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleWebSocket)
	b.server = &http.Server{Addr: b.Addr, Handler: mux}

	err := b.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (b *Broker) Shutdown() error {
	slog.Info("Shutting down mock broker", "addr", b.Addr)
	if b.server != nil {
		return b.server.Close()
	}
	return nil
}

func (b *Broker) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	go b.handleSession(&session{conn: conn}, r.RemoteAddr)
}

func (b *Broker) handleSession(sess *session, remoteAddr string) {
	slog.Info("Broker client connected", "addr", remoteAddr)

	defer func() {
		b.mu.Lock()
		for _, subscribers := range b.subs {
			delete(subscribers, sess)
		}
		b.mu.Unlock()
		sess.conn.Close()
		slog.Info("Broker client disconnected", "addr", remoteAddr)
	}()

	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("Broker connection error", "addr", remoteAddr, "error", err)
			}
			return
		}

		frame, err := stomp.Parse(payload)
		if err != nil {
			slog.Warn("Dropping unparseable frame", "addr", remoteAddr, "error", err)
			continue
		}

		switch frame.Command {
		case "CONNECT":
			ack := stomp.Frame{
				Command: "CONNECTED",
				Headers: [][2]string{{"version", "1.2"}},
			}
			if err := sess.send(ack); err != nil {
				slog.Warn("Failed to acknowledge CONNECT", "addr", remoteAddr, "error", err)
				return
			}

		case "SUBSCRIBE":
			dest := frame.Header("destination")
			if dest == "" {
				slog.Warn("SUBSCRIBE without destination", "addr", remoteAddr)
				continue
			}
			b.mu.Lock()
			if b.subs[dest] == nil {
				b.subs[dest] = make(map[*session]bool)
			}
			b.subs[dest][sess] = true
			b.mu.Unlock()
			slog.Info("Client subscribed", "addr", remoteAddr, "destination", dest)

		case "SEND":
			b.relay(frame)

		default:
			slog.Debug("Ignoring frame", "command", frame.Command, "addr", remoteAddr)
		}
	}
}

// relay forwards a SEND body to every subscriber of its destination.
func (b *Broker) relay(frame stomp.Frame) {
	dest := frame.Header("destination")

	b.mu.Lock()
	b.msgSeq++
	msg := stomp.Frame{
		Command: "MESSAGE",
		Headers: [][2]string{
			{"destination", dest},
			{"message-id", fmt.Sprintf("msg-%d", b.msgSeq)},
			{"subscription", "sub-0"},
		},
		Body: frame.Body,
	}
	subscribers := make([]*session, 0, len(b.subs[dest]))
	for sess := range b.subs[dest] {
		subscribers = append(subscribers, sess)
	}
	b.mu.Unlock()

	for _, sess := range subscribers {
		if err := sess.send(msg); err != nil {
			slog.Warn("Failed to relay message", "destination", dest, "error", err)
		}
	}
}
