package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	sendQueueSize    = 64
)

// Handler processes one inbound message's payload. Handlers run on the read
// goroutine and must not block; long work belongs on the agent's task queue.
type Handler func(data json.RawMessage)

// envelope frames every message on the wire.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket is a persistent bidirectional event connection to the cloud service.
// Emit is fire-and-forget: messages are queued for a writer goroutine and no
// acknowledgment is awaited. The socket never reconnects on its own; when
// Listen returns, the caller decides whether to dial again.
type Socket struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	send chan []byte
}

// Dial opens the websocket connection. On failure no connection object is
// left behind.
func Dial(ctx context.Context, endpoint string, log *slog.Logger) (*Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: dial %s: %w", endpoint, err)
	}
	return &Socket{
		conn:     conn,
		log:      log,
		handlers: map[string]Handler{},
		send:     make(chan []byte, sendQueueSize),
	}, nil
}

// On registers the handler for an event name, replacing any prior
// registration. Registration must happen before Listen starts.
func (s *Socket) On(event string, h Handler) {
	s.mu.Lock()
	s.handlers[event] = h
	s.mu.Unlock()
}

// Emit queues a message for transmission and returns immediately. A full
// send queue drops the message and reports an error.
func (s *Socket) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloud: marshal %s payload: %w", event, err)
	}
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("cloud: marshal %s envelope: %w", event, err)
	}
	select {
	case s.send <- raw:
		return nil
	default:
		return fmt.Errorf("cloud: send queue full, dropped %s", event)
	}
}

// Listen pumps the connection until it fails or ctx is canceled. Inbound
// messages are dispatched to the registered handlers on this goroutine.
func (s *Socket) Listen(ctx context.Context) error {
	go s.writeLoop(ctx)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("cloud: connection lost: %w", err)
		}
		s.dispatch(raw)
	}
}

func (s *Socket) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			_ = s.conn.Close()
			return
		case raw := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.log.Warn("cloud write failed", "error", err)
			}
		}
	}
}

func (s *Socket) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("discarding malformed message", "error", err)
		return
	}
	s.mu.RLock()
	h, ok := s.handlers[env.Event]
	s.mu.RUnlock()
	if !ok {
		s.log.Debug("no handler for event", "event", env.Event)
		return
	}
	h(env.Data)
}

// Close releases the transport.
func (s *Socket) Close() error {
	return s.conn.Close()
}
