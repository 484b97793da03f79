package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liquidity-mm/internal/engine"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 512 * 1024
	subscriberBuffer = 256
)

// Stream pushes engine events to dashboard WebSocket clients. It is
// push-only: operator commands go through the REST routes.
type Stream struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
}

func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		subs:   make(map[*subscriber]struct{}),
		logger: logger.With("component", "ws-stream"),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (s *Stream) Run(ctx context.Context) {
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for sub := range s.subs {
		s.dropLocked(sub)
	}
}

// Attach registers conn and starts its pumps. initial messages are sent
// before any published event.
func (s *Stream) Attach(conn *websocket.Conn, initial ...[]byte) {
	sub := &subscriber{conn: conn, out: make(chan []byte, subscriberBuffer+len(initial))}
	for _, msg := range initial {
		sub.out <- msg
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.subs[sub] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()

	s.logger.Info("client connected", "count", n)
	go s.writeLoop(sub)
	go s.readLoop(sub)
}

// Publish sends evt to every client. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (s *Stream) Publish(evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("marshal event", "type", evt.Type, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.out <- data:
		default:
			s.logger.Warn("client too slow, disconnecting", "remote", sub.conn.RemoteAddr().String())
			s.dropLocked(sub)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Stream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Stream) detach(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	if ok {
		s.dropLocked(sub)
	}
	n := len(s.subs)
	s.mu.Unlock()

	if ok {
		s.logger.Info("client disconnected", "count", n)
	}
}

// dropLocked removes sub and closes its queue; the write loop then sends a
// close frame. Callers hold s.mu.
func (s *Stream) dropLocked(sub *subscriber) {
	delete(s.subs, sub)
	close(sub.out)
}

func (s *Stream) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.out:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only services pongs and notices disconnects; inbound messages
// are discarded.
func (s *Stream) readLoop(sub *subscriber) {
	defer func() {
		s.detach(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(maxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read", "error", err)
			}
			return
		}
	}
}

func snapshotEvent(snapshot DashboardSnapshot) engine.Event {
	return engine.Event{
		Type:      "snapshot",
		Timestamp: snapshot.Timestamp,
		Data:      snapshot,
	}
}
