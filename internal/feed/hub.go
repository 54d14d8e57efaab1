// Package feed pushes newly persisted parking locations to connected
// websocket clients.
package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/parking-prices/internal/models"
	"github.com/example/parking-prices/internal/observability"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 16
)

// Message is the frame written to subscribers.
type Message struct {
	Type      string                   `json:"type"`
	Locations []models.ParkingLocation `json:"locations"`
}

// session is one connected client. Frames are queued so a slow client never
// blocks Publish; when its queue is full the frame is dropped for it alone.
type session struct {
	conn *websocket.Conn
	send chan Message
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[*session]struct{}), logger: logger}
}

// Add registers conn and serves it until the client goes away.
func (h *Hub) Add(conn *websocket.Conn) {
	s := &session{conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	observability.FeedClients.Inc()

	go h.writeLoop(s)
	go h.readLoop(s)
}

func (h *Hub) Publish(locs []models.ParkingLocation) {
	if len(locs) == 0 {
		return
	}
	msg := Message{Type: "locations", Locations: locs}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		select {
		case s.send <- msg:
		default:
			h.logger.Warn("feed_frame_dropped", "remote_addr", s.conn.RemoteAddr().String())
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[*session]struct{})
	h.mu.Unlock()
	for s := range sessions {
		close(s.send)
		observability.FeedClients.Dec()
	}
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()
	if ok {
		close(s.send)
		observability.FeedClients.Dec()
	}
}

func (h *Hub) writeLoop(s *session) {
	defer s.conn.Close()
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("feed_write_failed", "error", err)
			h.remove(s)
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readLoop drains client frames; a read error means the client is gone.
func (h *Hub) readLoop(s *session) {
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			h.remove(s)
			return
		}
	}
}
