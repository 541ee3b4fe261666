package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
	"github.com/example/route-watch/internal/observability"
)

const writeWait = 5 * time.Second

// WSSession is one connected dashboard listener.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ride models.NotifiedRide) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ride)
}

// Hub fans recorded notifications out to websocket listeners. Delivery is
// best effort: a failed write drops the session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	log      logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	return &Hub{sessions: make(map[string]*WSSession), log: log.With(map[string]interface{}{"component": "hub"})}
}

// Add registers conn and returns the session ID used to remove it.
func (h *Hub) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = &WSSession{conn: conn}
	n := len(h.sessions)
	h.mu.Unlock()
	observability.HubClients.Set(float64(n))
	return id
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
	observability.HubClients.Set(float64(n))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Broadcast(ride models.NotifiedRide) {
	h.mu.RLock()
	targets := make(map[string]*WSSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		if err := s.Send(ride); err != nil {
			h.log.Debug("ws send failed, dropping session", map[string]interface{}{"session": id, "error": err})
			h.Remove(id)
		}
	}
}
