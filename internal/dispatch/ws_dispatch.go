package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/event-checkin/internal/models"
)

// wsFrame is the envelope written onto the socket so the client can
// demux match events from session notices.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSSession represents one connected client device.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(frame wsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

// WSRegistry holds live client sessions keyed by user id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &WSSession{conn: conn}
}

// Remove drops the session only while it still wraps conn, so the read
// pump of a superseded connection cannot evict its replacement.
func (r *WSRegistry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
	}
}

func (r *WSRegistry) NotifyMatch(userID string, ev models.MatchEvent) error {
	return r.push(userID, wsFrame{Type: "match", Data: ev})
}

// NotifySessionEnded tells a connected client its session was
// invalidated by the monitor.
func (r *WSRegistry) NotifySessionEnded(userID, eventID, reason string) error {
	return r.push(userID, wsFrame{Type: "session_ended", Data: map[string]string{
		"event_id": eventID,
		"reason":   reason,
	}})
}

func (r *WSRegistry) push(userID string, frame wsFrame) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(frame); err != nil {
		r.logger.Warn("ws send error", "user_id", userID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
