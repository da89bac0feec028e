package httpapi

import (
	"context"
	"sync"

	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/observability"
	"github.com/example/event-checkin/internal/platform"
	"github.com/example/event-checkin/internal/queue"
)

// activeSession bundles the per-(user,event) flow with its matching
// machinery. cancel tears down the monitor goroutine and the feed
// subscription together, the scoped-release equivalent of navigating
// away.
type activeSession struct {
	flow   *checkin.Flow
	loc    *platform.Reported
	cam    *platform.ReportedCamera
	queue  *queue.Queue
	cancel context.CancelFunc
}

type sessionRegistry struct {
	mu    sync.Mutex
	byKey map[string]*activeSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byKey: make(map[string]*activeSession)}
}

func sessionKey(userID, eventID string) string { return userID + "|" + eventID }

func (r *sessionRegistry) get(userID, eventID string) (*activeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byKey[sessionKey(userID, eventID)]
	return s, ok
}

// getOrCreate returns the live session for the pair, building the flow
// lazily so a page reload continues the same state machine.
func (r *sessionRegistry) getOrCreate(userID, eventID string, build func() *activeSession) *activeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := sessionKey(userID, eventID)
	if s, ok := r.byKey[k]; ok {
		return s
	}
	s := build()
	r.byKey[k] = s
	observability.ActiveSessions.Inc()
	return s
}

func (r *sessionRegistry) close(userID, eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := sessionKey(userID, eventID)
	s, ok := r.byKey[k]
	if !ok {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	delete(r.byKey, k)
	observability.ActiveSessions.Dec()
	return true
}
