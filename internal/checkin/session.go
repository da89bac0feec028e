package checkin

import (
	"sync"

	"github.com/example/event-checkin/internal/models"
)

// Session is the in-memory bundle for one user's active check-in at one
// event. It is the only mutable process-local state in the subsystem;
// everything else lives as durable records behind the store. The owner
// that starts a check-in holds it and hands it to the monitor and the
// candidate queue; it is torn down explicitly on navigation-away.
type Session struct {
	EventID string
	UserID  string

	mu           sync.Mutex
	visibility   models.Visibility
	cachedSample *models.GeofenceResult
	ended        bool
	endReason    string
}

func NewSession(userID, eventID string) *Session {
	return &Session{EventID: eventID, UserID: userID}
}

// CacheSample stores the single GPS sample taken during the attempt so
// later steps do not re-request location.
func (s *Session) CacheSample(r models.GeofenceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.cachedSample = &cp
}

func (s *Session) CachedSample() (models.GeofenceResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedSample == nil {
		return models.GeofenceResult{}, false
	}
	return *s.cachedSample, true
}

// DiscardSample forces re-verification on the next attempt. Called when
// a check-in write fails so a stale sample is never silently retried.
func (s *Session) DiscardSample() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedSample = nil
}

func (s *Session) SetVisibility(v models.Visibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visibility = v
}

func (s *Session) Visibility() models.Visibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibility
}

// End flips the one-way ended flag. Idempotent; only the first call
// wins and sets the reason. Durable records are never touched here.
func (s *Session) End(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.endReason = reason
	return true
}

func (s *Session) Ended() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended, s.endReason
}
