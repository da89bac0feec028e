package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/models"
)

var (
	// ErrNotFound covers missing rows and failed entry-token validation.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals an idempotency-key conflict (one check-in
	// per user+event, one swipe per swiper+swiped+event).
	ErrDuplicate = errors.New("duplicate record")
)

// Store defines the persistence operations this core consumes. The
// schema is owned externally; all consistency comes from per-row
// idempotency keys, not client-side locking.
type Store interface {
	EventByID(ctx context.Context, id string) (*models.Event, error)
	// ResolveEntryToken validates a QR token and returns the event id.
	// A failed validation behaves exactly like event-not-found.
	ResolveEntryToken(ctx context.Context, token string) (string, error)
	UserByID(ctx context.Context, id string) (*models.User, error)

	CheckInFor(ctx context.Context, userID, eventID string) (*models.CheckIn, error)
	InsertCheckIn(ctx context.Context, c *models.CheckIn) error
	EndCheckIn(ctx context.Context, userID, eventID string, at time.Time) error

	InsertProfile(ctx context.Context, p *models.ConnectionProfile) error
	DeactivateProfile(ctx context.Context, userID, eventID string) error
	ActiveProfiles(ctx context.Context, eventID, excludeUserID string) ([]models.ConnectionProfile, error)

	InsertSwipe(ctx context.Context, s *models.Swipe) error
	RightSwipeExists(ctx context.Context, swiperID, swipedID, eventID string) (bool, error)
	SwipesBy(ctx context.Context, userID, eventID string) ([]models.Swipe, error)

	InsertMatch(ctx context.Context, m *models.Match) error
}

// MemoryStore is the in-process fallback used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*models.Event
	tokens   map[string]string // entry token -> event id
	users    map[string]*models.User
	checkins map[string]*models.CheckIn           // userID|eventID
	profiles map[string]*models.ConnectionProfile // userID|eventID
	swipes   map[string]*models.Swipe             // swiper|swiped|eventID
	matches  []*models.Match
	matched  map[string]bool // normalized pair|eventID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*models.Event),
		tokens:   make(map[string]string),
		users:    make(map[string]*models.User),
		checkins: make(map[string]*models.CheckIn),
		profiles: make(map[string]*models.ConnectionProfile),
		swipes:   make(map[string]*models.Swipe),
		matched:  make(map[string]bool),
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func (m *MemoryStore) PutEvent(e *models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
}

func (m *MemoryStore) PutEntryToken(token, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = eventID
}

func (m *MemoryStore) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) EventByID(ctx context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ResolveEntryToken(ctx context.Context, token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tokens[token]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) CheckInFor(ctx context.Context, userID, eventID string) (*models.CheckIn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkins[pairKey(userID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) InsertCheckIn(ctx context.Context, c *models.CheckIn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey(c.UserID, c.EventID)
	if _, exists := m.checkins[k]; exists {
		return ErrDuplicate
	}
	cp := *c
	m.checkins[k] = &cp
	return nil
}

func (m *MemoryStore) EndCheckIn(ctx context.Context, userID, eventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkins[pairKey(userID, eventID)]
	if !ok {
		return ErrNotFound
	}
	if c.EndedAt == nil {
		c.EndedAt = &at
	}
	return nil
}

func (m *MemoryStore) InsertProfile(ctx context.Context, p *models.ConnectionProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey(p.UserID, p.EventID)
	if _, exists := m.profiles[k]; exists {
		return ErrDuplicate
	}
	cp := *p
	m.profiles[k] = &cp
	return nil
}

func (m *MemoryStore) DeactivateProfile(ctx context.Context, userID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[pairKey(userID, eventID)]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = false
	return nil
}

func (m *MemoryStore) ActiveProfiles(ctx context.Context, eventID, excludeUserID string) ([]models.ConnectionProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConnectionProfile, 0)
	for _, p := range m.profiles {
		if p.EventID != eventID || p.UserID == excludeUserID {
			continue
		}
		if !p.IsPublic || !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) InsertSwipe(ctx context.Context, s *models.Swipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := s.SwiperID + "|" + s.SwipedID + "|" + s.EventID
	if _, exists := m.swipes[k]; exists {
		return ErrDuplicate
	}
	cp := *s
	m.swipes[k] = &cp
	return nil
}

func (m *MemoryStore) RightSwipeExists(ctx context.Context, swiperID, swipedID, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.swipes[swiperID+"|"+swipedID+"|"+eventID]
	return ok && s.Direction == models.SwipeRight, nil
}

func (m *MemoryStore) SwipesBy(ctx context.Context, userID, eventID string) ([]models.Swipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Swipe, 0)
	for _, s := range m.swipes {
		if s.SwiperID == userID && s.EventID == eventID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SwipedAt.Before(out[j].SwipedAt) })
	return out, nil
}

func matchKey(a, b, eventID string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b + "|" + eventID
}

func (m *MemoryStore) InsertMatch(ctx context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := matchKey(match.UserAID, match.UserBID, match.EventID)
	if m.matched[k] {
		return ErrDuplicate
	}
	m.matched[k] = true
	cp := *match
	m.matches = append(m.matches, &cp)
	return nil
}

// Matches is a test helper.
func (m *MemoryStore) Matches() []models.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Match, 0, len(m.matches))
	for _, mm := range m.matches {
		out = append(out, *mm)
	}
	return out
}
