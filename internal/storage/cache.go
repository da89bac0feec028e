package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/models"
)

// EventCache is a tiny TTL cache in front of event reads. Venue fields
// are immutable for the lifetime of a check-in attempt, so the HTTP
// layer can serve them from here; the session monitor bypasses the
// cache because it needs fresh lifecycle flags.
type EventCache struct {
	mu    sync.RWMutex
	store map[string]eventEntry
	ttl   time.Duration
	inner Store
}

type eventEntry struct {
	e  models.Event
	ts time.Time
}

func NewEventCache(inner Store, ttl time.Duration) *EventCache {
	return &EventCache{store: make(map[string]eventEntry), ttl: ttl, inner: inner}
}

func (c *EventCache) EventByID(ctx context.Context, id string) (*models.Event, error) {
	c.mu.RLock()
	entry, ok := c.store[id]
	c.mu.RUnlock()
	if ok && time.Since(entry.ts) <= c.ttl {
		cp := entry.e
		return &cp, nil
	}
	e, err := c.inner.EventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store[id] = eventEntry{e: *e, ts: time.Now()}
	c.mu.Unlock()
	return e, nil
}

// Invalidate drops a cached event, e.g. after an operator edit.
func (c *EventCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.store, id)
	c.mu.Unlock()
}
