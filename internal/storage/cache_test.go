package storage

import (
	"context"
	"testing"
	"time"

	"github.com/example/event-checkin/internal/models"
)

func TestEventCacheServesWithinTTL(t *testing.T) {
	inner := NewMemoryStore()
	inner.PutEvent(&models.Event{ID: "e1", Name: "first", IsActive: true})
	c := NewEventCache(inner, time.Minute)

	ctx := context.Background()
	if _, err := c.EventByID(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	// mutate behind the cache; a warm read must not see it
	inner.PutEvent(&models.Event{ID: "e1", Name: "second", IsActive: true})
	e, err := c.EventByID(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "first" {
		t.Fatalf("expected cached row, got %q", e.Name)
	}

	c.Invalidate("e1")
	e, _ = c.EventByID(ctx, "e1")
	if e.Name != "second" {
		t.Fatalf("expected fresh row after invalidate, got %q", e.Name)
	}
}

func TestEventCacheExpires(t *testing.T) {
	inner := NewMemoryStore()
	inner.PutEvent(&models.Event{ID: "e1", Name: "first", IsActive: true})
	c := NewEventCache(inner, 5*time.Millisecond)

	ctx := context.Background()
	c.EventByID(ctx, "e1")
	inner.PutEvent(&models.Event{ID: "e1", Name: "second", IsActive: true})
	time.Sleep(10 * time.Millisecond)
	e, _ := c.EventByID(ctx, "e1")
	if e.Name != "second" {
		t.Fatalf("expected expired entry refetched, got %q", e.Name)
	}
}

func TestEventCacheMissPassthrough(t *testing.T) {
	c := NewEventCache(NewMemoryStore(), time.Minute)
	if _, err := c.EventByID(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
