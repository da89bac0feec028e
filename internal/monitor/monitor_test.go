package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/platform"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEvents struct {
	mu    sync.Mutex
	event models.Event
	err   error
}

func (f *fakeEvents) EventByID(ctx context.Context, id string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cp := f.event
	return &cp, nil
}

func (f *fakeEvents) endEvent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.event.IsActive = false
}

type fakeSilentLocation struct {
	coord models.Coordinate
	err   error
}

func (f *fakeSilentLocation) Current(ctx context.Context) (models.Coordinate, error) {
	return models.Coordinate{}, errors.New("monitor must never use the prompting variant")
}

func (f *fakeSilentLocation) CurrentSilent(ctx context.Context) (models.Coordinate, error) {
	if f.err != nil {
		return models.Coordinate{}, f.err
	}
	return f.coord, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	ended       int
	deactivated int
}

func (f *fakeRecorder) EndCheckIn(ctx context.Context, userID, eventID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return nil
}

func (f *fakeRecorder) DeactivateProfile(ctx context.Context, userID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated++
	return nil
}

func activeEvent() models.Event {
	return models.Event{
		ID:                   "e1",
		Coordinate:           models.Coordinate{Lat: -22.5609, Lng: 17.0658},
		GeofenceRadiusMeters: 50,
		IsActive:             true,
	}
}

func testVenue() models.Venue {
	e := activeEvent()
	return e.Venue()
}

func TestEventEndedEndsSession(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	events.endEvent()
	loc := &fakeSilentLocation{coord: testVenue().Coordinate}
	rec := &fakeRecorder{}
	m := New(session, testVenue(), events, loc, testLogger).WithRecorder(rec)

	if !m.CheckOnce(context.Background()) {
		t.Fatal("expected the session to end")
	}
	ended, reason := session.Ended()
	if !ended || reason != ReasonEventEnded {
		t.Fatalf("expected ended with %q, got ended=%v reason=%q", ReasonEventEnded, ended, reason)
	}
	if rec.ended != 1 || rec.deactivated != 1 {
		t.Fatalf("expected durable markers written once, got end=%d deactivate=%d", rec.ended, rec.deactivated)
	}
}

func TestMissingLocationNeverEndsSession(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	loc := &fakeSilentLocation{err: platform.ErrNoSample}
	m := New(session, testVenue(), events, loc, testLogger)

	if m.CheckOnce(context.Background()) {
		t.Fatal("a missing sample must never end the session")
	}
	if ended, _ := session.Ended(); ended {
		t.Fatal("session must stay alive")
	}
}

func TestTransientEventReadFailureSkipsTick(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{err: errors.New("backend hiccup")}
	loc := &fakeSilentLocation{coord: testVenue().Coordinate}
	m := New(session, testVenue(), events, loc, testLogger)

	if m.CheckOnce(context.Background()) {
		t.Fatal("a failed lifecycle read must not end the session")
	}
}

func TestOutsideLooseBufferEndsSession(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	// ~500m away, far outside 3x50m
	loc := &fakeSilentLocation{coord: models.Coordinate{Lat: -22.5654, Lng: 17.0658}}
	m := New(session, testVenue(), events, loc, testLogger)

	if !m.CheckOnce(context.Background()) {
		t.Fatal("expected the session to end")
	}
	_, reason := session.Ended()
	if reason != ReasonLeftArea {
		t.Fatalf("expected %q, got %q", ReasonLeftArea, reason)
	}
}

func TestBoundaryJitterSurvivesLooseBuffer(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	// ~100m away: outside the strict 50m fence, inside the 150m buffer
	loc := &fakeSilentLocation{coord: models.Coordinate{Lat: -22.5618, Lng: 17.0658}}
	m := New(session, testVenue(), events, loc, testLogger)

	if m.CheckOnce(context.Background()) {
		t.Fatal("jitter inside the loose buffer must not end the session")
	}
}

func TestAlreadyEndedSessionStopsMonitor(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	session.End("navigated away")
	events := &fakeEvents{event: activeEvent()}
	rec := &fakeRecorder{}
	m := New(session, testVenue(), events, &fakeSilentLocation{}, testLogger).WithRecorder(rec)

	if !m.CheckOnce(context.Background()) {
		t.Fatal("expected the monitor to report done")
	}
	if rec.ended != 0 {
		t.Fatal("an already-ended session must not be re-ended")
	}
	if _, reason := session.Ended(); reason != "navigated away" {
		t.Fatalf("first end reason must win, got %q", reason)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	loc := &fakeSilentLocation{err: platform.ErrNoSample}
	m := New(session, testVenue(), events, loc, testLogger).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
	if ended, _ := session.Ended(); ended {
		t.Fatal("cancellation must not end the session")
	}
}

func TestRunEndsOnEventLifecycle(t *testing.T) {
	session := checkin.NewSession("u1", "e1")
	events := &fakeEvents{event: activeEvent()}
	loc := &fakeSilentLocation{coord: testVenue().Coordinate}
	var notified struct {
		sync.Mutex
		reason string
	}
	m := New(session, testVenue(), events, loc, testLogger).
		WithInterval(5 * time.Millisecond).
		WithEnder(func(userID, eventID, reason string) {
			notified.Lock()
			notified.reason = reason
			notified.Unlock()
		})

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	events.endEvent()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not end after the event closed")
	}
	notified.Lock()
	defer notified.Unlock()
	if notified.reason != ReasonEventEnded {
		t.Fatalf("expected ender callback with %q, got %q", ReasonEventEnded, notified.reason)
	}
}
