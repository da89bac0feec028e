// Package monitor re-validates a live public check-in in the
// background: the event must still be running and the user must still
// be near the venue.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/geo"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/observability"
	"github.com/example/event-checkin/internal/platform"
)

const (
	ReasonEventEnded   = "event ended"
	ReasonLeftArea     = "left event area"
	DefaultInterval    = 60 * time.Second
	silentCheckTimeout = 5 * time.Second
)

// EventReader must always hit fresh lifecycle flags, so the monitor
// takes the raw store rather than the TTL cache.
type EventReader interface {
	EventByID(ctx context.Context, id string) (*models.Event, error)
}

// Recorder marks the durable side of a session ending: the terminal
// ended marker on the check-in row and the profile going invisible.
// Best-effort; the client-local flag is the source of truth for the UI.
type Recorder interface {
	EndCheckIn(ctx context.Context, userID, eventID string, at time.Time) error
	DeactivateProfile(ctx context.Context, userID, eventID string) error
}

// Ender is notified once when the session ends, e.g. to push a notice
// over the user's websocket.
type Ender func(userID, eventID, reason string)

type Monitor struct {
	events   EventReader
	location platform.LocationProvider
	recorder Recorder // optional
	onEnd    Ender    // optional
	session  *checkin.Session
	venue    models.Venue
	interval time.Duration
	logger   *slog.Logger
}

func New(session *checkin.Session, venue models.Venue, events EventReader, location platform.LocationProvider, logger *slog.Logger) *Monitor {
	return &Monitor{
		events:   events,
		location: location,
		session:  session,
		venue:    venue,
		interval: DefaultInterval,
		logger:   logger,
	}
}

func (m *Monitor) WithInterval(d time.Duration) *Monitor {
	if d > 0 {
		m.interval = d
	}
	return m
}

func (m *Monitor) WithRecorder(r Recorder) *Monitor {
	m.recorder = r
	return m
}

func (m *Monitor) WithEnder(fn Ender) *Monitor {
	m.onEnd = fn
	return m
}

// Run checks once immediately, then on every tick, until the session
// ends or ctx is canceled. Meant to be launched as a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	if m.CheckOnce(ctx) {
		return
	}
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.CheckOnce(ctx) {
				return
			}
		}
	}
}

// CheckOnce runs one validation pass and reports whether the session is
// now over. A session already ended elsewhere also stops the monitor.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	if ended, _ := m.session.Ended(); ended {
		return true
	}

	event, err := m.events.EventByID(ctx, m.session.EventID)
	if err != nil {
		// Transient read failure never ends a session.
		m.logger.Warn("monitor: event lookup failed", "event_id", m.session.EventID, "error", err)
		return false
	}
	if event.Ended(time.Now()) {
		m.end(ctx, ReasonEventEnded)
		return true
	}

	// Opportunistic location re-check: silent samples only, never a
	// prompt, and a missing sample skips the geofence test entirely.
	locCtx, cancel := context.WithTimeout(ctx, silentCheckTimeout)
	sample, err := m.location.CurrentSilent(locCtx)
	cancel()
	if err != nil {
		return false
	}
	res := geo.Evaluate(m.venue, sample, geo.LooseTolerance)
	if !res.WithinRadius {
		m.logger.Info("monitor: user left event area",
			"user_id", m.session.UserID, "event_id", m.session.EventID, "distance_m", res.DistanceMeters)
		m.end(ctx, ReasonLeftArea)
		return true
	}
	return false
}

func (m *Monitor) end(ctx context.Context, reason string) {
	if !m.session.End(reason) {
		return
	}
	observability.SessionsEndedTotal.WithLabelValues(reasonLabel(reason)).Inc()
	if m.recorder != nil {
		now := time.Now()
		if err := m.recorder.EndCheckIn(ctx, m.session.UserID, m.session.EventID, now); err != nil {
			m.logger.Warn("monitor: end marker write failed", "event_id", m.session.EventID, "error", err)
		}
		if err := m.recorder.DeactivateProfile(ctx, m.session.UserID, m.session.EventID); err != nil {
			m.logger.Warn("monitor: profile deactivate failed", "event_id", m.session.EventID, "error", err)
		}
	}
	if m.onEnd != nil {
		m.onEnd(m.session.UserID, m.session.EventID, reason)
	}
}

func reasonLabel(reason string) string {
	switch reason {
	case ReasonEventEnded:
		return "event_ended"
	case ReasonLeftArea:
		return "left_area"
	default:
		return "other"
	}
}
