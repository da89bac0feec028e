package checkin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/feed"
	"github.com/example/event-checkin/internal/geo"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/observability"
	"github.com/example/event-checkin/internal/platform"
	"github.com/example/event-checkin/internal/storage"
)

type State string

const (
	StateIdle             State = "idle"
	StateCheckingLocation State = "checking_location"
	StateChooseVisibility State = "choose_visibility"
	StateCreateProfile    State = "create_profile"
	StateCheckingIn       State = "checking_in"
	StateSuccess          State = "success"
	StateAlreadyCheckedIn State = "already_checked_in"
	// StateEnded is a display-only status reported after the session
	// monitor invalidates the session.
	StateEnded State = "ended"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrEventEnded        = errors.New("event has ended")
	ErrInvalidTransition = errors.New("invalid state for this action")
)

// ValidationError keeps the flow in CreateProfile with an inline error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

// GeofenceMiss is the normal rejected outcome for a sample outside the
// fence; it carries what the UI needs to tell the user how far off they are.
type GeofenceMiss struct {
	DistanceMeters       float64
	RequiredRadiusMeters float64
}

// Outcome is the result of driving the state machine one step.
type Outcome struct {
	State        State
	CheckIn      *models.CheckIn
	GeofenceMiss *GeofenceMiss
	// Warning is non-blocking, e.g. a profile write that failed after a
	// successful check-in.
	Warning string
	Err     error
}

type ProfileInput struct {
	DisplayName string
	Age         int
	Bio         string
	Interests   []string
}

// EventReader is the venue/lifecycle read side; satisfied by the store
// or the TTL cache in front of it.
type EventReader interface {
	EventByID(ctx context.Context, id string) (*models.Event, error)
}

type Deps struct {
	Store    storage.Store
	Events   EventReader // defaults to Store
	Location platform.LocationProvider
	Camera   platform.Camera
	Feed     feed.CandidateFeed // optional; announces new profiles
	Logger   *slog.Logger
}

type Options struct {
	LocationTimeout time.Duration
	DefaultRadiusM  float64
}

// Flow is the multi-step check-in state machine for one (user, event)
// attempt. Steps are user-driven and sequential; only one transition is
// in flight at a time.
type Flow struct {
	deps   Deps
	opts   Options
	userID string

	mu           sync.Mutex
	state        State
	session      *Session
	venue        models.Venue
	verification string
	lastMiss     *GeofenceMiss
	lastErr      error
}

func New(userID string, d Deps, opts Options) *Flow {
	if d.Events == nil {
		d.Events = d.Store
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = 10 * time.Second
	}
	if opts.DefaultRadiusM <= 0 {
		opts.DefaultRadiusM = 50
	}
	return &Flow{deps: d, opts: opts, userID: userID, state: StateIdle, verification: "gps"}
}

// Session exposes the client-local session for the monitor and queue.
// Nil until a check-in attempt passes the geofence.
func (f *Flow) Session() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// startable reports whether a new attempt may begin. Terminal states
// are startable so a fresh page load re-runs the idempotency guard and
// lands back on already_checked_in instead of an error. Callers hold f.mu.
func (f *Flow) startable() bool {
	return f.state == StateIdle || f.state == StateSuccess || f.state == StateAlreadyCheckedIn
}

// AttemptCheckIn drives Idle -> CheckingLocation and onward. Exactly
// one location sample is requested per attempt, bounded by the
// configured timeout, and cached for the rest of the flow.
func (f *Flow) AttemptCheckIn(ctx context.Context, eventID string) Outcome {
	return f.attempt(ctx, eventID, "gps")
}

func (f *Flow) attempt(ctx context.Context, eventID, method string) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.startable() {
		return f.fail(f.state, ErrInvalidTransition)
	}

	// Idempotency guard: an existing check-in short-circuits without
	// ever requesting location.
	existing, err := f.deps.Store.CheckInFor(ctx, f.userID, eventID)
	if err == nil {
		f.state = StateAlreadyCheckedIn
		if f.session == nil {
			f.session = NewSession(f.userID, eventID)
		}
		f.session.SetVisibility(existing.Visibility)
		observability.CheckInsTotal.WithLabelValues("already_checked_in").Inc()
		return Outcome{State: StateAlreadyCheckedIn, CheckIn: existing}
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return f.fail(StateIdle, fmt.Errorf("check-in lookup: %w", err))
	}

	event, err := f.deps.Events.EventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return f.fail(StateIdle, ErrEventNotFound)
		}
		return f.fail(StateIdle, fmt.Errorf("event lookup: %w", err))
	}
	if event.Ended(time.Now()) {
		return f.fail(StateIdle, ErrEventEnded)
	}
	f.verification = method

	venue := event.Venue()
	if venue.GeofenceRadiusMeters <= 0 {
		venue.GeofenceRadiusMeters = f.opts.DefaultRadiusM
	}
	f.venue = venue

	f.state = StateCheckingLocation
	locCtx, cancel := context.WithTimeout(ctx, f.opts.LocationTimeout)
	sample, err := f.deps.Location.Current(locCtx)
	cancel()
	if err != nil {
		observability.CheckInsTotal.WithLabelValues("location_error").Inc()
		return f.fail(StateIdle, fmt.Errorf("location unavailable: %w", err))
	}
	if !sample.Valid() {
		observability.CheckInsTotal.WithLabelValues("location_error").Inc()
		return f.fail(StateIdle, errors.New("location sample out of range"))
	}

	res := geo.Evaluate(venue, sample, geo.StrictTolerance)
	if !res.WithinRadius {
		miss := &GeofenceMiss{DistanceMeters: res.DistanceMeters, RequiredRadiusMeters: venue.GeofenceRadiusMeters}
		f.state = StateIdle
		f.lastMiss = miss
		f.lastErr = nil
		observability.CheckInsTotal.WithLabelValues("geofence_miss").Inc()
		f.deps.Logger.Info("check-in rejected outside geofence",
			"user_id", f.userID, "event_id", eventID,
			"distance_m", res.DistanceMeters, "radius_m", venue.GeofenceRadiusMeters)
		return Outcome{State: StateIdle, GeofenceMiss: miss}
	}

	f.session = NewSession(f.userID, eventID)
	f.session.CacheSample(res)
	f.state = StateChooseVisibility
	f.lastMiss = nil
	f.lastErr = nil
	return Outcome{State: StateChooseVisibility}
}

// AttemptCheckInWithToken is the QR entry path. Token validation is
// delegated to the store; a failed validation behaves exactly like
// event-not-found. A token arriving mid-flow is rejected without
// disturbing the attempt in progress.
func (f *Flow) AttemptCheckInWithToken(ctx context.Context, token string) Outcome {
	f.mu.Lock()
	if !f.startable() {
		out := f.fail(f.state, ErrInvalidTransition)
		f.mu.Unlock()
		return out
	}
	f.mu.Unlock()

	eventID, err := f.deps.Store.ResolveEntryToken(ctx, token)
	if err != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.fail(f.state, ErrEventNotFound)
	}
	return f.attempt(ctx, eventID, "qr")
}

// ChooseVisibility is the one-way fork: private writes the check-in
// immediately, public defers all writes until the profile is valid.
func (f *Flow) ChooseVisibility(ctx context.Context, v models.Visibility) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateChooseVisibility {
		return f.fail(f.state, ErrInvalidTransition)
	}
	if v != models.VisibilityPublic && v != models.VisibilityPrivate {
		return f.fail(StateChooseVisibility, fmt.Errorf("unknown visibility %q", v))
	}
	f.session.SetVisibility(v)

	if v == models.VisibilityPrivate {
		return f.writeCheckIn(ctx, v)
	}
	f.state = StateCreateProfile
	return Outcome{State: StateCreateProfile}
}

// SubmitProfile validates the public profile, captures a fresh photo,
// and performs the check-in write before the profile write. A failed
// profile write after a successful check-in is non-fatal: the user is
// checked in and the profile is recoverable from a later edit screen.
func (f *Flow) SubmitProfile(ctx context.Context, in ProfileInput) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateCreateProfile {
		return f.fail(f.state, ErrInvalidTransition)
	}
	if err := validateProfile(in); err != nil {
		return Outcome{State: StateCreateProfile, Err: err}
	}

	// The photo must come from a live capture; a stored profile photo
	// is rejected to keep impersonation hard.
	photo, err := f.deps.Camera.Capture(ctx)
	if err != nil {
		return Outcome{State: StateCreateProfile, Err: err}
	}
	if !photo.LiveCapture {
		return Outcome{State: StateCreateProfile, Err: platform.ErrNotLiveCapture}
	}

	out := f.writeCheckIn(ctx, models.VisibilityPublic)
	if out.State != StateSuccess {
		return out
	}

	profile := &models.ConnectionProfile{
		ID:          newID(),
		UserID:      f.userID,
		EventID:     f.session.EventID,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Age:         in.Age,
		Bio:         strings.TrimSpace(in.Bio),
		Interests:   in.Interests,
		PhotoURL:    photo.Ref,
		IsPublic:    true,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := f.deps.Store.InsertProfile(ctx, profile); err != nil {
		// Check-in stands; the write ordering is deliberate so the
		// stronger guarantee cannot be lost to the weaker one.
		f.deps.Logger.Warn("profile write failed after check-in",
			"user_id", f.userID, "event_id", f.session.EventID, "error", err)
		out.Warning = "profile could not be saved; you are checked in and can edit it later"
		return out
	}
	if f.deps.Feed != nil {
		if err := f.deps.Feed.PublishProfile(ctx, *profile); err != nil {
			f.deps.Logger.Warn("profile feed publish failed", "event_id", profile.EventID, "error", err)
		}
	}
	return out
}

// writeCheckIn performs the single idempotent check-in insert from the
// cached sample. Callers hold f.mu.
func (f *Flow) writeCheckIn(ctx context.Context, v models.Visibility) Outcome {
	sample, ok := f.session.CachedSample()
	if !ok {
		return f.fail(StateIdle, errors.New("no cached location sample"))
	}

	f.state = StateCheckingIn
	c := &models.CheckIn{
		ID:                 newID(),
		EventID:            f.session.EventID,
		UserID:             f.userID,
		Coordinate:         sample.Coordinate,
		DistanceMeters:     sample.DistanceMeters,
		WithinGeofence:     true,
		Visibility:         v,
		VerificationMethod: f.verification,
		CreatedAt:          time.Now(),
	}
	err := f.deps.Store.InsertCheckIn(ctx, c)
	switch {
	case err == nil:
		f.state = StateSuccess
		observability.CheckInsTotal.WithLabelValues("success").Inc()
		f.deps.Logger.Info("checked in", "user_id", f.userID, "event_id", c.EventID, "visibility", v)
		return Outcome{State: StateSuccess, CheckIn: c}
	case errors.Is(err, storage.ErrDuplicate):
		f.state = StateAlreadyCheckedIn
		observability.CheckInsTotal.WithLabelValues("already_checked_in").Inc()
		return Outcome{State: StateAlreadyCheckedIn}
	default:
		// Fatal to this attempt: discard the sample so a retry starts
		// from a fresh location fix rather than a stale one.
		f.session.DiscardSample()
		observability.CheckInsTotal.WithLabelValues("write_error").Inc()
		return f.fail(StateIdle, fmt.Errorf("check-in write: %w", err))
	}
}

// SessionState is the display snapshot exposed to the UI layer.
type SessionState struct {
	Status         State    `json:"status"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	EndReason      string   `json:"end_reason,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func (f *Flow) CurrentState() SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := SessionState{Status: f.state}
	if f.session != nil {
		if ended, reason := f.session.Ended(); ended {
			st.Status = StateEnded
			st.EndReason = reason
		}
		if sample, ok := f.session.CachedSample(); ok {
			d := sample.DistanceMeters
			st.DistanceMeters = &d
		}
	}
	if f.lastMiss != nil {
		d := f.lastMiss.DistanceMeters
		st.DistanceMeters = &d
	}
	if f.lastErr != nil {
		st.Error = f.lastErr.Error()
	}
	return st
}

func (f *Flow) fail(next State, err error) Outcome {
	f.state = next
	f.lastErr = err
	return Outcome{State: next, Err: err}
}

func validateProfile(in ProfileInput) error {
	if strings.TrimSpace(in.DisplayName) == "" {
		return &ValidationError{Field: "display_name", Reason: "required"}
	}
	if in.Age < 18 {
		return &ValidationError{Field: "age", Reason: "must be 18 or older"}
	}
	if strings.TrimSpace(in.Bio) == "" {
		return &ValidationError{Field: "bio", Reason: "required"}
	}
	return nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
