// Package platform holds the ports onto device capabilities (GPS,
// camera). The embedding app supplies real implementations; the HTTP
// deployment adapts client-reported samples onto them.
package platform

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/models"
)

var (
	// ErrNoSample means no location fix could be obtained silently.
	ErrNoSample = errors.New("no location sample available")
	// ErrPermissionDenied means the user refused the location prompt.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrNotLiveCapture means the submitted photo was not a fresh camera frame.
	ErrNotLiveCapture = errors.New("photo is not a live camera capture")
)

// LocationProvider yields GPS samples. Current may prompt the user and
// must honor ctx deadlines; CurrentSilent must never trigger a prompt
// and returns ErrNoSample when nothing is cached.
type LocationProvider interface {
	Current(ctx context.Context) (models.Coordinate, error)
	CurrentSilent(ctx context.Context) (models.Coordinate, error)
}

// Photo is a single still frame reference produced by a live capture.
// Byte storage is external; only the reference travels through here.
type Photo struct {
	Ref         string
	CapturedAt  time.Time
	LiveCapture bool
}

// Camera captures exactly one still frame per call.
type Camera interface {
	Capture(ctx context.Context) (Photo, error)
}

// Reported adapts a single client-reported sample onto LocationProvider.
// Current hands out the one sample; CurrentSilent falls back to the
// shared sample log so background checks never prompt.
type Reported struct {
	Sample *models.Coordinate
	Log    *SampleLog
	UserID string
}

func (r *Reported) Current(ctx context.Context) (models.Coordinate, error) {
	if r.Sample == nil {
		return models.Coordinate{}, ErrNoSample
	}
	if !r.Sample.Valid() {
		return models.Coordinate{}, errors.New("coordinate out of range")
	}
	return *r.Sample, nil
}

func (r *Reported) CurrentSilent(ctx context.Context) (models.Coordinate, error) {
	if r.Log == nil {
		return models.Coordinate{}, ErrNoSample
	}
	return r.Log.Latest(r.UserID)
}

// ReportedCamera wraps a photo the client claims to have just captured.
type ReportedCamera struct {
	Photo Photo
}

func (c *ReportedCamera) Capture(ctx context.Context) (Photo, error) {
	if !c.Photo.LiveCapture || c.Photo.Ref == "" {
		return Photo{}, ErrNotLiveCapture
	}
	return c.Photo, nil
}

// SampleLog keeps the most recent client-reported location per user so
// the session monitor can read it without prompting. Entries go stale
// after MaxAge.
type SampleLog struct {
	mu     sync.RWMutex
	latest map[string]loggedSample
	MaxAge time.Duration
}

type loggedSample struct {
	coord models.Coordinate
	at    time.Time
}

func NewSampleLog(maxAge time.Duration) *SampleLog {
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	return &SampleLog{latest: make(map[string]loggedSample), MaxAge: maxAge}
}

func (l *SampleLog) Record(userID string, c models.Coordinate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latest[userID] = loggedSample{coord: c, at: time.Now()}
}

// Latest returns the freshest sample for the user, or ErrNoSample when
// absent or stale.
func (l *SampleLog) Latest(userID string) (models.Coordinate, error) {
	l.mu.RLock()
	s, ok := l.latest[userID]
	l.mu.RUnlock()
	if !ok || time.Since(s.at) > l.MaxAge {
		return models.Coordinate{}, ErrNoSample
	}
	return s.coord, nil
}
