package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/event-checkin/internal/models"
)

func TestSampleLogStaleness(t *testing.T) {
	l := NewSampleLog(10 * time.Millisecond)
	l.Record("u1", models.Coordinate{Lat: 1, Lng: 2})

	if _, err := l.Latest("u1"); err != nil {
		t.Fatalf("fresh sample must be served: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := l.Latest("u1"); !errors.Is(err, ErrNoSample) {
		t.Fatalf("stale sample must report ErrNoSample, got %v", err)
	}
	if _, err := l.Latest("unknown"); !errors.Is(err, ErrNoSample) {
		t.Fatalf("unknown user must report ErrNoSample, got %v", err)
	}
}

func TestReportedCurrentUsesTheOneSample(t *testing.T) {
	coord := models.Coordinate{Lat: -22.5609, Lng: 17.0658}
	r := &Reported{Sample: &coord}
	got, err := r.Current(context.Background())
	if err != nil || got != coord {
		t.Fatalf("expected the reported sample, got %v err=%v", got, err)
	}

	empty := &Reported{}
	if _, err := empty.Current(context.Background()); !errors.Is(err, ErrNoSample) {
		t.Fatalf("missing sample must report ErrNoSample, got %v", err)
	}

	bad := models.Coordinate{Lat: 123, Lng: 0}
	if _, err := (&Reported{Sample: &bad}).Current(context.Background()); err == nil {
		t.Fatal("out-of-range sample must be rejected")
	}
}

func TestReportedSilentReadsLog(t *testing.T) {
	l := NewSampleLog(time.Minute)
	r := &Reported{Log: l, UserID: "u1"}

	if _, err := r.CurrentSilent(context.Background()); !errors.Is(err, ErrNoSample) {
		t.Fatalf("empty log must report ErrNoSample, got %v", err)
	}
	l.Record("u1", models.Coordinate{Lat: 1, Lng: 2})
	got, err := r.CurrentSilent(context.Background())
	if err != nil || got.Lat != 1 {
		t.Fatalf("expected logged sample, got %v err=%v", got, err)
	}
}

func TestReportedCameraRejectsStoredPhotos(t *testing.T) {
	stored := &ReportedCamera{Photo: Photo{Ref: "gallery:x", LiveCapture: false}}
	if _, err := stored.Capture(context.Background()); !errors.Is(err, ErrNotLiveCapture) {
		t.Fatalf("expected live-capture rejection, got %v", err)
	}
	live := &ReportedCamera{Photo: Photo{Ref: "cam:y", CapturedAt: time.Now(), LiveCapture: true}}
	if _, err := live.Capture(context.Background()); err != nil {
		t.Fatalf("live capture must pass: %v", err)
	}
}
