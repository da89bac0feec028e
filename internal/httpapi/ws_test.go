package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/dispatch"
	"github.com/example/event-checkin/internal/models"
)

func TestWSDisconnectEvictsRegistry(t *testing.T) {
	s := NewServer(config.ServerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}

	// registration completes just after the handshake; poll until the
	// registry can deliver
	waitFor(t, "registration", func() bool {
		return s.wsreg.NotifyMatch("u1", models.MatchEvent{MatchID: "m1"}) == nil
	})

	conn.Close()

	// the read pump must notice the close and evict the session
	waitFor(t, "eviction", func() bool {
		err := s.wsreg.NotifyMatch("u1", models.MatchEvent{MatchID: "m2"})
		return errors.Is(err, dispatch.ErrNoSession)
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
