package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/storage"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func candidate(userID, name string) models.ConnectionProfile {
	return models.ConnectionProfile{
		ID: "p-" + userID, UserID: userID, EventID: "e1",
		DisplayName: name, Age: 25, Bio: "hi",
		IsPublic: true, IsActive: true, CreatedAt: time.Now(),
	}
}

func newTestQueue(t *testing.T, store Store, quota int, cands ...models.ConnectionProfile) (*Queue, *checkin.Session) {
	t.Helper()
	session := checkin.NewSession("me", "e1")
	session.SetVisibility(models.VisibilityPublic)
	q := New(session, cands, store, testLogger, Options{Quota: quota})
	return q, session
}

func TestQuotaExhaustedRejectsRightSwipe(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 0, candidate("u2", "A"), candidate("u3", "B"))

	before, _ := q.Current()
	res, err := q.Swipe(context.Background(), models.SwipeRight)
	if err != nil {
		t.Fatal(err)
	}
	if !res.QuotaExhausted {
		t.Fatal("expected quota-exhausted")
	}
	after, _ := q.Current()
	if before.UserID != after.UserID {
		t.Fatal("cursor must not advance on a rejected swipe")
	}
	if swipes, _ := store.SwipesBy(context.Background(), "me", "e1"); len(swipes) != 0 {
		t.Fatal("no swipe may be recorded when quota rejects it")
	}

	// left swipes are unaffected by quota
	res, err = q.Swipe(context.Background(), models.SwipeLeft)
	if err != nil || res.QuotaExhausted {
		t.Fatalf("left swipe must ignore quota, got res=%+v err=%v", res, err)
	}
}

func TestQuotaCountdown(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 1, candidate("u2", "A"), candidate("u3", "B"))

	res, err := q.Swipe(context.Background(), models.SwipeRight)
	if err != nil || res.QuotaExhausted {
		t.Fatalf("first right swipe must succeed: res=%+v err=%v", res, err)
	}
	if q.RemainingQuota() != 0 {
		t.Fatalf("expected quota 0, got %d", q.RemainingQuota())
	}

	second, _ := q.Current()
	res, err = q.Swipe(context.Background(), models.SwipeRight)
	if err != nil {
		t.Fatal(err)
	}
	if !res.QuotaExhausted {
		t.Fatal("second right swipe must be rejected")
	}
	cur, ok := q.Current()
	if !ok || cur.UserID != second.UserID {
		t.Fatal("cursor must stay on the second candidate")
	}
}

func TestUnlimitedQuotaNeverRejects(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, Unlimited, candidate("u2", "A"), candidate("u3", "B"))

	for i := 0; i < 2; i++ {
		res, err := q.Swipe(context.Background(), models.SwipeRight)
		if err != nil || res.QuotaExhausted {
			t.Fatalf("premium swipe %d rejected: res=%+v err=%v", i, res, err)
		}
	}
	if q.RemainingQuota() != Unlimited {
		t.Fatalf("unlimited quota must not count down, got %d", q.RemainingQuota())
	}
}

func TestUndoRestoresPositionNotRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"), candidate("u3", "B"))

	before, _ := q.Current()
	if _, err := q.Swipe(context.Background(), models.SwipeRight); err != nil {
		t.Fatal(err)
	}
	if !q.Undo() {
		t.Fatal("expected undo to restore the cursor")
	}
	cur, ok := q.Current()
	if !ok || cur.UserID != before.UserID {
		t.Fatal("cursor must return to its pre-swipe value")
	}
	// the persisted decision stays
	swipes, _ := store.SwipesBy(context.Background(), "me", "e1")
	if len(swipes) != 1 || swipes[0].SwipedID != "u2" {
		t.Fatalf("swipe record must survive undo, got %v", swipes)
	}
}

func TestUndoOnEmptyHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))
	if q.Undo() {
		t.Fatal("undo with no history must be a no-op")
	}
}

func TestRevisitedCandidateNotReRecorded(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))

	ctx := context.Background()
	q.Swipe(ctx, models.SwipeRight)
	q.Undo()
	q.Swipe(ctx, models.SwipeRight)

	swipes, _ := store.SwipesBy(ctx, "me", "e1")
	if len(swipes) != 1 {
		t.Fatalf("repeat swipe on the same candidate must not duplicate, got %d", len(swipes))
	}
	if q.RemainingQuota() != 4 {
		t.Fatalf("quota must be charged once, got %d", q.RemainingQuota())
	}
}

func TestRevisitAtZeroQuotaStillPasses(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 1, candidate("u2", "A"), candidate("u3", "B"))

	ctx := context.Background()
	q.Swipe(ctx, models.SwipeRight) // spends the only credit
	q.Undo()

	res, err := q.Swipe(ctx, models.SwipeRight) // revisit, never recharged
	if err != nil {
		t.Fatal(err)
	}
	if res.QuotaExhausted {
		t.Fatal("an uncharged revisit must not be rejected at quota 0")
	}
	cur, ok := q.Current()
	if !ok || cur.UserID != "u3" {
		t.Fatal("cursor must advance past the revisited candidate")
	}
	if q.RemainingQuota() != 0 {
		t.Fatalf("quota must stay at 0, got %d", q.RemainingQuota())
	}
}

func TestReciprocalRightSwipeCreatesMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	// the candidate already right-swiped us
	_ = store.InsertSwipe(ctx, &models.Swipe{SwiperID: "u2", SwipedID: "me", EventID: "e1", Direction: models.SwipeRight, SwipedAt: time.Now()})

	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"), candidate("u3", "B"))
	res, err := q.Swipe(ctx, models.SwipeRight)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched || res.Match == nil {
		t.Fatal("expected a match on reciprocal right swipes")
	}
	if res.Match.OtherUserID != "u2" {
		t.Fatalf("expected match with u2, got %s", res.Match.OtherUserID)
	}
	if len(store.Matches()) != 1 {
		t.Fatalf("expected one match record, got %d", len(store.Matches()))
	}

	// no reciprocal swipe from u3
	res, err = q.Swipe(ctx, models.SwipeRight)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("no match without a reciprocal right swipe")
	}
}

func TestRacedMutualSwipeKeepsOneMatchRow(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_ = store.InsertSwipe(ctx, &models.Swipe{SwiperID: "u2", SwipedID: "me", EventID: "e1", Direction: models.SwipeRight, SwipedAt: time.Now()})
	// the other device already completed the mutual swipe
	_ = store.InsertMatch(ctx, &models.Match{ID: "m1", UserAID: "u2", UserBID: "me", EventID: "e1", CreatedAt: time.Now()})

	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))
	res, err := q.Swipe(ctx, models.SwipeRight)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Matched {
		t.Fatal("the race loser must still report the match")
	}
	if len(store.Matches()) != 1 {
		t.Fatalf("expected a single match row, got %d", len(store.Matches()))
	}
}

func TestLeftSwipeNeverMatches(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_ = store.InsertSwipe(ctx, &models.Swipe{SwiperID: "u2", SwipedID: "me", EventID: "e1", Direction: models.SwipeRight, SwipedAt: time.Now()})

	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))
	res, err := q.Swipe(ctx, models.SwipeLeft)
	if err != nil {
		t.Fatal(err)
	}
	if res.Matched {
		t.Fatal("a left swipe must never create a match")
	}
}

func TestDemoModeProbabilities(t *testing.T) {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	session := checkin.NewSession("me", "e1")
	always := New(session, []models.ConnectionProfile{candidate("u2", "A")}, store, testLogger,
		Options{Quota: 5, DemoMode: true, DemoProbability: 1.0})
	res, err := always.Swipe(ctx, models.SwipeRight)
	if err != nil || !res.Matched {
		t.Fatalf("demo probability 1.0 must always match, got res=%+v err=%v", res, err)
	}

	store2 := storage.NewMemoryStore()
	session2 := checkin.NewSession("me", "e1")
	never := New(session2, []models.ConnectionProfile{candidate("u2", "A")}, store2, testLogger,
		Options{Quota: 5, DemoMode: true, DemoProbability: 0.0000001})
	// not exactly zero since the constructor treats <=0 as unset
	matched := 0
	if res, _ := never.Swipe(ctx, models.SwipeRight); res.Matched {
		matched++
	}
	if matched != 0 {
		t.Fatal("demo probability ~0 should essentially never match")
	}
}

func TestAppendExtendsPastCursorOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"), candidate("u3", "B"))

	ctx := context.Background()
	q.Swipe(ctx, models.SwipeLeft)
	cur, _ := q.Current()

	q.Append(candidate("u4", "C"))
	after, _ := q.Current()
	if cur.UserID != after.UserID {
		t.Fatal("a realtime arrival must not disturb the cursor")
	}
	if q.Remaining() != 2 {
		t.Fatalf("expected 2 candidates remaining, got %d", q.Remaining())
	}

	// undo indices recorded before the append stay valid
	if !q.Undo() {
		t.Fatal("expected undo to work after append")
	}
	back, _ := q.Current()
	if back.UserID != "u2" {
		t.Fatalf("expected cursor back on u2, got %s", back.UserID)
	}
}

func TestAppendFiltersSelfDuplicatesAndInactive(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))

	q.Append(candidate("me", "Self"))
	q.Append(candidate("u2", "A"))
	inactive := candidate("u5", "E")
	inactive.IsActive = false
	q.Append(inactive)

	if q.Remaining() != 1 {
		t.Fatalf("expected filtered appends, remaining=%d", q.Remaining())
	}
}

func TestQueueExhaustionIsTerminalNotError(t *testing.T) {
	store := storage.NewMemoryStore()
	q, _ := newTestQueue(t, store, 5, candidate("u2", "A"))

	ctx := context.Background()
	q.Swipe(ctx, models.SwipeLeft)
	res, err := q.Swipe(ctx, models.SwipeLeft)
	if err != nil {
		t.Fatalf("exhaustion is not an error: %v", err)
	}
	if !res.Exhausted {
		t.Fatal("expected exhausted result")
	}
}

func TestEndedSessionBlocksSwipes(t *testing.T) {
	store := storage.NewMemoryStore()
	q, session := newTestQueue(t, store, 5, candidate("u2", "A"))
	session.End("event ended")

	if _, err := q.Swipe(context.Background(), models.SwipeRight); err != ErrSessionEnded {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

type countingNotifier struct{ calls []string }

func (c *countingNotifier) NotifyMatch(userID string, ev models.MatchEvent) error {
	c.calls = append(c.calls, userID)
	return nil
}

func TestMatchNotifiesBothParties(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_ = store.InsertSwipe(ctx, &models.Swipe{SwiperID: "u2", SwipedID: "me", EventID: "e1", Direction: models.SwipeRight, SwipedAt: time.Now()})

	session := checkin.NewSession("me", "e1")
	n := &countingNotifier{}
	q := New(session, []models.ConnectionProfile{candidate("u2", "A")}, store, testLogger, Options{Quota: 5}).WithNotifier(n)

	if res, _ := q.Swipe(ctx, models.SwipeRight); !res.Matched {
		t.Fatal("expected a match")
	}
	if len(n.calls) != 2 {
		t.Fatalf("expected both parties notified, got %v", n.calls)
	}
}
