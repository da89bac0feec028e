// Package queue is the swipe engine: an ordered candidate list for the
// active event with a cursor, an undo stack and a right-swipe quota.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/observability"
	"github.com/example/event-checkin/internal/storage"
)

// Unlimited marks the premium-tier quota.
const Unlimited = -1

var ErrSessionEnded = errors.New("session has ended")

// Store is the persistence slice the queue needs.
type Store interface {
	InsertSwipe(ctx context.Context, s *models.Swipe) error
	RightSwipeExists(ctx context.Context, swiperID, swipedID, eventID string) (bool, error)
	InsertMatch(ctx context.Context, m *models.Match) error
}

// Publisher mirrors swipe decisions onto the event stream so the
// reconciler can replay any that missed the store.
type Publisher interface {
	PublishSwipe(s models.Swipe) error
}

// Notifier pushes match events to both parties.
type Notifier interface {
	NotifyMatch(userID string, ev models.MatchEvent) error
}

type SwipeResult struct {
	// Exhausted means the cursor ran past the last candidate before the
	// swipe; a normal terminal display state, not an error.
	Exhausted bool
	// QuotaExhausted means a right swipe was rejected; no state changed.
	QuotaExhausted bool
	Matched        bool
	Match          *models.MatchEvent
	Candidate      *models.ConnectionProfile
}

type Options struct {
	// Quota is the remaining daily right-swipe allowance; Unlimited for
	// premium users.
	Quota int
	// DemoMode declares matches with DemoProbability instead of
	// checking for a reciprocal right swipe. Demo builds only.
	DemoMode        bool
	DemoProbability float64
}

type Queue struct {
	session *checkin.Session
	store   Store
	pub     Publisher // optional
	notify  Notifier  // optional
	logger  *slog.Logger
	opts    Options
	rng     *mathrand.Rand

	mu         sync.Mutex
	candidates []models.ConnectionProfile
	cursor     int
	undo       []int
	quota      int
	seen       map[string]bool // swiped candidate user ids, repeat-swipe guard
}

func New(session *checkin.Session, candidates []models.ConnectionProfile, store Store, logger *slog.Logger, opts Options) *Queue {
	if opts.DemoProbability <= 0 {
		opts.DemoProbability = 0.3
	}
	return &Queue{
		session:    session,
		store:      store,
		logger:     logger,
		opts:       opts,
		rng:        mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		candidates: candidates,
		quota:      opts.Quota,
		seen:       make(map[string]bool),
	}
}

func (q *Queue) WithPublisher(p Publisher) *Queue { q.pub = p; return q }
func (q *Queue) WithNotifier(n Notifier) *Queue   { q.notify = n; return q }

// Append adds a realtime candidate arrival. It only ever extends the
// list past the cursor, so positions and undo indices stay valid.
func (q *Queue) Append(p models.ConnectionProfile) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p.UserID == q.session.UserID || !p.IsPublic || !p.IsActive {
		return
	}
	for _, c := range q.candidates {
		if c.UserID == p.UserID {
			return
		}
	}
	q.candidates = append(q.candidates, p)
}

// Current returns the candidate under the cursor.
func (q *Queue) Current() (models.ConnectionProfile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cursor >= len(q.candidates) {
		return models.ConnectionProfile{}, false
	}
	return q.candidates[q.cursor], true
}

func (q *Queue) RemainingQuota() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.quota
}

// Remaining reports how many candidates are left from the cursor on.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.candidates) - q.cursor
	if n < 0 {
		return 0
	}
	return n
}

// Swipe resolves one decision on the current candidate. The persisted
// record is fire-and-forget: a write failure is logged as a
// reconciliation gap and the queue still advances.
func (q *Queue) Swipe(ctx context.Context, dir models.Direction) (SwipeResult, error) {
	if ended, _ := q.session.Ended(); ended {
		return SwipeResult{}, ErrSessionEnded
	}

	q.mu.Lock()
	if q.cursor >= len(q.candidates) {
		q.mu.Unlock()
		return SwipeResult{Exhausted: true}, nil
	}
	cand := q.candidates[q.cursor]
	repeat := q.seen[cand.UserID]
	// Revisits after undo are never charged, so quota only gates a
	// first-time right swipe.
	if dir == models.SwipeRight && !repeat && q.quota != Unlimited && q.quota <= 0 {
		q.mu.Unlock()
		return SwipeResult{QuotaExhausted: true}, nil
	}
	q.seen[cand.UserID] = true
	q.undo = append(q.undo, q.cursor)
	q.cursor++
	if dir == models.SwipeRight && !repeat && q.quota != Unlimited {
		q.quota--
	}
	q.mu.Unlock()

	observability.SwipesTotal.WithLabelValues(string(dir)).Inc()
	res := SwipeResult{Candidate: &cand}

	// A revisited candidate after undo keeps its original recorded
	// decision; nothing new is written.
	if !repeat {
		q.record(ctx, cand, dir)
	}

	if dir == models.SwipeRight && !repeat {
		if ev := q.resolveMatch(ctx, cand); ev != nil {
			res.Matched = true
			res.Match = ev
		}
	}
	return res, nil
}

func (q *Queue) record(ctx context.Context, cand models.ConnectionProfile, dir models.Direction) {
	s := models.Swipe{
		SwiperID:  q.session.UserID,
		SwipedID:  cand.UserID,
		EventID:   q.session.EventID,
		Direction: dir,
		SwipedAt:  time.Now(),
	}
	if err := q.store.InsertSwipe(ctx, &s); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Guarded above via seen; a duplicate here means another
			// device raced us. The record is append-only either way.
			q.logger.Warn("repeat swipe suppressed", "swiped_id", cand.UserID, "event_id", s.EventID)
		} else {
			observability.SwipeRecordFailures.Inc()
			q.logger.Warn("swipe record failed, reconciliation gap",
				"swiped_id", cand.UserID, "event_id", s.EventID, "error", err)
		}
	}
	if q.pub != nil {
		if err := q.pub.PublishSwipe(s); err != nil {
			q.logger.Warn("swipe publish failed", "swiped_id", cand.UserID, "error", err)
		}
	}
}

// resolveMatch creates a Match only when the candidate already
// right-swiped us, unless demo mode fakes the outcome.
func (q *Queue) resolveMatch(ctx context.Context, cand models.ConnectionProfile) *models.MatchEvent {
	if q.opts.DemoMode {
		if q.rng.Float64() >= q.opts.DemoProbability {
			return nil
		}
		return q.createMatch(ctx, cand)
	}

	mutual, err := q.store.RightSwipeExists(ctx, cand.UserID, q.session.UserID, q.session.EventID)
	if err != nil {
		q.logger.Warn("reciprocal swipe lookup failed", "swiped_id", cand.UserID, "error", err)
		return nil
	}
	if !mutual {
		return nil
	}
	return q.createMatch(ctx, cand)
}

func (q *Queue) createMatch(ctx context.Context, cand models.ConnectionProfile) *models.MatchEvent {
	m := &models.Match{
		ID:        newID(),
		UserAID:   q.session.UserID,
		UserBID:   cand.UserID,
		EventID:   q.session.EventID,
		CreatedAt: time.Now(),
	}
	if err := q.store.InsertMatch(ctx, m); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// The other device finished the mutual swipe first; its insert
			// won and already announced the match to both parties.
			return &models.MatchEvent{EventID: m.EventID, OtherUserID: cand.UserID, OtherDisplayName: cand.DisplayName}
		}
		q.logger.Warn("match write failed", "other_user", cand.UserID, "error", err)
		return nil
	}
	observability.MatchesTotal.Inc()
	ev := &models.MatchEvent{MatchID: m.ID, EventID: m.EventID, OtherUserID: cand.UserID, OtherDisplayName: cand.DisplayName}
	if q.notify != nil {
		_ = q.notify.NotifyMatch(q.session.UserID, *ev)
		_ = q.notify.NotifyMatch(cand.UserID, models.MatchEvent{
			MatchID: m.ID, EventID: m.EventID, OtherUserID: q.session.UserID,
		})
	}
	return ev
}

// Undo restores the previous cursor position. The recorded swipe stays:
// undo affects queue position only, never the persisted decision.
func (q *Queue) Undo() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.undo) == 0 {
		return false
	}
	q.cursor = q.undo[len(q.undo)-1]
	q.undo = q.undo[:len(q.undo)-1]
	return true
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
