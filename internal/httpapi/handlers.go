package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/event-checkin/internal/billing"
	"github.com/example/event-checkin/internal/checkin"
	"github.com/example/event-checkin/internal/config"
	"github.com/example/event-checkin/internal/dispatch"
	"github.com/example/event-checkin/internal/feed"
	"github.com/example/event-checkin/internal/ingest"
	"github.com/example/event-checkin/internal/logging"
	"github.com/example/event-checkin/internal/models"
	"github.com/example/event-checkin/internal/monitor"
	"github.com/example/event-checkin/internal/platform"
	"github.com/example/event-checkin/internal/queue"
	"github.com/example/event-checkin/internal/storage"
)

type Server struct {
	cfg       config.ServerConfig
	store     storage.Store
	events    checkin.EventReader
	feed      feed.CandidateFeed
	producer  queue.Publisher
	tiers     billing.TierResolver
	wsreg     *dispatch.WSRegistry
	notifier  dispatch.Notifier
	locations *platform.SampleLog
	sessions  *sessionRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

// NewServer wires the API from config with sensible fallbacks: memory
// store without PG_DSN, no realtime feed without REDIS_ADDR, no swipe
// stream without KAFKA_BROKERS.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var cfeed feed.CandidateFeed = feed.NopFeed{}
	if cfg.RedisAddr != "" {
		cfeed = feed.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword, logger)
	}

	var producer queue.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewSwipeProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var tiers billing.TierResolver = billing.StaticResolver(false)
	if os.Getenv("STRIPE_API_KEY") != "" {
		tiers = billing.NewStripeClient()
	}

	wsreg := dispatch.NewWSRegistry(logger)
	var fallback dispatch.Notifier = &dispatch.LogNotifier{Logger: logger}
	if cfg.FCMEndpoint != "" {
		fallback = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		events:    storage.NewEventCache(store, cfg.EventCacheTTL),
		feed:      cfeed,
		producer:  producer,
		tiers:     tiers,
		wsreg:     wsreg,
		notifier:  dispatch.NewPushDispatcher(wsreg, fallback),
		locations: platform.NewSampleLog(cfg.SampleMaxAge),
		sessions:  newSessionRegistry(),
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// Store exposes the backing store for migrations and seeding.
func (s *Server) Store() storage.Store { return s.store }

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events/{event_id}/checkin", s.handleCheckIn).Methods("POST")
	api.HandleFunc("/events/{event_id}/visibility", s.handleVisibility).Methods("POST")
	api.HandleFunc("/events/{event_id}/profile", s.handleProfile).Methods("POST")
	api.HandleFunc("/events/{event_id}/session", s.handleSessionState).Methods("GET")
	api.HandleFunc("/events/{event_id}/session", s.handleSessionClose).Methods("DELETE")
	api.HandleFunc("/events/{event_id}/swipes", s.handleSwipe).Methods("POST")
	api.HandleFunc("/events/{event_id}/undo", s.handleUndo).Methods("POST")
	api.HandleFunc("/events/{event_id}/quota", s.handleQuota).Methods("GET")
	api.HandleFunc("/location", s.handleLocationPing).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func userID(r *http.Request) string { return r.Header.Get("X-User-ID") }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type checkInRequest struct {
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
	Token string   `json:"token,omitempty"`
}

type outcomeResponse struct {
	State                State            `json:"state"`
	DistanceMeters       *float64         `json:"distance_meters,omitempty"`
	RequiredRadiusMeters *float64         `json:"required_radius_meters,omitempty"`
	Warning              string           `json:"warning,omitempty"`
	Error                string           `json:"error,omitempty"`
	CheckIn              *models.CheckIn  `json:"check_in,omitempty"`
	Quota                *int             `json:"quota_remaining,omitempty"`
}

// State aliases checkin.State for response typing.
type State = checkin.State

func toResponse(out checkin.Outcome) outcomeResponse {
	resp := outcomeResponse{State: out.State, Warning: out.Warning, CheckIn: out.CheckIn}
	if out.GeofenceMiss != nil {
		d := out.GeofenceMiss.DistanceMeters
		rr := out.GeofenceMiss.RequiredRadiusMeters
		resp.DistanceMeters = &d
		resp.RequiredRadiusMeters = &rr
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	eventID := mux.Vars(r)["event_id"]

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := s.sessions.getOrCreate(uid, eventID, func() *activeSession {
		loc := &platform.Reported{Log: s.locations, UserID: uid}
		cam := &platform.ReportedCamera{}
		flow := checkin.New(uid, checkin.Deps{
			Store:    s.store,
			Events:   s.events,
			Location: loc,
			Camera:   cam,
			Feed:     s.feed,
			Logger:   logging.ForComponent(s.logger, "checkin"),
		}, checkin.Options{
			LocationTimeout: s.cfg.LocationTimeout,
			DefaultRadiusM:  s.cfg.DefaultGeofenceRadiusM,
		})
		return &activeSession{flow: flow, loc: loc, cam: cam}
	})

	var sample *models.Coordinate
	if req.Lat != nil && req.Lng != nil {
		sample = &models.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		s.locations.Record(uid, *sample)
	}
	sess.loc.Sample = sample

	var out checkin.Outcome
	if req.Token != "" {
		out = sess.flow.AttemptCheckInWithToken(r.Context(), req.Token)
	} else {
		out = sess.flow.AttemptCheckIn(r.Context(), eventID)
	}

	// An earlier public check-in resumes straight into matching.
	if out.State == checkin.StateAlreadyCheckedIn && out.CheckIn != nil &&
		out.CheckIn.Visibility == models.VisibilityPublic && out.CheckIn.EndedAt == nil {
		s.activateMatching(uid, eventID, sess)
	}
	writeJSON(w, http.StatusOK, toResponse(out))
}

type visibilityRequest struct {
	Mode models.Visibility `json:"mode"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok {
		http.Error(w, "no active check-in attempt", http.StatusNotFound)
		return
	}
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := sess.flow.ChooseVisibility(r.Context(), req.Mode)
	writeJSON(w, http.StatusOK, toResponse(out))
}

type profileRequest struct {
	DisplayName     string    `json:"display_name"`
	Age             int       `json:"age"`
	Bio             string    `json:"bio"`
	Interests       []string  `json:"interests"`
	PhotoRef        string    `json:"photo_ref"`
	PhotoCapturedAt time.Time `json:"photo_captured_at"`
	LiveCapture     bool      `json:"live_capture"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok {
		http.Error(w, "no active check-in attempt", http.StatusNotFound)
		return
	}
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess.cam.Photo = platform.Photo{Ref: req.PhotoRef, CapturedAt: req.PhotoCapturedAt, LiveCapture: req.LiveCapture}

	out := sess.flow.SubmitProfile(r.Context(), checkin.ProfileInput{
		DisplayName: req.DisplayName,
		Age:         req.Age,
		Bio:         req.Bio,
		Interests:   req.Interests,
	})
	if out.State == checkin.StateSuccess || out.State == checkin.StateAlreadyCheckedIn {
		s.activateMatching(uid, eventID, sess)
	}
	resp := toResponse(out)
	if sess.queue != nil {
		qr := sess.queue.RemainingQuota()
		resp.Quota = &qr
	}
	writeJSON(w, http.StatusOK, resp)
}

// activateMatching builds the candidate queue and starts the session
// monitor for a public check-in. Idempotent per session.
func (s *Server) activateMatching(uid, eventID string, sess *activeSession) {
	if sess.queue != nil {
		return
	}
	session := sess.flow.Session()
	if session == nil || session.Visibility() != models.VisibilityPublic {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	candidates, err := s.store.ActiveProfiles(ctx, eventID, uid)
	if err != nil {
		s.logger.Error("candidate load failed", "event_id", eventID, "error", err)
		candidates = nil
	}

	q := queue.New(session, candidates, s.store, logging.ForComponent(s.logger, "queue"), queue.Options{
		Quota:           s.resolveQuota(ctx, uid),
		DemoMode:        s.cfg.DemoMatchMode,
		DemoProbability: s.cfg.DemoMatchProbability,
	}).WithNotifier(s.notifier)
	if s.producer != nil {
		q = q.WithPublisher(s.producer)
	}
	sess.queue = q

	s.feed.Subscribe(ctx, eventID, q.Append)

	event, err := s.store.EventByID(ctx, eventID)
	if err != nil {
		s.logger.Error("monitor skipped, event lookup failed", "event_id", eventID, "error", err)
		return
	}
	venue := event.Venue()
	if venue.GeofenceRadiusMeters <= 0 {
		venue.GeofenceRadiusMeters = s.cfg.DefaultGeofenceRadiusM
	}
	mon := monitor.New(session, venue, s.store, sess.loc, logging.ForComponent(s.logger, "monitor")).
		WithInterval(s.cfg.MonitorInterval).
		WithRecorder(s.store).
		WithEnder(func(userID, eventID, reason string) {
			_ = s.wsreg.NotifySessionEnded(userID, eventID, reason)
		})
	go mon.Run(ctx)
}

// resolveQuota maps the user record and billing tier onto a right-swipe
// allowance. Premium is unlimited; anything unknown gets the free default.
func (s *Server) resolveQuota(ctx context.Context, uid string) int {
	user, err := s.store.UserByID(ctx, uid)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("user lookup failed, using free quota", "user_id", uid, "error", err)
		}
		return s.cfg.FreeDailyQuota
	}
	if user.Tier == models.TierPremium {
		return queue.Unlimited
	}
	if user.StripeCustomerID != "" {
		if premium, err := s.tiers.Premium(ctx, user.StripeCustomerID); err == nil && premium {
			return queue.Unlimited
		}
	}
	return user.QuotaRemaining
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok {
		writeJSON(w, http.StatusOK, checkin.SessionState{Status: checkin.StateIdle})
		return
	}
	st := sess.flow.CurrentState()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	if !s.sessions.close(uid, eventID) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info("session closed", "user_id", uid, "event_id", eventID)
	w.WriteHeader(http.StatusNoContent)
}

type swipeRequest struct {
	Direction models.Direction `json:"direction"`
}

type swipeResponse struct {
	Matched        bool               `json:"matched"`
	Match          *models.MatchEvent `json:"match,omitempty"`
	QuotaExhausted bool               `json:"quota_exhausted"`
	Exhausted      bool               `json:"exhausted"`
	QuotaRemaining int                `json:"quota_remaining"`
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok || sess.queue == nil {
		http.Error(w, "no active matching session", http.StatusNotFound)
		return
	}
	var req swipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Direction != models.SwipeLeft && req.Direction != models.SwipeRight {
		http.Error(w, "direction must be left or right", http.StatusBadRequest)
		return
	}
	res, err := sess.queue.Swipe(r.Context(), req.Direction)
	if err != nil {
		if errors.Is(err, queue.ErrSessionEnded) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, swipeResponse{
		Matched:        res.Matched,
		Match:          res.Match,
		QuotaExhausted: res.QuotaExhausted,
		Exhausted:      res.Exhausted,
		QuotaRemaining: sess.queue.RemainingQuota(),
	})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok || sess.queue == nil {
		http.Error(w, "no active matching session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restored": sess.queue.Undo()})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	eventID := mux.Vars(r)["event_id"]
	sess, ok := s.sessions.get(uid, eventID)
	if !ok || sess.queue == nil {
		http.Error(w, "no active matching session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"quota_remaining": sess.queue.RemainingQuota()})
}

type locationPing struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// handleLocationPing stores the client's latest position so background
// session checks can read it without ever prompting.
func (s *Server) handleLocationPing(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	var p locationPing
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := models.Coordinate{Lat: p.Lat, Lng: p.Lng}
	if !c.Valid() {
		http.Error(w, "coordinate out of range", http.StatusBadRequest)
		return
	}
	s.locations.Record(uid, c)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(id, conn)

	// Read pump: inbound frames are discarded, but the read surfaces the
	// close so the registry does not hold dead connections.
	go func() {
		defer s.wsreg.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
