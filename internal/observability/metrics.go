package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "checkins_total", Help: "Check-in attempts by outcome"},
		[]string{"outcome"},
	)
	SwipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "swipes_total", Help: "Swipes by direction"},
		[]string{"direction"},
	)
	MatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "matches_total", Help: "Total matches created"},
	)
	SessionsEndedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "sessions_ended_total", Help: "Sessions ended by reason"},
		[]string{"reason"},
	)
	SwipeRecordFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "swipe_record_failures_total", Help: "Swipe records that failed to persist (reconciliation gap)"},
	)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: "event_checkin", Name: "active_sessions", Help: "Live check-in sessions"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "event_checkin", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "event_checkin",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
