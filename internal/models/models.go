package models

import "time"

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Venue is the geofenced location of an event. Immutable for the
// lifetime of a check-in attempt.
type Venue struct {
	EventID              string     `json:"event_id"`
	Coordinate           Coordinate `json:"coordinate"`
	GeofenceRadiusMeters float64    `json:"geofence_radius_meters"` // operator-configured, > 0
}

type Event struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Coordinate           Coordinate `json:"coordinate"`
	GeofenceRadiusMeters float64    `json:"geofence_radius_meters"`
	IsActive             bool       `json:"is_active"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
}

func (e *Event) Venue() Venue {
	return Venue{EventID: e.ID, Coordinate: e.Coordinate, GeofenceRadiusMeters: e.GeofenceRadiusMeters}
}

// Ended reports whether the event is over or has been deactivated.
func (e *Event) Ended(now time.Time) bool {
	if !e.IsActive {
		return true
	}
	return e.EndedAt != nil && !e.EndedAt.After(now)
}

// GeofenceResult is produced once per location sample and never
// persisted directly; only the derived boolean and distance end up on
// the check-in record.
type GeofenceResult struct {
	WithinRadius   bool       `json:"within_radius"`
	DistanceMeters float64    `json:"distance_meters"`
	SampledAt      time.Time  `json:"sampled_at"`
	Coordinate     Coordinate `json:"coordinate"`
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type CheckIn struct {
	ID                 string     `json:"id"`
	EventID            string     `json:"event_id"`
	UserID             string     `json:"user_id"`
	Coordinate         Coordinate `json:"coordinate"`
	DistanceMeters     float64    `json:"distance_meters"`
	WithinGeofence     bool       `json:"within_geofence"`
	Visibility         Visibility `json:"visibility"`
	VerificationMethod string     `json:"verification_method"` // gps or qr
	CreatedAt          time.Time  `json:"created_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

// ConnectionProfile is the per-event matching card created for public
// check-ins. One per (user, event).
type ConnectionProfile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	EventID     string    `json:"event_id"`
	DisplayName string    `json:"display_name"`
	Age         int       `json:"age"`
	Bio         string    `json:"bio"`
	Interests   []string  `json:"interests"`
	PhotoURL    string    `json:"photo_url"`
	IsPublic    bool      `json:"is_public"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Direction string

const (
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
)

// Swipe is append-only; at most one per (swiper, swiped, event).
type Swipe struct {
	SwiperID  string    `json:"swiper_id"`
	SwipedID  string    `json:"swiped_id"`
	EventID   string    `json:"event_id"`
	Direction Direction `json:"direction"`
	SwipedAt  time.Time `json:"swiped_at"`
}

type Match struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchEvent is pushed to a connected client when a match is created.
type MatchEvent struct {
	MatchID          string `json:"match_id"`
	EventID          string `json:"event_id"`
	OtherUserID      string `json:"other_user_id"`
	OtherDisplayName string `json:"other_display_name"`
}

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

type User struct {
	ID               string `json:"id"`
	Tier             Tier   `json:"tier"`
	StripeCustomerID string `json:"stripe_customer_id,omitempty"`
	// QuotaRemaining is the daily right-swipe allowance left on the
	// user record. The rolling 24h refill happens upstream.
	QuotaRemaining int `json:"quota_remaining"`
}
