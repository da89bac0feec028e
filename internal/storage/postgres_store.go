package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/event-checkin/internal/models"
)

const pqUniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func mapInsertErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) EventByID(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	var endedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, lat, lng, geofence_radius_m, is_active, ended_at FROM events WHERE id=$1`, id).
		Scan(&e.ID, &e.Name, &e.Coordinate.Lat, &e.Coordinate.Lng, &e.GeofenceRadiusMeters, &e.IsActive, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		e.EndedAt = &t
	}
	return &e, nil
}

func (p *PostgresStore) ResolveEntryToken(ctx context.Context, token string) (string, error) {
	var eventID string
	err := p.db.QueryRowContext(ctx,
		`SELECT event_id FROM entry_tokens WHERE token=$1 AND expires_at > now()`, token).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return eventID, nil
}

func (p *PostgresStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	var customer sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, tier, stripe_customer_id, quota_remaining FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Tier, &customer, &u.QuotaRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.StripeCustomerID = customer.String
	return &u, nil
}

func (p *PostgresStore) CheckInFor(ctx context.Context, userID, eventID string) (*models.CheckIn, error) {
	var c models.CheckIn
	var endedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, lat, lng, distance_m, within_geofence, visibility, verification_method, created_at, ended_at
		 FROM check_ins WHERE user_id=$1 AND event_id=$2`, userID, eventID).
		Scan(&c.ID, &c.EventID, &c.UserID, &c.Coordinate.Lat, &c.Coordinate.Lng, &c.DistanceMeters,
			&c.WithinGeofence, &c.Visibility, &c.VerificationMethod, &c.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}

func (p *PostgresStore) InsertCheckIn(ctx context.Context, c *models.CheckIn) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO check_ins(id, event_id, user_id, lat, lng, distance_m, within_geofence, visibility, verification_method, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.EventID, c.UserID, c.Coordinate.Lat, c.Coordinate.Lng, c.DistanceMeters,
		c.WithinGeofence, c.Visibility, c.VerificationMethod, c.CreatedAt)
	return mapInsertErr(err)
}

func (p *PostgresStore) EndCheckIn(ctx context.Context, userID, eventID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE check_ins SET ended_at=$1 WHERE user_id=$2 AND event_id=$3 AND ended_at IS NULL`,
		at, userID, eventID)
	return err
}

func (p *PostgresStore) InsertProfile(ctx context.Context, pr *models.ConnectionProfile) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO connection_profiles(id, user_id, event_id, display_name, age, bio, interests, photo_url, is_public, is_active, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		pr.ID, pr.UserID, pr.EventID, pr.DisplayName, pr.Age, pr.Bio, pq.Array(pr.Interests),
		pr.PhotoURL, pr.IsPublic, pr.IsActive, pr.CreatedAt)
	return mapInsertErr(err)
}

func (p *PostgresStore) DeactivateProfile(ctx context.Context, userID, eventID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE connection_profiles SET is_active=false WHERE user_id=$1 AND event_id=$2`, userID, eventID)
	return err
}

func (p *PostgresStore) ActiveProfiles(ctx context.Context, eventID, excludeUserID string) ([]models.ConnectionProfile, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, event_id, display_name, age, bio, interests, photo_url, is_public, is_active, created_at
		 FROM connection_profiles
		 WHERE event_id=$1 AND user_id <> $2 AND is_public AND is_active
		 ORDER BY created_at`, eventID, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ConnectionProfile
	for rows.Next() {
		var pr models.ConnectionProfile
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.EventID, &pr.DisplayName, &pr.Age, &pr.Bio,
			pq.Array(&pr.Interests), &pr.PhotoURL, &pr.IsPublic, &pr.IsActive, &pr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertSwipe(ctx context.Context, s *models.Swipe) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO swipes(swiper_id, swiped_id, event_id, direction, swiped_at)
		 VALUES($1,$2,$3,$4,$5)`,
		s.SwiperID, s.SwipedID, s.EventID, s.Direction, s.SwipedAt)
	return mapInsertErr(err)
}

func (p *PostgresStore) RightSwipeExists(ctx context.Context, swiperID, swipedID, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM swipes WHERE swiper_id=$1 AND swiped_id=$2 AND event_id=$3 AND direction='right')`,
		swiperID, swipedID, eventID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) SwipesBy(ctx context.Context, userID, eventID string) ([]models.Swipe, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT swiper_id, swiped_id, event_id, direction, swiped_at FROM swipes
		 WHERE swiper_id=$1 AND event_id=$2 ORDER BY swiped_at`, userID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Swipe
	for rows.Next() {
		var s models.Swipe
		if err := rows.Scan(&s.SwiperID, &s.SwipedID, &s.EventID, &s.Direction, &s.SwipedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO matches(id, user_a_id, user_b_id, event_id, created_at) VALUES($1,$2,$3,$4,$5)`,
		m.ID, m.UserAID, m.UserBID, m.EventID, m.CreatedAt)
	return mapInsertErr(err)
}
