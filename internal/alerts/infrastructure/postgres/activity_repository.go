package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ActivityRepository is a Postgres store for app-interaction signals.
// Any interaction counts, heartbeats do not pass through here.
type ActivityRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewActivityRepository constructs a repository.
func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db, clock: func() time.Time { return time.Now().UTC() }}
}

// Record stores one activity observation.
func (r *ActivityRepository) Record(ctx context.Context, userID, kind string, observedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("activity repo: nil db")
	}
	if userID == "" {
		return errors.New("activity repo: empty user id")
	}
	if observedAt.IsZero() {
		observedAt = r.clock()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO activity_events (user_id, kind, observed_at)
VALUES ($1, $2, $3)`, userID, kind, observedAt.UTC())
	return err
}

// HasRecentActivity reports whether any activity landed inside the
// window ending now.
func (r *ActivityRepository) HasRecentActivity(ctx context.Context, userID string, within time.Duration) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("activity repo: nil db")
	}
	if userID == "" {
		return false, errors.New("activity repo: empty user id")
	}
	cutoff := r.clock().Add(-within)
	row := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM activity_events
	WHERE user_id = $1 AND observed_at > $2
)`, userID, cutoff)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
