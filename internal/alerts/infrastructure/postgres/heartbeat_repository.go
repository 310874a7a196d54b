package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// HeartbeatRepository is a Postgres store for liveness signals.
type HeartbeatRepository struct {
	db *sql.DB
}

// NewHeartbeatRepository constructs a repository.
func NewHeartbeatRepository(db *sql.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// Record stores one heartbeat.
func (r *HeartbeatRepository) Record(ctx context.Context, record alerts.HeartbeatRecord) error {
	if r == nil || r.db == nil {
		return errors.New("heartbeat repo: nil db")
	}
	if record.UserID == "" {
		return errors.New("heartbeat repo: empty user id")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO heartbeats (user_id, recorded_at)
VALUES ($1, $2)`, record.UserID, record.Timestamp.UTC())
	return err
}

// Latest returns the most recent heartbeat, or nil when the subject has
// never sent one.
func (r *HeartbeatRepository) Latest(ctx context.Context, userID string) (*alerts.HeartbeatRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("heartbeat repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("heartbeat repo: empty user id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT user_id, recorded_at
FROM heartbeats
WHERE user_id = $1
ORDER BY recorded_at DESC
LIMIT 1`, userID)
	var record alerts.HeartbeatRecord
	if err := row.Scan(&record.UserID, &record.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.Timestamp = record.Timestamp.UTC()
	return &record, nil
}
