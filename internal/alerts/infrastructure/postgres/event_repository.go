package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// AlertEventRepository is a Postgres log of fired alerts. The in-memory
// history drives suppression; this log backs the API and exports.
type AlertEventRepository struct {
	db *sql.DB
}

// NewAlertEventRepository constructs a repository.
func NewAlertEventRepository(db *sql.DB) *AlertEventRepository {
	return &AlertEventRepository{db: db}
}

// Record appends one fired alert.
func (r *AlertEventRepository) Record(ctx context.Context, event alerts.AlertEvent) error {
	if r == nil || r.db == nil {
		return errors.New("alert event repo: nil db")
	}
	if event.ID == "" || event.UserID == "" {
		return errors.New("alert event repo: incomplete event")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_events (id, user_id, level, minutes_silent, computed_at)
VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.UserID, event.Level.String(), event.MinutesSilent, event.ComputedAt.UTC())
	return err
}

// ListRecent returns a subject's alerts since the given time, newest
// first.
func (r *AlertEventRepository) ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]alerts.AlertEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert event repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("alert event repo: empty user id")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, level, minutes_silent, computed_at
FROM alert_events
WHERE user_id = $1 AND computed_at >= $2
ORDER BY computed_at DESC
LIMIT $3`, userID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListSince returns alerts across all subjects since the given time,
// newest first. Used by the history export.
func (r *AlertEventRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]alerts.AlertEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert event repo: nil db")
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, level, minutes_silent, computed_at
FROM alert_events
WHERE computed_at >= $1
ORDER BY computed_at DESC
LIMIT $2`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]alerts.AlertEvent, error) {
	var result []alerts.AlertEvent
	for rows.Next() {
		var event alerts.AlertEvent
		var level string
		if err := rows.Scan(&event.ID, &event.UserID, &level, &event.MinutesSilent, &event.ComputedAt); err != nil {
			return nil, err
		}
		parsed, err := alerts.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		event.Level = parsed
		event.ComputedAt = event.ComputedAt.UTC()
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
