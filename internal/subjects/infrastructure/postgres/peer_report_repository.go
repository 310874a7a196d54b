package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	subjects "lifewatch-cloud/internal/subjects/domain"
)

// PeerReportRepository is a Postgres store for wellbeing reports filed
// by contacts and peers.
type PeerReportRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPeerReportRepository constructs a repository.
func NewPeerReportRepository(db *sql.DB) *PeerReportRepository {
	return &PeerReportRepository{db: db, clock: func() time.Time { return time.Now().UTC() }}
}

// Record stores one peer report.
func (r *PeerReportRepository) Record(ctx context.Context, report subjects.PeerReport) error {
	if r == nil || r.db == nil {
		return errors.New("peer report repo: nil db")
	}
	if report.ID == "" || report.UserID == "" {
		return errors.New("peer report repo: incomplete report")
	}
	if report.ReportedAt.IsZero() {
		report.ReportedAt = r.clock()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO peer_reports (id, user_id, reporter_id, concerned, note, reported_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		report.ID, report.UserID, report.ReporterID, report.Concerned, report.Note, report.ReportedAt.UTC())
	return err
}

// RecentReport returns the newest report inside the lookback window,
// or nil when none exists.
func (r *PeerReportRepository) RecentReport(ctx context.Context, userID string, lookback time.Duration) (*subjects.PeerReport, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("peer report repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("peer report repo: empty user id")
	}
	cutoff := r.clock().Add(-lookback)
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, reporter_id, concerned, note, reported_at
FROM peer_reports
WHERE user_id = $1 AND reported_at >= $2
ORDER BY reported_at DESC
LIMIT 1`, userID, cutoff)
	var report subjects.PeerReport
	var note sql.NullString
	if err := row.Scan(&report.ID, &report.UserID, &report.ReporterID, &report.Concerned, &note, &report.ReportedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	report.Note = note.String
	report.ReportedAt = report.ReportedAt.UTC()
	return &report, nil
}
