package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"lifewatch-cloud/internal/confirmation"
)

// ConfirmationRepository is a Postgres log of resolved confirmation
// rounds.
type ConfirmationRepository struct {
	db *sql.DB
}

// NewConfirmationRepository constructs a repository.
func NewConfirmationRepository(db *sql.DB) *ConfirmationRepository {
	return &ConfirmationRepository{db: db}
}

// Record stores one resolved round. Responses are kept as JSON.
func (r *ConfirmationRepository) Record(ctx context.Context, request confirmation.Request) error {
	if r == nil || r.db == nil {
		return errors.New("confirmation repo: nil db")
	}
	if request.ID == "" || request.UserID == "" {
		return errors.New("confirmation repo: incomplete request")
	}
	responses, err := json.Marshal(request.Responses)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO confirmation_rounds (
	id, user_id, minutes_silent, state, contacts_asked, responses,
	created_at, expires_at, resolved_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		request.ID, request.UserID, request.MinutesSilent, request.State.String(),
		len(request.ContactIDs), responses,
		request.CreatedAt.UTC(), request.ExpiresAt.UTC(), nullableTime(request.ResolvedAt))
	return err
}

// EmergencyReportRepository is a Postgres log of filed emergency
// reports.
type EmergencyReportRepository struct {
	db *sql.DB
}

// NewEmergencyReportRepository constructs a repository.
func NewEmergencyReportRepository(db *sql.DB) *EmergencyReportRepository {
	return &EmergencyReportRepository{db: db}
}

// Record stores one filed report.
func (r *EmergencyReportRepository) Record(ctx context.Context, report confirmation.EmergencyReport) error {
	if r == nil || r.db == nil {
		return errors.New("report repo: nil db")
	}
	if report.ID == "" || report.UserID == "" {
		return errors.New("report repo: incomplete report")
	}
	contacts, err := json.Marshal(report.EmergencyContacts)
	if err != nil {
		return err
	}
	reportedBy, err := json.Marshal(report.ReportedBy)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO emergency_reports (
	id, request_id, user_id, subject_name, address, phone,
	medical_notes, minutes_silent, emergency_contacts, reported_by, filed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		report.ID, report.RequestID, report.UserID, report.SubjectName, report.Address,
		report.Phone, report.MedicalNotes, report.MinutesSilent, contacts, reportedBy,
		report.FiledAt.UTC())
	return err
}

// Latest returns the newest filed report for a subject, or nil.
func (r *EmergencyReportRepository) Latest(ctx context.Context, userID string) (*confirmation.EmergencyReport, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("report repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("report repo: empty user id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, request_id, user_id, subject_name, address, phone,
	medical_notes, minutes_silent, emergency_contacts, reported_by, filed_at
FROM emergency_reports
WHERE user_id = $1
ORDER BY filed_at DESC
LIMIT 1`, userID)
	var report confirmation.EmergencyReport
	var requestID, address, phone, medical sql.NullString
	var contacts, reportedBy []byte
	if err := row.Scan(&report.ID, &requestID, &report.UserID, &report.SubjectName, &address,
		&phone, &medical, &report.MinutesSilent, &contacts, &reportedBy, &report.FiledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	report.RequestID = requestID.String
	report.Address = address.String
	report.Phone = phone.String
	report.MedicalNotes = medical.String
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &report.EmergencyContacts); err != nil {
			return nil, err
		}
	}
	if len(reportedBy) > 0 {
		if err := json.Unmarshal(reportedBy, &report.ReportedBy); err != nil {
			return nil, err
		}
	}
	report.FiledAt = report.FiledAt.UTC()
	return &report, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
