package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	subjects "lifewatch-cloud/internal/subjects/domain"
)

// SubjectRepository is a Postgres store for monitored subjects and
// their emergency contacts.
type SubjectRepository struct {
	db *sql.DB
}

// NewSubjectRepository constructs a repository.
func NewSubjectRepository(db *sql.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Subject loads one subject with contacts, or nil when unknown.
func (r *SubjectRepository) Subject(ctx context.Context, userID string) (*subjects.Subject, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("subject repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("subject repo: empty user id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, address, phone, medical_notes, consent_to_share
FROM subjects
WHERE id = $1
LIMIT 1`, userID)
	var subject subjects.Subject
	var address, phone, medical sql.NullString
	if err := row.Scan(&subject.ID, &subject.Name, &address, &phone, &medical, &subject.ConsentToShare); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	subject.Address = address.String
	subject.Phone = phone.String
	subject.MedicalNotes = medical.String

	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, phone, address
FROM emergency_contacts
WHERE user_id = $1
ORDER BY priority ASC, created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var contact subjects.Contact
		var cphone, caddress sql.NullString
		if err := rows.Scan(&contact.ID, &contact.Name, &cphone, &caddress); err != nil {
			return nil, err
		}
		contact.Phone = cphone.String
		contact.Address = caddress.String
		subject.Contacts = append(subject.Contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &subject, nil
}

// ListSubjectIDs returns every monitored subject id.
func (r *SubjectRepository) ListSubjectIDs(ctx context.Context) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("subject repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id FROM subjects ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert stores a subject profile. Contacts are replaced wholesale.
func (r *SubjectRepository) Upsert(ctx context.Context, subject subjects.Subject) error {
	if r == nil || r.db == nil {
		return errors.New("subject repo: nil db")
	}
	if err := subject.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO subjects (id, name, address, phone, medical_notes, consent_to_share, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	address = EXCLUDED.address,
	phone = EXCLUDED.phone,
	medical_notes = EXCLUDED.medical_notes,
	consent_to_share = EXCLUDED.consent_to_share,
	updated_at = EXCLUDED.updated_at`,
		subject.ID, subject.Name, subject.Address, subject.Phone, subject.MedicalNotes, subject.ConsentToShare, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM emergency_contacts WHERE user_id = $1`, subject.ID); err != nil {
		return err
	}
	for i, contact := range subject.Contacts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO emergency_contacts (id, user_id, name, phone, address, priority, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			contact.ID, subject.ID, contact.Name, contact.Phone, contact.Address, i, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
