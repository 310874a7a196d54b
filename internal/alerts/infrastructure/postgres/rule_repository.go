package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// SubjectRuleRepository is a Postgres store for per-subject alerting
// rules. A subject without a row runs on defaults.
type SubjectRuleRepository struct {
	db *sql.DB
}

// NewSubjectRuleRepository constructs a repository.
func NewSubjectRuleRepository(db *sql.DB) *SubjectRuleRepository {
	return &SubjectRuleRepository{db: db}
}

// Rules loads a subject's rules. A missing row yields the zero value,
// which keeps every default in force.
func (r *SubjectRuleRepository) Rules(ctx context.Context, userID string) (alerts.SubjectRules, error) {
	var rules alerts.SubjectRules
	if r == nil || r.db == nil {
		return rules, errors.New("rule repo: nil db")
	}
	if userID == "" {
		return rules, errors.New("rule repo: empty user id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT warning_minutes, danger_minutes, emergency_minutes,
	quiet_enabled, quiet_start, quiet_end, max_alerts_per_hour
FROM subject_rules
WHERE user_id = $1
LIMIT 1`, userID)
	var (
		warning, danger, emergency sql.NullFloat64
		quietEnabled               sql.NullBool
		quietStart, quietEnd       sql.NullString
		maxPerHour                 sql.NullInt64
	)
	if err := row.Scan(&warning, &danger, &emergency, &quietEnabled, &quietStart, &quietEnd, &maxPerHour); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rules, nil
		}
		return rules, err
	}
	rules.Thresholds = alerts.ThresholdOverride{
		WarningMinutes:   warning.Float64,
		DangerMinutes:    danger.Float64,
		EmergencyMinutes: emergency.Float64,
	}
	rules.QuietHours = alerts.QuietHours{
		Enabled: quietEnabled.Bool,
		Start:   quietStart.String,
		End:     quietEnd.String,
	}
	rules.MaxAlertsPerHour = int(maxPerHour.Int64)
	return rules, nil
}

// Upsert stores a subject's rules after validation.
func (r *SubjectRuleRepository) Upsert(ctx context.Context, userID string, rules alerts.SubjectRules) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if userID == "" {
		return errors.New("rule repo: empty user id")
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO subject_rules (
	user_id, warning_minutes, danger_minutes, emergency_minutes,
	quiet_enabled, quiet_start, quiet_end, max_alerts_per_hour, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id) DO UPDATE SET
	warning_minutes = EXCLUDED.warning_minutes,
	danger_minutes = EXCLUDED.danger_minutes,
	emergency_minutes = EXCLUDED.emergency_minutes,
	quiet_enabled = EXCLUDED.quiet_enabled,
	quiet_start = EXCLUDED.quiet_start,
	quiet_end = EXCLUDED.quiet_end,
	max_alerts_per_hour = EXCLUDED.max_alerts_per_hour,
	updated_at = EXCLUDED.updated_at`,
		userID,
		rules.Thresholds.WarningMinutes,
		rules.Thresholds.DangerMinutes,
		rules.Thresholds.EmergencyMinutes,
		rules.QuietHours.Enabled,
		rules.QuietHours.Start,
		rules.QuietHours.End,
		rules.MaxAlertsPerHour,
		time.Now().UTC(),
	)
	return err
}
