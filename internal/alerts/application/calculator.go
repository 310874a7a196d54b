package application

import (
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// Calculate classifies a silence duration into a severity level.
//
// The effective thresholds are the installation defaults with any
// per-subject override applied, then scaled by every active contextual
// multiplier. Ties resolve toward the higher severity. A zero
// lastHeartbeatAt means the subject cannot be evaluated; the caller
// must skip it rather than defaulting to a level.
func Calculate(lastHeartbeatAt, now time.Time, base alerts.ThresholdSet, override alerts.ThresholdOverride, multipliers alerts.ContextualMultipliers, cal alerts.CalendarContext) (alerts.Level, float64, error) {
	if lastHeartbeatAt.IsZero() {
		return alerts.LevelNormal, 0, alerts.ErrNoHeartbeat
	}
	minutesSilent := now.Sub(lastHeartbeatAt).Minutes()
	if minutesSilent < 0 {
		minutesSilent = 0
	}

	effective := multipliers.Apply(override.Apply(base), cal)

	switch {
	case minutesSilent >= effective.EmergencyMinutes:
		return alerts.LevelEmergency, minutesSilent, nil
	case minutesSilent >= effective.DangerMinutes:
		return alerts.LevelDanger, minutesSilent, nil
	case minutesSilent >= effective.WarningMinutes:
		return alerts.LevelWarning, minutesSilent, nil
	default:
		return alerts.LevelNormal, minutesSilent, nil
	}
}
