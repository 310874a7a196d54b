package application

import (
	"errors"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// Outcome is the suppression verdict for an alert candidate.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeSuppress
	OutcomeDefer
)

// Suppression reasons surfaced in logs and metrics.
const (
	ReasonRecentActivity = "recent-activity"
	ReasonDuplicate      = "duplicate"
	ReasonQuietHours     = "quiet-hours"
	ReasonRateLimit      = "rate-limit"
)

// Decision is the outcome of a suppression check. ReplayAt is set only
// for deferred candidates.
type Decision struct {
	Outcome  Outcome
	Reason   string
	ReplayAt time.Time
}

// Cooldowns holds the per-level duplicate-suppression windows. Windows
// shrink as severity grows so that emergencies can re-fire sooner.
type Cooldowns struct {
	Warning   time.Duration
	Danger    time.Duration
	Emergency time.Duration
}

// DefaultCooldowns returns the installation defaults.
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Warning:   6 * time.Hour,
		Danger:    2 * time.Hour,
		Emergency: 30 * time.Minute,
	}
}

// Validate checks that cooldowns strictly decrease with severity.
func (c Cooldowns) Validate() error {
	if c.Warning <= 0 || c.Danger <= 0 || c.Emergency <= 0 {
		return errors.New("cooldowns: must be positive")
	}
	if c.Warning <= c.Danger || c.Danger <= c.Emergency {
		return errors.New("cooldowns: must strictly decrease with severity")
	}
	return nil
}

func (c Cooldowns) forLevel(level alerts.Level) time.Duration {
	switch level {
	case alerts.LevelEmergency:
		return c.Emergency
	case alerts.LevelDanger:
		return c.Danger
	default:
		return c.Warning
	}
}

// SuppressionPolicy decides whether a computed alert candidate actually
// fires.
type SuppressionPolicy struct {
	cooldowns Cooldowns
}

// NewSuppressionPolicy constructs a policy.
func NewSuppressionPolicy(cooldowns Cooldowns) (*SuppressionPolicy, error) {
	if err := cooldowns.Validate(); err != nil {
		return nil, err
	}
	return &SuppressionPolicy{cooldowns: cooldowns}, nil
}

// Decide applies the suppression rules in order; the first match wins.
func (p *SuppressionPolicy) Decide(candidate alerts.AlertEvent, history *History, recentActivity bool, quiet alerts.QuietHours, maxAlertsPerHour int, now time.Time) Decision {
	if p == nil {
		return Decision{Outcome: OutcomeAllow}
	}

	// 1. The subject is actually active: treat as false positive.
	if recentActivity {
		return Decision{Outcome: OutcomeSuppress, Reason: ReasonRecentActivity}
	}

	// 2. Same-level duplicate inside the level's cooldown.
	if history != nil {
		if last, ok := history.LastSameLevel(candidate.UserID, candidate.Level, now); ok {
			if now.Sub(last) < p.cooldowns.forLevel(candidate.Level) {
				return Decision{Outcome: OutcomeSuppress, Reason: ReasonDuplicate}
			}
		}
	}

	// 3. Quiet hours defer everything below the maximum severity.
	if candidate.Level < alerts.LevelEmergency && quiet.Contains(now) {
		if replayAt, ok := quiet.NextEnd(now); ok {
			return Decision{Outcome: OutcomeDefer, Reason: ReasonQuietHours, ReplayAt: replayAt}
		}
	}

	// 4. Trailing-hour rate limit.
	if maxAlertsPerHour > 0 && history != nil {
		if history.CountSince(candidate.UserID, now.Add(-time.Hour), now) >= maxAlertsPerHour {
			return Decision{Outcome: OutcomeSuppress, Reason: ReasonRateLimit}
		}
	}

	return Decision{Outcome: OutcomeAllow}
}
