package alerts

import "errors"

// Minimum and maximum silence thresholds accepted from configuration,
// in minutes (1 hour to 7 days).
const (
	MinThresholdMinutes = 60
	MaxThresholdMinutes = 7 * 24 * 60
)

// ThresholdSet holds the per-level silence thresholds in minutes.
type ThresholdSet struct {
	WarningMinutes   float64
	DangerMinutes    float64
	EmergencyMinutes float64
}

// DefaultThresholds returns the installation defaults: 24h, 48h, 72h.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		WarningMinutes:   1440,
		DangerMinutes:    2880,
		EmergencyMinutes: 4320,
	}
}

// Validate checks threshold invariants.
func (t ThresholdSet) Validate() error {
	if t.WarningMinutes < MinThresholdMinutes || t.WarningMinutes > MaxThresholdMinutes {
		return errors.New("thresholds: warning out of range")
	}
	if t.DangerMinutes < MinThresholdMinutes || t.DangerMinutes > MaxThresholdMinutes {
		return errors.New("thresholds: danger out of range")
	}
	if t.EmergencyMinutes < MinThresholdMinutes || t.EmergencyMinutes > MaxThresholdMinutes {
		return errors.New("thresholds: emergency out of range")
	}
	if t.WarningMinutes >= t.DangerMinutes {
		return errors.New("thresholds: warning must be below danger")
	}
	if t.DangerMinutes >= t.EmergencyMinutes {
		return errors.New("thresholds: danger must be below emergency")
	}
	return nil
}

// ThresholdOverride carries per-subject threshold replacements.
// A zero field keeps the installation default.
type ThresholdOverride struct {
	WarningMinutes   float64
	DangerMinutes    float64
	EmergencyMinutes float64
}

// Apply replaces any present override value on the base set.
func (o ThresholdOverride) Apply(base ThresholdSet) ThresholdSet {
	if o.WarningMinutes > 0 {
		base.WarningMinutes = o.WarningMinutes
	}
	if o.DangerMinutes > 0 {
		base.DangerMinutes = o.DangerMinutes
	}
	if o.EmergencyMinutes > 0 {
		base.EmergencyMinutes = o.EmergencyMinutes
	}
	return base
}

// ContextualMultipliers adjust all thresholds for calendar context.
// Values compose multiplicatively; a value below 1 tightens thresholds.
type ContextualMultipliers struct {
	Weekend float64
	Night   float64
	Holiday float64
}

// DefaultMultipliers returns the installation defaults: weekends are
// slower, nights are faster, holidays slower still.
func DefaultMultipliers() ContextualMultipliers {
	return ContextualMultipliers{Weekend: 1.5, Night: 0.8, Holiday: 2.0}
}

// Apply scales the thresholds for every active calendar condition.
func (m ContextualMultipliers) Apply(base ThresholdSet, cal CalendarContext) ThresholdSet {
	if cal.IsWeekend && m.Weekend > 0 {
		base = base.scale(m.Weekend)
	}
	if cal.IsNight && m.Night > 0 {
		base = base.scale(m.Night)
	}
	if cal.IsHoliday && m.Holiday > 0 {
		base = base.scale(m.Holiday)
	}
	return base
}

func (t ThresholdSet) scale(factor float64) ThresholdSet {
	t.WarningMinutes *= factor
	t.DangerMinutes *= factor
	t.EmergencyMinutes *= factor
	return t
}

// SubjectRules bundles the per-subject settings the suppression and
// calculation stages consume. Loaded from the rule store per evaluation
// and treated as read-only.
type SubjectRules struct {
	Thresholds       ThresholdOverride
	QuietHours       QuietHours
	MaxAlertsPerHour int
}

// Validate checks the rules against the defaults they would override.
func (r SubjectRules) Validate() error {
	if err := r.Thresholds.Apply(DefaultThresholds()).Validate(); err != nil {
		return err
	}
	if err := r.QuietHours.Validate(); err != nil {
		return err
	}
	if r.MaxAlertsPerHour < 0 {
		return errors.New("rules: negative alert rate limit")
	}
	return nil
}
