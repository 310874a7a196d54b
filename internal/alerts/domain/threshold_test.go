package alerts

import (
	"testing"
	"time"
)

func TestThresholdSetValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := []struct {
		name string
		set  ThresholdSet
	}{
		{"below range", ThresholdSet{WarningMinutes: 30, DangerMinutes: 2880, EmergencyMinutes: 4320}},
		{"above range", ThresholdSet{WarningMinutes: 1440, DangerMinutes: 2880, EmergencyMinutes: 20000}},
		{"warning not below danger", ThresholdSet{WarningMinutes: 2880, DangerMinutes: 2880, EmergencyMinutes: 4320}},
		{"danger not below emergency", ThresholdSet{WarningMinutes: 1440, DangerMinutes: 4320, EmergencyMinutes: 4320}},
	}
	for _, tc := range cases {
		if err := tc.set.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestThresholdOverrideApply(t *testing.T) {
	base := DefaultThresholds()

	applied := ThresholdOverride{DangerMinutes: 3000}.Apply(base)
	if applied.WarningMinutes != 1440 || applied.DangerMinutes != 3000 || applied.EmergencyMinutes != 4320 {
		t.Fatalf("partial override wrong: %+v", applied)
	}

	untouched := ThresholdOverride{}.Apply(base)
	if untouched != base {
		t.Fatalf("zero override must keep defaults: %+v", untouched)
	}
}

func TestMultipliersComposeMultiplicatively(t *testing.T) {
	base := ThresholdSet{WarningMinutes: 1000, DangerMinutes: 2000, EmergencyMinutes: 3000}
	m := DefaultMultipliers()

	weekendHoliday := m.Apply(base, CalendarContext{IsWeekend: true, IsHoliday: true})
	if weekendHoliday.WarningMinutes != 3000 {
		t.Fatalf("weekend+holiday warning = %v, want 3000", weekendHoliday.WarningMinutes)
	}

	weekendNight := m.Apply(base, CalendarContext{IsWeekend: true, IsNight: true})
	if weekendNight.WarningMinutes != 1000*1.5*0.8 {
		t.Fatalf("weekend+night warning = %v, want %v", weekendNight.WarningMinutes, 1000*1.5*0.8)
	}

	none := m.Apply(base, CalendarContext{})
	if none != base {
		t.Fatalf("no context must keep base: %+v", none)
	}
}

func TestCalendarFor(t *testing.T) {
	holidays := NewHolidays([]string{"01-01"})

	newYearNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	cal := CalendarFor(newYearNight, holidays)
	if !cal.IsHoliday || !cal.IsNight {
		t.Fatalf("expected holiday night, got %+v", cal)
	}

	saturdayNoon := time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)
	cal = CalendarFor(saturdayNoon, holidays)
	if !cal.IsWeekend || cal.IsNight || cal.IsHoliday {
		t.Fatalf("expected plain weekend, got %+v", cal)
	}

	earlyMorning := time.Date(2026, 1, 5, 6, 30, 0, 0, time.UTC)
	if !CalendarFor(earlyMorning, nil).IsNight {
		t.Fatalf("06:30 must count as night")
	}
	sevenSharp := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	if CalendarFor(sevenSharp, nil).IsNight {
		t.Fatalf("07:00 must not count as night")
	}
}

func TestSubjectRulesValidate(t *testing.T) {
	valid := SubjectRules{
		Thresholds: ThresholdOverride{WarningMinutes: 720},
		QuietHours: QuietHours{Enabled: true, Start: "22:00", End: "07:00"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rules rejected: %v", err)
	}

	broken := SubjectRules{Thresholds: ThresholdOverride{WarningMinutes: 5000}}
	if err := broken.Validate(); err == nil {
		t.Fatalf("override breaking ordering must be rejected")
	}
}
