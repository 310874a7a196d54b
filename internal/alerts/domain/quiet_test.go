package alerts

import (
	"testing"
	"time"
)

func TestQuietHoursWrapAroundMidnight(t *testing.T) {
	quiet := QuietHours{Enabled: true, Start: "22:00", End: "07:00"}

	lateEvening := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	if !quiet.Contains(lateEvening) {
		t.Fatalf("23:30 must be inside 22:00-07:00")
	}
	earlyMorning := time.Date(2026, 2, 11, 6, 30, 0, 0, time.UTC)
	if !quiet.Contains(earlyMorning) {
		t.Fatalf("06:30 must be inside 22:00-07:00")
	}
	noon := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if quiet.Contains(noon) {
		t.Fatalf("12:00 must be outside 22:00-07:00")
	}
	atEnd := time.Date(2026, 2, 11, 7, 0, 0, 0, time.UTC)
	if quiet.Contains(atEnd) {
		t.Fatalf("window end is exclusive")
	}
}

func TestQuietHoursNextEnd(t *testing.T) {
	quiet := QuietHours{Enabled: true, Start: "22:00", End: "07:00"}

	lateEvening := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	end, ok := quiet.NextEnd(lateEvening)
	if !ok {
		t.Fatalf("expected a window end")
	}
	want := time.Date(2026, 2, 11, 7, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Fatalf("end = %v, want %v", end, want)
	}

	earlyMorning := time.Date(2026, 2, 11, 5, 0, 0, 0, time.UTC)
	end, ok = quiet.NextEnd(earlyMorning)
	if !ok || !end.Equal(want) {
		t.Fatalf("end = %v ok=%t, want %v", end, ok, want)
	}

	noon := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if _, ok := quiet.NextEnd(noon); ok {
		t.Fatalf("no end outside the window")
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	quiet := QuietHours{Start: "22:00", End: "07:00"}
	if quiet.Contains(time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("disabled window must never match")
	}
	if err := quiet.Validate(); err != nil {
		t.Fatalf("disabled window skips validation: %v", err)
	}
	invalid := QuietHours{Enabled: true, Start: "25:00", End: "07:00"}
	if err := invalid.Validate(); err == nil {
		t.Fatalf("invalid start must be rejected")
	}
}
