package notify

import (
	"context"
	"testing"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type stubRedeliverer struct {
	ok    bool
	calls int
}

func (s *stubRedeliverer) Deliver(_ context.Context, _ alerts.AlertEvent) ([]Attempt, bool) {
	s.calls++
	return nil, s.ok
}

type stubReporter struct {
	events   []alerts.AlertEvent
	attempts []int
}

func (s *stubReporter) PermanentFailure(event alerts.AlertEvent, attempts int) {
	s.events = append(s.events, event)
	s.attempts = append(s.attempts, attempts)
}

func retryEvent(id string, level alerts.Level) alerts.AlertEvent {
	return alerts.AlertEvent{ID: id, UserID: "user-" + id, Level: level}
}

func TestSweepRemovesOnSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	sender := &stubRedeliverer{ok: true}
	queue := NewRetryQueue(nil, WithRetryClock(clock), WithRetryDelay(30*time.Second))
	queue.Bind(sender)

	queue.Add(retryEvent("a", alerts.LevelWarning))
	clock.advance(time.Minute)
	queue.Sweep(context.Background())

	if sender.calls != 1 {
		t.Fatalf("deliver calls = %d, want 1", sender.calls)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", queue.Len())
	}
}

func TestSweepRespectsNextAttemptAt(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	sender := &stubRedeliverer{ok: true}
	queue := NewRetryQueue(nil, WithRetryClock(clock), WithRetryDelay(30*time.Second))
	queue.Bind(sender)

	queue.Add(retryEvent("a", alerts.LevelWarning))
	queue.Sweep(context.Background())
	if sender.calls != 0 {
		t.Fatalf("item not yet due, deliver calls = %d", sender.calls)
	}
}

func TestSweepExhaustsAndReports(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	sender := &stubRedeliverer{ok: false}
	reporter := &stubReporter{}
	queue := NewRetryQueue(nil,
		WithRetryClock(clock),
		WithRetryDelay(30*time.Second),
		WithMaxAttempts(3),
		WithErrorReporter(reporter),
	)
	queue.Bind(sender)

	queue.Add(retryEvent("a", alerts.LevelEmergency))
	for i := 0; i < 5; i++ {
		clock.advance(5 * time.Minute)
		queue.Sweep(context.Background())
	}

	if sender.calls != 3 {
		t.Fatalf("deliver calls = %d, want 3", sender.calls)
	}
	if queue.Len() != 0 {
		t.Fatalf("exhausted item must be removed, len = %d", queue.Len())
	}
	if len(reporter.events) != 1 || reporter.attempts[0] != 3 {
		t.Fatalf("reporter = %+v %+v", reporter.events, reporter.attempts)
	}
}

func TestEvictionPrefersNonEmergency(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	queue := NewRetryQueue(nil, WithRetryClock(clock), WithCapacity(2))

	queue.Add(retryEvent("em", alerts.LevelEmergency))
	clock.advance(time.Second)
	queue.Add(retryEvent("warn", alerts.LevelWarning))
	clock.advance(time.Second)
	queue.Add(retryEvent("new", alerts.LevelDanger))

	if queue.Len() != 2 {
		t.Fatalf("len = %d, want 2", queue.Len())
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	for _, item := range queue.items {
		if item.Event.ID == "warn" {
			t.Fatalf("oldest non-emergency should have been evicted")
		}
	}
}

func TestEvictionFallsBackToOldestEmergency(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)}
	queue := NewRetryQueue(nil, WithRetryClock(clock), WithCapacity(2))

	queue.Add(retryEvent("em1", alerts.LevelEmergency))
	clock.advance(time.Second)
	queue.Add(retryEvent("em2", alerts.LevelEmergency))
	clock.advance(time.Second)
	queue.Add(retryEvent("em3", alerts.LevelEmergency))

	queue.mu.Lock()
	defer queue.mu.Unlock()
	for _, item := range queue.items {
		if item.Event.ID == "em1" {
			t.Fatalf("oldest emergency should have been evicted")
		}
	}
}
