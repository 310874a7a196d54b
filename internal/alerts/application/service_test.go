package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubHeartbeats struct {
	records map[string]time.Time
	err     error
}

func (s *stubHeartbeats) Latest(_ context.Context, userID string) (*alerts.HeartbeatRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	at, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &alerts.HeartbeatRecord{UserID: userID, Timestamp: at}, nil
}

type stubActivity struct {
	recent bool
	err    error
}

func (s *stubActivity) HasRecentActivity(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return s.recent, s.err
}

type stubRules struct {
	rules alerts.SubjectRules
}

func (s *stubRules) Rules(_ context.Context, _ string) (alerts.SubjectRules, error) {
	return s.rules, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []alerts.AlertEvent
}

func (s *stubNotifier) Notify(_ context.Context, event alerts.AlertEvent) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *stubNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubEscalations struct {
	armed    []string
	resolved []string
}

func (s *stubEscalations) Arm(userID string)     { s.armed = append(s.armed, userID) }
func (s *stubEscalations) Resolve(userID string) { s.resolved = append(s.resolved, userID) }

type stubCoordinator struct {
	begun []string
	ended []string
}

func (s *stubCoordinator) Begin(_ context.Context, userID string, _ float64) {
	s.begun = append(s.begun, userID)
}

func (s *stubCoordinator) EndEpisode(userID string) { s.ended = append(s.ended, userID) }

type fakeScheduler struct {
	mu    sync.Mutex
	tasks map[string]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]func())}
}

func (s *fakeScheduler) After(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	s.tasks[key] = fn
	s.mu.Unlock()
}

func (s *fakeScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

func (s *fakeScheduler) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

type engineFixture struct {
	engine        *Engine
	clock         *fakeClock
	heartbeats    *stubHeartbeats
	activity      *stubActivity
	notifier      *stubNotifier
	escalations   *stubEscalations
	confirmations *stubCoordinator
	scheduler     *fakeScheduler
}

func newEngineFixture(t *testing.T, rules alerts.SubjectRules) *engineFixture {
	t.Helper()
	fixture := &engineFixture{
		clock:         &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)},
		heartbeats:    &stubHeartbeats{records: make(map[string]time.Time)},
		activity:      &stubActivity{},
		notifier:      &stubNotifier{},
		escalations:   &stubEscalations{},
		confirmations: &stubCoordinator{},
		scheduler:     newFakeScheduler(),
	}
	policy, err := NewSuppressionPolicy(DefaultCooldowns())
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	engine, err := NewEngine(
		fixture.heartbeats,
		fixture.activity,
		&stubRules{rules: rules},
		policy,
		NewHistory(24*time.Hour),
		fixture.notifier,
		fixture.scheduler,
		alerts.DefaultThresholds(),
		nil,
		WithClock(fixture.clock),
		WithEscalations(fixture.escalations),
		WithConfirmations(fixture.confirmations),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	fixture.engine = engine
	return fixture
}

func (f *engineFixture) silent(userID string, minutes float64) {
	f.heartbeats.records[userID] = f.clock.Now().Add(-time.Duration(minutes * float64(time.Minute)))
}

func TestEvaluateEmergencyFiresAndArms(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 4400)

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if f.notifier.count() != 1 {
		t.Fatalf("notified %d times, want 1", f.notifier.count())
	}
	if len(f.escalations.armed) != 1 || f.escalations.armed[0] != "u1" {
		t.Fatalf("escalations armed = %v", f.escalations.armed)
	}
	if len(f.confirmations.begun) != 1 {
		t.Fatalf("confirmations begun = %v", f.confirmations.begun)
	}

	status := f.engine.Status("u1")
	if !status.Known || status.Level != alerts.LevelEmergency {
		t.Fatalf("status = %+v", status)
	}
}

func TestEvaluateNormalResolves(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 10)

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if f.notifier.count() != 0 {
		t.Fatalf("normal level must not notify")
	}
	if len(f.escalations.resolved) != 1 {
		t.Fatalf("escalations resolved = %v", f.escalations.resolved)
	}
	if len(f.confirmations.ended) != 1 {
		t.Fatalf("episodes ended = %v", f.confirmations.ended)
	}
}

func TestEvaluateDuplicateSuppressed(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 1500)

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	f.clock.advance(10 * time.Minute)
	f.silent("u1", 1510)
	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}

	if f.notifier.count() != 1 {
		t.Fatalf("notified %d times, want 1 (duplicate in cooldown)", f.notifier.count())
	}
}

func TestEvaluateRecentActivitySuppresses(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 4400)
	f.activity.recent = true

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("recent activity must suppress")
	}
	if len(f.escalations.armed) != 0 {
		t.Fatalf("suppressed alert must not arm escalation")
	}
}

func TestEvaluateQuietHoursDefers(t *testing.T) {
	rules := alerts.SubjectRules{
		QuietHours: alerts.QuietHours{Enabled: true, Start: "22:00", End: "07:00"},
	}
	f := newEngineFixture(t, rules)
	f.clock.now = time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC)
	f.silent("u1", 1500)

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	if f.notifier.count() != 0 {
		t.Fatalf("deferred alert must not notify yet")
	}
	if !f.scheduler.has("quiet-replay:u1") {
		t.Fatalf("replay task missing")
	}
}

func TestEvaluateNoHeartbeat(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	err := f.engine.Evaluate(context.Background(), "unknown")
	if !errors.Is(err, alerts.ErrNoHeartbeat) {
		t.Fatalf("err = %v, want ErrNoHeartbeat", err)
	}
}

func TestEvaluateActivityErrorDoesNotBlock(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 4400)
	f.activity.err = errors.New("activity store down")

	if err := f.engine.Evaluate(context.Background(), "u1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("a failed activity lookup must not block the alert")
	}
}

type stubLister struct {
	ids []string
}

func (s *stubLister) ListSubjectIDs(_ context.Context) ([]string, error) {
	return s.ids, nil
}

func TestEvaluateAllIsolatesSubjects(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("ok", 1500)
	// "missing" has no heartbeat and errors; "ok" must still be evaluated.

	if err := f.engine.EvaluateAll(context.Background(), &stubLister{ids: []string{"missing", "ok"}}); err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("healthy subject not evaluated, notified %d", f.notifier.count())
	}
}

func TestStillEmergency(t *testing.T) {
	f := newEngineFixture(t, alerts.SubjectRules{})
	f.silent("u1", 4400)

	still, err := f.engine.StillEmergency(context.Background(), "u1")
	if err != nil || !still {
		t.Fatalf("still=%t err=%v, want true", still, err)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("re-check must be side effect free")
	}

	f.silent("u1", 10)
	still, err = f.engine.StillEmergency(context.Background(), "u1")
	if err != nil || still {
		t.Fatalf("still=%t err=%v, want false", still, err)
	}
}
