package confirmation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	subjects "lifewatch-cloud/internal/subjects/domain"
)

type stubDirectory struct {
	subject *subjects.Subject
	err     error
}

func (s *stubDirectory) Subject(_ context.Context, _ string) (*subjects.Subject, error) {
	return s.subject, s.err
}

type stubActivity struct {
	recent bool
}

func (s *stubActivity) HasRecentActivity(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return s.recent, nil
}

type stubPeers struct {
	report *subjects.PeerReport
}

func (s *stubPeers) RecentReport(_ context.Context, _ string, _ time.Duration) (*subjects.PeerReport, error) {
	return s.report, nil
}

type stubTransport struct {
	contacts []string
	checks   []string
	err      error
}

func (s *stubTransport) RequestConfirmation(_ context.Context, contact subjects.Contact, _ *Request) error {
	s.contacts = append(s.contacts, contact.ID)
	return s.err
}

func (s *stubTransport) RequestPeerCheck(_ context.Context, contact subjects.Contact, _ string, _ float64) error {
	s.checks = append(s.checks, contact.ID)
	return s.err
}

type filing struct {
	userID     string
	requestID  string
	minutes    float64
	reportedBy []string
}

type stubReporter struct {
	filings []filing
}

func (s *stubReporter) FileReport(_ context.Context, userID, requestID string, minutes float64, reportedBy []string) {
	s.filings = append(s.filings, filing{userID: userID, requestID: requestID, minutes: minutes, reportedBy: reportedBy})
}

type stubResolver struct {
	resolved []string
}

func (s *stubResolver) Resolve(userID string) {
	s.resolved = append(s.resolved, userID)
}

type stubRequestLog struct {
	records []Request
}

func (s *stubRequestLog) Record(_ context.Context, request Request) error {
	s.records = append(s.records, request)
	return nil
}

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

type manualScheduler struct {
	mu    sync.Mutex
	tasks map[string]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[string]func())}
}

func (s *manualScheduler) After(key string, _ time.Duration, fn func()) {
	s.mu.Lock()
	s.tasks[key] = fn
	s.mu.Unlock()
}

func (s *manualScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

func (s *manualScheduler) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *manualScheduler) run(t *testing.T, key string) {
	t.Helper()
	s.mu.Lock()
	fn, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no scheduled task for %q", key)
	}
	fn()
}

func subjectWithContacts(n int) *subjects.Subject {
	subject := &subjects.Subject{ID: "u1", Name: "Alma"}
	names := []string{"c1", "c2", "c3", "c4", "c5"}
	for i := 0; i < n && i < len(names); i++ {
		subject.Contacts = append(subject.Contacts, subjects.Contact{ID: names[i], Name: names[i]})
	}
	return subject
}

func concernedReport() *subjects.PeerReport {
	return &subjects.PeerReport{ID: "pr-1", UserID: "u1", ReporterID: "p1", Concerned: true}
}

type fixture struct {
	coordinator *Coordinator
	directory   *stubDirectory
	activity    *stubActivity
	peers       *stubPeers
	transport   *stubTransport
	reporter    *stubReporter
	resolver    *stubResolver
	requests    *stubRequestLog
	scheduler   *manualScheduler
	clock       *fakeClock
}

func newFixture(t *testing.T, subject *subjects.Subject) *fixture {
	t.Helper()
	f := &fixture{
		directory: &stubDirectory{subject: subject},
		activity:  &stubActivity{},
		peers:     &stubPeers{report: concernedReport()},
		transport: &stubTransport{},
		reporter:  &stubReporter{},
		resolver:  &stubResolver{},
		requests:  &stubRequestLog{},
		scheduler: newManualScheduler(),
		clock:     &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)},
	}
	coordinator, err := NewCoordinator(
		f.directory,
		f.activity,
		f.peers,
		f.transport,
		f.reporter,
		f.scheduler,
		nil,
		WithEscalationResolver(f.resolver),
		WithRequestLog(f.requests),
		WithClock(f.clock),
	)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	f.coordinator = coordinator
	return f
}

func TestBeginAsksContactsWithCap(t *testing.T) {
	f := newFixture(t, subjectWithContacts(5))
	f.coordinator.Begin(context.Background(), "u1", 4400)

	if len(f.transport.contacts) != 3 {
		t.Fatalf("asked %d contacts, want 3", len(f.transport.contacts))
	}
	request := f.coordinator.ActiveRequest("u1")
	if request == nil || request.State != StatePending {
		t.Fatalf("no pending request after begin")
	}
	if len(request.ContactIDs) != 3 {
		t.Fatalf("request carries %d contacts, want 3", len(request.ContactIDs))
	}
}

func TestBeginWithoutPeerReportAsksForPeerCheck(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.peers.report = nil
	f.coordinator.Begin(context.Background(), "u1", 4400)

	if len(f.transport.contacts) != 0 {
		t.Fatalf("round must not start without a peer report, asked %v", f.transport.contacts)
	}
	if f.coordinator.ActiveRequest("u1") != nil {
		t.Fatalf("no request expected without a peer report")
	}
	if len(f.reporter.filings) != 0 {
		t.Fatalf("no report expected without a peer report, got %v", f.reporter.filings)
	}
	if len(f.transport.checks) != 3 {
		t.Fatalf("contacts not asked to check in, got %v", f.transport.checks)
	}

	// A peer report arriving later lets the next alert open the round.
	f.peers.report = concernedReport()
	f.coordinator.Begin(context.Background(), "u1", 4500)
	if len(f.transport.contacts) != 3 {
		t.Fatalf("round must start once a peer reported, asked %v", f.transport.contacts)
	}
}

func TestUnconcernedPeerReportDoesNotOpenRound(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.peers.report = &subjects.PeerReport{ID: "pr-2", UserID: "u1", ReporterID: "p1", Concerned: false}
	f.coordinator.Begin(context.Background(), "u1", 4400)

	if len(f.transport.contacts) != 0 || len(f.reporter.filings) != 0 {
		t.Fatalf("an all-clear peer report must defer the round")
	}
	if len(f.transport.checks) != 2 {
		t.Fatalf("contacts not asked to check in, got %v", f.transport.checks)
	}
}

func TestDenialActsImmediately(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(5 * time.Minute)
	if err := f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if f.coordinator.ActiveRequest("u1") != nil {
		t.Fatalf("a denial inside the sub-window must abort at once")
	}
	if len(f.resolver.resolved) != 1 || f.resolver.resolved[0] != "u1" {
		t.Fatalf("denial must stand escalation down, got %v", f.resolver.resolved)
	}
	if len(f.reporter.filings) != 0 {
		t.Fatalf("denied round must not file a report")
	}
	if f.scheduler.has("confirm-window:" + request.ID) {
		t.Fatalf("window timer must be cancelled after the denial")
	}
}

func TestFirstResponseWinsInsideSubWindow(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(2 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", false)
	f.clock.advance(8 * time.Minute)
	if err := f.coordinator.SubmitResponse(context.Background(), request.ID, "c2", true); err != nil {
		t.Fatalf("late submit: %v", err)
	}

	if len(f.reporter.filings) != 0 {
		t.Fatalf("the first response decided, a later confirm must not file, got %v", f.reporter.filings)
	}
	if len(f.resolver.resolved) != 1 {
		t.Fatalf("denial at minute 2 must have stood escalation down")
	}
}

func TestConfirmInsideSubWindowFilesReport(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(5 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", true)

	if len(f.reporter.filings) != 1 || f.reporter.filings[0].requestID != request.ID {
		t.Fatalf("confirmed round must file a report, got %v", f.reporter.filings)
	}
	reportedBy := f.reporter.filings[0].reportedBy
	if len(reportedBy) != 2 || reportedBy[0] != "p1" || reportedBy[1] != "c1" {
		t.Fatalf("report must name the peer and the confirming contact, got %v", reportedBy)
	}
}

func TestResponsesAfterSubWindowWaitForExpiry(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(16 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", false)
	if f.coordinator.ActiveRequest("u1") == nil {
		t.Fatalf("a response after the sub-window must not settle the round")
	}
	f.clock.advance(4 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c2", true)
	if f.coordinator.ActiveRequest("u1") == nil {
		t.Fatalf("all answers in does not settle the round after the sub-window")
	}

	f.scheduler.run(t, "confirm-window:"+request.ID)

	// A tie goes to the subject's safety.
	if len(f.reporter.filings) != 1 {
		t.Fatalf("tied round must count as confirmed at expiry, got %v", f.reporter.filings)
	}
}

func TestMajorityDenialAtExpiry(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(16 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", false)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c2", false)
	f.scheduler.run(t, "confirm-window:"+request.ID)

	if len(f.reporter.filings) != 0 {
		t.Fatalf("denied round must not file a report, got %v", f.reporter.filings)
	}
	if len(f.resolver.resolved) != 1 {
		t.Fatalf("majority denial must stand escalation down")
	}
}

func TestExpiryWithoutResponsesFilesReport(t *testing.T) {
	f := newFixture(t, subjectWithContacts(3))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.scheduler.run(t, "confirm-window:"+request.ID)

	if len(f.reporter.filings) != 1 {
		t.Fatalf("unanswered round must be treated as an emergency, got %v", f.reporter.filings)
	}
	if f.reporter.filings[0].userID != "u1" {
		t.Fatalf("report for wrong subject: %+v", f.reporter.filings[0])
	}
	if len(f.requests.records) != 1 || f.requests.records[0].State != StateTimedOut {
		t.Fatalf("timed-out round not recorded, got %+v", f.requests.records)
	}
}

func TestLateAndDuplicateResponsesIgnored(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.clock.advance(5 * time.Minute)
	f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", true)
	if err := f.coordinator.SubmitResponse(context.Background(), request.ID, "c1", false); err != nil {
		t.Fatalf("duplicate must be ignored, not rejected: %v", err)
	}

	// The round is resolved but stays addressable, so a late answer is
	// ignored without an error and changes nothing.
	if err := f.coordinator.SubmitResponse(context.Background(), request.ID, "c2", false); err != nil {
		t.Fatalf("late response must be ignored, not rejected: %v", err)
	}
	if len(f.reporter.filings) != 1 {
		t.Fatalf("filings = %v", f.reporter.filings)
	}
	if len(f.resolver.resolved) != 0 {
		t.Fatalf("late denial must not stand escalation down")
	}

	// Once retention lapses the round is truly unknown.
	f.scheduler.run(t, "confirm-forget:"+request.ID)
	if err := f.coordinator.SubmitResponse(context.Background(), request.ID, "c2", false); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestSubmitResponseUnknownRequest(t *testing.T) {
	f := newFixture(t, subjectWithContacts(1))
	if err := f.coordinator.SubmitResponse(context.Background(), "nope", "c1", true); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestRecentActivitySkipsRound(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.activity.recent = true
	f.coordinator.Begin(context.Background(), "u1", 4400)

	if len(f.transport.contacts) != 0 || len(f.transport.checks) != 0 {
		t.Fatalf("round started despite recent activity")
	}
	if len(f.reporter.filings) != 0 {
		t.Fatalf("no report expected")
	}
}

func TestNoContactsFilesFailSafeReport(t *testing.T) {
	f := newFixture(t, subjectWithContacts(0))
	f.coordinator.Begin(context.Background(), "u1", 4400)

	if len(f.reporter.filings) != 1 {
		t.Fatalf("subject without contacts must be reported, got %v", f.reporter.filings)
	}
	if reportedBy := f.reporter.filings[0].reportedBy; len(reportedBy) != 1 || reportedBy[0] != "p1" {
		t.Fatalf("report must name the reporting peer, got %v", reportedBy)
	}
}

func TestOneRoundPerEpisode(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	f.coordinator.Begin(context.Background(), "u1", 4500)

	if len(f.transport.contacts) != 2 {
		t.Fatalf("second begin within the episode must be a no-op, asked %v", f.transport.contacts)
	}

	f.coordinator.EndEpisode("u1")
	f.coordinator.Begin(context.Background(), "u1", 4400)
	if len(f.transport.contacts) != 4 {
		t.Fatalf("new episode must allow a fresh round, asked %v", f.transport.contacts)
	}
}

func TestEndEpisodeCancelsAndRecordsPendingRound(t *testing.T) {
	f := newFixture(t, subjectWithContacts(2))
	f.coordinator.Begin(context.Background(), "u1", 4400)
	request := f.coordinator.ActiveRequest("u1")

	f.coordinator.EndEpisode("u1")

	if f.coordinator.ActiveRequest("u1") != nil {
		t.Fatalf("round still pending after recovery")
	}
	if f.scheduler.has("confirm-window:" + request.ID) {
		t.Fatalf("window timer not cancelled")
	}
	if len(f.reporter.filings) != 0 {
		t.Fatalf("cancelled round must not file a report")
	}
	if len(f.requests.records) != 1 || f.requests.records[0].State != StateCancelled {
		t.Fatalf("cancelled round not recorded, got %+v", f.requests.records)
	}
}
