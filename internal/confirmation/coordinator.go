package confirmation

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"lifewatch-cloud/internal/ids"
	"lifewatch-cloud/internal/observability/metrics"
	"lifewatch-cloud/internal/sched"
	subjects "lifewatch-cloud/internal/subjects/domain"
)

// ErrUnknownRequest is returned when a response targets a request the
// coordinator does not know.
var ErrUnknownRequest = errors.New("confirmation: unknown request")

// SubjectDirectory looks up subject profiles.
type SubjectDirectory interface {
	Subject(ctx context.Context, userID string) (*subjects.Subject, error)
}

// ActivitySource reports whether any activity was observed recently.
type ActivitySource interface {
	HasRecentActivity(ctx context.Context, userID string, within time.Duration) (bool, error)
}

// PeerReportSource returns the most recent peer wellbeing report, or
// nil when none exists within the lookback window.
type PeerReportSource interface {
	RecentReport(ctx context.Context, userID string, lookback time.Duration) (*subjects.PeerReport, error)
}

// Transport delivers confirmation traffic to contacts. RequestPeerCheck
// asks a contact to look in on the subject and file a wellbeing report
// before any confirmation round runs.
type Transport interface {
	RequestConfirmation(ctx context.Context, contact subjects.Contact, request *Request) error
	RequestPeerCheck(ctx context.Context, contact subjects.Contact, userID string, minutesSilent float64) error
}

// EmergencyReporter files a confirmed emergency with the outside world.
// reportedBy names the peers and contacts who vouched for the
// emergency, and may be empty for an unanswered round.
type EmergencyReporter interface {
	FileReport(ctx context.Context, userID string, requestID string, minutesSilent float64, reportedBy []string)
}

// EscalationResolver stands down escalation when contacts deny an
// emergency.
type EscalationResolver interface {
	Resolve(userID string)
}

// RequestLog persists confirmation rounds to an external collaborator.
type RequestLog interface {
	Record(ctx context.Context, request Request) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Coordinator runs the emergency confirmation protocol. A round only
// starts once a peer has reported concern; without that report the
// coordinator asks the contacts to check on the subject and waits.
// When a round runs, only a confirmed (or unanswered) one reaches
// public services.
//
// At most one round runs per emergency episode. An episode ends when
// the subject's level returns to normal.
type Coordinator struct {
	directory SubjectDirectory
	activity  ActivitySource
	peers     PeerReportSource
	transport Transport
	reporter  EmergencyReporter
	resolver  EscalationResolver
	requests  RequestLog
	scheduler sched.Scheduler
	clock     Clock
	logger    *log.Logger

	window       time.Duration
	earlyExit    time.Duration
	peerLookback time.Duration
	freshness    time.Duration
	maxContacts  int

	mu       sync.Mutex
	active   map[string]*Request
	byID     map[string]*Request
	episodes map[string]bool
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithWindow sets the full response window.
func WithWindow(window time.Duration) Option {
	return func(c *Coordinator) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithEarlyExit sets the sub-window in which a single response settles
// the round on its own.
func WithEarlyExit(after time.Duration) Option {
	return func(c *Coordinator) {
		if after > 0 {
			c.earlyExit = after
		}
	}
}

// WithPeerLookback sets how far back a peer report satisfies the
// round's precondition.
func WithPeerLookback(lookback time.Duration) Option {
	return func(c *Coordinator) {
		if lookback > 0 {
			c.peerLookback = lookback
		}
	}
}

// WithMaxContacts caps how many contacts are asked per round.
func WithMaxContacts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxContacts = n
		}
	}
}

// WithEscalationResolver assigns the escalation stand-down hook.
func WithEscalationResolver(resolver EscalationResolver) Option {
	return func(c *Coordinator) {
		c.resolver = resolver
	}
}

// WithRequestLog assigns the external request log.
func WithRequestLog(store RequestLog) Option {
	return func(c *Coordinator) {
		c.requests = store
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCoordinator constructs a confirmation coordinator.
func NewCoordinator(
	directory SubjectDirectory,
	activity ActivitySource,
	peers PeerReportSource,
	transport Transport,
	reporter EmergencyReporter,
	scheduler sched.Scheduler,
	logger *log.Logger,
	opts ...Option,
) (*Coordinator, error) {
	if directory == nil {
		return nil, errors.New("confirmation: nil subject directory")
	}
	if activity == nil {
		return nil, errors.New("confirmation: nil activity source")
	}
	if peers == nil {
		return nil, errors.New("confirmation: nil peer report source")
	}
	if transport == nil {
		return nil, errors.New("confirmation: nil transport")
	}
	if reporter == nil {
		return nil, errors.New("confirmation: nil reporter")
	}
	if scheduler == nil {
		return nil, errors.New("confirmation: nil scheduler")
	}
	c := &Coordinator{
		directory:    directory,
		activity:     activity,
		peers:        peers,
		transport:    transport,
		reporter:     reporter,
		scheduler:    scheduler,
		clock:        systemClock{},
		logger:       logger,
		window:       30 * time.Minute,
		earlyExit:    15 * time.Minute,
		peerLookback: 24 * time.Hour,
		freshness:    5 * time.Minute,
		maxContacts:  3,
		active:       make(map[string]*Request),
		byID:         make(map[string]*Request),
		episodes:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Begin starts a confirmation round for an emergency, unless the
// episode already ran one or recent activity contradicts the
// emergency. The round requires a recent peer report of concern as a
// precondition; without one Begin asks the contacts to check on the
// subject and defers, to be retried on the next emergency alert.
func (c *Coordinator) Begin(ctx context.Context, userID string, minutesSilent float64) {
	if c == nil || userID == "" {
		return
	}
	c.mu.Lock()
	if c.episodes[userID] {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	recent, err := c.activity.HasRecentActivity(ctx, userID, c.freshness)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("confirmation activity lookup failed: user=%s err=%v", userID, err)
		}
		recent = false
	}
	if recent {
		if c.logger != nil {
			c.logger.Printf("confirmation skipped, recent activity: user=%s", userID)
		}
		return
	}

	subject, err := c.directory.Subject(ctx, userID)
	if err != nil || subject == nil {
		if c.logger != nil {
			c.logger.Printf("confirmation subject lookup failed: user=%s err=%v", userID, err)
		}
		return
	}
	contacts := subject.Contacts
	if len(contacts) > c.maxContacts {
		contacts = contacts[:c.maxContacts]
	}

	report, err := c.peers.RecentReport(ctx, userID, c.peerLookback)
	if err != nil && c.logger != nil {
		c.logger.Printf("peer report lookup failed: user=%s err=%v", userID, err)
	}
	if report == nil || !report.Concerned {
		c.requestPeerCheck(ctx, userID, minutesSilent, contacts)
		return
	}

	if len(contacts) == 0 {
		// Nobody to ask. Err on the side of the subject.
		c.markEpisode(userID)
		metrics.IncConfirmation("unreachable")
		if c.logger != nil {
			c.logger.Printf("no contacts to confirm, filing report: user=%s", userID)
		}
		c.reporter.FileReport(ctx, userID, "", minutesSilent, []string{report.ReporterID})
		return
	}

	now := c.clock.Now()
	request := &Request{
		ID:             ids.New(),
		UserID:         userID,
		MinutesSilent:  minutesSilent,
		PeerReporterID: report.ReporterID,
		State:          StatePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.window),
	}
	for _, contact := range contacts {
		request.ContactIDs = append(request.ContactIDs, contact.ID)
	}

	c.mu.Lock()
	if c.episodes[userID] {
		c.mu.Unlock()
		return
	}
	c.episodes[userID] = true
	c.active[userID] = request
	c.byID[request.ID] = request
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("confirmation round started: user=%s request=%s peer_report=%s contacts=%d window=%s", userID, request.ID, report.ID, len(contacts), c.window)
	}
	for _, contact := range contacts {
		if err := c.transport.RequestConfirmation(ctx, contact, request); err != nil && c.logger != nil {
			c.logger.Printf("confirmation request failed: user=%s contact=%s err=%v", userID, contact.ID, err)
		}
	}
	requestID := request.ID
	c.scheduler.After(windowKey(requestID), c.window, func() {
		c.expire(requestID)
	})
}

// requestPeerCheck asks the contacts to look in on the subject. No
// report is filed and no episode starts; the next emergency alert
// re-checks for a peer report.
func (c *Coordinator) requestPeerCheck(ctx context.Context, userID string, minutesSilent float64, contacts []subjects.Contact) {
	metrics.IncConfirmation("deferred")
	if len(contacts) == 0 {
		if c.logger != nil {
			c.logger.Printf("no peer report and no contacts to ask: user=%s", userID)
		}
		return
	}
	if c.logger != nil {
		c.logger.Printf("no peer report yet, asking contacts to check in: user=%s contacts=%d", userID, len(contacts))
	}
	for _, contact := range contacts {
		if err := c.transport.RequestPeerCheck(ctx, contact, userID, minutesSilent); err != nil && c.logger != nil {
			c.logger.Printf("peer check request failed: user=%s contact=%s err=%v", userID, contact.ID, err)
		}
	}
}

// SubmitResponse records a contact's answer. A response arriving
// inside the early-exit sub-window settles the round on its own, a
// confirm files the report and a denial aborts. Later responses are
// tallied and resolved by majority when the window expires. Responses
// to resolved rounds are logged and ignored.
func (c *Coordinator) SubmitResponse(ctx context.Context, requestID, contactID string, confirmed bool) error {
	if c == nil {
		return ErrUnknownRequest
	}
	c.mu.Lock()
	request, ok := c.byID[requestID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownRequest
	}
	if request.State != StatePending {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Printf("late confirmation response ignored: request=%s contact=%s", requestID, contactID)
		}
		return nil
	}
	if request.Responded(contactID) {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Printf("duplicate confirmation response ignored: request=%s contact=%s", requestID, contactID)
		}
		return nil
	}
	now := c.clock.Now()
	request.Responses = append(request.Responses, Response{
		ContactID:  contactID,
		Confirmed:  confirmed,
		ReceivedAt: now,
	})
	earlyDecision := now.Before(request.CreatedAt.Add(c.earlyExit))
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("confirmation response: request=%s contact=%s confirmed=%t early=%t", requestID, contactID, confirmed, earlyDecision)
	}
	if earlyDecision {
		state := StateDenied
		if confirmed {
			state = StateConfirmed
		}
		c.conclude(ctx, requestID, state, false)
	}
	return nil
}

// EndEpisode clears the subject's episode after recovery, cancelling
// any pending round.
func (c *Coordinator) EndEpisode(userID string) {
	if c == nil || userID == "" {
		return
	}
	c.mu.Lock()
	wasEpisode := c.episodes[userID]
	delete(c.episodes, userID)
	request := c.active[userID]
	var requestID string
	var snapshot Request
	if request != nil && request.State == StatePending {
		request.State = StateCancelled
		request.ResolvedAt = c.clock.Now()
		requestID = request.ID
		delete(c.active, userID)
		snapshot = snapshotOf(request)
	}
	c.mu.Unlock()

	if requestID != "" {
		c.scheduler.Cancel(windowKey(requestID))
		c.scheduler.After(forgetKey(requestID), c.window, func() {
			c.forget(requestID)
		})
		metrics.IncConfirmation("recovered")
		if c.logger != nil {
			c.logger.Printf("confirmation round cancelled, subject recovered: user=%s request=%s", userID, requestID)
		}
		c.record(context.Background(), snapshot)
	} else if wasEpisode && c.logger != nil {
		c.logger.Printf("emergency episode ended: user=%s", userID)
	}
}

// ActiveRequest returns the pending round for a subject, if any.
func (c *Coordinator) ActiveRequest(userID string) *Request {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.active[userID]
	if !ok || request.State != StatePending {
		return nil
	}
	snapshot := *request
	snapshot.Responses = append([]Response(nil), request.Responses...)
	return &snapshot
}

// expire resolves the round at the end of the full window. No answer
// at all counts as a confirmed emergency; otherwise the responses that
// arrived after the early-exit sub-window decide by majority.
func (c *Coordinator) expire(requestID string) {
	c.mu.Lock()
	request, ok := c.byID[requestID]
	if !ok || request.State != StatePending {
		c.mu.Unlock()
		return
	}
	unanswered := len(request.Responses) == 0
	c.mu.Unlock()

	if unanswered {
		if c.logger != nil {
			c.logger.Printf("confirmation window expired without responses, assuming emergency: request=%s", requestID)
		}
		c.conclude(context.Background(), requestID, StateTimedOut, false)
		return
	}
	c.conclude(context.Background(), requestID, StatePending, true)
}

// conclude closes the round with a terminal state, either the given
// one or, when byMajority is set, the tallied majority. A tie goes to
// the subject's safety and counts as confirmed. The request stays
// addressable for one more window so that late responses are ignored
// rather than rejected.
func (c *Coordinator) conclude(ctx context.Context, requestID string, state RequestState, byMajority bool) {
	c.mu.Lock()
	request, ok := c.byID[requestID]
	if !ok || request.State != StatePending {
		c.mu.Unlock()
		return
	}
	confirms, denies := request.Counts()
	if byMajority {
		state = StateDenied
		if confirms >= denies {
			state = StateConfirmed
		}
	}
	request.State = state
	request.ResolvedAt = c.clock.Now()
	delete(c.active, request.UserID)
	userID := request.UserID
	minutes := request.MinutesSilent
	reportedBy := vouchersOf(request)
	snapshot := snapshotOf(request)
	c.mu.Unlock()

	c.scheduler.Cancel(windowKey(requestID))
	c.scheduler.After(forgetKey(requestID), c.window, func() {
		c.forget(requestID)
	})
	metrics.IncConfirmation(state.String())
	if c.logger != nil {
		c.logger.Printf("confirmation round resolved: user=%s request=%s state=%s confirms=%d denies=%d", userID, requestID, state, confirms, denies)
	}
	c.record(ctx, snapshot)
	switch state {
	case StateConfirmed, StateTimedOut:
		c.reporter.FileReport(ctx, userID, requestID, minutes, reportedBy)
	case StateDenied:
		if c.resolver != nil {
			c.resolver.Resolve(userID)
		}
	}
}

// record writes a terminal round to the external log.
func (c *Coordinator) record(ctx context.Context, snapshot Request) {
	if c.requests == nil {
		return
	}
	if err := c.requests.Record(ctx, snapshot); err != nil && c.logger != nil {
		c.logger.Printf("confirmation log write failed: request=%s err=%v", snapshot.ID, err)
	}
}

// forget drops a resolved round from the index once its retention
// lapses.
func (c *Coordinator) forget(requestID string) {
	c.mu.Lock()
	request, ok := c.byID[requestID]
	if ok && request.State != StatePending {
		delete(c.byID, requestID)
	}
	c.mu.Unlock()
}

// vouchersOf lists everyone who vouched for the emergency: the peer
// whose report opened the round plus the contacts who confirmed.
func vouchersOf(request *Request) []string {
	var out []string
	if request.PeerReporterID != "" {
		out = append(out, request.PeerReporterID)
	}
	return append(out, request.Confirmers()...)
}

func (c *Coordinator) markEpisode(userID string) {
	c.mu.Lock()
	c.episodes[userID] = true
	c.mu.Unlock()
}

func snapshotOf(request *Request) Request {
	snapshot := *request
	snapshot.Responses = append([]Response(nil), request.Responses...)
	snapshot.ContactIDs = append([]string(nil), request.ContactIDs...)
	return snapshot
}

func windowKey(requestID string) string {
	return "confirm-window:" + requestID
}

func forgetKey(requestID string) string {
	return "confirm-forget:" + requestID
}
