package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/ids"
	"lifewatch-cloud/internal/observability/metrics"
	"lifewatch-cloud/internal/sched"
)

// HeartbeatSource provides the latest liveness signal for a subject.
// A nil record means no heartbeat has ever been observed.
type HeartbeatSource interface {
	Latest(ctx context.Context, userID string) (*alerts.HeartbeatRecord, error)
}

// ActivitySource reports whether any activity was observed recently.
type ActivitySource interface {
	HasRecentActivity(ctx context.Context, userID string, within time.Duration) (bool, error)
}

// RuleStore loads the per-subject alerting rules.
type RuleStore interface {
	Rules(ctx context.Context, userID string) (alerts.SubjectRules, error)
}

// Notifier delivers a fired alert event.
type Notifier interface {
	Notify(ctx context.Context, event alerts.AlertEvent)
}

// EscalationManager tracks the per-subject escalation state machine.
type EscalationManager interface {
	Arm(userID string)
	Resolve(userID string)
}

// EmergencyCoordinator runs the confirmation protocol for emergencies.
type EmergencyCoordinator interface {
	Begin(ctx context.Context, userID string, minutesSilent float64)
	EndEpisode(userID string)
}

// EventLog persists fired alert events to an external collaborator.
type EventLog interface {
	Record(ctx context.Context, event alerts.AlertEvent) error
}

// SubjectLister enumerates the monitored subjects.
type SubjectLister interface {
	ListSubjectIDs(ctx context.Context) ([]string, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Status is a point-in-time snapshot of a subject's alert state.
type Status struct {
	UserID        string
	Known         bool
	Level         alerts.Level
	MinutesSilent float64
	EvaluatedAt   time.Time
}

// Engine classifies heartbeat silence, applies suppression, and drives
// notification, escalation, and emergency confirmation.
//
// Evaluations for one subject are strictly serialized: a second
// evaluation arriving while one is in flight is coalesced into a single
// follow-up run.
type Engine struct {
	heartbeats    HeartbeatSource
	activity      ActivitySource
	rules         RuleStore
	policy        *SuppressionPolicy
	history       *History
	notifier      Notifier
	escalations   EscalationManager
	confirmations EmergencyCoordinator
	eventLog      EventLog
	scheduler     sched.Scheduler
	clock         Clock
	logger        *log.Logger

	defaults    alerts.ThresholdSet
	multipliers alerts.ContextualMultipliers
	holidays    alerts.Holidays
	freshness   time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	pending  map[string]bool
	statuses map[string]Status
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithClock overrides the default clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMultipliers overrides the contextual multipliers.
func WithMultipliers(m alerts.ContextualMultipliers) EngineOption {
	return func(e *Engine) {
		e.multipliers = m
	}
}

// WithHolidays assigns the holiday calendar.
func WithHolidays(h alerts.Holidays) EngineOption {
	return func(e *Engine) {
		e.holidays = h
	}
}

// WithActivityFreshness sets the recent-activity window.
func WithActivityFreshness(window time.Duration) EngineOption {
	return func(e *Engine) {
		if window > 0 {
			e.freshness = window
		}
	}
}

// WithEscalations assigns the escalation manager.
func WithEscalations(m EscalationManager) EngineOption {
	return func(e *Engine) {
		e.escalations = m
	}
}

// WithConfirmations assigns the emergency coordinator.
func WithConfirmations(c EmergencyCoordinator) EngineOption {
	return func(e *Engine) {
		e.confirmations = c
	}
}

// WithEventLog assigns the external alert-event log.
func WithEventLog(store EventLog) EngineOption {
	return func(e *Engine) {
		e.eventLog = store
	}
}

// NewEngine constructs the alert engine.
func NewEngine(
	heartbeats HeartbeatSource,
	activity ActivitySource,
	rules RuleStore,
	policy *SuppressionPolicy,
	history *History,
	notifier Notifier,
	scheduler sched.Scheduler,
	defaults alerts.ThresholdSet,
	logger *log.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	if heartbeats == nil {
		return nil, errors.New("engine: nil heartbeat source")
	}
	if activity == nil {
		return nil, errors.New("engine: nil activity source")
	}
	if rules == nil {
		return nil, errors.New("engine: nil rule store")
	}
	if policy == nil {
		return nil, errors.New("engine: nil suppression policy")
	}
	if history == nil {
		return nil, errors.New("engine: nil history")
	}
	if notifier == nil {
		return nil, errors.New("engine: nil notifier")
	}
	if scheduler == nil {
		return nil, errors.New("engine: nil scheduler")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		heartbeats:  heartbeats,
		activity:    activity,
		rules:       rules,
		policy:      policy,
		history:     history,
		notifier:    notifier,
		scheduler:   scheduler,
		clock:       systemClock{},
		logger:      logger,
		defaults:    defaults,
		multipliers: alerts.DefaultMultipliers(),
		freshness:   5 * time.Minute,
		inflight:    make(map[string]bool),
		pending:     make(map[string]bool),
		statuses:    make(map[string]Status),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs one evaluation cycle for the subject. Overlapping calls
// for the same subject coalesce into a single follow-up run; the
// coalesced caller gets a nil error.
func (e *Engine) Evaluate(ctx context.Context, userID string) error {
	if e == nil {
		return errors.New("engine: nil")
	}
	if userID == "" {
		return errors.New("engine: empty user id")
	}
	if !e.begin(userID) {
		return nil
	}
	var err error
	for {
		err = e.evaluateOnce(ctx, userID)
		if !e.finishAndContinue(userID) {
			return err
		}
	}
}

// EvaluateAll evaluates every monitored subject, isolating failures so
// one subject cannot affect the others.
func (e *Engine) EvaluateAll(ctx context.Context, subjects SubjectLister) error {
	if e == nil || subjects == nil {
		return errors.New("engine: nil subject lister")
	}
	userIDs, err := subjects.ListSubjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("engine: list subjects: %w", err)
	}
	for _, userID := range userIDs {
		e.evaluateIsolated(ctx, userID)
	}
	return nil
}

func (e *Engine) evaluateIsolated(ctx context.Context, userID string) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Printf("evaluate panic: user=%s panic=%v", userID, r)
		}
	}()
	if err := e.Evaluate(ctx, userID); err != nil && e.logger != nil {
		e.logger.Printf("evaluate error: user=%s err=%v", userID, err)
	}
}

// Status returns the latest evaluation snapshot for the subject.
func (e *Engine) Status(userID string) Status {
	if e == nil {
		return Status{UserID: userID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[userID]
	if !ok {
		return Status{UserID: userID}
	}
	return status
}

// StillEmergency re-evaluates current silence without side effects. It
// backs the escalation re-check.
func (e *Engine) StillEmergency(ctx context.Context, userID string) (bool, error) {
	level, _, err := e.currentLevel(ctx, userID)
	if err != nil {
		return false, err
	}
	return level == alerts.LevelEmergency, nil
}

func (e *Engine) begin(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[userID] {
		e.pending[userID] = true
		return false
	}
	e.inflight[userID] = true
	return true
}

func (e *Engine) finishAndContinue(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[userID] {
		delete(e.pending, userID)
		return true
	}
	delete(e.inflight, userID)
	return false
}

func (e *Engine) evaluateOnce(ctx context.Context, userID string) error {
	started := e.clock.Now()

	level, minutes, err := e.currentLevel(ctx, userID)
	if err != nil {
		if errors.Is(err, alerts.ErrNoHeartbeat) {
			metrics.IncEvaluation("skipped")
			if e.logger != nil {
				e.logger.Printf("cannot evaluate: user=%s no heartbeat", userID)
			}
			return err
		}
		metrics.IncEvaluation("error")
		return err
	}

	now := e.clock.Now()
	e.setStatus(Status{
		UserID:        userID,
		Known:         true,
		Level:         level,
		MinutesSilent: minutes,
		EvaluatedAt:   now.UTC(),
	})

	if level == alerts.LevelNormal {
		if e.escalations != nil {
			e.escalations.Resolve(userID)
		}
		if e.confirmations != nil {
			e.confirmations.EndEpisode(userID)
		}
		e.scheduler.Cancel(quietReplayKey(userID))
		metrics.IncEvaluation("normal")
		return nil
	}

	rules, err := e.rules.Rules(ctx, userID)
	if err != nil {
		metrics.IncEvaluation("error")
		return fmt.Errorf("engine: load rules: %w", err)
	}

	candidate := alerts.AlertEvent{
		ID:            ids.New(),
		UserID:        userID,
		Level:         level,
		ComputedAt:    now.UTC(),
		MinutesSilent: minutes,
	}

	recent, err := e.activity.HasRecentActivity(ctx, userID, e.freshness)
	if err != nil {
		// A failed activity lookup must not block a possible emergency.
		if e.logger != nil {
			e.logger.Printf("activity lookup failed: user=%s err=%v", userID, err)
		}
		recent = false
	}

	decision := e.policy.Decide(candidate, e.history, recent, rules.QuietHours, rules.MaxAlertsPerHour, now)
	switch decision.Outcome {
	case OutcomeSuppress:
		metrics.IncAlertSuppressed(decision.Reason)
		metrics.IncEvaluation("suppressed")
		if e.logger != nil {
			e.logger.Printf("alert suppressed: user=%s level=%s reason=%s", userID, level, decision.Reason)
		}
		return nil
	case OutcomeDefer:
		metrics.IncAlertSuppressed(decision.Reason)
		metrics.IncEvaluation("deferred")
		delay := decision.ReplayAt.Sub(now)
		e.scheduler.After(quietReplayKey(userID), delay, func() {
			e.evaluateIsolated(context.Background(), userID)
		})
		if e.logger != nil {
			e.logger.Printf("alert deferred to quiet-hours end: user=%s level=%s replay_at=%s", userID, level, decision.ReplayAt.UTC().Format(time.RFC3339))
		}
		return nil
	}

	e.history.Append(candidate)
	if e.eventLog != nil {
		if err := e.eventLog.Record(ctx, candidate); err != nil && e.logger != nil {
			e.logger.Printf("event log write failed: user=%s err=%v", userID, err)
		}
	}
	metrics.IncAlertFired(level.String())
	e.notifier.Notify(ctx, candidate)

	if level == alerts.LevelEmergency {
		if e.escalations != nil {
			e.escalations.Arm(userID)
		}
		if e.confirmations != nil {
			e.confirmations.Begin(ctx, userID, minutes)
		}
	}

	metrics.IncEvaluation("fired")
	metrics.ObserveEvaluation(e.clock.Now().Sub(started).Seconds())
	return nil
}

// currentLevel computes the subject's level without side effects.
func (e *Engine) currentLevel(ctx context.Context, userID string) (alerts.Level, float64, error) {
	heartbeat, err := e.heartbeats.Latest(ctx, userID)
	if err != nil {
		return alerts.LevelNormal, 0, fmt.Errorf("engine: heartbeat lookup: %w", err)
	}
	if heartbeat == nil || heartbeat.Timestamp.IsZero() {
		return alerts.LevelNormal, 0, alerts.ErrNoHeartbeat
	}
	rules, err := e.rules.Rules(ctx, userID)
	if err != nil {
		return alerts.LevelNormal, 0, fmt.Errorf("engine: load rules: %w", err)
	}
	now := e.clock.Now()
	cal := alerts.CalendarFor(now, e.holidays)
	return Calculate(heartbeat.Timestamp, now, e.defaults, rules.Thresholds, e.multipliers, cal)
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.statuses[status.UserID] = status
	e.mu.Unlock()
}

func quietReplayKey(userID string) string {
	return "quiet-replay:" + userID
}
