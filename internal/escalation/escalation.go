package escalation

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"lifewatch-cloud/internal/observability/metrics"
	"lifewatch-cloud/internal/sched"
)

// State identifies where a subject sits in the escalation ladder.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateEscalated
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateEscalated:
		return "escalated"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Evaluator re-checks whether a subject is still in an emergency.
type Evaluator interface {
	StillEmergency(ctx context.Context, userID string) (bool, error)
}

// AdminNotifier informs operators or caretakers about an escalation step.
type AdminNotifier interface {
	NotifyEscalation(ctx context.Context, userID string, level int)
}

// ServiceReporter contacts external public services. Engaged from
// escalation level 2 upward.
type ServiceReporter interface {
	ReportToServices(ctx context.Context, userID string, level int)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Status is a snapshot of one subject's escalation record.
type Status struct {
	UserID      string
	State       State
	Level       int
	ArmedAt     time.Time
	LastStepAt  time.Time
	NextCheckAt time.Time
}

type record struct {
	state       State
	level       int
	generation  uint64
	armedAt     time.Time
	lastStepAt  time.Time
	nextCheckAt time.Time
}

// Manager drives per-subject escalation. After arming, it waits a
// delay, re-checks the subject, and either steps the level up or
// resolves. Each step repeats the cycle until the subject recovers.
type Manager struct {
	evaluator Evaluator
	admins    AdminNotifier
	services  ServiceReporter
	scheduler sched.Scheduler
	clock     Clock
	logger    *log.Logger

	delay           time.Duration
	maxLevel        int
	serviceLevelMin int

	mu      sync.Mutex
	records map[string]*record
}

// Option customizes the manager.
type Option func(*Manager)

// WithDelay sets the pause between escalation steps.
func WithDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.delay = delay
		}
	}
}

// WithMaxLevel caps the escalation ladder.
func WithMaxLevel(level int) Option {
	return func(m *Manager) {
		if level > 0 {
			m.maxLevel = level
		}
	}
}

// WithServiceReporter assigns the public-service reporter.
func WithServiceReporter(reporter ServiceReporter) Option {
	return func(m *Manager) {
		m.services = reporter
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager constructs an escalation manager.
func NewManager(evaluator Evaluator, admins AdminNotifier, scheduler sched.Scheduler, logger *log.Logger, opts ...Option) (*Manager, error) {
	if evaluator == nil {
		return nil, errors.New("escalation: nil evaluator")
	}
	if admins == nil {
		return nil, errors.New("escalation: nil admin notifier")
	}
	if scheduler == nil {
		return nil, errors.New("escalation: nil scheduler")
	}
	m := &Manager{
		evaluator:       evaluator,
		admins:          admins,
		scheduler:       scheduler,
		clock:           systemClock{},
		logger:          logger,
		delay:           time.Hour,
		maxLevel:        3,
		serviceLevelMin: 2,
		records:         make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Arm starts the escalation cycle for a subject. Arming an already
// armed or escalated subject has no effect.
func (m *Manager) Arm(userID string) {
	if m == nil || userID == "" {
		return
	}
	m.mu.Lock()
	rec, ok := m.records[userID]
	if ok && (rec.state == StateArmed || rec.state == StateEscalated) {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	rec = &record{
		state:       StateArmed,
		generation:  nextGeneration(rec),
		armedAt:     now,
		nextCheckAt: now.Add(m.delay),
	}
	m.records[userID] = rec
	generation := rec.generation
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Printf("escalation armed: user=%s delay=%s", userID, m.delay)
	}
	m.scheduler.After(checkKey(userID), m.delay, func() {
		m.step(userID, generation)
	})
}

// Resolve cancels any pending escalation for the subject.
func (m *Manager) Resolve(userID string) {
	if m == nil || userID == "" {
		return
	}
	m.mu.Lock()
	rec, ok := m.records[userID]
	if !ok || rec.state == StateIdle || rec.state == StateResolved {
		m.mu.Unlock()
		return
	}
	rec.state = StateResolved
	rec.generation++
	rec.nextCheckAt = time.Time{}
	m.mu.Unlock()

	m.scheduler.Cancel(checkKey(userID))
	if m.logger != nil {
		m.logger.Printf("escalation resolved: user=%s", userID)
	}
}

// Status reports the subject's escalation record.
func (m *Manager) Status(userID string) Status {
	if m == nil {
		return Status{UserID: userID}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return Status{UserID: userID, State: StateIdle}
	}
	return Status{
		UserID:      userID,
		State:       rec.state,
		Level:       rec.level,
		ArmedAt:     rec.armedAt,
		LastStepAt:  rec.lastStepAt,
		NextCheckAt: rec.nextCheckAt,
	}
}

// step runs one scheduled re-check. A generation mismatch means the
// record was resolved or re-armed after this check was scheduled, so
// the check is stale and must not act.
func (m *Manager) step(userID string, generation uint64) {
	m.mu.Lock()
	rec, ok := m.records[userID]
	if !ok || rec.generation != generation {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	still, err := m.evaluator.StillEmergency(ctx, userID)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("escalation re-check failed: user=%s err=%v", userID, err)
		}
		// Retry the same generation after another delay rather than
		// stepping up on unknown state.
		m.scheduler.After(checkKey(userID), m.delay, func() {
			m.step(userID, generation)
		})
		return
	}
	if !still {
		m.Resolve(userID)
		return
	}

	m.mu.Lock()
	rec, ok = m.records[userID]
	if !ok || rec.generation != generation {
		m.mu.Unlock()
		return
	}
	if rec.level < m.maxLevel {
		rec.level++
	}
	rec.state = StateEscalated
	now := m.clock.Now()
	rec.lastStepAt = now
	level := rec.level
	atCap := rec.level >= m.maxLevel
	if !atCap {
		rec.nextCheckAt = now.Add(m.delay)
	} else {
		rec.nextCheckAt = time.Time{}
	}
	m.mu.Unlock()

	metrics.IncEscalation(strconv.Itoa(level))
	if m.logger != nil {
		m.logger.Printf("escalation stepped: user=%s level=%d", userID, level)
	}
	m.admins.NotifyEscalation(ctx, userID, level)
	if m.services != nil && level >= m.serviceLevelMin {
		m.services.ReportToServices(ctx, userID, level)
	}
	if !atCap {
		m.scheduler.After(checkKey(userID), m.delay, func() {
			m.step(userID, generation)
		})
	}
}

func nextGeneration(prev *record) uint64 {
	if prev == nil {
		return 1
	}
	return prev.generation + 1
}

func checkKey(userID string) string {
	return "escalation-check:" + userID
}
