package notify

import (
	"context"
	"log"
	"sync"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/observability/metrics"
)

// Redeliverer re-attempts delivery of a failed event.
type Redeliverer interface {
	Deliver(ctx context.Context, event alerts.AlertEvent) ([]Attempt, bool)
}

// ErrorReporter receives events that exhausted all retry attempts.
type ErrorReporter interface {
	PermanentFailure(event alerts.AlertEvent, attempts int)
}

// RetryItem is a failed delivery waiting for redelivery.
type RetryItem struct {
	Event         alerts.AlertEvent
	Attempt       int
	MaxAttempts   int
	NextAttemptAt time.Time
	EnqueuedAt    time.Time
}

// RetryQueue redelivers failed notifications on a fixed sweep interval
// with bounded attempts and bounded size.
type RetryQueue struct {
	mu          sync.Mutex
	items       []*RetryItem
	capacity    int
	maxAttempts int
	delay       time.Duration
	interval    time.Duration
	sender      Redeliverer
	reporter    ErrorReporter
	clock       Clock
	logger      *log.Logger
}

// RetryOption configures the retry queue.
type RetryOption func(*RetryQueue)

// WithRetryClock overrides the default clock.
func WithRetryClock(clock Clock) RetryOption {
	return func(q *RetryQueue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// WithMaxAttempts sets the attempt bound.
func WithMaxAttempts(n int) RetryOption {
	return func(q *RetryQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base redelivery delay.
func WithRetryDelay(delay time.Duration) RetryOption {
	return func(q *RetryQueue) {
		if delay > 0 {
			q.delay = delay
		}
	}
}

// WithSweepInterval sets the sweep period.
func WithSweepInterval(interval time.Duration) RetryOption {
	return func(q *RetryQueue) {
		if interval > 0 {
			q.interval = interval
		}
	}
}

// WithCapacity bounds the queue size.
func WithCapacity(n int) RetryOption {
	return func(q *RetryQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithErrorReporter assigns the permanent-failure reporter.
func WithErrorReporter(reporter ErrorReporter) RetryOption {
	return func(q *RetryQueue) {
		q.reporter = reporter
	}
}

// NewRetryQueue constructs a retry queue. Bind must be called before
// the first sweep.
func NewRetryQueue(logger *log.Logger, opts ...RetryOption) *RetryQueue {
	q := &RetryQueue{
		capacity:    256,
		maxAttempts: 3,
		delay:       30 * time.Second,
		interval:    30 * time.Second,
		clock:       systemClock{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Bind assigns the redeliverer. Separate from construction because the
// dispatcher and the queue reference each other.
func (q *RetryQueue) Bind(sender Redeliverer) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.sender = sender
	q.mu.Unlock()
}

// Add enqueues a fully failed event for redelivery.
func (q *RetryQueue) Add(event alerts.AlertEvent) {
	if q == nil {
		return
	}
	now := q.clock.Now().UTC()
	item := &RetryItem{
		Event:         event,
		MaxAttempts:   q.maxAttempts,
		NextAttemptAt: now.Add(q.delay),
		EnqueuedAt:    now,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.evictLocked()
	}
	q.items = append(q.items, item)
}

// evictLocked drops the oldest non-Emergency item, or the oldest item
// when only Emergency items remain.
func (q *RetryQueue) evictLocked() {
	victim := -1
	for i, item := range q.items {
		if item.Event.Level == alerts.LevelEmergency {
			continue
		}
		if victim < 0 || item.EnqueuedAt.Before(q.items[victim].EnqueuedAt) {
			victim = i
		}
	}
	if victim < 0 {
		for i, item := range q.items {
			if victim < 0 || item.EnqueuedAt.Before(q.items[victim].EnqueuedAt) {
				victim = i
			}
		}
	}
	if victim >= 0 {
		if q.logger != nil {
			q.logger.Printf("retry queue full, evicting user=%s level=%s", q.items[victim].Event.UserID, q.items[victim].Event.Level)
		}
		q.items = append(q.items[:victim], q.items[victim+1:]...)
	}
}

// Len returns the number of queued items.
func (q *RetryQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start runs the sweep loop until the context is cancelled.
func (q *RetryQueue) Start(ctx context.Context) {
	if q == nil {
		return
	}
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Sweep redelivers every due item once.
func (q *RetryQueue) Sweep(ctx context.Context) {
	if q == nil {
		return
	}
	now := q.clock.Now().UTC()

	q.mu.Lock()
	sender := q.sender
	var due []*RetryItem
	for _, item := range q.items {
		if !item.NextAttemptAt.After(now) {
			due = append(due, item)
		}
	}
	q.mu.Unlock()
	if sender == nil || len(due) == 0 {
		return
	}

	for _, item := range due {
		_, ok := sender.Deliver(ctx, item.Event)
		if ok {
			q.remove(item)
			continue
		}
		item.Attempt++
		if item.Attempt >= item.MaxAttempts {
			q.remove(item)
			metrics.IncRetryExhausted()
			if q.logger != nil {
				q.logger.Printf("retry exhausted: user=%s level=%s attempts=%d", item.Event.UserID, item.Event.Level, item.Attempt)
			}
			if q.reporter != nil {
				q.reporter.PermanentFailure(item.Event, item.Attempt)
			}
			continue
		}
		// Linearly increasing backoff.
		item.NextAttemptAt = now.Add(q.delay * time.Duration(item.Attempt+1))
	}
}

func (q *RetryQueue) remove(target *RetryItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
