package notify

import (
	"context"
	"errors"
	"log"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/observability/metrics"
)

// FailureSink receives events whose delivery failed on every channel.
type FailureSink interface {
	Add(event alerts.AlertEvent)
}

// Attempt records the outcome of one channel delivery attempt.
type Attempt struct {
	Channel string
	OK      bool
	Detail  string
}

// Dispatcher tries an ordered channel list and stops at the first
// success. When every channel fails the event is handed to the failure
// sink instead of being dropped.
type Dispatcher struct {
	channels []Channel
	template *Template
	timeout  time.Duration
	failures FailureSink
	logger   *log.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChannelTimeout bounds each channel attempt.
func WithChannelTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithFailureSink assigns the sink for fully failed deliveries.
func WithFailureSink(sink FailureSink) DispatcherOption {
	return func(d *Dispatcher) {
		d.failures = sink
	}
}

// NewDispatcher constructs a dispatcher over the ordered channel list.
func NewDispatcher(channels []Channel, template *Template, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if len(channels) == 0 {
		return nil, errors.New("dispatcher: no channels")
	}
	for _, ch := range channels {
		if ch == nil {
			return nil, errors.New("dispatcher: nil channel")
		}
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	d := &Dispatcher{
		channels: channels,
		template: template,
		timeout:  5 * time.Second,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Notify implements the engine's Notifier contract.
func (d *Dispatcher) Notify(ctx context.Context, event alerts.AlertEvent) {
	d.Dispatch(ctx, event)
}

// Dispatch delivers the event, handing it to the failure sink when all
// channels fail. It returns the per-channel attempt outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, event alerts.AlertEvent) []Attempt {
	attempts, ok := d.Deliver(ctx, event)
	if !ok && d.failures != nil {
		d.failures.Add(event)
		metrics.IncRetryEnqueued()
	}
	return attempts
}

// Deliver tries channels strictly in priority order and stops at the
// first success. It never enqueues retries; Dispatch does.
func (d *Dispatcher) Deliver(ctx context.Context, event alerts.AlertEvent) ([]Attempt, bool) {
	if d == nil {
		return nil, false
	}
	content, err := d.template.Render(event)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("dispatch render error: user=%s err=%v", event.UserID, err)
		}
		return nil, false
	}

	attempts := make([]Attempt, 0, len(d.channels))
	for _, ch := range d.channels {
		err := d.trySend(ctx, ch, event.UserID, content)
		if err == nil {
			attempts = append(attempts, Attempt{Channel: ch.Name(), OK: true})
			metrics.IncDispatchAttempt(ch.Name(), "success")
			return attempts, true
		}
		attempts = append(attempts, Attempt{Channel: ch.Name(), OK: false, Detail: err.Error()})
		metrics.IncDispatchAttempt(ch.Name(), "error")
		if d.logger != nil {
			d.logger.Printf("dispatch channel failed: user=%s channel=%s err=%v", event.UserID, ch.Name(), err)
		}
	}
	return attempts, false
}

// trySend bounds the channel attempt; a channel that does not respond
// within the timeout counts as failed for this attempt.
func (d *Dispatcher) trySend(ctx context.Context, ch Channel, userID, content string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ch.Send(ctx, userID, content)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
