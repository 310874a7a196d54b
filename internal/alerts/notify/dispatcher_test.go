package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

type stubChannel struct {
	name  string
	err   error
	calls int
	last  string
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(_ context.Context, _ string, content string) error {
	s.calls++
	s.last = content
	return s.err
}

type stubSink struct {
	events []alerts.AlertEvent
}

func (s *stubSink) Add(event alerts.AlertEvent) {
	s.events = append(s.events, event)
}

func testEvent() alerts.AlertEvent {
	return alerts.AlertEvent{
		ID:            "evt-1",
		UserID:        "user-1",
		Level:         alerts.LevelDanger,
		ComputedAt:    time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		MinutesSilent: 3000,
	}
}

func TestDispatchStopsAtFirstSuccess(t *testing.T) {
	first := &stubChannel{name: "webhook"}
	second := &stubChannel{name: "in-app"}
	dispatcher, err := NewDispatcher([]Channel{first, second}, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	attempts := dispatcher.Dispatch(context.Background(), testEvent())
	if len(attempts) != 1 || !attempts[0].OK || attempts[0].Channel != "webhook" {
		t.Fatalf("attempts = %+v", attempts)
	}
	if second.calls != 0 {
		t.Fatalf("lower-priority channel must not be tried after a success")
	}
	if first.last == "" {
		t.Fatalf("rendered content missing")
	}
}

func TestDispatchFallsThroughInOrder(t *testing.T) {
	first := &stubChannel{name: "webhook", err: errors.New("down")}
	second := &stubChannel{name: "in-app"}
	dispatcher, err := NewDispatcher([]Channel{first, second}, nil, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	attempts := dispatcher.Dispatch(context.Background(), testEvent())
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v", attempts)
	}
	if attempts[0].OK || !attempts[1].OK {
		t.Fatalf("expected first failure then success: %+v", attempts)
	}
}

func TestDispatchEnqueuesOnTotalFailure(t *testing.T) {
	broken := &stubChannel{name: "webhook", err: errors.New("down")}
	sink := &stubSink{}
	dispatcher, err := NewDispatcher([]Channel{broken}, nil, nil, WithFailureSink(sink))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	event := testEvent()
	attempts := dispatcher.Dispatch(context.Background(), event)
	if len(attempts) != 1 || attempts[0].OK {
		t.Fatalf("attempts = %+v", attempts)
	}
	if len(sink.events) != 1 || sink.events[0].ID != event.ID {
		t.Fatalf("failure sink not fed: %+v", sink.events)
	}
}

func TestDeliverNeverEnqueues(t *testing.T) {
	broken := &stubChannel{name: "webhook", err: errors.New("down")}
	sink := &stubSink{}
	dispatcher, err := NewDispatcher([]Channel{broken}, nil, nil, WithFailureSink(sink))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if _, ok := dispatcher.Deliver(context.Background(), testEvent()); ok {
		t.Fatalf("delivery should fail")
	}
	if len(sink.events) != 0 {
		t.Fatalf("Deliver must not feed the failure sink")
	}
}

type slowChannel struct {
	name string
}

func (s slowChannel) Name() string { return s.name }

func (s slowChannel) Send(ctx context.Context, _ string, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchChannelTimeout(t *testing.T) {
	fallback := &stubChannel{name: "in-app"}
	dispatcher, err := NewDispatcher([]Channel{slowChannel{name: "webhook"}, fallback}, nil, nil, WithChannelTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	attempts, ok := dispatcher.Deliver(context.Background(), testEvent())
	if !ok {
		t.Fatalf("fallback should succeed: %+v", attempts)
	}
	if len(attempts) != 2 || attempts[0].OK {
		t.Fatalf("attempts = %+v", attempts)
	}
}
