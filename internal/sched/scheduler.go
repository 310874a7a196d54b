// Package sched provides cancellable deferred tasks keyed by name.
//
// Every wait in the engine (quiet-hours replay, escalation re-check,
// confirmation windows) runs through one scheduler so a resolved subject
// can cancel all of its timers by key and a stale callback never fires.
package sched

import (
	"sync"
	"time"
)

// Scheduler arms and cancels named deferred tasks.
type Scheduler interface {
	// After schedules fn to run once after delay. An existing task under
	// the same key is replaced.
	After(key string, delay time.Duration, fn func())
	// Cancel stops a pending task. It reports whether a task was pending.
	Cancel(key string) bool
}

// TimerScheduler runs tasks on real timers.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTimerScheduler constructs a timer-backed scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

// After implements Scheduler.
func (s *TimerScheduler) After(key string, delay time.Duration, fn func()) {
	if s == nil || key == "" || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if existing, ok := s.timers[key]; ok && existing != nil {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, pending := s.timers[key]
		if pending && current == timer {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		if !pending || current != timer {
			// Cancelled or replaced between firing and acquiring the lock.
			return
		}
		fn()
	})
	s.timers[key] = timer
}

// Cancel implements Scheduler.
func (s *TimerScheduler) Cancel(key string) bool {
	if s == nil || key == "" {
		return false
	}
	s.mu.Lock()
	timer, ok := s.timers[key]
	delete(s.timers, key)
	s.mu.Unlock()
	if ok && timer != nil {
		timer.Stop()
	}
	return ok
}

// Close stops every pending task.
func (s *TimerScheduler) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*time.Timer)
	s.closed = true
	s.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}
