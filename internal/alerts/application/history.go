package application

import (
	"sync"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

// History is the bounded-lifetime record of fired alert events used by
// suppression and rate limiting. Expired entries are purged lazily on
// each access; nothing depends on wall-clock timer firing.
type History struct {
	mu        sync.Mutex
	events    map[string][]alerts.AlertEvent
	retention time.Duration
}

// NewHistory constructs a history with the given retention window.
func NewHistory(retention time.Duration) *History {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &History{
		events:    make(map[string][]alerts.AlertEvent),
		retention: retention,
	}
}

// Append records a fired event.
func (h *History) Append(event alerts.AlertEvent) {
	if h == nil || event.UserID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked(event.UserID, event.ComputedAt)
	h.events[event.UserID] = append(h.events[event.UserID], event)
}

// Recent returns the retained events for a subject, purging expired
// entries first.
func (h *History) Recent(userID string, now time.Time) []alerts.AlertEvent {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked(userID, now)
	list := h.events[userID]
	out := make([]alerts.AlertEvent, len(list))
	copy(out, list)
	return out
}

// LastSameLevel returns when the most recent event of the given level
// fired for the subject.
func (h *History) LastSameLevel(userID string, level alerts.Level, now time.Time) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked(userID, now)
	var last time.Time
	found := false
	for _, event := range h.events[userID] {
		if event.Level != level {
			continue
		}
		if !found || event.ComputedAt.After(last) {
			last = event.ComputedAt
			found = true
		}
	}
	return last, found
}

// CountSince counts events for the subject at or after the cutoff.
func (h *History) CountSince(userID string, cutoff, now time.Time) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked(userID, now)
	count := 0
	for _, event := range h.events[userID] {
		if !event.ComputedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

func (h *History) purgeLocked(userID string, now time.Time) {
	list := h.events[userID]
	if len(list) == 0 {
		return
	}
	cutoff := now.Add(-h.retention)
	kept := list[:0]
	for _, event := range list {
		if event.ComputedAt.After(cutoff) {
			kept = append(kept, event)
		}
	}
	if len(kept) == 0 {
		delete(h.events, userID)
		return
	}
	h.events[userID] = kept
}
