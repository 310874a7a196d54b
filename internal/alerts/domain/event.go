package alerts

import "time"

// HeartbeatRecord is the latest liveness signal observed for a subject.
// Produced by an external collaborator; immutable once observed.
type HeartbeatRecord struct {
	UserID    string
	Timestamp time.Time
}

// AlertEvent records one fired (non-suppressed) notification attempt.
type AlertEvent struct {
	ID            string
	UserID        string
	Level         Level
	ComputedAt    time.Time
	MinutesSilent float64
}
