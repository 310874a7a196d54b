package alerts

import "errors"

var (
	// ErrNoHeartbeat marks a subject that cannot be evaluated because no
	// heartbeat has ever been observed. Callers must skip the subject,
	// never default it to a level.
	ErrNoHeartbeat = errors.New("alerts: no heartbeat recorded")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("alerts: not found")
)
