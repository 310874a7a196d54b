package confirmation

import "time"

// RequestState tracks one confirmation round.
type RequestState int

const (
	StatePending RequestState = iota
	StateConfirmed
	StateDenied
	StateTimedOut
	StateCancelled
)

func (s RequestState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateDenied:
		return "denied"
	case StateTimedOut:
		return "timed-out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Response is one contact's answer to a confirmation request.
type Response struct {
	ContactID  string
	Confirmed  bool
	ReceivedAt time.Time
}

// Request is a confirmation round asking contacts whether a subject's
// silence is a real emergency.
type Request struct {
	ID             string
	UserID         string
	MinutesSilent  float64
	PeerReporterID string
	ContactIDs     []string
	State          RequestState
	CreatedAt      time.Time
	ExpiresAt      time.Time
	ResolvedAt     time.Time
	Responses      []Response
}

// Counts returns the confirm and deny tallies.
func (r *Request) Counts() (confirms, denies int) {
	for _, resp := range r.Responses {
		if resp.Confirmed {
			confirms++
		} else {
			denies++
		}
	}
	return confirms, denies
}

// Confirmers returns the contacts who answered that the emergency is
// real.
func (r *Request) Confirmers() []string {
	var out []string
	for _, resp := range r.Responses {
		if resp.Confirmed {
			out = append(out, resp.ContactID)
		}
	}
	return out
}

// Responded reports whether the contact already answered.
func (r *Request) Responded(contactID string) bool {
	for _, resp := range r.Responses {
		if resp.ContactID == contactID {
			return true
		}
	}
	return false
}
