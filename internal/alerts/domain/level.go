package alerts

import "fmt"

// Level classifies how long a subject has been silent.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelDanger
	LevelEmergency
)

// String returns the wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelDanger:
		return "danger"
	case LevelEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// AtLeast reports whether l is as severe as target.
func (l Level) AtLeast(target Level) bool {
	return l >= target
}

// ParseLevel converts a wire name back to a Level.
func ParseLevel(value string) (Level, error) {
	switch value {
	case "normal":
		return LevelNormal, nil
	case "warning":
		return LevelWarning, nil
	case "danger":
		return LevelDanger, nil
	case "emergency":
		return LevelEmergency, nil
	default:
		return LevelNormal, fmt.Errorf("alerts: unknown level %q", value)
	}
}
