package subjects

import (
	"errors"
	"strings"
	"time"
)

// Contact is an emergency contact registered for a subject.
type Contact struct {
	ID      string
	Name    string
	Phone   string
	Address string
}

// Subject is a monitored person.
type Subject struct {
	ID             string
	Name           string
	Address        string
	Phone          string
	MedicalNotes   string
	ConsentToShare bool
	Contacts       []Contact
}

// Validate checks the minimal fields a subject must carry.
func (s Subject) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subjects: empty id")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("subjects: empty name")
	}
	return nil
}

// PeerReport is a wellbeing observation filed by a contact or peer.
type PeerReport struct {
	ID         string
	UserID     string
	ReporterID string
	Concerned  bool
	Note       string
	ReportedAt time.Time
}
