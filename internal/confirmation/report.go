package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lifewatch-cloud/internal/ids"
	"lifewatch-cloud/internal/observability/metrics"
	subjects "lifewatch-cloud/internal/subjects/domain"
)

// Service names for the public desks a confirmed emergency reaches.
const (
	ServiceMedical        = "medical"
	ServicePolice         = "police"
	ServiceAdministrative = "administrative"
)

// EmergencyReport is the record handed to public services once an
// emergency is confirmed.
type EmergencyReport struct {
	ID                string
	RequestID         string
	UserID            string
	SubjectName       string
	Address           string
	Phone             string
	MedicalNotes      string
	MinutesSilent     float64
	EmergencyContacts []subjects.Contact
	ReportedBy        []string
	FiledAt           time.Time
}

// ServiceDesk is one public service endpoint.
type ServiceDesk interface {
	Name() string
	Submit(ctx context.Context, report EmergencyReport) error
}

// Broadcaster informs a subject's contacts that an emergency was
// confirmed and a report filed.
type Broadcaster interface {
	BroadcastEmergency(ctx context.Context, subject subjects.Subject, report EmergencyReport)
}

// ReportLog persists filed reports to an external collaborator.
type ReportLog interface {
	Record(ctx context.Context, report EmergencyReport) error
}

// Reporter builds emergency reports and files them with every
// configured service desk. A failure at one desk never stops the
// others.
//
// The subject's consent gates what the report carries. Without
// consent the report holds identity and address only, never medical
// notes.
type Reporter struct {
	directory   SubjectDirectory
	desks       []ServiceDesk
	broadcaster Broadcaster
	reports     ReportLog
	clock       Clock
	logger      *log.Logger
}

// ReporterOption customizes the reporter.
type ReporterOption func(*Reporter)

// WithBroadcaster assigns the contact broadcaster.
func WithBroadcaster(b Broadcaster) ReporterOption {
	return func(r *Reporter) {
		r.broadcaster = b
	}
}

// WithReportLog assigns the external report log.
func WithReportLog(store ReportLog) ReporterOption {
	return func(r *Reporter) {
		r.reports = store
	}
}

// WithReporterClock overrides the default clock.
func WithReporterClock(clock Clock) ReporterOption {
	return func(r *Reporter) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReporter constructs an emergency reporter.
func NewReporter(directory SubjectDirectory, desks []ServiceDesk, logger *log.Logger, opts ...ReporterOption) (*Reporter, error) {
	if directory == nil {
		return nil, errors.New("confirmation: nil subject directory")
	}
	if len(desks) == 0 {
		return nil, errors.New("confirmation: no service desks")
	}
	r := &Reporter{
		directory: directory,
		desks:     desks,
		clock:     systemClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FileReport builds and files the report for a confirmed emergency.
// reportedBy names the peers and contacts who vouched for it.
func (r *Reporter) FileReport(ctx context.Context, userID, requestID string, minutesSilent float64, reportedBy []string) {
	if r == nil {
		return
	}
	subject, err := r.directory.Subject(ctx, userID)
	if err != nil || subject == nil {
		if r.logger != nil {
			r.logger.Printf("report subject lookup failed: user=%s err=%v", userID, err)
		}
		return
	}

	report := r.build(*subject, requestID, minutesSilent, reportedBy)
	if !subject.ConsentToShare && r.logger != nil {
		r.logger.Printf("filing report without medical details, no consent: user=%s", userID)
	}
	if r.reports != nil {
		if err := r.reports.Record(ctx, report); err != nil && r.logger != nil {
			r.logger.Printf("report log write failed: report=%s err=%v", report.ID, err)
		}
	}

	for _, desk := range r.desks {
		if err := desk.Submit(ctx, report); err != nil {
			metrics.IncServiceReport(desk.Name(), "error")
			if r.logger != nil {
				r.logger.Printf("service report failed: service=%s user=%s err=%v", desk.Name(), userID, err)
			}
			continue
		}
		metrics.IncServiceReport(desk.Name(), "ok")
		if r.logger != nil {
			r.logger.Printf("service report filed: service=%s user=%s report=%s", desk.Name(), userID, report.ID)
		}
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastEmergency(ctx, *subject, report)
	}
}

// ReportToServices re-files the subject's report at an escalation step.
func (r *Reporter) ReportToServices(ctx context.Context, userID string, level int) {
	if r == nil {
		return
	}
	if r.logger != nil {
		r.logger.Printf("re-filing report at escalation step: user=%s level=%d", userID, level)
	}
	r.FileReport(ctx, userID, fmt.Sprintf("escalation-%d", level), 0, nil)
}

func (r *Reporter) build(subject subjects.Subject, requestID string, minutesSilent float64, reportedBy []string) EmergencyReport {
	report := EmergencyReport{
		ID:                ids.New(),
		RequestID:         requestID,
		UserID:            subject.ID,
		SubjectName:       subject.Name,
		Address:           subject.Address,
		Phone:             subject.Phone,
		MinutesSilent:     minutesSilent,
		EmergencyContacts: append([]subjects.Contact(nil), subject.Contacts...),
		ReportedBy:        append([]string(nil), reportedBy...),
		FiledAt:           r.clock.Now(),
	}
	if subject.ConsentToShare {
		report.MedicalNotes = subject.MedicalNotes
	}
	return report
}
