package confirmation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
)

// WebhookDesk files reports with a public service over HTTP.
type WebhookDesk struct {
	name   string
	url    string
	client *http.Client
}

// WebhookDeskOption customizes a desk.
type WebhookDeskOption func(*WebhookDesk)

// WithDeskClient overrides the HTTP client.
func WithDeskClient(client *http.Client) WebhookDeskOption {
	return func(d *WebhookDesk) {
		if client != nil {
			d.client = client
		}
	}
}

// NewWebhookDesk constructs a desk posting to the given endpoint.
func NewWebhookDesk(name, url string, opts ...WebhookDeskOption) (*WebhookDesk, error) {
	if name == "" {
		return nil, errors.New("confirmation: empty desk name")
	}
	if url == "" {
		return nil, errors.New("confirmation: empty desk url")
	}
	d := &WebhookDesk{name: name, url: url, client: http.DefaultClient}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name returns the service name.
func (d *WebhookDesk) Name() string { return d.name }

// Submit posts the report as JSON.
func (d *WebhookDesk) Submit(ctx context.Context, report EmergencyReport) error {
	if d == nil || d.client == nil {
		return errors.New("confirmation: nil desk")
	}
	contacts := make([]map[string]string, 0, len(report.EmergencyContacts))
	for _, contact := range report.EmergencyContacts {
		contacts = append(contacts, map[string]string{
			"id":    contact.ID,
			"name":  contact.Name,
			"phone": contact.Phone,
		})
	}
	payload := map[string]any{
		"report_id":          report.ID,
		"request_id":         report.RequestID,
		"user_id":            report.UserID,
		"subject_name":       report.SubjectName,
		"address":            report.Address,
		"phone":              report.Phone,
		"medical_notes":      report.MedicalNotes,
		"minutes_silent":     report.MinutesSilent,
		"emergency_contacts": contacts,
		"reported_by":        report.ReportedBy,
		"filed_at":           report.FiledAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("confirmation: desk %s returned status %d", d.name, resp.StatusCode)
	}
	return nil
}

// LogDesk writes reports to the process log. Used when a real service
// endpoint is not configured.
type LogDesk struct {
	name   string
	logger *log.Logger
}

// NewLogDesk constructs a log-backed desk.
func NewLogDesk(name string, logger *log.Logger) (*LogDesk, error) {
	if name == "" {
		return nil, errors.New("confirmation: empty desk name")
	}
	if logger == nil {
		return nil, errors.New("confirmation: nil logger")
	}
	return &LogDesk{name: name, logger: logger}, nil
}

// Name returns the service name.
func (d *LogDesk) Name() string { return d.name }

// Submit logs the report.
func (d *LogDesk) Submit(_ context.Context, report EmergencyReport) error {
	if d == nil || d.logger == nil {
		return errors.New("confirmation: nil desk")
	}
	d.logger.Printf("emergency report: service=%s report=%s user=%s subject=%q minutes_silent=%.0f",
		d.name, report.ID, report.UserID, report.SubjectName, report.MinutesSilent)
	return nil
}
