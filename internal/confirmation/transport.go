package confirmation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"text/template"

	subjects "lifewatch-cloud/internal/subjects/domain"
)

// ContactSender delivers a text message to one recipient. The notify
// channels satisfy this.
type ContactSender interface {
	Send(ctx context.Context, recipient, content string) error
}

const defaultAskTemplate = `Wellbeing check for {{.SubjectName}}: we have not seen a heartbeat for {{printf "%.0f" .MinutesSilent}} minutes. Please confirm or deny the emergency (request {{.RequestID}}).`

const defaultBroadcastTemplate = `Emergency confirmed for {{.SubjectName}}. A report has been filed with public services (report {{.ReportID}}). Please try to reach them.`

const defaultPeerCheckTemplate = `We have not seen a heartbeat from {{.SubjectName}} for {{printf "%.0f" .MinutesSilent}} minutes. Please check on them and file a wellbeing report if you are concerned.`

type askData struct {
	SubjectName   string
	ContactName   string
	MinutesSilent float64
	RequestID     string
}

type broadcastData struct {
	SubjectName string
	ReportID    string
}

type peerCheckData struct {
	SubjectName   string
	MinutesSilent float64
}

// ChannelTransport asks contacts for confirmation and broadcasts
// confirmed emergencies over a message channel.
type ChannelTransport struct {
	sender    ContactSender
	ask       *template.Template
	broadcast *template.Template
	peerCheck *template.Template
	logger    *log.Logger
}

// NewChannelTransport constructs a transport over the given sender.
func NewChannelTransport(sender ContactSender, logger *log.Logger) (*ChannelTransport, error) {
	if sender == nil {
		return nil, errors.New("confirmation: nil sender")
	}
	ask, err := template.New("ask").Parse(defaultAskTemplate)
	if err != nil {
		return nil, fmt.Errorf("confirmation: parse ask template: %w", err)
	}
	broadcast, err := template.New("broadcast").Parse(defaultBroadcastTemplate)
	if err != nil {
		return nil, fmt.Errorf("confirmation: parse broadcast template: %w", err)
	}
	peerCheck, err := template.New("peer-check").Parse(defaultPeerCheckTemplate)
	if err != nil {
		return nil, fmt.Errorf("confirmation: parse peer check template: %w", err)
	}
	return &ChannelTransport{sender: sender, ask: ask, broadcast: broadcast, peerCheck: peerCheck, logger: logger}, nil
}

// RequestConfirmation delivers the confirmation question to a contact.
func (t *ChannelTransport) RequestConfirmation(ctx context.Context, contact subjects.Contact, request *Request) error {
	if t == nil || t.sender == nil {
		return errors.New("confirmation: nil transport")
	}
	if request == nil {
		return errors.New("confirmation: nil request")
	}
	var buf bytes.Buffer
	err := t.ask.Execute(&buf, askData{
		SubjectName:   request.UserID,
		ContactName:   contact.Name,
		MinutesSilent: request.MinutesSilent,
		RequestID:     request.ID,
	})
	if err != nil {
		return fmt.Errorf("confirmation: render ask: %w", err)
	}
	return t.sender.Send(ctx, contact.ID, buf.String())
}

// RequestPeerCheck asks a contact to look in on the subject and file a
// wellbeing report.
func (t *ChannelTransport) RequestPeerCheck(ctx context.Context, contact subjects.Contact, userID string, minutesSilent float64) error {
	if t == nil || t.sender == nil {
		return errors.New("confirmation: nil transport")
	}
	var buf bytes.Buffer
	err := t.peerCheck.Execute(&buf, peerCheckData{
		SubjectName:   userID,
		MinutesSilent: minutesSilent,
	})
	if err != nil {
		return fmt.Errorf("confirmation: render peer check: %w", err)
	}
	return t.sender.Send(ctx, contact.ID, buf.String())
}

// BroadcastEmergency tells every contact a report was filed. Failures
// are logged and do not stop the remaining contacts.
func (t *ChannelTransport) BroadcastEmergency(ctx context.Context, subject subjects.Subject, report EmergencyReport) {
	if t == nil || t.sender == nil {
		return
	}
	var buf bytes.Buffer
	err := t.broadcast.Execute(&buf, broadcastData{
		SubjectName: subject.Name,
		ReportID:    report.ID,
	})
	if err != nil {
		if t.logger != nil {
			t.logger.Printf("broadcast render failed: user=%s err=%v", subject.ID, err)
		}
		return
	}
	for _, contact := range subject.Contacts {
		if err := t.sender.Send(ctx, contact.ID, buf.String()); err != nil && t.logger != nil {
			t.logger.Printf("broadcast failed: user=%s contact=%s err=%v", subject.ID, contact.ID, err)
		}
	}
}
