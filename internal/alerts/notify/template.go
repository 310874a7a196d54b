package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	alerts "lifewatch-cloud/internal/alerts/domain"
)

const DefaultTemplate = `[Silence {{.LevelLabel}}]
Subject: {{.UserID}}
Silent For: {{.SilentFor}}
Level: {{.Level}}
Detected At: {{.ComputedAt}}
Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	UserID     string
	Level      string
	LevelLabel string
	SilentFor  string
	ComputedAt string
	Suggestion string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to an alert event.
func (t *Template) Render(event alerts.AlertEvent) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, buildTemplateData(event)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(event alerts.AlertEvent) TemplateData {
	return TemplateData{
		UserID:     event.UserID,
		Level:      event.Level.String(),
		LevelLabel: levelLabel(event.Level),
		SilentFor:  formatSilence(event.MinutesSilent),
		ComputedAt: event.ComputedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Suggestion: suggestionFor(event.Level),
	}
}

func levelLabel(level alerts.Level) string {
	switch level {
	case alerts.LevelWarning:
		return "Warning"
	case alerts.LevelDanger:
		return "Danger"
	case alerts.LevelEmergency:
		return "Emergency"
	default:
		return "Normal"
	}
}

func suggestionFor(level alerts.Level) string {
	switch level {
	case alerts.LevelEmergency:
		return "Contact the subject immediately and confirm their safety."
	case alerts.LevelDanger:
		return "Reach out to the subject as soon as possible."
	case alerts.LevelWarning:
		return "Check in with the subject when convenient."
	default:
		return "No action needed."
	}
}

func formatSilence(minutes float64) string {
	if minutes < 60 {
		return fmt.Sprintf("%.0f minutes", minutes)
	}
	return fmt.Sprintf("%.1f hours", minutes/60)
}
