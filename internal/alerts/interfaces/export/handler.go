package export

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/confirmation"
	subjects "lifewatch-cloud/internal/subjects/domain"
)

// EventSource reads the persisted alert log.
type EventSource interface {
	ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]alerts.AlertEvent, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]alerts.AlertEvent, error)
}

// SubjectSource looks up subject profiles.
type SubjectSource interface {
	Subject(ctx context.Context, userID string) (*subjects.Subject, error)
}

// ReportSource reads filed emergency reports.
type ReportSource interface {
	Latest(ctx context.Context, userID string) (*confirmation.EmergencyReport, error)
}

// Handler serves alert-history and incident exports.
type Handler struct {
	events   EventSource
	subjects SubjectSource
	reports  ReportSource
}

// NewHandler constructs an export handler.
func NewHandler(events EventSource, subjectSource SubjectSource, reports ReportSource) (*Handler, error) {
	if events == nil {
		return nil, errors.New("export handler: nil event source")
	}
	if subjectSource == nil {
		return nil, errors.New("export handler: nil subject source")
	}
	return &Handler{events: events, subjects: subjectSource, reports: reports}, nil
}

// Register wires the export routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/exports/alerts.xlsx", h.handleHistory)
	mux.HandleFunc("/api/v1/exports/incidents/", h.handleIncident)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	since := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed.UTC()
	}
	events, err := h.events.ListSince(r.Context(), since, 10000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := BuildHistoryXLSX(since, events)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.xlsx"`)
	_, _ = w.Write(payload)
}

func (h *Handler) handleIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/incidents/")
	userID := strings.TrimSuffix(rest, ".pdf")
	if userID == "" || userID == rest || strings.Contains(userID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	subject, err := h.subjects.Subject(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if subject == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var report *confirmation.EmergencyReport
	if h.reports != nil {
		report, err = h.reports.Latest(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	events, err := h.events.ListRecent(r.Context(), userID, since, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := BuildIncidentPDF(*subject, report, events)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="incident-`+userID+`.pdf"`)
	_, _ = w.Write(payload)
}
