package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "lifewatch-cloud/internal/alerts/application"
	alerts "lifewatch-cloud/internal/alerts/domain"
	"lifewatch-cloud/internal/alerts/notify"
	"lifewatch-cloud/internal/auth"
	"lifewatch-cloud/internal/confirmation"
	"lifewatch-cloud/internal/escalation"
	"lifewatch-cloud/internal/ids"
	subjects "lifewatch-cloud/internal/subjects/domain"
)

const timeLayout = time.RFC3339

// HeartbeatRecorder stores liveness signals.
type HeartbeatRecorder interface {
	Record(ctx context.Context, record alerts.HeartbeatRecord) error
}

// ActivityRecorder stores app-interaction signals.
type ActivityRecorder interface {
	Record(ctx context.Context, userID, kind string, observedAt time.Time) error
}

// PeerReportRecorder stores wellbeing reports.
type PeerReportRecorder interface {
	Record(ctx context.Context, report subjects.PeerReport) error
}

// RuleWriter stores per-subject rules.
type RuleWriter interface {
	Upsert(ctx context.Context, userID string, rules alerts.SubjectRules) error
}

// SubjectWriter stores subject profiles.
type SubjectWriter interface {
	Upsert(ctx context.Context, subject subjects.Subject) error
}

// EventLister reads the persisted alert log.
type EventLister interface {
	ListRecent(ctx context.Context, userID string, since time.Time, limit int) ([]alerts.AlertEvent, error)
}

// NoticeDrainer hands out queued in-app notices.
type NoticeDrainer interface {
	Drain(userID string) []notify.Notice
}

// EscalationReader reports escalation state.
type EscalationReader interface {
	Status(userID string) escalation.Status
}

// Handler provides the alerting HTTP endpoints.
type Handler struct {
	engine      *alertapp.Engine
	coordinator *confirmation.Coordinator
	heartbeats  HeartbeatRecorder
	activity    ActivityRecorder
	peers       PeerReportRecorder
	rules       RuleWriter
	subjects    SubjectWriter
	events      EventLister
	notices     NoticeDrainer
	escalations EscalationReader
}

// NewHandler constructs a handler.
func NewHandler(
	engine *alertapp.Engine,
	coordinator *confirmation.Coordinator,
	heartbeats HeartbeatRecorder,
	activity ActivityRecorder,
	peers PeerReportRecorder,
	rules RuleWriter,
	subjectStore SubjectWriter,
	events EventLister,
	notices NoticeDrainer,
	escalations EscalationReader,
) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("alerts handler: nil engine")
	}
	if coordinator == nil {
		return nil, errors.New("alerts handler: nil coordinator")
	}
	if heartbeats == nil {
		return nil, errors.New("alerts handler: nil heartbeat recorder")
	}
	return &Handler{
		engine:      engine,
		coordinator: coordinator,
		heartbeats:  heartbeats,
		activity:    activity,
		peers:       peers,
		rules:       rules,
		subjects:    subjectStore,
		events:      events,
		notices:     notices,
		escalations: escalations,
	}, nil
}

// Register wires the handler's routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/heartbeats", h.handleHeartbeat)
	mux.HandleFunc("/api/v1/activity", h.handleActivity)
	mux.HandleFunc("/api/v1/peer-reports", h.handlePeerReport)
	mux.HandleFunc("/api/v1/evaluations/", h.handleEvaluation)
	mux.HandleFunc("/api/v1/subjects/", h.handleSubjects)
	mux.HandleFunc("/api/v1/confirmations/", h.handleConfirmation)
	mux.HandleFunc("/api/v1/alerts", h.handleAlerts)
	mux.HandleFunc("/api/v1/notices", h.handleNotices)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UserID    string `json:"user_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	record := alerts.HeartbeatRecord{UserID: body.UserID, Timestamp: time.Now().UTC()}
	if body.Timestamp != "" {
		parsed, err := time.Parse(timeLayout, body.Timestamp)
		if err != nil {
			http.Error(w, "timestamp must be RFC3339", http.StatusBadRequest)
			return
		}
		record.Timestamp = parsed.UTC()
	}
	if err := h.heartbeats.Record(r.Context(), record); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// A fresh heartbeat may clear an active alert right away.
	if err := h.engine.Evaluate(r.Context(), body.UserID); err != nil && !errors.Is(err, alerts.ErrNoHeartbeat) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.activity == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		UserID     string `json:"user_id"`
		Kind       string `json:"kind"`
		ObservedAt string `json:"observed_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	observedAt := time.Time{}
	if body.ObservedAt != "" {
		parsed, err := time.Parse(timeLayout, body.ObservedAt)
		if err != nil {
			http.Error(w, "observed_at must be RFC3339", http.StatusBadRequest)
			return
		}
		observedAt = parsed.UTC()
	}
	if err := h.activity.Record(r.Context(), body.UserID, body.Kind, observedAt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePeerReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.peers == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		UserID     string `json:"user_id"`
		ReporterID string `json:"reporter_id"`
		Concerned  bool   `json:"concerned"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.UserID == "" || body.ReporterID == "" {
		http.Error(w, "user_id and reporter_id are required", http.StatusBadRequest)
		return
	}
	if !auth.ActsAsContact(r.Context(), body.ReporterID) {
		http.Error(w, "contacts report as themselves", http.StatusForbidden)
		return
	}
	report := subjects.PeerReport{
		ID:         ids.New(),
		UserID:     body.UserID,
		ReporterID: body.ReporterID,
		Concerned:  body.Concerned,
		Note:       body.Note,
		ReportedAt: time.Now().UTC(),
	}
	if err := h.peers.Record(r.Context(), report); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": report.ID})
}

func (h *Handler) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/v1/evaluations/")
	if userID == "" || strings.Contains(userID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.engine.Evaluate(r.Context(), userID); err != nil {
		if errors.Is(err, alerts.ErrNoHeartbeat) {
			http.Error(w, "no heartbeat recorded", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := h.engine.Status(userID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse(status))
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/subjects/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		switch r.Method {
		case http.MethodGet:
			h.handleStatus(w, r, parts[0])
		case http.MethodPut:
			h.handleSubjectUpsert(w, r, parts[0])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "status":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStatus(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "rules":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRuleUpsert(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, userID string) {
	status := h.engine.Status(userID)
	response := statusResponse(status)
	if h.escalations != nil {
		esc := h.escalations.Status(userID)
		response["escalation_state"] = esc.State.String()
		response["escalation_level"] = esc.Level
	}
	if request := h.coordinator.ActiveRequest(userID); request != nil {
		response["confirmation_request_id"] = request.ID
		response["confirmation_expires_at"] = request.ExpiresAt.UTC().Format(timeLayout)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleSubjectUpsert(w http.ResponseWriter, r *http.Request, userID string) {
	if h.subjects == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		Name           string `json:"name"`
		Address        string `json:"address"`
		Phone          string `json:"phone"`
		MedicalNotes   string `json:"medical_notes"`
		ConsentToShare bool   `json:"consent_to_share"`
		Contacts       []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Phone   string `json:"phone"`
			Address string `json:"address"`
		} `json:"contacts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	subject := subjects.Subject{
		ID:             userID,
		Name:           body.Name,
		Address:        body.Address,
		Phone:          body.Phone,
		MedicalNotes:   body.MedicalNotes,
		ConsentToShare: body.ConsentToShare,
	}
	for _, contact := range body.Contacts {
		id := contact.ID
		if id == "" {
			id = ids.New()
		}
		subject.Contacts = append(subject.Contacts, subjects.Contact{
			ID:      id,
			Name:    contact.Name,
			Phone:   contact.Phone,
			Address: contact.Address,
		})
	}
	if err := h.subjects.Upsert(r.Context(), subject); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRuleUpsert(w http.ResponseWriter, r *http.Request, userID string) {
	if h.rules == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var body struct {
		WarningMinutes   float64 `json:"warning_minutes"`
		DangerMinutes    float64 `json:"danger_minutes"`
		EmergencyMinutes float64 `json:"emergency_minutes"`
		QuietEnabled     bool    `json:"quiet_enabled"`
		QuietStart       string  `json:"quiet_start"`
		QuietEnd         string  `json:"quiet_end"`
		MaxAlertsPerHour int     `json:"max_alerts_per_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	rules := alerts.SubjectRules{
		Thresholds: alerts.ThresholdOverride{
			WarningMinutes:   body.WarningMinutes,
			DangerMinutes:    body.DangerMinutes,
			EmergencyMinutes: body.EmergencyMinutes,
		},
		QuietHours: alerts.QuietHours{
			Enabled: body.QuietEnabled,
			Start:   body.QuietStart,
			End:     body.QuietEnd,
		},
		MaxAlertsPerHour: body.MaxAlertsPerHour,
	}
	if err := h.rules.Upsert(r.Context(), userID, rules); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/confirmations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "responses" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	requestID := parts[0]
	var body struct {
		ContactID string `json:"contact_id"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ContactID == "" {
		http.Error(w, "contact_id is required", http.StatusBadRequest)
		return
	}
	if !auth.ActsAsContact(r.Context(), body.ContactID) {
		http.Error(w, "contacts answer as themselves", http.StatusForbidden)
		return
	}
	if err := h.coordinator.SubmitResponse(r.Context(), requestID, body.ContactID, body.Confirmed); err != nil {
		if errors.Is(err, confirmation.ErrUnknownRequest) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.events == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed.UTC()
	}
	limit := 100
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	list, err := h.events.ListRecent(r.Context(), userID, since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	type eventResponse struct {
		ID            string  `json:"id"`
		UserID        string  `json:"user_id"`
		Level         string  `json:"level"`
		MinutesSilent float64 `json:"minutes_silent"`
		ComputedAt    string  `json:"computed_at"`
	}
	response := make([]eventResponse, 0, len(list))
	for _, event := range list {
		response = append(response, eventResponse{
			ID:            event.ID,
			UserID:        event.UserID,
			Level:         event.Level.String(),
			MinutesSilent: event.MinutesSilent,
			ComputedAt:    event.ComputedAt.UTC().Format(timeLayout),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleNotices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.notices == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.notices.Drain(userID))
}

func statusResponse(status alertapp.Status) map[string]any {
	response := map[string]any{
		"user_id": status.UserID,
		"known":   status.Known,
	}
	if status.Known {
		response["level"] = status.Level.String()
		response["minutes_silent"] = status.MinutesSilent
		response["evaluated_at"] = status.EvaluatedAt.UTC().Format(timeLayout)
	}
	return response
}
