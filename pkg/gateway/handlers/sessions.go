package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
	"github.com/nextstep-labs/interviewd/pkg/gateway/mw"
	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/scoring"
	"github.com/nextstep-labs/interviewd/pkg/gateway/sessions"
	"github.com/nextstep-labs/interviewd/pkg/gateway/store"
)

const maxCreateBodyBytes = 64 << 10

// SessionsHandler creates interview sessions: POST /v1/sessions.
type SessionsHandler struct {
	Config    config.Config
	Registry  *sessions.Registry
	Personas  *persona.Registry
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
}

type createSessionRequest struct {
	TargetRole string `json:"targetRole"`
	UserName   string `json:"userName"`
}

type createSessionResponse struct {
	SessionID  string `json:"sessionId"`
	TargetRole string `json:"targetRole"`
	TurnCount  int    `json:"turnCount"`
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "draining", "server is shutting down")
		return
	}

	var req createSessionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	role := strings.TrimSpace(req.TargetRole)
	p, err := h.Personas.Lookup(role)
	if err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "unknown_role", "unknown target role: "+role)
		return
	}

	machine := h.Registry.Create(role, strings.TrimSpace(req.UserName), p, h.Config.MaxTurns)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createSessionResponse{
		SessionID:  machine.ID(),
		TargetRole: role,
		TurnCount:  h.Config.MaxTurns,
	})
}

// RolesHandler lists the available interviewer personas: GET /v1/roles.
type RolesHandler struct {
	Personas *persona.Registry
}

func (h RolesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Roles []string `json:"roles"`
	}{Roles: h.Personas.Roles()})
}

// ReportArchive is the read side of the report store.
type ReportArchive interface {
	GetReport(ctx context.Context, sessionID string) (store.ReportRecord, error)
	ListReports(ctx context.Context, limit int) ([]store.ReportRecord, error)
}

// ReportsHandler serves archived reports: GET /v1/reports lists the most
// recent ones, GET /v1/reports/{sessionId} fetches one. Registered only
// when the archive store is configured.
type ReportsHandler struct {
	Store  ReportArchive
	Logger *slog.Logger
}

func (h ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	if sessionID == "" {
		h.list(w, r)
		return
	}
	if strings.Contains(sessionID, "/") {
		mw.WriteJSONError(w, http.StatusNotFound, "not_found", "not found")
		return
	}

	record, err := h.Store.GetReport(r.Context(), sessionID)
	if errors.Is(err, store.ErrReportNotFound) {
		mw.WriteJSONError(w, http.StatusNotFound, "session_not_found", "no report for session")
		return
	}
	if err != nil {
		h.Logger.Error("report lookup failed", "session_id", sessionID, "error", err)
		mw.WriteJSONError(w, http.StatusInternalServerError, "internal", "report lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		SessionID     string         `json:"sessionId"`
		TargetRole    string         `json:"targetRole"`
		CandidateName string         `json:"candidateName,omitempty"`
		CreatedAt     time.Time      `json:"createdAt"`
		Report        scoring.Report `json:"report"`
	}{
		SessionID:     record.SessionID,
		TargetRole:    record.TargetRole,
		CandidateName: record.CandidateName,
		CreatedAt:     record.CreatedAt.UTC(),
		Report:        record.Report,
	})
}

type reportSummary struct {
	SessionID       string    `json:"sessionId"`
	TargetRole      string    `json:"targetRole"`
	CandidateName   string    `json:"candidateName,omitempty"`
	FinalScore      int       `json:"finalScore"`
	ContentScore    *float64  `json:"contentScore,omitempty"`
	BehavioralScore float64   `json:"behavioralScore"`
	BehavioralOnly  bool      `json:"behavioralOnly,omitempty"`
	TurnCount       int       `json:"turnCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (h ReportsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := h.Store.ListReports(r.Context(), limit)
	if err != nil {
		h.Logger.Error("report list failed", "error", err)
		mw.WriteJSONError(w, http.StatusInternalServerError, "internal", "report list failed")
		return
	}

	summaries := make([]reportSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, reportSummary{
			SessionID:       record.SessionID,
			TargetRole:      record.TargetRole,
			CandidateName:   record.CandidateName,
			FinalScore:      record.FinalScore,
			ContentScore:    record.ContentScore,
			BehavioralScore: record.BehavioralScore,
			BehavioralOnly:  record.BehavioralOnly,
			TurnCount:       record.TurnCount,
			CreatedAt:       record.CreatedAt.UTC(),
		})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Reports []reportSummary `json:"reports"`
	}{Reports: summaries})
}

// NotFoundHandler is the fallthrough route.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.WriteJSONError(w, http.StatusNotFound, "not_found", "not found")
}
