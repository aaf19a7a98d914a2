package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
	"github.com/nextstep-labs/interviewd/pkg/gateway/metrics"
	"github.com/nextstep-labs/interviewd/pkg/gateway/mw"
	"github.com/nextstep-labs/interviewd/pkg/gateway/ratelimit"
	"github.com/nextstep-labs/interviewd/pkg/gateway/session"
	"github.com/nextstep-labs/interviewd/pkg/gateway/sessions"
)

// InterviewHandler runs interview sessions over /ws/interview/{sessionId}.
// The session must exist before the upgrade; unknown ids are rejected with
// a plain HTTP error so clients never hold a doomed connection.
type InterviewHandler struct {
	Config    config.Config
	Registry  *sessions.Registry
	Judge     judge.Judge
	Archive   session.Archiver
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Limiter   *ratelimit.Limiter
}

func (h InterviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		mw.WriteJSONError(w, http.StatusServiceUnavailable, "draining", "server is shutting down")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/interview/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "session id is required")
		return
	}
	if !h.originAllowed(r) {
		mw.WriteJSONError(w, http.StatusForbidden, "forbidden", "origin is not allowed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	machine, detach, err := h.Registry.Attach(sessionID, cancel)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			mw.WriteJSONError(w, http.StatusNotFound, "session_not_found", "unknown session id")
		case errors.Is(err, sessions.ErrSessionBusy):
			mw.WriteJSONError(w, http.StatusConflict, "session_busy", "session already has a connection")
		case errors.Is(err, sessions.ErrSessionFinalized):
			mw.WriteJSONError(w, http.StatusConflict, "session_finalized", "session already delivered its report")
		default:
			mw.WriteJSONError(w, http.StatusInternalServerError, "internal", "could not attach session")
		}
		return
	}
	defer detach()

	var permit *ratelimit.Permit
	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession(mw.ClientKey(r), time.Now())
		if !dec.Allowed {
			mw.WriteJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many concurrent interviews")
			return
		}
		permit = dec.Permit
	}
	if permit != nil {
		defer permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	runner := session.NewRunner(machine, conn, h.Judge, h.Archive, h.Metrics, h.Logger, session.Config{
		IdleTimeout:      h.Config.SessionIdleTimeout,
		WriteTimeout:     h.Config.WSWriteTimeout,
		PongTimeout:      h.Config.WSPongTimeout,
		PingInterval:     h.Config.WSPingInterval,
		JudgmentTimeout:  h.Config.JudgeTimeout,
		NarrativeTimeout: h.Config.NarrativeTimeout,
		ArchiveTimeout:   h.Config.ArchiveTimeout,
		MaxMessageBytes:  h.Config.MaxMessageBytes,
	})
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		h.Logger.Debug("session runner exited",
			"session_id", sessionID,
			"error", err)
	}
}

func (h InterviewHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients.
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}
