// Package handlers implements the gateway's HTTP and websocket endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		ArchiveEnabled bool     `json:"archive_enabled"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.JudgeAPIKey == "" {
		issues = append(issues, "judge api key not configured")
	}
	if h.Config.MaxTurns <= 0 {
		issues = append(issues, "max_turns must be > 0")
	}
	if h.Config.SessionIdleTimeout <= 0 || h.Config.SessionTTL <= 0 {
		issues = append(issues, "session timeouts must be > 0")
	}
	if h.Config.MaxMessageBytes <= 0 {
		issues = append(issues, "max_message_bytes must be > 0")
	}

	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentSessions > 0

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		ArchiveEnabled: h.Config.DatabaseURL != "",
		LimitsEnabled:  limitsEnabled,
		Issues:         issues,
	})
}
