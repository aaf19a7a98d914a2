package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Interview schedule
	MaxTurns           int
	MinTranscriptChars int
	PersonaFile        string // optional YAML overlay of extra personas

	// Judge (OpenAI-compatible chat completion endpoint)
	JudgeAPIKey      string
	JudgeBaseURL     string
	JudgeModel       string
	JudgeMaxAttempts int
	JudgeBackoff     time.Duration
	JudgeTimeout     time.Duration
	NarrativeTimeout time.Duration

	// Report archive. Empty disables archiving.
	DatabaseURL    string
	ArchiveTimeout time.Duration

	// WebSocket session
	SessionIdleTimeout time.Duration
	SessionTTL         time.Duration
	WSWriteTimeout     time.Duration
	WSPongTimeout      time.Duration
	WSPingInterval     time.Duration
	MaxMessageBytes    int64

	// In-memory limits (per client).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentSessions int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("INTERVIEWD_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("INTERVIEWD_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxTurns:            envIntOr("INTERVIEWD_MAX_TURNS", 5),
		MinTranscriptChars:  envIntOr("INTERVIEWD_MIN_TRANSCRIPT_CHARS", 10),
		PersonaFile:         envOr("INTERVIEWD_PERSONA_FILE", ""),
		JudgeAPIKey:         strings.TrimSpace(os.Getenv("INTERVIEWD_JUDGE_API_KEY")),
		JudgeBaseURL:        envOr("INTERVIEWD_JUDGE_BASE_URL", ""),
		JudgeModel:          envOr("INTERVIEWD_JUDGE_MODEL", "gpt-4o-mini"),
		JudgeMaxAttempts:    envIntOr("INTERVIEWD_JUDGE_MAX_ATTEMPTS", 3),
		JudgeBackoff:        envDurationOr("INTERVIEWD_JUDGE_BACKOFF", 300*time.Millisecond),
		JudgeTimeout:        envDurationOr("INTERVIEWD_JUDGE_TIMEOUT", 45*time.Second),
		NarrativeTimeout:    envDurationOr("INTERVIEWD_NARRATIVE_TIMEOUT", 60*time.Second),
		DatabaseURL:         strings.TrimSpace(os.Getenv("INTERVIEWD_DATABASE_URL")),
		ArchiveTimeout:      envDurationOr("INTERVIEWD_ARCHIVE_TIMEOUT", 10*time.Second),
		SessionIdleTimeout:  envDurationOr("INTERVIEWD_SESSION_IDLE_TIMEOUT", 5*time.Minute),
		SessionTTL:          envDurationOr("INTERVIEWD_SESSION_TTL", 10*time.Minute),
		WSWriteTimeout:      envDurationOr("INTERVIEWD_WS_WRITE_TIMEOUT", 10*time.Second),
		WSPongTimeout:       envDurationOr("INTERVIEWD_WS_PONG_TIMEOUT", 60*time.Second),
		WSPingInterval:      envDurationOr("INTERVIEWD_WS_PING_INTERVAL", 25*time.Second),
		MaxMessageBytes:     envInt64Or("INTERVIEWD_MAX_MESSAGE_BYTES", 8<<20), // 8 MiB
		LimitRPS:            envFloat64Or("INTERVIEWD_RATE_LIMIT_RPS", 2.0),
		LimitBurst:          envIntOr("INTERVIEWD_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentSessions: envIntOr("INTERVIEWD_MAX_CONCURRENT_SESSIONS", 4),
		ReadHeaderTimeout:          envDurationOr("INTERVIEWD_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:        envDurationOr("INTERVIEWD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("INTERVIEWD_AUTH_MODE must be one of required|disabled")
	}

	for _, key := range splitCSV(os.Getenv("INTERVIEWD_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("INTERVIEWD_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxTurns <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_MAX_TURNS must be > 0")
	}
	if cfg.MinTranscriptChars < 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_MIN_TRANSCRIPT_CHARS must be >= 0")
	}
	if cfg.JudgeAPIKey == "" {
		return Config{}, fmt.Errorf("INTERVIEWD_JUDGE_API_KEY must be set")
	}
	if cfg.JudgeMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_JUDGE_MAX_ATTEMPTS must be > 0")
	}
	if cfg.JudgeBackoff <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_JUDGE_BACKOFF must be > 0")
	}
	if cfg.JudgeTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_JUDGE_TIMEOUT must be > 0")
	}
	if cfg.NarrativeTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_NARRATIVE_TIMEOUT must be > 0")
	}
	if cfg.ArchiveTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_ARCHIVE_TIMEOUT must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_SESSION_TTL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPongTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_PONG_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSPingInterval >= cfg.WSPongTimeout {
		return Config{}, fmt.Errorf("INTERVIEWD_WS_PING_INTERVAL must be < INTERVIEWD_WS_PONG_TIMEOUT")
	}
	if cfg.MaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentSessions < 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_MAX_CONCURRENT_SESSIONS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("INTERVIEWD_API_KEYS must be set when INTERVIEWD_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
