// Package config loads and validates the kiosk orchestrator's runtime
// configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in the external interface plus the
// operational defaults a production HTTP server needs.
type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	MaxBodyBytes int64

	SessionIdleTimeout    time.Duration
	SessionDuration       time.Duration
	SessionSweepInterval  time.Duration
	AnchorLead            time.Duration
	PreloadLead           time.Duration
	ShowCrossfade         time.Duration
	LateShowTolerance     time.Duration
	TTSCacheEnabled       bool
	TTSCacheDir           string
	LLMTimeout            time.Duration
	TTSTimeout            time.Duration
	CapabilityTokenSecret string
	CapabilityTokenTTL    time.Duration

	LLMBaseURL string
	TTSBaseURL string

	PersonaPrompt string

	CatalogueFile string

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

const defaultPersonaPrompt = "You are the voice of an interactive museum kiosk. Answer the visitor's question in one or two short spoken sentences, and reference nearby exhibits by name when relevant."

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// LoadFromEnv builds a Config from KIOSK_-prefixed environment variables,
// falling back to the defaults named in the external interface spec, then
// fails fast on anything structurally invalid.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("KIOSK_ADDR", ":8080"),
		AuthMode:                      AuthMode(envOr("KIOSK_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                       make(map[string]struct{}),
		MaxBodyBytes:                  envInt64Or("KIOSK_MAX_BODY_BYTES", 1<<20),
		SessionIdleTimeout:            envDurationOr("KIOSK_SESSION_IDLE_TIMEOUT_MS", 600_000*time.Millisecond),
		SessionDuration:               envDurationOr("KIOSK_SESSION_DURATION_S", 300*time.Second),
		SessionSweepInterval:          envDurationOr("KIOSK_SESSION_SWEEP_INTERVAL_MS", 60_000*time.Millisecond),
		AnchorLead:                    envDurationOr("KIOSK_ANCHOR_LEAD_MS", 1000*time.Millisecond),
		PreloadLead:                   envDurationOr("KIOSK_PRELOAD_LEAD_MS", 1500*time.Millisecond),
		ShowCrossfade:                 envDurationOr("KIOSK_SHOW_CROSSFADE_MS", 400*time.Millisecond),
		LateShowTolerance:             envDurationOr("KIOSK_LATE_SHOW_TOLERANCE_MS", 100*time.Millisecond),
		TTSCacheEnabled:               envBoolOr("KIOSK_TTS_CACHE_ENABLED", true),
		TTSCacheDir:                   envOr("KIOSK_TTS_CACHE_DIR", "./data/tts-cache"),
		LLMTimeout:                    envDurationOr("KIOSK_LLM_TIMEOUT_MS", 15_000*time.Millisecond),
		TTSTimeout:                    envDurationOr("KIOSK_TTS_TIMEOUT_MS", 10_000*time.Millisecond),
		CapabilityTokenSecret:         envOr("KIOSK_CAPABILITY_TOKEN_SECRET", ""),
		CapabilityTokenTTL:            envDurationOr("KIOSK_CAPABILITY_TOKEN_TTL_S", 300*time.Second),
		LLMBaseURL:                    envOr("KIOSK_LLM_BASE_URL", "http://localhost:9100"),
		TTSBaseURL:                    envOr("KIOSK_TTS_BASE_URL", "http://localhost:9200"),
		PersonaPrompt:                 envOr("KIOSK_PERSONA_PROMPT", defaultPersonaPrompt),
		CatalogueFile:                 envOr("KIOSK_CATALOGUE_FILE", "./data/catalogue.json"),
		ReadHeaderTimeout:             envDurationOr("KIOSK_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("KIOSK_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("KIOSK_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("KIOSK_UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("KIOSK_UPSTREAM_RESPONSE_HEADER_TIMEOUT", 10*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("KIOSK_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("KIOSK_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("KIOSK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_SESSION_IDLE_TIMEOUT_MS must be > 0")
	}
	if cfg.SessionDuration <= 0 {
		return Config{}, fmt.Errorf("KIOSK_SESSION_DURATION_S must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("KIOSK_SESSION_SWEEP_INTERVAL_MS must be > 0")
	}
	if cfg.AnchorLead < 0 {
		return Config{}, fmt.Errorf("KIOSK_ANCHOR_LEAD_MS must be >= 0")
	}
	if cfg.PreloadLead < 0 {
		return Config{}, fmt.Errorf("KIOSK_PRELOAD_LEAD_MS must be >= 0")
	}
	if cfg.ShowCrossfade <= 0 {
		return Config{}, fmt.Errorf("KIOSK_SHOW_CROSSFADE_MS must be > 0")
	}
	if cfg.LateShowTolerance < 0 {
		return Config{}, fmt.Errorf("KIOSK_LATE_SHOW_TOLERANCE_MS must be >= 0")
	}
	if strings.TrimSpace(cfg.TTSCacheDir) == "" {
		return Config{}, fmt.Errorf("KIOSK_TTS_CACHE_DIR must not be empty")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_LLM_TIMEOUT_MS must be > 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_TTS_TIMEOUT_MS must be > 0")
	}
	if cfg.CapabilityTokenTTL <= 0 {
		return Config{}, fmt.Errorf("KIOSK_CAPABILITY_TOKEN_TTL_S must be > 0")
	}
	if strings.TrimSpace(cfg.LLMBaseURL) == "" {
		return Config{}, fmt.Errorf("KIOSK_LLM_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.TTSBaseURL) == "" {
		return Config{}, fmt.Errorf("KIOSK_TTS_BASE_URL must not be empty")
	}
	if strings.TrimSpace(cfg.CatalogueFile) == "" {
		return Config{}, fmt.Errorf("KIOSK_CATALOGUE_FILE must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("KIOSK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("KIOSK_UPSTREAM_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("KIOSK_API_KEYS must be set when KIOSK_AUTH_MODE=required")
	}
	if cfg.AuthMode != AuthModeDisabled && strings.TrimSpace(cfg.CapabilityTokenSecret) == "" {
		return Config{}, fmt.Errorf("KIOSK_CAPABILITY_TOKEN_SECRET must be set when KIOSK_AUTH_MODE != disabled")
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

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	// KIOSK_*_MS / KIOSK_*_S style keys carry a bare integer rather than a
	// Go duration string; fall back to parsing as milliseconds or seconds
	// based on the suffix so spec.md's documented option names work as-is.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case strings.HasSuffix(key, "_MS"):
			return time.Duration(n) * time.Millisecond
		case strings.HasSuffix(key, "_S"):
			return time.Duration(n) * time.Second
		}
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
