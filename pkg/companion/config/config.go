// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// User-facing identity spliced into greetings.
	UserName string

	// Conversation orchestration.
	DebounceWindow time.Duration
	TurnTimeout    time.Duration
	InsightTimeout time.Duration
	HistoryLimit   int

	// OpenAI upstream for the chat and emotion endpoints.
	OpenAIAPIKey string
	ChatModel    string
	EmotionModel string

	// AssistantBaseURL, when set, points the conversation loop at an external
	// assistant service instead of the built-in OpenAI handlers.
	AssistantBaseURL string
	AssistantAPIKey  string

	// SQLite history database. Empty disables persistence.
	DBPath string

	// CORS allowlist; empty disables CORS.
	CORSAllowedOrigins map[string]struct{}

	// Live WebSocket limits.
	LiveHandshakeTimeout    time.Duration
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveMaxJSONMessageBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("COMPANION_ADDR", ":8080"),
		UserName:                strings.TrimSpace(os.Getenv("COMPANION_USER_NAME")),
		DebounceWindow:          envDurationOr("COMPANION_DEBOUNCE_WINDOW", 1500*time.Millisecond),
		TurnTimeout:             envDurationOr("COMPANION_TURN_TIMEOUT", 30*time.Second),
		InsightTimeout:          envDurationOr("COMPANION_INSIGHT_TIMEOUT", 15*time.Second),
		HistoryLimit:            envIntOr("COMPANION_HISTORY_LIMIT", 10),
		OpenAIAPIKey:            strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		ChatModel:               envOr("COMPANION_CHAT_MODEL", "gpt-4o-2024-08-06"),
		EmotionModel:            envOr("COMPANION_EMOTION_MODEL", "gpt-3.5-turbo"),
		AssistantBaseURL:        strings.TrimSpace(os.Getenv("COMPANION_ASSISTANT_BASE_URL")),
		AssistantAPIKey:         strings.TrimSpace(os.Getenv("COMPANION_ASSISTANT_API_KEY")),
		DBPath:                  envOr("COMPANION_DB_PATH", "companion.db"),
		CORSAllowedOrigins:      make(map[string]struct{}),
		LiveHandshakeTimeout:    envDurationOr("COMPANION_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveWSPingInterval:      envDurationOr("COMPANION_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("COMPANION_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveMaxJSONMessageBytes: envInt64Or("COMPANION_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		ReadHeaderTimeout:       envDurationOr("COMPANION_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("COMPANION_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("COMPANION_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		MetricsNamespace:        envOr("COMPANION_METRICS_NAMESPACE", "companion"),
	}

	for _, origin := range splitCSV(os.Getenv("COMPANION_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.DebounceWindow <= 0 {
		return Config{}, fmt.Errorf("COMPANION_DEBOUNCE_WINDOW must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_TURN_TIMEOUT must be > 0")
	}
	if cfg.InsightTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_INSIGHT_TIMEOUT must be > 0")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("COMPANION_HISTORY_LIMIT must be > 0")
	}
	if cfg.AssistantBaseURL == "" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set when COMPANION_ASSISTANT_BASE_URL is not")
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return Config{}, fmt.Errorf("COMPANION_CHAT_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.EmotionModel) == "" {
		return Config{}, fmt.Errorf("COMPANION_EMOTION_MODEL must not be empty")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("COMPANION_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("COMPANION_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("COMPANION_SHUTDOWN_GRACE_PERIOD must be > 0")
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
