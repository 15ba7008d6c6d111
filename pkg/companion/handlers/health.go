// Package handlers contains the HTTP and WebSocket handlers for the
// companion gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/seniorsense/companion/pkg/companion/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		UpstreamMode  string   `json:"upstream_mode"`
		PersistenceOn bool     `json:"persistence_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.DebounceWindow <= 0 {
		issues = append(issues, "debounce window must be > 0")
	}
	if h.Config.TurnTimeout <= 0 {
		issues = append(issues, "turn timeout must be > 0")
	}
	if h.Config.HistoryLimit <= 0 {
		issues = append(issues, "history limit must be > 0")
	}
	if h.Config.AssistantBaseURL == "" && h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "no assistant upstream configured")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	mode := "openai"
	if h.Config.AssistantBaseURL != "" {
		mode = "external"
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:            ok,
		UpstreamMode:  mode,
		PersistenceOn: h.Config.DBPath != "",
		Issues:        issues,
	})
}
