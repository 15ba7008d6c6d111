package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/insight"
	"github.com/seniorsense/companion/pkg/companion/mw"
)

// HistoryReader lists persisted conversation summaries, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]conversation.HistoryEntry, error)
}

// HistoryHandler serves GET /v1/history.
type HistoryHandler struct {
	Store  HistoryReader
	Limit  int
	Logger *slog.Logger
}

type historyEntryResponse struct {
	SessionID       string        `json:"session_id"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at"`
	DurationSeconds int           `json:"duration_seconds"`
	Transcript      string        `json:"transcript"`
	Mood            string        `json:"mood,omitempty"`
	SenseIndex      int           `json:"sense_index"`
	Insights        []insight.Row `json:"insights"`
}

func (h HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", reqID)
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "persistence_disabled", "history persistence is disabled", reqID)
		return
	}

	limit := h.Limit
	if limit <= 0 {
		limit = 10
	}
	entries, err := h.Store.Recent(r.Context(), limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("list history", "request_id", reqID, "err", err)
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to list history", reqID)
		return
	}

	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		rows := e.Insights
		if rows == nil {
			rows = []insight.Row{}
		}
		out = append(out, historyEntryResponse{
			SessionID:       e.SessionID,
			StartedAt:       e.StartedAt,
			EndedAt:         e.EndedAt,
			DurationSeconds: int(e.Duration / time.Second),
			Transcript:      e.Transcript,
			Mood:            string(e.Mood),
			SenseIndex:      e.SenseIndex,
			Insights:        rows,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
