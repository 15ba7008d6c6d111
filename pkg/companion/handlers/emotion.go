package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/mw"
)

// EmotionHandler serves POST /v1/analyze-emotion: mood classification of a
// full conversation transcript.
type EmotionHandler struct {
	Emotion conversation.EmotionAnalyzer
	Logger  *slog.Logger
}

type emotionRequest struct {
	Transcript string `json:"transcript"`
}

type emotionResponse struct {
	Mood string `json:"mood"`
}

func (h EmotionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", reqID)
		return
	}

	var req emotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", reqID)
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "transcript is required", reqID)
		return
	}

	mood, err := h.Emotion.AnalyzeEmotion(r.Context(), req.Transcript)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("emotion analysis failed", "request_id", reqID, "err", err)
		}
		writeError(w, http.StatusInternalServerError, "analysis_failed", "mood analysis failed", reqID)
		return
	}

	writeJSON(w, http.StatusOK, emotionResponse{Mood: string(mood)})
}
