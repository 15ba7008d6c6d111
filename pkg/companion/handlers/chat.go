package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/mw"
)

// ChatHandler serves POST /v1/chat: one assistant turn against the upstream
// model.
type ChatHandler struct {
	Assistant conversation.Assistant
	Logger    *slog.Logger
}

type chatRequest struct {
	Message string `json:"message"`
	History string `json:"history"`
}

type chatResponse struct {
	Response        string `json:"response"`
	EndConversation bool   `json:"endConversation"`
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", reqID)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", reqID)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required", reqID)
		return
	}

	reply, err := h.Assistant.Chat(r.Context(), req.Message, req.History)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("chat turn failed", "request_id", reqID, "err", err)
		}
		writeError(w, http.StatusBadGateway, "upstream_error", "assistant request failed", reqID)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:        reply.Text,
		EndConversation: reply.EndConversation,
	})
}
