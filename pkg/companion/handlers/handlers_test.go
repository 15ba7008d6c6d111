package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/insight"
)

type stubAssistant struct {
	reply conversation.AssistantReply
	err   error
}

func (a stubAssistant) Chat(ctx context.Context, message, history string) (conversation.AssistantReply, error) {
	return a.reply, a.err
}

type stubEmotion struct {
	mood insight.Mood
	err  error
}

func (e stubEmotion) AnalyzeEmotion(ctx context.Context, transcript string) (insight.Mood, error) {
	return e.mood, e.err
}

type stubHistoryReader struct {
	entries []conversation.HistoryEntry
	err     error
}

func (s stubHistoryReader) Recent(ctx context.Context, limit int) ([]conversation.HistoryEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.entries) > limit {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func TestChatHandler(t *testing.T) {
	h := ChatHandler{Assistant: stubAssistant{
		reply: conversation.AssistantReply{Text: "Glad to hear it!", EndConversation: true},
	}}

	body := strings.NewReader(`{"message":"I feel fine","history":"AI Assist: Hello!"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Response != "Glad to hear it!" || !resp.EndConversation {
		t.Fatalf("response = %+v", resp)
	}
}

func TestChatHandlerMissingMessage(t *testing.T) {
	h := ChatHandler{Assistant: stubAssistant{}}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"history":""}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestChatHandlerMethodNotAllowed(t *testing.T) {
	h := ChatHandler{Assistant: stubAssistant{}}

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestChatHandlerUpstreamFailure(t *testing.T) {
	h := ChatHandler{Assistant: stubAssistant{err: fmt.Errorf("upstream down")}}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rr.Code)
	}
}

func TestEmotionHandler(t *testing.T) {
	h := EmotionHandler{Emotion: stubEmotion{mood: insight.MoodCheerful}}

	body := strings.NewReader(`{"transcript":"User: what a lovely day"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze-emotion", body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp emotionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Mood != "Cheerful" {
		t.Fatalf("mood = %q", resp.Mood)
	}
}

func TestEmotionHandlerMissingTranscript(t *testing.T) {
	h := EmotionHandler{Emotion: stubEmotion{mood: insight.MoodNormal}}

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze-emotion", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestEmotionHandlerAnalysisFailure(t *testing.T) {
	h := EmotionHandler{Emotion: stubEmotion{err: fmt.Errorf("invalid mood")}}

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze-emotion", strings.NewReader(`{"transcript":"User: hello"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	h := HistoryHandler{
		Store: stubHistoryReader{entries: []conversation.HistoryEntry{
			{
				SessionID:  "sess_2",
				StartedAt:  now,
				EndedAt:    now.Add(90 * time.Second),
				Duration:   90 * time.Second,
				Transcript: "User: hello",
				Mood:       insight.MoodNormal,
				SenseIndex: 3,
				Insights:   []insight.Row{{Title: "Your mood today", Status: "Normal"}},
			},
			{SessionID: "sess_1", StartedAt: now.Add(-time.Hour), EndedAt: now.Add(-time.Hour)},
		}},
		Limit: 10,
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp []historyEntryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp))
	}
	if resp[0].SessionID != "sess_2" || resp[0].DurationSeconds != 90 {
		t.Fatalf("first entry = %+v", resp[0])
	}
	if resp[1].Insights == nil {
		t.Fatalf("insights should encode as an empty array, not null")
	}
}

func TestHistoryHandlerPersistenceDisabled(t *testing.T) {
	h := HistoryHandler{}

	req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Body.String(); got != "ok\n" {
		t.Fatalf("body=%q", got)
	}
}
