package conversation

import (
	"context"
	"time"

	"github.com/seniorsense/companion/pkg/companion/insight"
)

// HistoryEntry is the caretaker-facing summary of one finished conversation.
type HistoryEntry struct {
	SessionID  string
	StartedAt  time.Time
	EndedAt    time.Time
	Duration   time.Duration
	Transcript string
	Mood       insight.Mood
	SenseIndex int
	Insights   []insight.Row
}

// HistoryStore persists history entries outside the process, keyed by session
// id and capped at the most recent entries.
type HistoryStore interface {
	Append(ctx context.Context, entry HistoryEntry) error
}

// historyLog is the bounded in-memory log of recent conversation summaries,
// newest first.
type historyLog struct {
	limit   int
	entries []HistoryEntry
}

func newHistoryLog(limit int) *historyLog {
	return &historyLog{limit: limit, entries: make([]HistoryEntry, 0, limit)}
}

func (h *historyLog) append(entry HistoryEntry) {
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

func (h *historyLog) snapshot() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
