package conversation

import (
	"testing"
	"time"

	"github.com/seniorsense/companion/pkg/companion/insight"
)

func TestTranscriptJoined(t *testing.T) {
	tr := newTranscript()
	tr.Append(SenderAssistant, "Hello! How are you doing today?")
	tr.Append(SenderUser, "Pretty well, thank you.")
	tr.Append(SenderAssistant, "Glad to hear it.")

	want := "AI Assist: Hello! How are you doing today?\n" +
		"User: Pretty well, thank you.\n" +
		"AI Assist: Glad to hear it."
	if got := tr.Joined(); got != want {
		t.Fatalf("joined = %q, want %q", got, want)
	}

	tr.reset()
	if tr.Len() != 0 || tr.Joined() != "" {
		t.Fatalf("transcript not empty after reset")
	}
}

func TestGreeterFirstThenContinuing(t *testing.T) {
	g := NewGreeter()
	g.pick = func(int) int { return 0 }

	first := g.Greeting("Ruth")
	if first != "Hello Ruth! How are you doing today?" {
		t.Fatalf("first greeting = %q", first)
	}
	if second := g.Greeting("Ruth"); second != continuingPhrase {
		t.Fatalf("second greeting = %q, want continuing phrase", second)
	}
}

func TestHistoryLogNewestFirstAndCapped(t *testing.T) {
	log := newHistoryLog(3)
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.append(HistoryEntry{
			SessionID: string(rune('a' + i)),
			EndedAt:   base.Add(time.Duration(i) * time.Minute),
			Mood:      insight.MoodNormal,
		})
	}

	got := log.snapshot()
	if len(got) != 3 {
		t.Fatalf("log length = %d, want 3", len(got))
	}
	if got[0].SessionID != "e" || got[2].SessionID != "c" {
		t.Fatalf("order = [%s %s %s], want newest first", got[0].SessionID, got[1].SessionID, got[2].SessionID)
	}
}
