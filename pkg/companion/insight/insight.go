// Package insight derives per-conversation caretaker summaries.
package insight

import (
	"fmt"
	"strings"
	"time"
)

// Mood is the overall emotional classification of a conversation.
type Mood string

const (
	MoodStressed Mood = "Stressed"
	MoodAnxious  Mood = "Anxious"
	MoodNormal   Mood = "Normal"
	MoodCheerful Mood = "Cheerful"
)

// ParseMood validates a mood string returned by the emotion service.
func ParseMood(raw string) (Mood, error) {
	switch m := Mood(strings.TrimSpace(raw)); m {
	case MoodStressed, MoodAnxious, MoodNormal, MoodCheerful:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mood %q", raw)
	}
}

// Row is one caretaker insight line.
type Row struct {
	Title  string `json:"title"`
	Time   string `json:"time,omitempty"`
	Status string `json:"status"`
}

// Report is the derived summary for one finished conversation.
type Report struct {
	Rows       []Row
	Mood       Mood
	SenseIndex int
	Duration   time.Duration
}

const (
	// Conversations outside this window count against the sense index.
	normalHourStart = 6
	normalHourEnd   = 22

	// Conversations shorter than this are considered normal.
	normalDurationSeconds = 180

	senseIndexStart = 4

	// Sense index at or below this recommends human interaction.
	senseIndexConcern = 2
)

// Generate computes the four fixed insight rows for a conversation that
// started at start and ended at end, with the classified mood.
func Generate(start, end time.Time, mood Mood) Report {
	seconds := int(end.Sub(start).Round(time.Second) / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	hour := end.Hour()
	timeNormal := hour >= normalHourStart && hour < normalHourEnd
	durationNormal := seconds < normalDurationSeconds

	senseIndex := senseIndexStart
	if !timeNormal {
		senseIndex--
	}
	if mood != MoodCheerful {
		senseIndex--
	}

	interaction := "No"
	if senseIndex <= senseIndexConcern {
		interaction = "Most likely yes"
	}

	rows := []Row{
		{Title: "Time of conversation", Time: end.Format("3:04:05 PM"), Status: statusWord(timeNormal)},
		{Title: "Duration of conversation", Time: fmt.Sprintf("%d seconds", seconds), Status: statusWord(durationNormal)},
		{Title: "Your mood today", Status: string(mood)},
		{Title: "Do you need a gentle human interaction today?", Status: interaction},
	}

	return Report{
		Rows:       rows,
		Mood:       mood,
		SenseIndex: senseIndex,
		Duration:   time.Duration(seconds) * time.Second,
	}
}

func statusWord(normal bool) string {
	if normal {
		return "Normal"
	}
	return "Unusual"
}
