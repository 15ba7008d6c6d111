package conversation

import "strings"

// Sender tags one transcript line.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Line is one appended transcript entry. Lines are never mutated after append.
type Line struct {
	Sender Sender
	Text   string
}

// Transcript is the append-only log of one conversation, in emission order.
type Transcript struct {
	lines []Line
}

func newTranscript() *Transcript {
	return &Transcript{lines: make([]Line, 0, 16)}
}

func (t *Transcript) Append(sender Sender, text string) {
	t.lines = append(t.lines, Line{Sender: sender, Text: text})
}

// Lines returns a copy of the log.
func (t *Transcript) Lines() []Line {
	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

func (t *Transcript) Len() int { return len(t.lines) }

func (t *Transcript) reset() { t.lines = t.lines[:0] }

// Joined renders the transcript as the flat text handed to the assistant as
// history context and to the emotion service for mood classification.
func (t *Transcript) Joined() string {
	var b strings.Builder
	for i, line := range t.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch line.Sender {
		case SenderUser:
			b.WriteString("User: ")
		default:
			b.WriteString("AI Assist: ")
		}
		b.WriteString(line.Text)
	}
	return b.String()
}
