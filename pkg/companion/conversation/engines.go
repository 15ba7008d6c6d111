package conversation

import "context"

// RecEventKind is the closed set of events a recognition handle can emit.
type RecEventKind string

const (
	RecEventStart  RecEventKind = "start"
	RecEventResult RecEventKind = "result"
	RecEventEnd    RecEventKind = "end"
	RecEventError  RecEventKind = "error"
)

// RecognitionEvent is one event from the live recognition engine. Transcript
// is the cumulative partial snapshot for result events; each snapshot
// supersedes the previous one for the current turn. Code carries the engine
// error code for error events.
type RecognitionEvent struct {
	Kind       RecEventKind
	Transcript string
	Code       string
}

// RecognitionHandle is one live instance of the recognition engine. A handle
// may be started again after it emits an end event. After Abort the handle
// must emit no further events.
type RecognitionHandle interface {
	Start() error
	Stop()
	Abort()
	Events() <-chan RecognitionEvent
}

// RecognitionEngine creates recognition handles configured for continuous,
// interim-result streaming.
type RecognitionEngine interface {
	NewHandle(ctx context.Context) (RecognitionHandle, error)
}

// Voice describes one synthesis voice offered by the platform.
type Voice struct {
	Name   string
	Lang   string
	Female bool
}

// SynthEventKind is the closed set of events the synthesis engine can emit.
type SynthEventKind string

const (
	SynthEventEnd           SynthEventKind = "end"
	SynthEventError         SynthEventKind = "error"
	SynthEventVoicesChanged SynthEventKind = "voiceschanged"
)

// SynthesisEvent is one event from the synthesis engine. UtteranceID ties
// end/error events back to the Speak call that produced them.
type SynthesisEvent struct {
	Kind        SynthEventKind
	UtteranceID string
	Code        string
	Voices      []Voice
}

// Utterance is one synthesis request.
type Utterance struct {
	ID        string
	Text      string
	VoiceName string
	Lang      string
	Pitch     float64
	Rate      float64
	Volume    float64
}

// SynthesisEngine wraps the platform voice-synthesis service. Speak is
// asynchronous; completion or failure arrives on Events.
type SynthesisEngine interface {
	Speak(utt Utterance) error
	Cancel()
	Voices() []Voice
	Events() <-chan SynthesisEvent
}
