package conversation

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrSynthesisBusy is returned by speak while a previous utterance has not
// resolved. The session loop never issues overlapping speaks; the guard makes
// the single-utterance invariant explicit instead of leaving overlap
// undefined. Overlapping requests are rejected, not queued.
var ErrSynthesisBusy = errors.New("speech synthesis already in progress")

var femaleVoicePreference = []string{
	"Google US English",
	"Samantha",
	"Victoria",
	"Susan",
	"Moira",
	"Tessa",
}

const speechLang = "en-US"

type speechOutcome int

const (
	speechOutcomeNone speechOutcome = iota
	speechOutcomeCompleted
	speechOutcomeFailed
)

// speechOutput wraps the synthesis engine: deterministic voice selection,
// a one-time wait for the voices-loaded notification when the voice list is
// empty at call time, and a busy guard so only one utterance is ever pending.
type speechOutput struct {
	engine SynthesisEngine
	logger *slog.Logger

	pending   bool
	pendingID string

	// deferred holds an utterance waiting for the voiceschanged notification.
	deferred *Utterance

	counter int64
}

func newSpeechOutput(engine SynthesisEngine, logger *slog.Logger) *speechOutput {
	return &speechOutput{engine: engine, logger: logger}
}

// speak issues one utterance. If the voice list is not loaded yet, the
// utterance is held until the engine reports voiceschanged.
func (o *speechOutput) speak(text string) (string, error) {
	if o.pending {
		return "", ErrSynthesisBusy
	}

	o.counter++
	utt := Utterance{
		ID:     fmt.Sprintf("s_%d", o.counter),
		Text:   text,
		Lang:   speechLang,
		Pitch:  1.3,
		Rate:   1.0,
		Volume: 1.0,
	}

	voices := o.engine.Voices()
	if len(voices) == 0 {
		o.pending = true
		o.pendingID = utt.ID
		o.deferred = &utt
		return utt.ID, nil
	}

	utt.VoiceName = pickVoice(voices)
	if err := o.engine.Speak(utt); err != nil {
		return "", fmt.Errorf("speak: %w", err)
	}
	o.pending = true
	o.pendingID = utt.ID
	return utt.ID, nil
}

func (o *speechOutput) busy() bool { return o.pending }

// cancel stops any in-progress or deferred synthesis immediately.
func (o *speechOutput) cancel() {
	if o.pending && o.deferred == nil {
		o.engine.Cancel()
	}
	o.pending = false
	o.pendingID = ""
	o.deferred = nil
}

// handleEvent consumes one engine event and reports whether the pending
// utterance resolved. Events for utterances that are no longer pending
// (already canceled) resolve to none.
func (o *speechOutput) handleEvent(ev SynthesisEvent) speechOutcome {
	switch ev.Kind {
	case SynthEventVoicesChanged:
		if o.deferred == nil {
			return speechOutcomeNone
		}
		utt := *o.deferred
		o.deferred = nil
		voices := ev.Voices
		if len(voices) == 0 {
			voices = o.engine.Voices()
		}
		utt.VoiceName = pickVoice(voices)
		if err := o.engine.Speak(utt); err != nil {
			o.logger.Error("deferred speak failed", "utterance_id", utt.ID, "err", err)
			o.pending = false
			o.pendingID = ""
			return speechOutcomeFailed
		}
		return speechOutcomeNone
	case SynthEventEnd:
		if !o.pending || ev.UtteranceID != o.pendingID {
			return speechOutcomeNone
		}
		o.pending = false
		o.pendingID = ""
		return speechOutcomeCompleted
	case SynthEventError:
		if !o.pending || ev.UtteranceID != o.pendingID {
			return speechOutcomeNone
		}
		o.logger.Error("speech synthesis error", "utterance_id", ev.UtteranceID, "code", ev.Code)
		o.pending = false
		o.pendingID = ""
		o.deferred = nil
		return speechOutcomeFailed
	default:
		return speechOutcomeNone
	}
}

func (o *speechOutput) events() <-chan SynthesisEvent {
	return o.engine.Events()
}

// pickVoice prefers a female en-US voice from the fixed preference list and
// falls back to the engine default (empty name) when none match.
func pickVoice(voices []Voice) string {
	for _, v := range voices {
		if v.Lang != speechLang {
			continue
		}
		if v.Female {
			return v.Name
		}
		for _, name := range femaleVoicePreference {
			if v.Name == name {
				return v.Name
			}
		}
	}
	return ""
}
