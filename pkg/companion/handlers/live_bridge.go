package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/live/protocol"
)

// wsRecognitionEngine bridges the client's recognition engine over the wire.
// Each handle maps to one engine instance on the client; instance commands
// carry the handle id so events from a replaced instance can be discarded.
type wsRecognitionEngine struct {
	conn *liveConn

	mu      sync.Mutex
	seq     int
	current *wsRecognitionHandle
}

func newWSRecognitionEngine(conn *liveConn) *wsRecognitionEngine {
	return &wsRecognitionEngine{conn: conn}
}

func (e *wsRecognitionEngine) NewHandle(ctx context.Context) (conversation.RecognitionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	h := &wsRecognitionHandle{
		id:     fmt.Sprintf("h_%d", e.seq),
		conn:   e.conn,
		events: make(chan conversation.RecognitionEvent, 64),
	}
	e.current = h
	return h, nil
}

// dispatch routes one client recognition event to the live handle. Events
// tagged with a stale or aborted handle id are dropped.
func (e *wsRecognitionEngine) dispatch(msg protocol.ClientRecognitionEvent) {
	e.mu.Lock()
	h := e.current
	e.mu.Unlock()
	if h == nil || h.id != msg.HandleID || h.isClosed() {
		return
	}

	var kind conversation.RecEventKind
	switch msg.Kind {
	case protocol.RecognitionKindStart:
		kind = conversation.RecEventStart
	case protocol.RecognitionKindResult:
		kind = conversation.RecEventResult
	case protocol.RecognitionKindEnd:
		kind = conversation.RecEventEnd
	case protocol.RecognitionKindError:
		kind = conversation.RecEventError
	default:
		return
	}

	ev := conversation.RecognitionEvent{Kind: kind, Transcript: msg.Transcript, Code: msg.Code}
	select {
	case h.events <- ev:
	default:
		// The session loop is not draining; drop rather than stall the reader.
	}
}

type wsRecognitionHandle struct {
	id     string
	conn   *liveConn
	events chan conversation.RecognitionEvent

	mu     sync.Mutex
	closed bool
}

func (h *wsRecognitionHandle) Start() error {
	if h.isClosed() {
		return fmt.Errorf("recognition handle %s is closed", h.id)
	}
	return h.conn.send(protocol.ServerListen{Type: "listen_start", HandleID: h.id})
}

func (h *wsRecognitionHandle) Stop() {
	if h.isClosed() {
		return
	}
	_ = h.conn.send(protocol.ServerListen{Type: "listen_stop", HandleID: h.id})
}

func (h *wsRecognitionHandle) Abort() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	_ = h.conn.send(protocol.ServerListen{Type: "listen_abort", HandleID: h.id})
}

func (h *wsRecognitionHandle) Events() <-chan conversation.RecognitionEvent {
	return h.events
}

func (h *wsRecognitionHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// wsSynthesisEngine bridges the client's synthesis engine over the wire. The
// voice list starts from the hello frame and is refreshed by voiceschanged
// events.
type wsSynthesisEngine struct {
	conn   *liveConn
	events chan conversation.SynthesisEvent

	mu     sync.Mutex
	voices []conversation.Voice
}

func newWSSynthesisEngine(conn *liveConn, voices []protocol.VoiceInfo) *wsSynthesisEngine {
	return &wsSynthesisEngine{
		conn:   conn,
		events: make(chan conversation.SynthesisEvent, 16),
		voices: voicesFromProtocol(voices),
	}
}

func (e *wsSynthesisEngine) Speak(utt conversation.Utterance) error {
	return e.conn.send(protocol.ServerSpeak{
		Type:        "speak",
		UtteranceID: utt.ID,
		Text:        utt.Text,
		VoiceName:   utt.VoiceName,
		Lang:        utt.Lang,
		Pitch:       utt.Pitch,
		Rate:        utt.Rate,
		Volume:      utt.Volume,
	})
}

func (e *wsSynthesisEngine) Cancel() {
	_ = e.conn.send(protocol.ServerSynthesisCancel{Type: "synthesis_cancel"})
}

func (e *wsSynthesisEngine) Voices() []conversation.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]conversation.Voice, len(e.voices))
	copy(out, e.voices)
	return out
}

func (e *wsSynthesisEngine) Events() <-chan conversation.SynthesisEvent {
	return e.events
}

func (e *wsSynthesisEngine) dispatch(msg protocol.ClientSynthesisEvent) {
	var kind conversation.SynthEventKind
	switch msg.Kind {
	case protocol.SynthesisKindEnd:
		kind = conversation.SynthEventEnd
	case protocol.SynthesisKindError:
		kind = conversation.SynthEventError
	case protocol.SynthesisKindVoicesChanged:
		kind = conversation.SynthEventVoicesChanged
		e.mu.Lock()
		e.voices = voicesFromProtocol(msg.Voices)
		e.mu.Unlock()
	default:
		return
	}

	ev := conversation.SynthesisEvent{
		Kind:        kind,
		UtteranceID: msg.UtteranceID,
		Code:        msg.Code,
		Voices:      voicesFromProtocol(msg.Voices),
	}
	select {
	case e.events <- ev:
	default:
	}
}

func voicesFromProtocol(in []protocol.VoiceInfo) []conversation.Voice {
	out := make([]conversation.Voice, 0, len(in))
	for _, v := range in {
		out = append(out, conversation.Voice{Name: v.Name, Lang: v.Lang, Female: v.Female})
	}
	return out
}

// liveNotifier streams session observations to the client as server frames.
type liveNotifier struct {
	conn *liveConn
}

func (n *liveNotifier) Status(status conversation.Status) {
	_ = n.conn.send(protocol.ServerState{Type: "state", Status: string(status)})
}

func (n *liveNotifier) Transcript(text string) {
	_ = n.conn.send(protocol.ServerTranscript{Type: "transcript", Text: text})
}

func (n *liveNotifier) Insight(entry conversation.HistoryEntry) {
	_ = n.conn.send(protocol.ServerInsight{
		Type:            "insight",
		SessionID:       entry.SessionID,
		SenseIndex:      entry.SenseIndex,
		DurationSeconds: int(entry.Duration / time.Second),
		Mood:            string(entry.Mood),
		Rows:            rowsToProtocol(entry),
	})
}

func (n *liveNotifier) History(entries []conversation.HistoryEntry) {
	out := make([]protocol.HistoryEntryInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.HistoryEntryInfo{
			SessionID:       e.SessionID,
			StartedAt:       e.StartedAt.Format(time.RFC3339),
			EndedAt:         e.EndedAt.Format(time.RFC3339),
			DurationSeconds: int(e.Duration / time.Second),
			Mood:            string(e.Mood),
			SenseIndex:      e.SenseIndex,
			Rows:            rowsToProtocol(e),
		})
	}
	_ = n.conn.send(protocol.ServerHistory{Type: "history", Entries: out})
}

func (n *liveNotifier) Warning(code, message string) {
	_ = n.conn.send(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func rowsToProtocol(entry conversation.HistoryEntry) []protocol.InsightRow {
	rows := make([]protocol.InsightRow, 0, len(entry.Insights))
	for _, row := range entry.Insights {
		rows = append(rows, protocol.InsightRow{Title: row.Title, Time: row.Time, Status: row.Status})
	}
	return rows
}
