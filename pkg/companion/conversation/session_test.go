package conversation

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seniorsense/companion/pkg/companion/insight"
)

// --- fakes ---

type fakeRecHandle struct {
	mu           sync.Mutex
	starts       int
	stops        int
	aborts       int
	stopEmitsEnd bool
	events       chan RecognitionEvent
}

func (h *fakeRecHandle) Start() error {
	h.mu.Lock()
	h.starts++
	h.mu.Unlock()
	h.events <- RecognitionEvent{Kind: RecEventStart}
	return nil
}

func (h *fakeRecHandle) Stop() {
	h.mu.Lock()
	h.stops++
	emit := h.stopEmitsEnd
	h.mu.Unlock()
	if emit {
		h.events <- RecognitionEvent{Kind: RecEventEnd}
	}
}

func (h *fakeRecHandle) Abort() {
	h.mu.Lock()
	h.aborts++
	h.mu.Unlock()
}

func (h *fakeRecHandle) Events() <-chan RecognitionEvent { return h.events }

func (h *fakeRecHandle) emit(ev RecognitionEvent) { h.events <- ev }

func (h *fakeRecHandle) aborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborts > 0
}

type fakeRecEngine struct {
	mu           sync.Mutex
	stopEmitsEnd bool
	newErr       error
	handles      []*fakeRecHandle
}

func (e *fakeRecEngine) NewHandle(ctx context.Context) (RecognitionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	h := &fakeRecHandle{stopEmitsEnd: e.stopEmitsEnd, events: make(chan RecognitionEvent, 64)}
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeRecEngine) handle(i int) *fakeRecHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[i]
}

func (e *fakeRecEngine) numHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

func (e *fakeRecEngine) setNewErr(err error) {
	e.mu.Lock()
	e.newErr = err
	e.mu.Unlock()
}

type fakeSynthEngine struct {
	mu       sync.Mutex
	voices   []Voice
	utts     []Utterance
	cancels  int
	speakErr error
	autoEnd  bool
	events   chan SynthesisEvent
}

func newFakeSynthEngine(autoEnd bool, voices ...Voice) *fakeSynthEngine {
	return &fakeSynthEngine{autoEnd: autoEnd, voices: voices, events: make(chan SynthesisEvent, 64)}
}

func (f *fakeSynthEngine) Speak(utt Utterance) error {
	f.mu.Lock()
	if f.speakErr != nil {
		err := f.speakErr
		f.mu.Unlock()
		return err
	}
	f.utts = append(f.utts, utt)
	auto := f.autoEnd
	f.mu.Unlock()
	if auto {
		f.events <- SynthesisEvent{Kind: SynthEventEnd, UtteranceID: utt.ID}
	}
	return nil
}

func (f *fakeSynthEngine) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeSynthEngine) Voices() []Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices
}

func (f *fakeSynthEngine) Events() <-chan SynthesisEvent { return f.events }

func (f *fakeSynthEngine) emit(ev SynthesisEvent) { f.events <- ev }

func (f *fakeSynthEngine) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.utts))
	for i, u := range f.utts {
		out[i] = u.Text
	}
	return out
}

func (f *fakeSynthEngine) lastUtterance() (Utterance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.utts) == 0 {
		return Utterance{}, false
	}
	return f.utts[len(f.utts)-1], true
}

type assistantCall struct {
	message string
	history string
}

type fakeAssistant struct {
	mu      sync.Mutex
	calls   []assistantCall
	replyFn func(message string) (AssistantReply, error)
	block   chan struct{}
}

func (a *fakeAssistant) Chat(ctx context.Context, message, history string) (AssistantReply, error) {
	a.mu.Lock()
	a.calls = append(a.calls, assistantCall{message: message, history: history})
	fn := a.replyFn
	block := a.block
	a.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return AssistantReply{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(message)
	}
	return AssistantReply{Text: "Okay."}, nil
}

func (a *fakeAssistant) numCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAssistant) call(i int) assistantCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

type fakeEmotion struct {
	mu    sync.Mutex
	mood  insight.Mood
	err   error
	block chan struct{}
}

func (e *fakeEmotion) AnalyzeEmotion(ctx context.Context, transcript string) (insight.Mood, error) {
	e.mu.Lock()
	mood, err, block := e.mood, e.err, e.block
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return mood, err
}

type fakeStore struct {
	entries chan HistoryEntry
}

func (s *fakeStore) Append(ctx context.Context, entry HistoryEntry) error {
	s.entries <- entry
	return nil
}

type recordingNotifier struct {
	statuses    chan Status
	transcripts chan string
	insights    chan HistoryEntry
	histories   chan []HistoryEntry
	warnings    chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		statuses:    make(chan Status, 64),
		transcripts: make(chan string, 64),
		insights:    make(chan HistoryEntry, 8),
		histories:   make(chan []HistoryEntry, 8),
		warnings:    make(chan string, 8),
	}
}

func (n *recordingNotifier) Status(status Status)         { n.statuses <- status }
func (n *recordingNotifier) Transcript(text string)       { n.transcripts <- text }
func (n *recordingNotifier) Insight(entry HistoryEntry)   { n.insights <- entry }
func (n *recordingNotifier) History(list []HistoryEntry)  { n.histories <- list }
func (n *recordingNotifier) Warning(code, message string) { n.warnings <- code }

// --- fixture ---

type fixtureOpts struct {
	manualSynth  bool
	keepAliveRec bool
	now          func() time.Time
}

type fixture struct {
	session   *Session
	rec       *fakeRecEngine
	synth     *fakeSynthEngine
	assistant *fakeAssistant
	emotion   *fakeEmotion
	store     *fakeStore
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	rec := &fakeRecEngine{stopEmitsEnd: !opts.keepAliveRec}
	synth := newFakeSynthEngine(!opts.manualSynth, Voice{Name: "Samantha", Lang: "en-US", Female: true})
	asst := &fakeAssistant{}
	emo := &fakeEmotion{mood: insight.MoodCheerful}
	store := &fakeStore{entries: make(chan HistoryEntry, 8)}
	notifier := newRecordingNotifier()

	greeter := NewGreeter()
	greeter.pick = func(int) int { return 0 }

	now := opts.now
	if now == nil {
		now = func() time.Time { return time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC) }
	}

	s, err := New(Dependencies{
		Recognition: rec,
		Synthesis:   synth,
		Assistant:   asst,
		Emotion:     emo,
		Store:       store,
		Greeter:     greeter,
		Notifier:    notifier,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:      Config{DebounceWindow: 25 * time.Millisecond},
		Now:         now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run()
	}()
	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("session loop did not stop")
		}
	})

	return &fixture{session: s, rec: rec, synth: synth, assistant: asst, emotion: emo, store: store, notifier: notifier}
}

func waitStatus(t *testing.T, n *recordingNotifier, want Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-n.statuses:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %q never observed", want)
		}
	}
}

func waitTranscript(t *testing.T, n *recordingNotifier, substr string) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-n.transcripts:
			if strings.Contains(got, substr) {
				return got
			}
		case <-deadline:
			t.Fatalf("transcript containing %q never observed", substr)
		}
	}
}

func waitInsight(t *testing.T, n *recordingNotifier) HistoryEntry {
	t.Helper()
	select {
	case entry := <-n.insights:
		return entry
	case <-time.After(2 * time.Second):
		t.Fatalf("insight never delivered")
		return HistoryEntry{}
	}
}

func waitWarning(t *testing.T, n *recordingNotifier, code string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-n.warnings:
			if got == code {
				return
			}
		case <-deadline:
			t.Fatalf("warning %q never observed", code)
		}
	}
}

// deliverResult keeps emitting a result snapshot until the session reports it,
// which confirms suppression from a prior utterance has lifted.
func deliverResult(t *testing.T, h *fakeRecHandle, n *recordingNotifier, text string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: text})
		select {
		case got := <-n.transcripts:
			if strings.Contains(got, text) {
				return
			}
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("result %q never delivered", text)
		}
	}
}

// --- tests ---

func TestConversationTurnRoundTrip(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	fx.assistant.replyFn = func(string) (AssistantReply, error) {
		return AssistantReply{Text: "That sounds wonderful!"}, nil
	}

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	waitTranscript(t, fx.notifier, "AI Assist: Hello! How are you doing today?")

	deliverResult(t, fx.rec.handle(0), fx.notifier, "I had a lovely walk")
	waitStatus(t, fx.notifier, StatusThinking)
	waitTranscript(t, fx.notifier, "User: I had a lovely walk")
	waitTranscript(t, fx.notifier, "AI Assist: That sounds wonderful!")
	waitStatus(t, fx.notifier, StatusListening)

	if got := fx.assistant.numCalls(); got != 1 {
		t.Fatalf("assistant calls = %d, want 1", got)
	}
	call := fx.assistant.call(0)
	if call.message != "I had a lovely walk" {
		t.Fatalf("turn message = %q", call.message)
	}
	if call.history != "AI Assist: Hello! How are you doing today?" {
		t.Fatalf("turn history = %q", call.history)
	}
}

func TestAssistantFailureApologizesAndEnds(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	fx.assistant.replyFn = func(string) (AssistantReply, error) {
		return AssistantReply{}, context.DeadlineExceeded
	}

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	deliverResult(t, fx.rec.handle(0), fx.notifier, "hello there")

	waitStatus(t, fx.notifier, StatusEnded)
	entry := waitInsight(t, fx.notifier)
	waitStatus(t, fx.notifier, StatusIdle)

	found := false
	for _, text := range fx.synth.spoken() {
		if text == apologyPhrase {
			found = true
		}
	}
	if !found {
		t.Fatalf("apology never spoken; spoken = %q", fx.synth.spoken())
	}
	if entry.Mood != insight.MoodCheerful {
		t.Fatalf("entry mood = %q", entry.Mood)
	}
	if !strings.Contains(entry.Transcript, "User: hello there") {
		t.Fatalf("entry transcript = %q", entry.Transcript)
	}
}

func TestAssistantEndConversation(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	fx.assistant.replyFn = func(string) (AssistantReply, error) {
		return AssistantReply{Text: "Take care, goodbye!", EndConversation: true}, nil
	}

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	deliverResult(t, fx.rec.handle(0), fx.notifier, "goodbye now")

	waitTranscript(t, fx.notifier, "AI Assist: Take care, goodbye!")
	waitStatus(t, fx.notifier, StatusEnded)
	waitInsight(t, fx.notifier)
	waitStatus(t, fx.notifier, StatusIdle)
}

func TestUserStopGeneratesOffHoursInsight(t *testing.T) {
	night := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	fx := newFixture(t, fixtureOpts{now: func() time.Time { return night }})
	fx.emotion.mood = insight.MoodAnxious

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusEnded)

	entry := waitInsight(t, fx.notifier)
	waitStatus(t, fx.notifier, StatusIdle)

	if entry.SenseIndex != 2 {
		t.Fatalf("sense index = %d, want 2", entry.SenseIndex)
	}
	if len(entry.Insights) != 4 {
		t.Fatalf("insight rows = %d, want 4", len(entry.Insights))
	}
	if got := entry.Insights[3].Status; got != "Most likely yes" {
		t.Fatalf("interaction status = %q", got)
	}

	select {
	case stored := <-fx.store.entries:
		if stored.SessionID != entry.SessionID {
			t.Fatalf("stored session = %q, want %q", stored.SessionID, entry.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("entry never persisted")
	}
}

func TestEmotionFailureStillRecordsHistory(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	fx.emotion.err = context.DeadlineExceeded

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	fx.session.Toggle()

	entry := waitInsight(t, fx.notifier)
	waitStatus(t, fx.notifier, StatusIdle)

	if entry.Mood != "" {
		t.Fatalf("entry mood = %q, want empty", entry.Mood)
	}
	if len(entry.Insights) != 0 {
		t.Fatalf("insight rows = %d, want 0", len(entry.Insights))
	}
	select {
	case list := <-fx.notifier.histories:
		if len(list) != 1 {
			t.Fatalf("history length = %d, want 1", len(list))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("history snapshot never delivered")
	}
}

func TestDebounceUsesLatestSnapshot(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)

	// Each retry replays the whole growing-snapshot sequence back to back, so
	// once delivery starts the buffered text is always the final snapshot.
	h := fx.rec.handle(0)
	deadline := time.After(2 * time.Second)
	for {
		h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: "I"})
		h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: "I feel"})
		h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: "I feel fine"})
		delivered := false
		select {
		case got := <-fx.notifier.transcripts:
			delivered = strings.Contains(got, "I feel fine")
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("snapshots never delivered")
		}
		if delivered {
			break
		}
	}

	waitStatus(t, fx.notifier, StatusThinking)
	if got := fx.assistant.numCalls(); got != 1 {
		t.Fatalf("assistant calls = %d, want 1", got)
	}
	if msg := fx.assistant.call(0).message; msg != "I feel fine" {
		t.Fatalf("turn message = %q, want latest snapshot", msg)
	}
}

func TestResultsSuppressedWhileSpeaking(t *testing.T) {
	fx := newFixture(t, fixtureOpts{manualSynth: true, keepAliveRec: true})

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)

	// Greeting synthesis is still pending; nothing the microphone hears may
	// reach the segmenter.
	h := fx.rec.handle(0)
	h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: "ignore me"})
	h.emit(RecognitionEvent{Kind: RecEventResult, Transcript: "still ignore me"})
	time.Sleep(100 * time.Millisecond)
	if got := fx.assistant.numCalls(); got != 0 {
		t.Fatalf("assistant calls while suppressed = %d, want 0", got)
	}

	utt, ok := fx.synth.lastUtterance()
	if !ok {
		t.Fatalf("greeting never reached synthesis")
	}
	fx.synth.emit(SynthesisEvent{Kind: SynthEventEnd, UtteranceID: utt.ID})

	deliverResult(t, h, fx.notifier, "now I am speaking")
	waitStatus(t, fx.notifier, StatusThinking)
	if msg := fx.assistant.call(0).message; msg != "now I am speaking" {
		t.Fatalf("turn message = %q", msg)
	}
}

func TestRecognitionErrorWhileListeningReplacesHandle(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)

	old := fx.rec.handle(0)
	old.emit(RecognitionEvent{Kind: RecEventError, Code: "network"})

	deadline := time.After(2 * time.Second)
	for fx.rec.numHandles() < 2 {
		select {
		case <-deadline:
			t.Fatalf("handle never replaced")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !old.aborted() {
		t.Fatalf("old handle never aborted")
	}

	// The replacement handle keeps the conversation alive.
	deliverResult(t, fx.rec.handle(1), fx.notifier, "still here")
	waitStatus(t, fx.notifier, StatusThinking)
}

func TestToggleWhileEndedWarns(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	block := make(chan struct{})
	fx.emotion.block = block

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusEnded)

	fx.session.Toggle()
	waitWarning(t, fx.notifier, "busy")

	close(block)
	waitStatus(t, fx.notifier, StatusIdle)
}

func TestRecognitionUnavailable(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})
	fx.rec.setNewErr(context.DeadlineExceeded)

	fx.session.Toggle()
	waitWarning(t, fx.notifier, "recognition_unavailable")

	// The capability comes back; the next toggle starts normally.
	fx.rec.setNewErr(nil)
	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
}

func TestSecondConversationUsesContinuingGreeting(t *testing.T) {
	fx := newFixture(t, fixtureOpts{})

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	fx.session.Toggle()
	waitInsight(t, fx.notifier)
	waitStatus(t, fx.notifier, StatusIdle)

	fx.session.Toggle()
	waitStatus(t, fx.notifier, StatusListening)
	waitTranscript(t, fx.notifier, continuingPhrase)
}
