// Package conversation implements the conversation lifecycle controller: it
// coordinates live speech capture, turn-taking with the remote assistant,
// speech synthesis playback, and end-of-session caretaker insights, while
// keeping the device from transcribing its own voice output.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seniorsense/companion/pkg/companion/insight"
)

// Status is the lifecycle state of a conversation session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	// StatusEnded covers the window between termination and insight delivery;
	// the session returns to idle once the history entry is recorded.
	StatusEnded Status = "ended"
)

const apologyPhrase = "I'm sorry, I encountered an error. Please try again."

// AssistantReply is the structured reply from the remote assistant service.
type AssistantReply struct {
	Text            string
	EndConversation bool
}

// Assistant is the remote assistant collaborator.
type Assistant interface {
	Chat(ctx context.Context, message, history string) (AssistantReply, error)
}

// EmotionAnalyzer classifies the overall mood of a transcript.
type EmotionAnalyzer interface {
	AnalyzeEmotion(ctx context.Context, transcript string) (insight.Mood, error)
}

// Notifier receives session observations. Implementations must not block;
// all calls happen on the session goroutine.
type Notifier interface {
	Status(status Status)
	Transcript(text string)
	Insight(entry HistoryEntry)
	History(entries []HistoryEntry)
	Warning(code, message string)
}

type nopNotifier struct{}

func (nopNotifier) Status(Status)          {}
func (nopNotifier) Transcript(string)      {}
func (nopNotifier) Insight(HistoryEntry)   {}
func (nopNotifier) History([]HistoryEntry) {}
func (nopNotifier) Warning(string, string) {}

// Observer receives coarse lifecycle measurements. All calls happen on the
// session goroutine.
type Observer interface {
	RecordConversationStart()
	RecordConversationEnd(reason string, duration time.Duration)
	RecordTurn(outcome string, duration time.Duration)
	RecordInsightFailure()
	RecordRecognitionError(code string)
}

type nopObserver struct{}

func (nopObserver) RecordConversationStart()                    {}
func (nopObserver) RecordConversationEnd(string, time.Duration) {}
func (nopObserver) RecordTurn(string, time.Duration)            {}
func (nopObserver) RecordInsightFailure()                       {}
func (nopObserver) RecordRecognitionError(string)               {}

type Config struct {
	// DebounceWindow is the silence window after which buffered partial
	// transcripts become one finalized utterance.
	DebounceWindow time.Duration
	TurnTimeout    time.Duration
	InsightTimeout time.Duration
	HistoryLimit   int
	// UserName, when set, is spliced into first-time greetings.
	UserName string
}

type Dependencies struct {
	Recognition RecognitionEngine
	Synthesis   SynthesisEngine
	Assistant   Assistant
	Emotion     EmotionAnalyzer
	Store       HistoryStore
	Greeter     *Greeter
	Notifier    Notifier
	Observer    Observer
	Logger      *slog.Logger
	Config      Config
	Now         func() time.Time
	NewID       func() string
}

type afterSpeech int

const (
	afterSpeechNone afterSpeech = iota
	afterSpeechEnd
	afterSpeechFail
)

type turnResult struct {
	turnID int
	reply  AssistantReply
	err    error
}

type insightResult struct {
	endedAt time.Time
	mood    insight.Mood
	err     error
}

// Session runs one conversation lifecycle loop. All state is owned by the
// Run goroutine; external callers interact through Toggle and Close.
type Session struct {
	assistant Assistant
	emotion   EmotionAnalyzer
	store     HistoryStore
	greeter   *Greeter
	notifier  Notifier
	observer  Observer
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc

	commands       chan struct{}
	turnResults    chan turnResult
	insightResults chan insightResult

	input      *speechInput
	output     *speechOutput
	seg        *segmenter
	transcript *Transcript
	history    *historyLog

	status        Status
	sessionID     string
	startedAt     time.Time
	turnCount     int
	senseIndex    int
	turnID        int
	turnInFlight  bool
	turnStartedAt time.Time
	after         afterSpeech
}

func New(deps Dependencies) (*Session, error) {
	if deps.Recognition == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}
	if deps.Synthesis == nil {
		return nil, fmt.Errorf("synthesis engine is required")
	}
	if deps.Assistant == nil {
		return nil, fmt.Errorf("assistant is required")
	}
	if deps.Emotion == nil {
		return nil, fmt.Errorf("emotion analyzer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Greeter == nil {
		deps.Greeter = NewGreeter()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Config.DebounceWindow <= 0 {
		deps.Config.DebounceWindow = 1500 * time.Millisecond
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = 30 * time.Second
	}
	if deps.Config.InsightTimeout <= 0 {
		deps.Config.InsightTimeout = 15 * time.Second
	}
	if deps.Config.HistoryLimit <= 0 {
		deps.Config.HistoryLimit = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		assistant:      deps.Assistant,
		emotion:        deps.Emotion,
		store:          deps.Store,
		greeter:        deps.Greeter,
		notifier:       deps.Notifier,
		observer:       deps.Observer,
		logger:         deps.Logger,
		cfg:            deps.Config,
		now:            deps.Now,
		newID:          deps.NewID,
		ctx:            ctx,
		cancel:         cancel,
		commands:       make(chan struct{}, 4),
		turnResults:    make(chan turnResult, 2),
		insightResults: make(chan insightResult, 1),
		input:          newSpeechInput(deps.Recognition, deps.Logger),
		output:         newSpeechOutput(deps.Synthesis, deps.Logger),
		seg:            newSegmenter(deps.Config.DebounceWindow),
		transcript:     newTranscript(),
		history:        newHistoryLog(deps.Config.HistoryLimit),
		status:         StatusIdle,
		senseIndex:     senseIndexReset,
	}, nil
}

const senseIndexReset = 4

// Toggle requests a start (when idle) or stop (when active). Safe to call
// from any goroutine.
func (s *Session) Toggle() {
	select {
	case s.commands <- struct{}{}:
	case <-s.ctx.Done():
	}
}

// Close stops the session loop. An active conversation is torn down without
// insight generation.
func (s *Session) Close() { s.cancel() }

// Run owns all session state until Close. Single goroutine; every suspension
// point is a select case below, so suppression toggles and handle swaps are
// always ordered before the next event delivery.
func (s *Session) Run() error {
	defer s.cancel()
	for {
		select {
		case <-s.ctx.Done():
			s.input.abort()
			s.output.cancel()
			return nil
		case <-s.commands:
			s.handleToggle()
		case ev, ok := <-s.input.events():
			if !ok {
				// Engine closed the stream without an end event.
				s.input.abort()
				s.handleRecognition(RecognitionEvent{Kind: RecEventError, Code: "stream_closed"})
				continue
			}
			s.handleRecognition(ev)
		case <-s.seg.timerCh():
			s.handleDebounce()
		case res := <-s.turnResults:
			s.handleTurnResult(res)
		case ev, ok := <-s.output.events():
			if !ok {
				continue
			}
			if outcome := s.output.handleEvent(ev); outcome != speechOutcomeNone {
				s.onSpeechResolved()
			}
		case res := <-s.insightResults:
			s.handleInsight(res)
		}
	}
}

func (s *Session) setStatus(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.notifier.Status(status)
}

func (s *Session) conversationActive() bool {
	return s.status == StatusListening || s.status == StatusThinking
}

func (s *Session) handleToggle() {
	switch s.status {
	case StatusIdle:
		s.startConversation()
	case StatusEnded:
		s.notifier.Warning("busy", "previous conversation is still wrapping up")
	default:
		s.terminate("user_stop")
	}
}

func (s *Session) startConversation() {
	s.sessionID = s.newID()
	s.transcript.reset()
	s.seg.clear()
	s.turnCount = 0
	s.senseIndex = senseIndexReset
	s.turnID++
	s.turnInFlight = false
	s.after = afterSpeechNone
	s.startedAt = s.now()

	if err := s.input.start(s.ctx); err != nil {
		// Unsupported or broken capability: the session never begins.
		s.logger.Error("recognition unavailable", "session_id", s.sessionID, "err", err)
		s.notifier.Warning("recognition_unavailable", "speech recognition could not be started")
		return
	}

	s.setStatus(StatusListening)
	s.observer.RecordConversationStart()
	s.logger.Info("conversation started", "session_id", s.sessionID)

	greeting := s.greeter.Greeting(s.cfg.UserName)
	s.transcript.Append(SenderAssistant, greeting)
	s.notifier.Transcript(s.transcript.Joined())
	s.speak(greeting)
}

// speak suppresses and pauses recognition, then hands text to the synthesis
// controller. Synchronous failures resolve through the same path as an
// asynchronous synthesis error.
func (s *Session) speak(text string) {
	s.input.suppress()
	s.input.stop()
	if _, err := s.output.speak(text); err != nil {
		s.logger.Error("speech synthesis unavailable", "session_id", s.sessionID, "err", err)
		s.onSpeechResolved()
	}
}

func (s *Session) onSpeechResolved() {
	s.input.unsuppress()

	action := s.after
	s.after = afterSpeechNone
	switch action {
	case afterSpeechEnd:
		s.terminate("assistant_end")
		return
	case afterSpeechFail:
		s.terminate("turn_failure")
		return
	}

	if s.status == StatusThinking {
		s.setStatus(StatusListening)
	}
	if s.status == StatusListening && !s.input.live() {
		if err := s.input.start(s.ctx); err != nil {
			s.logger.Error("recognition restart failed", "session_id", s.sessionID, "err", err)
			s.terminate("recognition_failed")
		}
	}
}

func (s *Session) handleRecognition(ev RecognitionEvent) {
	s.input.observe(ev)

	switch ev.Kind {
	case RecEventResult:
		if !s.conversationActive() || !s.input.deliverable() {
			return
		}
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			return
		}
		s.notifier.Transcript(text)
		s.seg.observe(text)
	case RecEventEnd:
		// Recognition engines stop unexpectedly; keep the handle alive for
		// the duration of the conversation.
		if !s.conversationActive() {
			return
		}
		if err := s.input.start(s.ctx); err != nil {
			if err := s.input.replace(s.ctx); err != nil {
				s.logger.Error("recognition restart failed", "session_id", s.sessionID, "err", err)
				s.terminate("recognition_failed")
			}
		}
	case RecEventError:
		s.observer.RecordRecognitionError(ev.Code)
		switch s.status {
		case StatusListening:
			// Recoverable glitch: replace the handle and keep listening.
			s.logger.Warn("recognition error, replacing handle", "session_id", s.sessionID, "code", ev.Code)
			if err := s.input.replace(s.ctx); err != nil {
				s.logger.Error("recognition replace failed", "session_id", s.sessionID, "err", err)
				s.terminate("recognition_failed")
			}
		case StatusThinking:
			// A fresh handle is created when listening resumes after the turn.
			s.input.abort()
		default:
			s.terminate("recognition_error")
		}
	}
}

func (s *Session) handleDebounce() {
	if s.turnInFlight {
		// Back-pressure, not a queue: the snapshot stays buffered until the
		// in-flight turn completes and a new snapshot re-arms the window.
		s.seg.hold()
		return
	}
	text, ok := s.seg.finalize()
	if !ok || s.status != StatusListening {
		return
	}
	s.startTurn(text)
}

func (s *Session) startTurn(text string) {
	s.setStatus(StatusThinking)

	history := s.transcript.Joined()
	s.transcript.Append(SenderUser, text)
	s.notifier.Transcript(s.transcript.Joined())

	s.turnCount++
	s.turnID++
	s.turnInFlight = true
	s.turnStartedAt = s.now()
	s.input.suppress()

	turnID := s.turnID
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
		defer cancel()
		reply, err := s.assistant.Chat(ctx, text, history)
		select {
		case s.turnResults <- turnResult{turnID: turnID, reply: reply, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) handleTurnResult(res turnResult) {
	// The session may have ended while the call was in flight; its result is
	// ignored, never acted on.
	if res.turnID != s.turnID || !s.turnInFlight {
		return
	}
	s.turnInFlight = false

	if res.err != nil {
		s.observer.RecordTurn("error", s.now().Sub(s.turnStartedAt))
		s.logger.Error("assistant turn failed", "session_id", s.sessionID, "turn", s.turnCount, "err", res.err)
		s.after = afterSpeechFail
		s.speak(apologyPhrase)
		return
	}
	s.observer.RecordTurn("ok", s.now().Sub(s.turnStartedAt))

	reply := strings.TrimSpace(res.reply.Text)
	s.transcript.Append(SenderAssistant, reply)
	s.notifier.Transcript(s.transcript.Joined())

	if res.reply.EndConversation {
		s.after = afterSpeechEnd
	}
	s.speak(reply)
}

func (s *Session) terminate(reason string) {
	if !s.conversationActive() {
		return
	}
	s.logger.Info("conversation ending", "session_id", s.sessionID, "reason", reason, "turns", s.turnCount)

	s.setStatus(StatusEnded)
	s.turnInFlight = false
	s.turnID++
	s.after = afterSpeechNone
	s.seg.clear()
	s.input.abort()
	s.input.unsuppress()
	s.output.cancel()

	endedAt := s.now()
	s.observer.RecordConversationEnd(reason, endedAt.Sub(s.startedAt))
	transcript := s.transcript.Joined()
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.InsightTimeout)
		defer cancel()
		mood, err := s.emotion.AnalyzeEmotion(ctx, transcript)
		select {
		case s.insightResults <- insightResult{endedAt: endedAt, mood: mood, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) handleInsight(res insightResult) {
	if s.status != StatusEnded {
		return
	}

	entry := HistoryEntry{
		SessionID:  s.sessionID,
		StartedAt:  s.startedAt,
		EndedAt:    res.endedAt,
		Duration:   res.endedAt.Sub(s.startedAt).Round(time.Second),
		Transcript: s.transcript.Joined(),
		SenseIndex: s.senseIndex,
	}

	if res.err != nil {
		// Graceful degradation: the caretaker insight is empty, the history
		// entry is still recorded and the session still returns to idle.
		s.observer.RecordInsightFailure()
		s.logger.Error("emotion analysis failed", "session_id", s.sessionID, "err", res.err)
	} else {
		report := insight.Generate(s.startedAt, res.endedAt, res.mood)
		s.senseIndex = report.SenseIndex
		entry.Mood = res.mood
		entry.SenseIndex = report.SenseIndex
		entry.Insights = report.Rows
		entry.Duration = report.Duration
	}

	s.history.append(entry)
	s.notifier.Insight(entry)
	s.notifier.History(s.history.snapshot())

	if s.store != nil {
		go func(entry HistoryEntry) {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InsightTimeout)
			defer cancel()
			if err := s.store.Append(ctx, entry); err != nil {
				s.logger.Error("persist history entry", "session_id", entry.SessionID, "err", err)
			}
		}(entry)
	}

	s.setStatus(StatusIdle)
}
