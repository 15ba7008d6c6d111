// Package server wires the companion gateway: HTTP routes, middleware
// chain, upstream assistant selection, and live session tracking.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/seniorsense/companion/pkg/companion/assistant"
	"github.com/seniorsense/companion/pkg/companion/config"
	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/handlers"
	"github.com/seniorsense/companion/pkg/companion/metrics"
	"github.com/seniorsense/companion/pkg/companion/mw"
	"github.com/seniorsense/companion/pkg/companion/sessions"
	"github.com/seniorsense/companion/pkg/companion/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	chat    conversation.Assistant
	emotion conversation.EmotionAnalyzer
	store   *store.Store
	greeter *conversation.Greeter
	metrics *metrics.Metrics
	tracker *sessions.Tracker

	draining atomic.Bool
}

// New builds a Server. st may be nil, which disables history persistence.
func New(cfg config.Config, logger *slog.Logger, st *store.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		store:   st,
		greeter: conversation.NewGreeter(),
		metrics: metrics.New(cfg.MetricsNamespace),
		tracker: sessions.NewTracker(),
	}

	if cfg.AssistantBaseURL != "" {
		client := assistant.New(cfg.AssistantBaseURL, assistant.WithAPIKey(cfg.AssistantAPIKey))
		s.chat = client
		s.emotion = client
	} else {
		upstream := assistant.NewOpenAI(cfg.OpenAIAPIKey,
			assistant.WithChatModel(cfg.ChatModel),
			assistant.WithEmotionModel(cfg.EmotionModel),
			assistant.WithLogger(logger),
		)
		s.chat = upstream
		s.emotion = upstream
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/chat", handlers.ChatHandler{
		Assistant: s.chat,
		Logger:    s.logger,
	})
	s.mux.Handle("/v1/analyze-emotion", handlers.EmotionHandler{
		Emotion: s.emotion,
		Logger:  s.logger,
	})
	s.mux.Handle("/v1/history", handlers.HistoryHandler{
		Store:  s.historyReader(),
		Limit:  s.cfg.HistoryLimit,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Assistant: s.chat,
		Emotion:   s.emotion,
		Store:     s.historyStore(),
		Greeter:   s.greeter,
		Metrics:   s.metrics,
		Sessions:  s.tracker,
		Draining:  s.draining.Load,
	})
}

// historyReader returns a typed-nil-free view of the store for the history
// endpoint.
func (s *Server) historyReader() handlers.HistoryReader {
	if s.store == nil {
		return nil
	}
	return s.store
}

func (s *Server) historyStore() conversation.HistoryStore {
	if s.store == nil {
		return nil
	}
	return s.store
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the gateway into drain mode: new live connections are
// rejected while existing sessions wind down.
func (s *Server) SetDraining() {
	s.draining.Store(true)
}

// WarnLiveSessions pushes a warning frame to every open live session.
func (s *Server) WarnLiveSessions(code, message string) int {
	return s.tracker.WarnAll(code, message)
}

// WaitLiveSessions blocks until all live sessions finish or ctx expires.
// It reports whether the tracker drained in time.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelLiveSessions force-closes every open live session.
func (s *Server) CancelLiveSessions() int {
	return s.tracker.CancelAll()
}

// LiveSessionCount reports the number of open live sessions.
func (s *Server) LiveSessionCount() int {
	return s.tracker.Count()
}
