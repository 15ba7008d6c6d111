// Command companiond runs the conversational companion gateway: a websocket
// orchestrator for client speech engines plus a small HTTP API for chat,
// emotion analysis, and caretaker history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/seniorsense/companion/internal/dotenv"
	"github.com/seniorsense/companion/pkg/companion/config"
	companionserver "github.com/seniorsense/companion/pkg/companion/server"
	"github.com/seniorsense/companion/pkg/companion/store"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(path string, limit int) (*store.Store, error)
	newServer    func(config.Config, *slog.Logger, *store.Store) *companionserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  store.Open,
		newServer:  companionserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var st *store.Store
	if cfg.DBPath != "" && deps.openStore != nil {
		st, err = deps.openStore(cfg.DBPath, cfg.HistoryLimit)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer st.Close()
	}

	srv := deps.newServer(cfg, logger, st)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	upstream := "openai"
	if cfg.AssistantBaseURL != "" {
		upstream = "external"
	}
	logger.Info("starting gateway", "addr", cfg.Addr, "upstream", upstream, "persistence", st != nil)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining()
	if n := srv.WarnLiveSessions("draining", "the gateway is shutting down"); n > 0 {
		logger.Info("warned live sessions", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitLiveSessions(waitCtx) {
		canceled := srv.CancelLiveSessions()
		logger.Warn("canceled live sessions after grace period", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "companiond: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "companiond: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
