// Command interviewd runs the mock-interview gateway: HTTP session
// management plus the websocket interview channel.
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

	"github.com/joho/godotenv"

	"github.com/nextstep-labs/interviewd/pkg/gateway/config"
	"github.com/nextstep-labs/interviewd/pkg/gateway/judge"
	"github.com/nextstep-labs/interviewd/pkg/gateway/lifecycle"
	"github.com/nextstep-labs/interviewd/pkg/gateway/metrics"
	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	gatewayserver "github.com/nextstep-labs/interviewd/pkg/gateway/server"
	"github.com/nextstep-labs/interviewd/pkg/gateway/sessions"
	"github.com/nextstep-labs/interviewd/pkg/gateway/store"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, databaseURL string, logger *slog.Logger) (*store.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  store.New,
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
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
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

	personas := persona.NewRegistry()
	if cfg.PersonaFile != "" {
		if err := personas.LoadFile(cfg.PersonaFile); err != nil {
			return fmt.Errorf("load personas: %w", err)
		}
	}

	grader := judge.NewOpenAIJudge(judge.Config{
		APIKey:         cfg.JudgeAPIKey,
		BaseURL:        cfg.JudgeBaseURL,
		Model:          cfg.JudgeModel,
		MaxAttempts:    cfg.JudgeMaxAttempts,
		Backoff:        cfg.JudgeBackoff,
		RequestTimeout: cfg.JudgeTimeout,
	}, logger)

	var archive *store.Store
	if cfg.DatabaseURL != "" {
		if deps.openStore == nil {
			return errors.New("missing openStore dependency")
		}
		archive, err = deps.openStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("open report store: %w", err)
		}
		defer archive.Close()
		if err := archive.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate report store: %w", err)
		}
	}

	registry := sessions.NewRegistry(cfg.SessionTTL, logger)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go registry.Run(janitorCtx)

	lc := &lifecycle.Lifecycle{}
	gw := gatewayserver.New(cfg, gatewayserver.Dependencies{
		Registry:  registry,
		Personas:  personas,
		Judge:     grader,
		Store:     archive,
		Metrics:   metrics.New("interviewd"),
		Lifecycle: lc,
	}, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting interview gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"archive_enabled", archive != nil,
		"max_turns", cfg.MaxTurns)

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

	lc.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !registry.Wait(waitCtx) {
		registry.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	_ = godotenv.Load()

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "interviewd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
