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
	"time"

	"github.com/joho/godotenv"

	"github.com/vango-go/kiosk/pkg/catalogue"
	"github.com/vango-go/kiosk/pkg/config"
	"github.com/vango-go/kiosk/pkg/control"
	"github.com/vango-go/kiosk/pkg/conversation"
	"github.com/vango-go/kiosk/pkg/gateway"
	"github.com/vango-go/kiosk/pkg/lifecycle"
	"github.com/vango-go/kiosk/pkg/llm"
	"github.com/vango-go/kiosk/pkg/metrics"
	"github.com/vango-go/kiosk/pkg/router"
	"github.com/vango-go/kiosk/pkg/session"
	"github.com/vango-go/kiosk/pkg/tts"
)

type deps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// app is every long-lived collaborator the server wires together, built
// once from Config and torn down in reverse order during shutdown.
type app struct {
	registry *session.Registry
	pipeline *conversation.Pipeline
	router   *router.Router
	ticker   *session.Ticker
	metrics  *metrics.Metrics
	lc       *lifecycle.Lifecycle
	server   *gateway.Server
}

func buildApp(cfg config.Config) (*app, error) {
	lc := lifecycle.New()
	rtr := router.New()
	m := metrics.New("kiosk")

	tokens := session.NewTokenIssuer(cfg.CapabilityTokenSecret, cfg.CapabilityTokenTTL)
	registry := session.New(session.Config{
		IdleTimeout:    cfg.SessionIdleTimeout,
		Duration:       cfg.SessionDuration,
		SweepInterval:  cfg.SessionSweepInterval,
		SweepRetention: time.Hour,
	}, rtr, tokens, lc)
	registry.SetMetrics(m)

	cat := catalogue.New(cfg.CatalogueFile)
	if err := cat.Load(); err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}

	httpClient := &http.Client{}
	synth := tts.NewSynthesiser(
		&tts.HTTPTier{Name_: "primary", BaseURL: cfg.TTSBaseURL, HTTPClient: httpClient},
		&tts.PlaceholderTier{},
	)
	cache := tts.NewCache(cfg.TTSCacheDir, cfg.TTSCacheEnabled, synth)

	pipeline := conversation.New(conversation.Options{
		Registry:      registry,
		LLM:           llm.NewAdapter(cfg.LLMBaseURL, httpClient),
		TTS:           cache,
		Catalogue:     cat,
		Scheduler:     rtr,
		Persona:       cfg.PersonaPrompt,
		AnchorLead:    cfg.AnchorLead,
		PreloadLead:   cfg.PreloadLead,
		ShowCrossfade: cfg.ShowCrossfade,
		LLMTimeout:    cfg.LLMTimeout,
		TTSTimeout:    cfg.TTSTimeout,
		Metrics:       m,
	})
	registry.OnEnd(pipeline.EndSession)

	ticker := session.NewTicker(registry, rtr, time.Second)

	srv := gateway.New(cfg, registry, pipeline, rtr, m, lc, ticker, nil)

	return &app{registry: registry, pipeline: pipeline, router: rtr, ticker: ticker, metrics: m, lc: lc, server: srv}, nil
}

func (a *app) start() {
	a.registry.StartSweep()
	a.ticker.Start()
}

func (a *app) stop() {
	a.ticker.Stop()
	a.registry.StopSweep()
}

func run(ctx context.Context, logger *slog.Logger, d deps) error {
	if d.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if d.signalNotify == nil || d.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := d.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	a.start()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting kiosk server", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

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
	d.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer d.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		a.stop()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.stop()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	a.lc.SetDraining(true)
	a.registry.WarnAll(a.router, control.Draining{})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.stop()
		return fmt.Errorf("shutdown http server: %w", err)
	}

	a.registry.EndAll(session.ReasonDraining)
	a.stop()

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("kiosk server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, d deps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "kiosk-server: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, d); err != nil {
		fmt.Fprintf(stderr, "kiosk-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultDeps()))
}
