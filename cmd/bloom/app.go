package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/bloom/api"
	"github.com/c360studio/bloom/config"
	"github.com/c360studio/bloom/llm"
	"github.com/c360studio/bloom/metrics"
	"github.com/c360studio/bloom/model"
	"github.com/c360studio/bloom/pipeline"
	"github.com/c360studio/bloom/prompts"
	"github.com/c360studio/bloom/storage"
	"github.com/c360studio/bloom/task"
)

// App wires configuration, the model client, and the pipeline together.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	models   *model.Registry
	tasks    *task.Registry
	metrics  *metrics.Metrics
	library  *prompts.Library
	client   llm.Completer
	natsConn *nats.Conn
	runs     *storage.RunStore

	orchestrator *pipeline.Orchestrator
}

// AppOption configures an App.
type AppOption func(*App)

// WithCompleter replaces the model client, typically with a mock.
func WithCompleter(c llm.Completer) AppOption {
	return func(a *App) {
		a.client = c
	}
}

// NewApp creates a new application instance. Nothing is connected until
// Start.
func NewApp(cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		cfg:     cfg,
		logger:  logger,
		models:  cfg.ModelRegistry(),
		tasks:   task.Default(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if err := checkProviders(app.models); err != nil {
		return nil, err
	}

	app.library = prompts.NewLibrary(
		prompts.WithDir(cfg.Prompts.Dir),
		prompts.WithLibraryLogger(logger),
	)
	if err := app.library.Reload(); err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}

	if err := app.metrics.WatchEndpoints(app.models); err != nil {
		return nil, fmt.Errorf("register endpoint metrics: %w", err)
	}
	return app, nil
}

// checkProviders fails on endpoints naming a provider that isn't built in.
func checkProviders(reg *model.Registry) error {
	for _, name := range reg.ListEndpoints() {
		ep := reg.GetEndpoint(name)
		if ep == nil || llm.GetProvider(ep.Provider) != nil {
			continue
		}
		return fmt.Errorf("endpoint %s: unknown provider %q (available: %s)",
			name, ep.Provider, strings.Join(llm.ListProviders(), ", "))
	}
	return nil
}

// Start connects NATS when configured and builds the orchestrator.
func (a *App) Start(ctx context.Context) error {
	var (
		callStore *llm.CallStore
		recorder  *pipeline.Recorder
	)
	if a.cfg.NATS.URL != "" {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}

		var err error
		callStore, err = llm.NewCallStore(a.natsConn,
			llm.WithSubject(a.cfg.NATS.CallSubject),
			llm.WithStoreLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create call store: %w", err)
		}
		recorder, err = pipeline.NewRecorder(a.natsConn,
			pipeline.WithRunSubject(a.cfg.NATS.RunSubject),
			pipeline.WithRecorderLogger(a.logger))
		if err != nil {
			return fmt.Errorf("create run recorder: %w", err)
		}
		a.openRunStore(ctx)
	}

	if a.client == nil {
		clientOpts := []llm.ClientOption{
			llm.WithRetryConfig(a.cfg.Retry),
			llm.WithLogger(a.logger),
			llm.WithObserver(a.metrics),
		}
		if callStore != nil {
			clientOpts = append(clientOpts, llm.WithCallStore(callStore))
		}
		a.client = llm.NewClient(a.models, clientOpts...)
	}

	orchOpts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithTimeout(a.cfg.Pipeline.Timeout),
		pipeline.WithMaxImageBytes(a.cfg.Pipeline.MaxImageBytes),
		pipeline.WithObserver(a.metrics),
		pipeline.WithLibrary(a.library),
	}
	if recorder != nil {
		orchOpts = append(orchOpts, pipeline.WithRecorder(recorder))
	}
	if a.runs != nil {
		orchOpts = append(orchOpts, pipeline.WithRecorder(a.runs))
	}
	a.orchestrator = pipeline.NewOrchestrator(a.client, a.tasks, orchOpts...)

	a.logger.Info("Bloom ready",
		"version", Version,
		"routes", a.tasks.Len(),
		"prompt_overrides", len(a.library.Overrides()),
		"nats", a.natsConn != nil)
	return nil
}

func (a *App) connectNATS(ctx context.Context) error {
	a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)

	conn, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return wrapNATSError(err, a.cfg.NATS.URL)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return err
	}
	a.natsConn = conn

	a.logger.Info("Connected to NATS", "url", conn.ConnectedUrl())
	return nil
}

// openRunStore opens the KV run store. The server still runs without it
// when JetStream is not enabled on the NATS server.
func (a *App) openRunStore(ctx context.Context) {
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		a.logger.Warn("JetStream unavailable, run lookup disabled", "error", err)
		return
	}
	store, err := storage.NewRunStore(ctx, js,
		storage.WithBucket(a.cfg.NATS.RunBucket),
		storage.WithTTL(a.cfg.NATS.RunTTL),
		storage.WithLogger(a.logger))
	if err != nil {
		a.logger.Warn("Run store unavailable, run lookup disabled", "error", err)
		return
	}
	a.runs = store
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if errors.Is(err, nats.ErrNoServers) ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a server, point %s at one, or clear nats.url to run without
call and run records.`, err, url, config.EnvNATSURL)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// Server builds the HTTP front end.
func (a *App) Server() *api.Server {
	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithRegistry(a.tasks),
		api.WithMetricsHandler(a.metrics.Handler()),
		api.WithAllowedOrigin(a.cfg.Server.AllowedOrigin),
	}
	if a.runs != nil {
		opts = append(opts, api.WithRunLookup(a.runs))
	}
	return api.NewServer(a.orchestrator, opts...)
}

// Serve runs the HTTP server and, when enabled, the prompt watcher until
// ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	var watcher *prompts.Watcher
	if a.cfg.Prompts.Watch {
		var err error
		watcher, err = prompts.NewWatcher(a.library, prompts.WatcherConfig{
			DebounceDelay: a.cfg.Prompts.Debounce,
			Logger:        a.logger,
		})
		if err != nil {
			return fmt.Errorf("create prompt watcher: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	server := a.Server()
	g.Go(func() error {
		return server.ListenAndServe(ctx, a.cfg.Server.Addr)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(ctx)
		})
		g.Go(func() error {
			for ev := range watcher.Events() {
				if ev.Error != nil {
					a.logger.Warn("Prompt reload failed", "files", ev.Files, "error", ev.Error)
					continue
				}
				a.logger.Info("Prompt templates reloaded", "files", ev.Files, "overrides", len(a.library.Overrides()))
			}
			return nil
		})
	}

	return g.Wait()
}

// Ask runs one request and hands every event to emit.
func (a *App) Ask(ctx context.Context, req pipeline.Request, emit pipeline.EmitFunc) (*pipeline.RequestContext, error) {
	return a.orchestrator.Run(ctx, req, emit)
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("NATS drain failed", "error", err)
			a.natsConn.Close()
		}
	}
	a.logger.Debug("Shutdown complete")
}
