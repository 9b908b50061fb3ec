// Package server builds the crawler service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webcrawl-engine/internal/api"
	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	"github.com/JakeFAU/webcrawl-engine/internal/config"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/headless"
	"github.com/JakeFAU/webcrawl-engine/internal/fetcher/stealth"
	"github.com/JakeFAU/webcrawl-engine/internal/id/uuid"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/policy/ratelimit"
	"github.com/JakeFAU/webcrawl-engine/internal/progress"
	progresssinks "github.com/JakeFAU/webcrawl-engine/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/webcrawl-engine/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/webcrawl-engine/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/webcrawl-engine/internal/queue/memory"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/siteconfig"
	"github.com/JakeFAU/webcrawl-engine/internal/telemetry"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
	"github.com/JakeFAU/webcrawl-engine/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers the progress collectors against reg instead of
// the default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registerer prometheus.Registerer

	service         *scan.Service
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queueMemory.Queue
	progressHub     *progress.Hub
	stores          *stores
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	tracerProvider  *sdktrace.TracerProvider
}

// Build creates the application's dependencies. Nothing is started until Run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(app)
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("browser", cfg.Engine.Browser),
	)
	metrics.Init()

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	var err error
	if app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Tracing, logger); err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	if app.stores, err = setupStores(ctx, cfg.Storage, logger); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupProgress(app); err != nil {
		return nil, err
	}
	if err = setupService(app, publisher); err != nil {
		return nil, err
	}
	setupDispatcher(app)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		app.dispatch,
		app.stores.jobs,
		app.stores.records,
		app.stores.progress,
		api.Config{APIKey: apiKey, RequestTimeout: cfg.Server.RequestTimeout},
		logger.Named("api"),
	)
	built = true
	return app, nil
}

// Scan runs req to completion outside the dispatcher, for one-shot runs.
func (a *App) Scan(ctx context.Context, req scan.Request) (scan.Payload, error) {
	payload, err := a.service.Scan(ctx, req)
	if err != nil {
		return payload, fmt.Errorf("scan %s: %w", req.Task, err)
	}
	return payload, nil
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and HTTP server and blocks until the context is
// canceled or the process is signalled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Dispatcher.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application. It is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			a.logger.Warn("storage close failed", zap.Error(err))
		}
		a.stores = nil
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerProvider = nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scan.Publisher, error) {
	cfg := app.cfg.PubSub
	if cfg.Topic == "" || cfg.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(cfg.Topic)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(app *App) error {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.stores.progress != nil {
		sinkList = append(sinkList,
			progresssinks.NewStoreSink(app.stores.progress, app.logger.Named("progress_store")))
	}
	hubCfg := app.cfg.Progress
	hubCfg.Logger = app.logger.Named("progress_hub")
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupService(app *App, publisher scan.Publisher) error {
	cfg := app.cfg

	var limiter collyfetcher.Limiter
	if cfg.Fetch.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Fetch.RateLimitRPS,
			DefaultBurst: cfg.Fetch.RateLimitBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.Fetch.RateLimitRPS),
			zap.Int("default_burst", cfg.Fetch.RateLimitBurst),
		)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, limiter, app.logger)

	browser, err := newBrowser(cfg, app.logger)
	if err != nil {
		return err
	}

	sites := siteconfig.Provider(nil)
	if cfg.Sites.Dir != "" {
		static, loadErr := siteconfig.LoadDir(cfg.Sites.Dir, app.logger)
		if loadErr != nil {
			return fmt.Errorf("load site configs: %w", loadErr)
		}
		sites = static
	}

	app.service, err = scan.NewService(scan.Config{
		Params:         cfg.Crawl,
		Engine:         cfg.Engine.Settings,
		Scraper:        cfg.Scraper.Settings,
		DefaultRoutine: crawl.DefaultRoutine(),
		RobotsAgent:    cfg.Scraper.RobotsAgent,
		Topic:          cfg.PubSub.Topic,
	}, scan.Deps{
		Sites:     sites,
		Fetcher:   fetcher,
		Browser:   browser,
		Sink:      app.stores.sink,
		History:   app.stores.history,
		Publisher: publisher,
		Progress:  app.progressHub,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Logger:    app.logger,
	})
	if err != nil {
		return fmt.Errorf("scan service init failed: %w", err)
	}
	return nil
}

// newBrowser returns nil for the none backend; scans then use plain fetches.
func newBrowser(cfg config.Config, logger *zap.Logger) (webpage.Browser, error) {
	switch cfg.Engine.Browser {
	case config.BrowserNone:
		logger.Info("browser disabled, pages are fetched over HTTP")
		return nil, nil
	case config.BrowserStealth:
		logger.Info("using rod stealth browser", zap.Bool("headful", cfg.Headless.Headful))
		return stealth.New(stealth.Config{
			RemoteURL:         cfg.Headless.RemoteURL,
			ExecPath:          cfg.Headless.ExecPath,
			Headful:           cfg.Headless.Headful,
			NavigationTimeout: cfg.Headless.NavTimeout,
			DisableStealth:    !cfg.Scraper.UseStealth,
		}, logger), nil
	default:
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			ExecPath:          cfg.Headless.ExecPath,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("headless browser init failed: %w", err)
		}
		logger.Info("using chromedp browser", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		return browser, nil
	}
}

func setupDispatcher(app *App) {
	app.queue = queueMemory.NewQueue(app.cfg.Dispatcher.QueueDepth)
	workers := make([]*worker.Worker, 0, app.cfg.Dispatcher.Workers)
	for i := 0; i < app.cfg.Dispatcher.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.stores.jobs,
			app.service,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(
		app.queue,
		app.stores.jobs,
		uuid.New(),
		system.New(),
		workers,
		app.logger.Named("dispatcher"),
	)
}
