package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/config"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/registry"
	"gatewaycore/internal/storage"
	"gatewaycore/internal/types"
	"gatewaycore/internal/version"
	"gatewaycore/pkg/api"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	var (
		configFile  = flag.String("config", "", "Configuration file path")
		showVersion = flag.Bool("version", false, "Show version information")
		validate    = flag.Bool("validate", false, "Validate configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if err := run(*configFile, *validate); err != nil {
		fmt.Fprintf(os.Stderr, "gatewaycore: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, validateOnly bool) error {
	// Bootstrap logger until the configured level is known
	bootstrap, err := logging.New("info", "json")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer bootstrap.Sync()

	loader := config.NewLoader(configFile, logging.Wrap(bootstrap))
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if validateOnly {
		bootstrap.Info("Configuration is valid", zap.String("file", loader.ConfigFileUsed()))
		return nil
	}

	zapLogger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer zapLogger.Sync()
	logger := logging.Wrap(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	watcher, err := config.NewWatcher(config.NewLoader(configFile, logger), logger)
	if err != nil {
		return err
	}
	watcher.OnChange(func(next *types.GatewayConfig) {
		services, routes := config.Definitions(next)
		if err := storage.Apply(ctx, app.store, services, routes); err != nil {
			logger.Error("Failed to apply reloaded definitions", "error", err)
			return
		}
		logger.Info("Applied reloaded definitions", "services", len(services), "routes", len(routes))
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	logger.Info("Starting gatewaycore",
		"version", version.Version,
		"services", len(app.registry.Services()),
		"routes", len(app.registry.Routes()),
		"storage", cfg.Storage.Type,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := app.registry.Sync(gctx, app.store)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	app.prober.Start(gctx)

	if app.apiServer != nil {
		g.Go(func() error {
			logger.Info("Starting API server", "addr", cfg.API.Addr)
			if err := app.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		app.prober.Stop()
		app.hub.Close()
		if app.apiServer != nil {
			if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("API server shutdown error", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Shutdown completed successfully")
	return nil
}

type application struct {
	store     types.Storage
	registry  *registry.Registry
	prober    *circuit.Prober
	hub       *api.Hub
	collector *metrics.Collector
	apiServer *http.Server
	logger    types.Logger
}

func initializeApp(ctx context.Context, cfg *types.GatewayConfig, logger types.Logger) (*application, error) {
	app := &application{logger: logger}

	// Metrics
	var (
		recorder *metrics.Recorder
		sink     = metrics.Nop()
	)
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		app.collector = metrics.NewCollector()
		app.collector.Start()
		sink = metrics.Tee(recorder, app.collector)
	}

	// Definition store, seeded from configuration
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.store = store

	services, routes := config.Definitions(cfg)
	if err := storage.Apply(ctx, store, services, routes); err != nil {
		app.close()
		return nil, fmt.Errorf("failed to seed storage: %w", err)
	}

	breaker := circuit.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		ProbeTimeout:     cfg.CircuitBreaker.ProbeTimeout,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
	}

	app.registry = registry.New(registry.Options{
		Breaker:    breaker,
		HealthPath: cfg.HealthCheck.Path,
		Logger:     logger,
		Metrics:    sink,
	})
	if err := app.registry.Load(ctx, store); err != nil {
		// Partial definitions still serve what loaded
		logger.Error("Failed to load some definitions", "error", err)
	}

	app.hub = api.NewHub(logger)
	app.prober = circuit.NewProber(app.registry, circuit.ProberOptions{
		Interval:    cfg.HealthCheck.Interval,
		Breaker:     breaker,
		HistorySize: cfg.HealthCheck.HistorySize,
		Concurrency: cfg.HealthCheck.Concurrency,
		UserAgent:   version.UserAgent("prober"),
		Sink:        circuit.MultiSink(app.registry, app.hub),
		Logger:      logger,
		Metrics:     sink,
	})

	if cfg.API.Enabled {
		opts := api.Options{
			Registry:    app.registry,
			Prober:      app.prober,
			Collector:   app.collector,
			Hub:         app.hub,
			MetricsPath: cfg.Metrics.Path,
			Logger:      logger,
		}
		if recorder != nil {
			opts.Metrics = recorder.Handler()
		}
		app.apiServer = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.New(opts).Router(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}

	return app, nil
}

func (a *application) close() {
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Error("Registry close error", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Storage close error", "error", err)
		}
	}
}
