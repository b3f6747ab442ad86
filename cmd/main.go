package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/config"
	"github.com/l0p7/swkit/internal/events"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/logging"
	"github.com/l0p7/swkit/internal/metrics"
	"github.com/l0p7/swkit/internal/runtime"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/server"
	"github.com/l0p7/swkit/internal/storage"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
	Watch(context.Context, func(config.Config), func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type runnableServer interface {
	Run(context.Context) error
}

// fileLoader adapts config.Loader; a loader without files has nothing to
// watch.
type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	if len(l.Files()) == 0 {
		return nil, nil
	}
	return l.Loader.Watch(ctx, onChange, onError)
}

var (
	newConfigLoader = func(envPrefix, path string) configLoader {
		return fileLoader{config.NewLoader(envPrefix, path)}
	}
	newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler, drain func(context.Context) error) (runnableServer, error) {
		return server.New(cfg, logger, handler, server.WithDrain(drain))
	}
)

func main() {
	var (
		configFile = flag.String("config", "", "path to worker configuration file")
		envPrefix  = flag.String("env-prefix", config.DefaultEnvPrefix, "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	for _, warning := range cfg.Warnings {
		logger.Warn("worker option ignored", slog.Any("error", warning))
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	backend := buildStorage(logger.With(slog.String("agent", "storage_factory")), cfg.Server.Cache)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Error("storage shutdown failed", slog.Any("error", err))
		}
	}()

	fetcher, err := fetch.NewHTTPFetcher(&http.Client{Timeout: cfg.Worker.FetchTimeoutDuration()}, cfg.Worker.Origin, cfg.Worker.Upstream)
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}
	store, err := cache.New(backend, cache.Options{
		Origin:      cfg.Worker.Origin,
		Prefix:      cfg.Server.Cache.Prefix,
		Delimiter:   cfg.Server.Cache.Delimiter,
		DefaultName: cfg.Server.Cache.DefaultName,
		Fetcher:     fetcher,
		Observer:    recorder,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}

	env := environment.New(environment.Worker(), cfg.Worker.Flags)
	cfg.Worker.ApplyRuntime(env)
	bus := events.New(env.IsEventsEnabled, events.WithObserver(recorder), events.WithLogger(logger))

	worker, err := runtime.Assemble(runtime.Assembly{
		Config:  cfg.Worker,
		Store:   store,
		Fetcher: fetcher,
		Env:     env,
		Bus:     bus,
		Metrics: recorder,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("assemble worker: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := worker.Close(closeCtx); err != nil {
			logger.Error("background work abandoned", slog.Any("error", err))
		}
	}()

	if err := worker.Install(ctx); err != nil {
		return fmt.Errorf("install worker: %w", err)
	}
	if err := worker.Activate(ctx); err != nil {
		logger.Warn("worker activated with errors", slog.Any("error", err))
	}

	watcher, err := loader.Watch(ctx, func(next config.Config) {
		next.Worker.ApplyRuntime(env)
		logger.Info("worker flags reloaded",
			slog.Bool("offline", next.Worker.Offline),
			slog.Bool("events", next.Worker.Flags.Events),
		)
	}, func(err error) {
		if err != nil {
			logger.Error("config watcher error", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("config watcher setup failed", slog.Any("error", err))
	} else if watcher != nil {
		defer watcher.Stop()
	}

	srv, err := newHTTPServer(cfg, logger, server.NewWorkerHandler(worker, recorder.Handler()), worker.Close)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

func buildStorage(logger *slog.Logger, cfg config.ServerCacheConfig) storage.Storage {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory cache storage")
		return storage.NewMemory()
	case "redis", "valkey":
		st, err := storage.NewValkey(storage.ValkeyConfig{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
			TLS: storage.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey storage initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache storage")
			return storage.NewMemory()
		}
		logger.Info("using valkey cache storage", slog.String("address", cfg.Redis.Address))
		return st
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return storage.NewMemory()
	}
}
