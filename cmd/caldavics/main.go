package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"caldavics/internal/cache"
	"caldavics/internal/caldav"
	"caldavics/internal/calendar"
	"caldavics/internal/config"
	appLog "caldavics/internal/log"
	"caldavics/internal/scheduler"
	"caldavics/internal/telemetry"
	"caldavics/internal/web"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
	refreshTimeout  = 2 * time.Minute
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("caldavics starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"cache_file", conf.Cache.File,
		"cache_ttl", conf.CacheTTL(),
		"refresh", conf.RefreshCron,
		"metrics_exporter", conf.Telemetry.MetricsExporter,
		"tracing_exporter", conf.Telemetry.TracingExporter,
		"http_auth", conf.HTTPAuth != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		appLog.Error("caldavics exited with error", err)
		os.Exit(1)
	}
	appLog.Info("caldavics exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:     "caldavics",
		Version:         version,
		MetricsExporter: conf.Telemetry.MetricsExporter,
		TracingExporter: conf.Telemetry.TracingExporter,
	})
	if err != nil {
		appLog.Error("telemetry setup failed; continuing without metrics and traces", err)
		tel = telemetry.Noop()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			appLog.Error("telemetry shutdown failed", err)
		}
	}()

	inst, err := telemetry.NewInstruments(tel.Meter())
	if err != nil {
		return err
	}

	client, err := caldav.NewClient(caldav.Config{
		ServerURL: conf.ServerURL,
		Username:  conf.Username,
		Password:  conf.Password,
	})
	if err != nil {
		return err
	}

	orch, err := calendar.New(calendar.Options{
		Upstream:    client,
		Cache:       newStore(conf),
		Timezone:    conf.Timezone,
		Instruments: inst,
		Tracer:      tel.Tracer(),
	})
	if err != nil {
		return err
	}

	if conf.RefreshCron != "" {
		sched, err := scheduler.New(conf.RefreshCron, orch, refreshTimeout)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				appLog.Error("scheduler stop timed out", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, orch, tel.Handler()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("starting HTTP server", "listen", conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		orch.Wait()
		return err
	})
	return g.Wait()
}

// newStore picks the on-disk cache, or an in-memory one when no file is
// configured.
func newStore(conf *config.Config) cache.Store {
	if conf.Cache.File == "" {
		appLog.Info("cache file not configured; caching in memory")
		return cache.NewMemoryStore(conf.CacheTTL(), nil)
	}
	store := cache.NewFileStore(conf.Cache.File, conf.CacheTTL(), nil)
	appLog.Info("caching calendar on disk", "path", store.Path(), "ttl", conf.CacheTTL())
	return store
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
