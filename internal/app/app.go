// Package app wires the ingestion pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crm-mail-ingest-go/internal/config"
	"crm-mail-ingest-go/internal/database"
	"crm-mail-ingest-go/internal/handler"
	metricsPkg "crm-mail-ingest-go/internal/metrics"
	"crm-mail-ingest-go/internal/repository"
	"crm-mail-ingest-go/internal/router"
	"crm-mail-ingest-go/internal/service/dedup"
	"crm-mail-ingest-go/internal/service/ingest"
	"crm-mail-ingest-go/internal/service/mailbox"
	"crm-mail-ingest-go/internal/service/notify"
	"crm-mail-ingest-go/internal/service/resolver"
	"crm-mail-ingest-go/internal/service/scheduler"
)

// App holds the wired components
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Registry   *prometheus.Registry
	Metrics    *metricsPkg.Metrics
	Dispatcher *notify.Dispatcher
	Poller     *ingest.Poller
	Scheduler  *scheduler.Scheduler
}

// ConfigureLogging applies the configured logrus level with JSON output
func ConfigureLogging(cfg config.LoggingConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Load reads and validates the configuration
func Load() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Build connects the stores and assembles the pipeline. Settings that can
// fail are checked before any connection is opened.
func Build(cfg *config.Config) (*App, error) {
	var redisOpts *redis.Options
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		redisOpts = opts
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{Config: cfg, DB: db, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metricsPkg.NewMetrics(a.Registry)

	store := repository.New(db)

	var seen dedup.SeenCache
	sinks := []notify.Sink{notify.NewStoreSink(store)}
	if redisOpts != nil {
		a.Redis = redis.NewClient(redisOpts)
		seen = dedup.NewRedisSeenCache(a.Redis, cfg.Redis.SeenTTL)
		sinks = append(sinks, notify.NewQueueSink(a.Redis, cfg.Redis.NotifyQueue))
		logrus.Info("Redis seen-cache and notification queue enabled")
	}

	a.Dispatcher = notify.NewDispatcher(notify.Config{
		QueueSize:       cfg.Notification.QueueSize,
		SendTimeout:     cfg.Notification.SendTimeout,
		BreakerFailures: cfg.Notification.BreakerFailures,
		BreakerTimeout:  cfg.Notification.BreakerTimeout,
	}, a.Metrics, sinks...)
	a.Dispatcher.Start()

	dedupResolver := dedup.New(store, dedup.Config{
		LiveWindow:       cfg.Ingest.LiveWindow,
		HistoricalWindow: cfg.Ingest.HistoricalWindow,
		SubjectFallback:  cfg.Ingest.SubjectFallback,
	}, seen, a.Metrics)

	a.Poller = ingest.New(ingest.Config{
		FormSubject:    cfg.Ingest.FormSubject,
		RecentWindow:   cfg.Ingest.RecentWindow(),
		TrackingParams: cfg.Ingest.TrackingParams,
	}, cfg.Mailboxes(), mailbox.NewIMAPDialer(), store, dedupResolver, resolver.New(store, a.Dispatcher, a.Metrics), a.Metrics)

	a.Scheduler = scheduler.New(&cfg.Scheduler, a.Poller)
	return a, nil
}

// Handlers builds the HTTP layer over the app
func (a *App) Handlers() *handler.Handlers {
	checks := map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	metrics := promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
	return handler.NewHandlers(repository.New(a.DB), a.Poller, a.Scheduler, metrics, a.Config.Ingest.HistoricalWindow, checks)
}

// Close flushes pending notifications and releases connections
func (a *App) Close() {
	a.Dispatcher.Close()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logrus.Errorf("Failed to close redis client: %v", err)
		}
	}
	closeDB(a.DB)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}
}

// Run initializes and starts the application
func Run() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	ConfigureLogging(cfg.Logging)
	logrus.Info("Starting CRM Mail Ingest Service")

	a, err := Build(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(a.Handlers()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.AutoStart {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	a.Scheduler.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
