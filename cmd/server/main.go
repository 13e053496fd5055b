package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/alerts"
	"github.com/afroash/greenhouse-monitor/internal/config"
	"github.com/afroash/greenhouse-monitor/internal/greenhouse"
	"github.com/afroash/greenhouse-monitor/internal/logging"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/metrics"
	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/server"
	"github.com/afroash/greenhouse-monitor/internal/storage"
	"github.com/afroash/greenhouse-monitor/internal/telemetry"
)

var version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging, "server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Int64("greenhouse_id", cfg.Greenhouse.ID).
		Int("port", cfg.Server.Port).
		Msg("Starting greenhouse monitor")
	logger.Debug().Msg(cfg.String())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	coreLoop := loop.New(0, logger.With().Str("module", "loop").Logger())
	go coreLoop.Run(loopCtx)

	info := models.NewSystemInfo(cfg.Greenhouse.ID, cfg.Greenhouse.Name, cfg.Greenhouse.Location, version)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var (
		sqliteStore      *storage.SQLiteStore
		dbWriter         *storage.DBWriter
		retentionCleaner *storage.RetentionCleaner
		notifications    *storage.NotificationSink
		checks           []server.HealthCheck
	)

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		var err error
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger.With().Str("module", "storage").Logger())
		if err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Database.Path).Msg("SQLite store opened")

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)
		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Database.RetentionDays,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)
		notifications = storage.NewNotificationSink(sqliteStore, 0, logger)
		checks = append(checks, server.HealthCheck{Name: "database", Check: sqliteStore.Ping})
	}

	recent := server.NewRecentReadings(0)
	stream := server.NewStream(*info, logger.With().Str("module", "stream").Logger(), cfg.Server.AllowedOrigins...)

	sinks := []alerts.Sink{stream}
	if m != nil {
		sinks = append(sinks, m)
	}
	if notifications != nil {
		sinks = append(sinks, notifications)
	}

	monitor, err := greenhouse.Build(coreLoop, cfg, rand.NewPCG(uint64(time.Now().UnixNano()), uint64(cfg.Greenhouse.ID)), logger, sinks...)
	if err != nil {
		return err
	}

	monitor.AddObserver(recent)
	monitor.AddObserver(stream)
	if m != nil {
		monitor.AddObserver(m)
	}

	var mirror *telemetry.Mirror
	if cfg.MQTT.Enabled {
		mqttLogger := logger.With().Str("module", "telemetry").Logger()
		pub, err := telemetry.Connect(ctx, cfg.MQTT, mqttLogger)
		if err != nil {
			// the monitor runs without the mirror
			logger.Error().Err(err).Msg("MQTT mirror disabled")
		} else {
			mirror = telemetry.NewMirror(pub, cfg.MQTT, m, mqttLogger)
			monitor.AddObserver(mirror)
			checks = append(checks, server.HealthCheck{Name: "mqtt", Check: mirror.HealthCheck})
		}
	}

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	var recorder *storage.Recorder
	if dbWriter != nil {
		recorder = storage.NewRecorder(monitor, dbWriter, cfg.Greenhouse.ID, cfg.Database.RecordInterval, logger)
	}

	deps := server.Deps{
		Greenhouse: monitor,
		Recent:     recent,
		Stream:     stream,
		Metrics:    m,
		Info:       *info,
		Checks:     checks,
	}
	if sqliteStore != nil {
		deps.DB = sqliteStore
	}
	srv := server.New(deps, cfg.Server, logger.With().Str("module", "http").Logger())

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Handler(cfg.Metrics.Path),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	stream.Close()

	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Monitor stop error")
	}
	if recorder != nil {
		recorder.Stop()
	}
	if dbWriter != nil {
		dbWriter.Stop()
		logger.Info().Msg("DBWriter stopped")
	}
	if notifications != nil {
		notifications.Close()
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}
	if mirror != nil {
		mirror.Close()
	}
	stopLoop()

	logger.Info().Msg("Server stopped")
	return runErr
}
