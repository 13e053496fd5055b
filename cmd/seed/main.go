// Command seed fills the readings table with synthetic hourly history.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/config"
	"github.com/afroash/greenhouse-monitor/internal/greenhouse"
	"github.com/afroash/greenhouse-monitor/internal/logging"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	points := flag.Int("points", 24*7, "number of hourly readings to insert")
	dbPath := flag.String("db", "", "database path (overrides config)")
	seed := flag.Uint64("seed", 0, "simulator seed, 0 for random")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, logCloser, err := logging.New(cfg.Logging, "seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := seedReadings(cfg, *points, *seed, logger); err != nil {
		logger.Error().Err(err).Msg("Seeding failed")
		logCloser.Close()
		os.Exit(1)
	}
}

func seedReadings(cfg *config.AppConfig, points int, seed uint64, logger zerolog.Logger) error {
	if points < 1 {
		return fmt.Errorf("points must be positive, got %d", points)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coreLoop := loop.New(0, logger)
	go coreLoop.Run(ctx)

	monitor, err := greenhouse.Build(coreLoop, cfg, rand.NewPCG(seed, uint64(cfg.Greenhouse.ID)), logger)
	if err != nil {
		return err
	}
	history, err := monitor.History(ctx, points)
	if err != nil {
		return fmt.Errorf("failed to generate history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	records := make([]*models.SensorRecord, 0, len(history))
	for _, r := range history {
		records = append(records, models.NewSensorRecord(cfg.Greenhouse.ID, r))
	}
	if err := store.InsertBatch(records); err != nil {
		return err
	}

	logger.Info().
		Int("readings", len(records)).
		Int64("greenhouse_id", cfg.Greenhouse.ID).
		Str("path", cfg.Database.Path).
		Time("from", history[0].Timestamp).
		Time("to", history[len(history)-1].Timestamp).
		Msg("Seeded readings")
	return nil
}
