package greenhouse

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/alerts"
	"github.com/afroash/greenhouse-monitor/internal/config"
	"github.com/afroash/greenhouse-monitor/internal/irrigation"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/sensor"
)

// Build constructs a Monitor and its components from configuration.
// src seeds the simulator; sinks receive every new alert.
func Build(runner loop.Runner, cfg *config.AppConfig, src rand.Source, logger zerolog.Logger, sinks ...alerts.Sink) (*Monitor, error) {
	classifier := sensor.NewClassifier(
		sensor.Channel(cfg.Sensor.Temperature),
		sensor.Channel(cfg.Sensor.Humidity),
	)
	simulator := sensor.NewSimulator(classifier, src, runner.Now)

	lastWatering := runner.Now().AddDate(0, 0, -cfg.Irrigation.InitialLastWateringDaysAgo)
	scheduler, err := irrigation.NewScheduler(runner, cfg.Irrigation.IrrigationConfig, irrigation.Options{
		ProgressInterval:  cfg.Irrigation.ProgressInterval,
		ScheduleTolerance: cfg.Irrigation.ScheduleTolerance,
		LastWateringAt:    lastWatering,
	}, logger.With().Str("module", "irrigation").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	alertManager := alerts.NewManager(runner, classifier, scheduler, alerts.Options{
		Retention:     cfg.Alerts.Retention,
		NormalizedTTL: cfg.Alerts.NormalizedTTL,
		CompletedTTL:  cfg.Alerts.CompletedTTL,
		StoppedTTL:    cfg.Alerts.StoppedTTL,
	}, logger.With().Str("module", "alerts").Logger(), sinks...)

	return New(runner, simulator, scheduler, alertManager, Options{
		GreenhouseID:  cfg.Greenhouse.ID,
		TickInterval:  cfg.Sensor.TickInterval,
		FollowUpDelay: cfg.Alerts.FollowUpDelay,
	}, logger), nil
}
