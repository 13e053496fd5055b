// Package greenhouse ties the simulator, scheduler and alerts together.
//
// Monitor is the owning context: every core component is a field, every
// timer is armed in Start and disarmed in Stop, and every public method runs
// on the loop so the components never see concurrent calls.
package greenhouse

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/alerts"
	"github.com/afroash/greenhouse-monitor/internal/irrigation"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/sensor"
)

// ErrAlreadyStarted is returned by a second Start
var ErrAlreadyStarted = errors.New("monitor already started")

// Observer receives a snapshot after every reconciliation pass.
// It runs on the loop goroutine and must not block.
type Observer interface {
	OnSnapshot(s models.Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(models.Snapshot)

func (f ObserverFunc) OnSnapshot(s models.Snapshot) { f(s) }

// Options configures the monitor timing
type Options struct {
	GreenhouseID  int64
	TickInterval  time.Duration
	FollowUpDelay time.Duration
}

// Monitor owns the core state of one greenhouse
type Monitor struct {
	runner    loop.Runner
	logger    zerolog.Logger
	opts      Options
	simulator *sensor.Simulator
	scheduler *irrigation.Scheduler
	alerts    *alerts.Manager
	observers []Observer

	ticker   loop.Handle
	followUp loop.Handle
	started  bool
}

// New wires the components. The scheduler's events are routed to the
// alert manager from here on.
func New(runner loop.Runner, simulator *sensor.Simulator, scheduler *irrigation.Scheduler, alertManager *alerts.Manager, opts Options, logger zerolog.Logger) *Monitor {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = time.Second
	}
	m := &Monitor{
		runner:    runner,
		logger:    logger,
		opts:      opts,
		simulator: simulator,
		scheduler: scheduler,
		alerts:    alertManager,
	}
	scheduler.Subscribe(m.onIrrigationEvent)
	return m
}

// AddObserver registers an observer. Call before Start.
func (m *Monitor) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Start arms the sensor ticker
func (m *Monitor) Start(ctx context.Context) error {
	var err error
	doErr := m.runner.Do(ctx, func() {
		if m.started {
			err = ErrAlreadyStarted
			return
		}
		m.started = true
		m.ticker = m.runner.Every(m.opts.TickInterval, m.tick)
		m.logger.Info().
			Int64("greenhouse_id", m.opts.GreenhouseID).
			Dur("tick_interval", m.opts.TickInterval).
			Msg("Monitor started")
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Stop disarms every timer. Nothing fires afterwards.
func (m *Monitor) Stop(ctx context.Context) error {
	return m.runner.Do(ctx, func() {
		if m.ticker != nil {
			m.ticker.Stop()
			m.ticker = nil
		}
		if m.followUp != nil {
			m.followUp.Stop()
			m.followUp = nil
		}
		m.scheduler.Close()
		m.alerts.Close()
		m.started = false
		m.logger.Info().Msg("Monitor stopped")
	})
}

// tick is one sensor step: simulate, classify, reconcile, publish
func (m *Monitor) tick() {
	r := m.simulator.Tick()
	m.logger.Debug().
		Float64("temperature", r.Temperature).
		Float64("humidity", r.Humidity).
		Stringer("status", r.Status).
		Msg("Sensor tick")
	m.reconcile()
}

func (m *Monitor) reconcile() {
	m.alerts.Reconcile(m.simulator.Reading(), m.scheduler.State(), m.scheduler.Config())
	m.publish()
}

func (m *Monitor) snapshot() models.Snapshot {
	unread, total := m.alerts.Counts()
	return models.Snapshot{
		GreenhouseID: m.opts.GreenhouseID,
		Reading:      m.simulator.Reading(),
		Irrigation:   m.scheduler.State(),
		UnreadAlerts: unread,
		TotalAlerts:  total,
	}
}

func (m *Monitor) publish() {
	if len(m.observers) == 0 {
		return
	}
	s := m.snapshot()
	for _, o := range m.observers {
		o.OnSnapshot(s)
	}
}

func (m *Monitor) onIrrigationEvent(e irrigation.Event) {
	m.alerts.HandleEvent(e)

	switch e.(type) {
	case irrigation.WateringCompleted, irrigation.WateringStopped:
		if m.followUp != nil {
			m.followUp.Stop()
		}
		m.followUp = m.runner.After(m.opts.FollowUpDelay, func() {
			m.followUp = nil
			m.logger.Debug().Msg("Follow-up reconciliation after watering")
			m.reconcile()
		})
	}
}

// run executes fn on the loop and returns its result
func run[T any](ctx context.Context, m *Monitor, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if doErr := m.runner.Do(ctx, func() { out, err = fn() }); doErr != nil {
		var zero T
		return zero, doErr
	}
	return out, err
}

// CurrentReading returns the latest reading
func (m *Monitor) CurrentReading(ctx context.Context) (models.SensorReading, error) {
	return run(ctx, m, func() (models.SensorReading, error) {
		return m.simulator.Reading(), nil
	})
}

// Snapshot returns the reading, irrigation state and alert counts together
func (m *Monitor) Snapshot(ctx context.Context) (models.Snapshot, error) {
	return run(ctx, m, func() (models.Snapshot, error) {
		return m.snapshot(), nil
	})
}

// SetReading overrides the simulated reading and reconciles immediately
func (m *Monitor) SetReading(ctx context.Context, temperature, humidity *float64) (models.SensorReading, error) {
	return run(ctx, m, func() (models.SensorReading, error) {
		r := m.simulator.Configure(temperature, humidity)
		m.logger.Info().Float64("temperature", r.Temperature).Float64("humidity", r.Humidity).Msg("Reading overridden")
		m.reconcile()
		return r, nil
	})
}

// History returns n synthetic hourly readings, oldest first
func (m *Monitor) History(ctx context.Context, n int) ([]models.SensorReading, error) {
	return run(ctx, m, func() ([]models.SensorReading, error) {
		return m.simulator.History(n), nil
	})
}

// Alerts returns up to limit alerts
func (m *Monitor) Alerts(ctx context.Context, limit int) (models.AlertPage, error) {
	return run(ctx, m, func() (models.AlertPage, error) {
		return m.alerts.List(limit), nil
	})
}

// MarkAlertRead flags one alert as read
func (m *Monitor) MarkAlertRead(ctx context.Context, id string) error {
	_, err := run(ctx, m, func() (struct{}, error) {
		return struct{}{}, m.alerts.MarkRead(id)
	})
	return err
}

// MarkAllAlertsRead flags every alert as read
func (m *Monitor) MarkAllAlertsRead(ctx context.Context) (int, error) {
	return run(ctx, m, func() (int, error) {
		return m.alerts.MarkAllRead(), nil
	})
}

// DeleteAlert removes one alert
func (m *Monitor) DeleteAlert(ctx context.Context, id string) error {
	_, err := run(ctx, m, func() (struct{}, error) {
		return struct{}{}, m.alerts.Delete(id)
	})
	return err
}

// IrrigationState returns the watering state
func (m *Monitor) IrrigationState(ctx context.Context) (models.IrrigationState, error) {
	return run(ctx, m, func() (models.IrrigationState, error) {
		return m.scheduler.State(), nil
	})
}

// IrrigationConfig returns the watering configuration
func (m *Monitor) IrrigationConfig(ctx context.Context) (models.IrrigationConfig, error) {
	return run(ctx, m, func() (models.IrrigationConfig, error) {
		return m.scheduler.Config(), nil
	})
}

// UpdateIrrigationConfig applies a partial configuration update
func (m *Monitor) UpdateIrrigationConfig(ctx context.Context, patch models.IrrigationPatch) (models.IrrigationConfig, error) {
	return run(ctx, m, func() (models.IrrigationConfig, error) {
		return m.scheduler.Configure(patch)
	})
}

// ScheduledWaterings returns the pending one-off waterings
func (m *Monitor) ScheduledWaterings(ctx context.Context) ([]models.ScheduledWatering, error) {
	return run(ctx, m, func() ([]models.ScheduledWatering, error) {
		return m.scheduler.ScheduledWaterings(), nil
	})
}

// ScheduleWatering books a one-off watering
func (m *Monitor) ScheduleWatering(ctx context.Context, date time.Time, clock string, durationMinutes int) (models.ScheduledWatering, error) {
	return run(ctx, m, func() (models.ScheduledWatering, error) {
		return m.scheduler.ScheduleAt(date, clock, durationMinutes)
	})
}

// CancelScheduledWatering removes a one-off watering
func (m *Monitor) CancelScheduledWatering(ctx context.Context, id string) error {
	_, err := run(ctx, m, func() (struct{}, error) {
		return struct{}{}, m.scheduler.CancelScheduled(id)
	})
	return err
}

// StartWatering starts a manual session and returns its duration
func (m *Monitor) StartWatering(ctx context.Context, durationMinutes int) (int, error) {
	return run(ctx, m, func() (int, error) {
		d, err := m.scheduler.StartManual(durationMinutes)
		if err == nil {
			m.publish()
		}
		return d, err
	})
}

// StopWatering stops the current session and returns the progress reached
func (m *Monitor) StopWatering(ctx context.Context) (float64, error) {
	return run(ctx, m, func() (float64, error) {
		p, err := m.scheduler.Stop()
		if err == nil {
			m.publish()
		}
		return p, err
	})
}
