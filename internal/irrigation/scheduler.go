// Package irrigation implements the watering state machine.
//
// A Scheduler is either idle or watering. While watering exactly one progress
// ticker is armed. Recurring waterings follow the configured frequency and
// start time; one-off waterings can be scheduled for a specific instant.
// All methods must be called from the loop goroutine.
package irrigation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/models"
)

var (
	ErrAlreadyWatering  = errors.New("watering already in progress")
	ErrNotWatering      = errors.New("no watering in progress")
	ErrNotFuture        = errors.New("date must be in the future")
	ErrInvalidTime      = errors.New("time must use HH:MM")
	ErrInvalidDuration  = fmt.Errorf("duration must be between %d and %d minutes", models.MinWateringMinutes, models.MaxWateringMinutes)
	ErrInvalidFrequency = errors.New("frequency must be at least 1 day")
	ErrScheduleNotFound = errors.New("scheduled watering not found")
)

const day = 24 * time.Hour

// Options tunes the scheduler timing
type Options struct {
	// ProgressInterval is the period of the progress ticker
	ProgressInterval time.Duration
	// ScheduleTolerance is the window in which a due watering may still start
	ScheduleTolerance time.Duration
	// LastWateringAt seeds the recurring schedule
	LastWateringAt time.Time
}

// Scheduler owns the watering state
type Scheduler struct {
	timers loop.Timers
	logger zerolog.Logger
	opts   Options

	config          models.IrrigationConfig
	lastWateringAt  time.Time
	nextScheduledAt *time.Time
	scheduled       []models.ScheduledWatering

	inProgress      bool
	trigger         models.WateringTrigger
	durationMinutes int
	ticks           int
	progress        float64
	remaining       float64
	ticker          loop.Handle

	listeners []Listener
}

// NewScheduler creates an idle scheduler. The first recurring watering is
// computed from opts.LastWateringAt.
func NewScheduler(timers loop.Timers, config models.IrrigationConfig, opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}
	if opts.ScheduleTolerance <= 0 {
		opts.ScheduleTolerance = 5 * time.Minute
	}
	if opts.LastWateringAt.IsZero() {
		opts.LastWateringAt = timers.Now()
	}

	s := &Scheduler{
		timers:         timers,
		logger:         logger,
		opts:           opts,
		config:         config,
		lastWateringAt: opts.LastWateringAt,
	}
	next := s.recurringNext(true)
	s.nextScheduledAt = &next
	return s, nil
}

// Subscribe registers a listener for scheduler events
func (s *Scheduler) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) emit(e Event) {
	for _, l := range s.listeners {
		l(e)
	}
}

func validateConfig(c models.IrrigationConfig) error {
	if c.FrequencyDays < 1 {
		return ErrInvalidFrequency
	}
	if !validDuration(c.DurationMinutes) {
		return ErrInvalidDuration
	}
	if _, _, err := models.ParseClock(c.StartTime); err != nil {
		return ErrInvalidTime
	}
	return nil
}

func validDuration(minutes int) bool {
	return minutes >= models.MinWateringMinutes && minutes <= models.MaxWateringMinutes
}

// atClock returns the calendar day of d at hh:mm in the clock's location
func (s *Scheduler) atClock(d time.Time, hour, minute int) time.Time {
	loc := s.timers.Now().Location()
	d = d.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
}

// recurringNext computes last watering + frequency at the start time.
// With advance set, an instant already passed is pushed one more cycle.
func (s *Scheduler) recurringNext(advance bool) time.Time {
	hour, minute, _ := models.ParseClock(s.config.StartTime)
	next := s.atClock(s.lastWateringAt.AddDate(0, 0, s.config.FrequencyDays), hour, minute)
	if advance && !next.After(s.timers.Now()) {
		next = next.AddDate(0, 0, s.config.FrequencyDays)
	}
	return next
}

// StartManual begins a manual session. Zero uses the configured duration.
// It returns the effective duration in minutes.
func (s *Scheduler) StartManual(durationMinutes int) (int, error) {
	if durationMinutes == 0 {
		durationMinutes = s.config.DurationMinutes
	}
	if err := s.start(models.TriggerManual, durationMinutes); err != nil {
		return 0, err
	}
	return durationMinutes, nil
}

// startAutomatic begins a session from the schedule and moves the next
// recurring watering one frequency ahead.
func (s *Scheduler) startAutomatic(trigger models.WateringTrigger, durationMinutes int) error {
	if err := s.start(trigger, durationMinutes); err != nil {
		return err
	}
	next := s.timers.Now().AddDate(0, 0, s.config.FrequencyDays)
	s.nextScheduledAt = &next
	return nil
}

func (s *Scheduler) start(trigger models.WateringTrigger, durationMinutes int) error {
	if s.inProgress {
		return ErrAlreadyWatering
	}
	if !validDuration(durationMinutes) {
		return ErrInvalidDuration
	}

	now := s.timers.Now()
	s.inProgress = true
	s.trigger = trigger
	s.durationMinutes = durationMinutes
	s.lastWateringAt = now
	s.ticks = 0
	s.progress = 0
	s.remaining = float64(durationMinutes)
	s.ticker = s.timers.Every(s.opts.ProgressInterval, s.onProgress)

	s.logger.Info().
		Str("trigger", string(trigger)).
		Int("duration_minutes", durationMinutes).
		Msg("Watering started")

	s.emit(WateringStarted{Trigger: trigger, DurationMinutes: durationMinutes, At: now})
	return nil
}

// onProgress advances the session by one progress interval
func (s *Scheduler) onProgress() {
	if !s.inProgress {
		return
	}
	s.ticks++

	session := time.Duration(s.durationMinutes) * time.Minute
	elapsed := time.Duration(s.ticks) * s.opts.ProgressInterval
	s.progress = math.Min(100, float64(elapsed)/float64(session)*100)
	s.remaining = math.Max(0, float64(s.durationMinutes)-s.progress/100*float64(s.durationMinutes))

	s.logger.Debug().Float64("progress", s.progress).Float64("remaining_minutes", s.remaining).Msg("Watering progress")

	if s.progress >= 100 {
		s.finalize()
	}
}

func (s *Scheduler) disarm() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Scheduler) finalize() {
	now := s.timers.Now()
	s.inProgress = false
	s.progress = 100
	s.remaining = 0
	s.disarm()

	var next *time.Time
	if s.nextScheduledAt != nil && s.nextScheduledAt.After(now) {
		n := *s.nextScheduledAt
		next = &n
	}

	s.logger.Info().Str("trigger", string(s.trigger)).Msg("Watering completed")
	s.emit(WateringCompleted{At: now, Next: next})
}

// Stop ends the current session early and returns the progress reached
func (s *Scheduler) Stop() (float64, error) {
	if !s.inProgress {
		return 0, ErrNotWatering
	}

	reached := s.progress
	s.inProgress = false
	s.progress = 0
	s.remaining = 0
	s.disarm()

	s.logger.Info().Float64("progress", reached).Msg("Watering stopped")
	s.emit(WateringStopped{At: s.timers.Now(), ProgressAtStop: reached})
	return reached, nil
}

// Configure applies a partial update and recomputes the next recurring watering
func (s *Scheduler) Configure(patch models.IrrigationPatch) (models.IrrigationConfig, error) {
	updated := s.config
	if patch.FrequencyDays != nil {
		updated.FrequencyDays = *patch.FrequencyDays
	}
	if patch.DurationMinutes != nil {
		updated.DurationMinutes = *patch.DurationMinutes
	}
	if patch.StartTime != nil {
		updated.StartTime = *patch.StartTime
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if err := validateConfig(updated); err != nil {
		return s.config, err
	}

	changes := describeChanges(s.config, updated)
	s.config = updated

	hour, minute, _ := models.ParseClock(updated.StartTime)
	var next time.Time
	if patch.SpecificDate != nil {
		next = s.atClock(*patch.SpecificDate, hour, minute)
	} else {
		next = s.recurringNext(true)
	}
	s.nextScheduledAt = &next

	s.logger.Info().Interface("config", updated).Time("next", next).Msg("Irrigation config updated")

	if len(changes) > 0 {
		s.emit(ConfigUpdated{Changes: changes, Config: updated})
	}
	return updated, nil
}

func describeChanges(old, updated models.IrrigationConfig) []string {
	var changes []string
	if old.FrequencyDays != updated.FrequencyDays {
		changes = append(changes, fmt.Sprintf("frequency: %d days", updated.FrequencyDays))
	}
	if old.DurationMinutes != updated.DurationMinutes {
		changes = append(changes, fmt.Sprintf("duration: %d minutes", updated.DurationMinutes))
	}
	if old.StartTime != updated.StartTime {
		changes = append(changes, fmt.Sprintf("start time: %s", updated.StartTime))
	}
	if old.Enabled != updated.Enabled {
		if updated.Enabled {
			changes = append(changes, "automatic watering enabled")
		} else {
			changes = append(changes, "automatic watering disabled")
		}
	}
	return changes
}

// ScheduleAt books a one-off watering on date at clock ("HH:MM").
// Zero duration uses the configured duration.
func (s *Scheduler) ScheduleAt(date time.Time, clock string, durationMinutes int) (models.ScheduledWatering, error) {
	hour, minute, err := models.ParseClock(clock)
	if err != nil {
		return models.ScheduledWatering{}, ErrInvalidTime
	}
	if durationMinutes == 0 {
		durationMinutes = s.config.DurationMinutes
	}
	if !validDuration(durationMinutes) {
		return models.ScheduledWatering{}, ErrInvalidDuration
	}

	now := s.timers.Now()
	at := s.atClock(date, hour, minute)
	if !at.After(now) {
		return models.ScheduledWatering{}, ErrNotFuture
	}

	sw := models.ScheduledWatering{
		ID:              newID(),
		ScheduledAt:     at,
		DurationMinutes: durationMinutes,
		Status:          models.WateringScheduled,
		CreatedAt:       now,
	}
	s.scheduled = append(s.scheduled, sw)
	slices.SortStableFunc(s.scheduled, func(a, b models.ScheduledWatering) int {
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})

	if s.nextScheduledAt == nil || at.Before(*s.nextScheduledAt) {
		s.nextScheduledAt = &at
	}

	s.logger.Info().Str("id", sw.ID).Time("at", at).Int("duration_minutes", durationMinutes).Msg("Watering scheduled")
	s.emit(WateringScheduled{Watering: sw})
	return sw, nil
}

// CancelScheduled removes a one-off watering
func (s *Scheduler) CancelScheduled(id string) error {
	i := slices.IndexFunc(s.scheduled, func(sw models.ScheduledWatering) bool { return sw.ID == id })
	if i < 0 {
		return ErrScheduleNotFound
	}
	s.scheduled = slices.Delete(s.scheduled, i, i+1)

	if pending := s.pending(); len(pending) > 0 {
		next := pending[0].ScheduledAt
		s.nextScheduledAt = &next
	} else {
		next := s.recurringNext(false)
		s.nextScheduledAt = &next
	}

	s.logger.Info().Str("id", id).Msg("Scheduled watering cancelled")
	return nil
}

// pending returns the SCHEDULED entries in ascending order
func (s *Scheduler) pending() []models.ScheduledWatering {
	var out []models.ScheduledWatering
	for _, sw := range s.scheduled {
		if sw.Status == models.WateringScheduled {
			out = append(out, sw)
		}
	}
	return out
}

// ScheduledWaterings returns the future SCHEDULED entries. Entries that can
// no longer start are dropped from the list.
func (s *Scheduler) ScheduledWaterings() []models.ScheduledWatering {
	now := s.timers.Now()
	cutoff := now.Add(-s.opts.ScheduleTolerance)

	s.scheduled = slices.DeleteFunc(s.scheduled, func(sw models.ScheduledWatering) bool {
		return sw.Status != models.WateringScheduled || !sw.ScheduledAt.After(cutoff)
	})

	out := []models.ScheduledWatering{}
	for _, sw := range s.scheduled {
		if sw.ScheduledAt.After(now) {
			out = append(out, sw)
		}
	}
	return out
}

// CheckAutomatic starts a due watering. It runs once per sensor tick.
func (s *Scheduler) CheckAutomatic() {
	if !s.config.Enabled || s.inProgress {
		return
	}
	now := s.timers.Now()
	windowStart := now.Add(-s.opts.ScheduleTolerance)

	for i := range s.scheduled {
		sw := &s.scheduled[i]
		if sw.Status != models.WateringScheduled {
			continue
		}
		if !sw.ScheduledAt.After(now) && sw.ScheduledAt.After(windowStart) {
			sw.Status = models.WateringCompleted
			if err := s.startAutomatic(models.TriggerScheduled, sw.DurationMinutes); err != nil {
				s.logger.Error().Err(err).Str("id", sw.ID).Msg("Failed to start scheduled watering")
			}
			return
		}
	}

	if s.nextScheduledAt == nil || now.Before(*s.nextScheduledAt) {
		return
	}
	hour, minute, _ := models.ParseClock(s.config.StartTime)
	tolerance := int(s.opts.ScheduleTolerance / time.Minute)
	if now.Hour() == hour && abs(now.Minute()-minute) <= tolerance {
		if err := s.startAutomatic(models.TriggerAutomatic, s.config.DurationMinutes); err != nil {
			s.logger.Error().Err(err).Msg("Failed to start automatic watering")
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// State returns a snapshot of the watering state
func (s *Scheduler) State() models.IrrigationState {
	now := s.timers.Now()
	state := models.IrrigationState{
		LastWateringAt:     s.lastWateringAt,
		DaysSinceLast:      int(now.Sub(s.lastWateringAt) / day),
		InProgress:         s.inProgress,
		ProgressPercent:    s.progress,
		RemainingMinutes:   math.Round(s.remaining),
		ScheduledWaterings: s.ScheduledWaterings(),
		Config:             s.config,
	}
	if s.inProgress {
		state.Trigger = s.trigger
	}
	if s.nextScheduledAt != nil && s.nextScheduledAt.After(now) {
		next := *s.nextScheduledAt
		days := int(math.Ceil(float64(next.Sub(now)) / float64(day)))
		state.NextScheduledAt = &next
		state.DaysUntilNext = &days
	}
	return state
}

// Config returns the current configuration
func (s *Scheduler) Config() models.IrrigationConfig {
	return s.config
}

// InProgress reports whether a session is running
func (s *Scheduler) InProgress() bool {
	return s.inProgress
}

// Close disarms the progress ticker and abandons any running session
// without emitting events. The last watering time is left unchanged.
func (s *Scheduler) Close() {
	s.disarm()
	if s.inProgress {
		s.logger.Info().Float64("progress", s.progress).Msg("Watering abandoned on shutdown")
	}
	s.inProgress = false
	s.ticks = 0
	s.progress = 0
	s.remaining = 0
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
