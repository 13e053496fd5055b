// Package alerts maintains the active alert set for the dashboard.
package alerts

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/irrigation"
	"github.com/afroash/greenhouse-monitor/internal/loop"
	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/sensor"
)

// ErrAlertNotFound is returned for an unknown alert id
var ErrAlertNotFound = errors.New("alert not found")

// criticalHumidityMargin is how far below min humidity becomes urgent
const criticalHumidityMargin = 5.0

// DefaultListLimit is used when List is called without a positive limit
const DefaultListLimit = 10

// Options holds alert lifetimes
type Options struct {
	Retention     time.Duration
	NormalizedTTL time.Duration
	CompletedTTL  time.Duration
	StoppedTTL    time.Duration
}

// DefaultOptions returns the standard lifetimes
func DefaultOptions() Options {
	return Options{
		Retention:     24 * time.Hour,
		NormalizedTTL: 30 * time.Second,
		CompletedTTL:  2 * time.Minute,
		StoppedTTL:    time.Minute,
	}
}

// AutomaticChecker starts due waterings; it is invoked on every reconciliation
type AutomaticChecker interface {
	CheckAutomatic()
}

// Sink is told about every newly created alert
type Sink interface {
	AlertRaised(a models.Alert)
}

// Manager owns the alert list. Not safe for concurrent use; all calls
// happen on the loop goroutine.
type Manager struct {
	timers  loop.Timers
	logger  zerolog.Logger
	opts    Options
	thresh  sensor.Classifier
	checker AutomaticChecker
	sinks   []Sink

	// items is ordered most recent first
	items    []*models.Alert
	byKey    map[models.AlertKey]*models.Alert
	removals map[models.AlertKey]loop.Handle
}

// NewManager creates an empty alert set
func NewManager(timers loop.Timers, thresholds sensor.Classifier, checker AutomaticChecker, opts Options, logger zerolog.Logger, sinks ...Sink) *Manager {
	return &Manager{
		timers:   timers,
		logger:   logger,
		opts:     opts,
		thresh:   thresholds,
		checker:  checker,
		sinks:    sinks,
		byKey:    make(map[models.AlertKey]*models.Alert),
		removals: make(map[models.AlertKey]loop.Handle),
	}
}

func (m *Manager) raised(a *models.Alert) {
	m.logger.Debug().Str("id", a.ID).Str("kind", string(a.Kind)).Stringer("key", a.Key).Str("title", a.Title).Msg("Alert raised")
	for _, s := range m.sinks {
		s.AlertRaised(*a)
	}
}

// Upsert creates or refreshes the alert for key. A refresh keeps the id,
// the position and the read flag.
func (m *Manager) Upsert(kind models.AlertKind, key models.AlertKey, title, description string) {
	now := m.timers.Now()
	if a, ok := m.byKey[key]; ok {
		a.Kind = kind
		a.Title = title
		a.Description = description
		a.CreatedAt = now
		a.Important = models.ImportantKind(kind)
		return
	}

	a := &models.Alert{
		ID:          newID(),
		Kind:        kind,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		Important:   models.ImportantKind(kind),
		Key:         key,
	}
	m.items = slices.Insert(m.items, 0, a)
	m.byKey[key] = a
	m.raised(a)
}

// Push prepends an unkeyed alert
func (m *Manager) Push(kind models.AlertKind, title, description string, important bool) models.Alert {
	a := &models.Alert{
		ID:          newID(),
		Kind:        kind,
		Title:       title,
		Description: description,
		CreatedAt:   m.timers.Now(),
		Important:   important,
	}
	m.items = slices.Insert(m.items, 0, a)
	m.raised(a)
	return *a
}

// RemoveKey drops the alert for key, if any, and cancels its pending removal
func (m *Manager) RemoveKey(key models.AlertKey) {
	if h, ok := m.removals[key]; ok {
		h.Stop()
		delete(m.removals, key)
	}
	a, ok := m.byKey[key]
	if !ok {
		return
	}
	delete(m.byKey, key)
	m.items = slices.DeleteFunc(m.items, func(x *models.Alert) bool { return x == a })
}

// removeAfter drops key after d, replacing any earlier pending removal
func (m *Manager) removeAfter(key models.AlertKey, d time.Duration) {
	if h, ok := m.removals[key]; ok {
		h.Stop()
	}
	m.removals[key] = m.timers.After(d, func() {
		delete(m.removals, key)
		m.RemoveKey(key)
	})
}

// Has reports whether an alert with key is active
func (m *Manager) Has(key models.AlertKey) bool {
	_, ok := m.byKey[key]
	return ok
}

// Get returns the alert for key
func (m *Manager) Get(key models.AlertKey) (models.Alert, bool) {
	a, ok := m.byKey[key]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

// Reconcile brings the alert set in line with the latest reading and
// irrigation state. It runs once per sensor tick.
func (m *Manager) Reconcile(reading models.SensorReading, state models.IrrigationState, config models.IrrigationConfig) {
	m.reconcileTemperature(reading.Temperature)
	m.reconcileHumidity(reading.Humidity, state.InProgress, config.Enabled)
	m.reconcileUpcoming(state, config)
	m.reconcileProgress(state)

	if m.checker != nil {
		m.checker.CheckAutomatic()
	}

	m.sweep()
}

func (m *Manager) reconcileTemperature(t float64) {
	ch := m.thresh.Temperature
	switch {
	case t < ch.Min:
		m.Upsert(models.AlertWarning, models.KeyTempLow, "Low temperature",
			fmt.Sprintf("Temperature is below the optimal range: %.1f°C (minimum %g°C)", t, ch.Min))
	case t > ch.Max:
		m.Upsert(models.AlertWarning, models.KeyTempHigh, "High temperature",
			fmt.Sprintf("Temperature is above the optimal range: %.1f°C (maximum %g°C)", t, ch.Max))
	default:
		m.RemoveKey(models.KeyTempLow)
		m.RemoveKey(models.KeyTempHigh)
	}
}

func (m *Manager) reconcileHumidity(h float64, watering, enabled bool) {
	ch := m.thresh.Humidity
	switch {
	case h < ch.Min && watering:
		m.Upsert(models.AlertInfo, models.KeyHumidityLow, "Low humidity, watering in progress",
			fmt.Sprintf("Humidity is being corrected by the current watering: %.1f%% towards %g%%", h, ch.Optimum))
	case h < ch.Min:
		m.Upsert(models.AlertWarning, models.KeyHumidityLow, "Low humidity",
			fmt.Sprintf("Humidity is below the optimal range: %.1f%% (minimum %g%%)", h, ch.Min))
		if h < ch.Min-criticalHumidityMargin {
			m.Upsert(models.AlertError, models.KeyHumidityCritical, "Critical humidity, water now",
				fmt.Sprintf("Humidity is critically low: %.1f%%. Immediate watering is recommended", h))
		}
	case h > ch.Max:
		m.Upsert(models.AlertWarning, models.KeyHumidityHigh, "High humidity",
			fmt.Sprintf("Humidity is above the optimal range: %.1f%% (maximum %g%%)", h, ch.Max))
	default:
		related := slices.ContainsFunc(m.items, func(a *models.Alert) bool {
			return a.Key != models.KeyHumidityNormalized && (a.Key.IsHumidity() || a.Key.IsWatering())
		})
		m.RemoveKey(models.KeyHumidityLow)
		m.RemoveKey(models.KeyHumidityHigh)
		m.RemoveKey(models.KeyHumidityCritical)

		if enabled && related && !m.Has(models.KeyHumidityNormalized) {
			m.Upsert(models.AlertSuccess, models.KeyHumidityNormalized, "Humidity normalized",
				fmt.Sprintf("Humidity is back in the optimal range: %.1f%%", h))
			m.removeAfter(models.KeyHumidityNormalized, m.opts.NormalizedTTL)
		}
	}
}

func (m *Manager) reconcileUpcoming(state models.IrrigationState, config models.IrrigationConfig) {
	if state.NextScheduledAt == nil || state.DaysUntilNext == nil || *state.DaysUntilNext > 1 || state.InProgress || !config.Enabled {
		m.RemoveKey(models.KeyWateringUpcoming)
		return
	}

	when := "tomorrow"
	if sameDay(*state.NextScheduledAt, m.timers.Now()) {
		when = "today"
	}
	m.Upsert(models.AlertInfo, models.KeyWateringUpcoming, "Watering coming up",
		fmt.Sprintf("Watering is scheduled for %s at %s", when, state.NextScheduledAt.Format("15:04")))
}

func (m *Manager) reconcileProgress(state models.IrrigationState) {
	if !state.InProgress {
		m.RemoveKey(models.KeyWateringInProgress)
		return
	}
	remaining := int(math.Round(state.RemainingMinutes))
	unit := "minutes"
	if remaining == 1 {
		unit = "minute"
	}
	m.Upsert(models.AlertInfo, models.KeyWateringInProgress, "Watering in progress",
		fmt.Sprintf("Watering %.0f%% complete. Time remaining: %d %s", state.ProgressPercent, remaining, unit))
}

// sweep drops read, unimportant alerts older than the retention window
func (m *Manager) sweep() {
	cutoff := m.timers.Now().Add(-m.opts.Retention)
	m.items = slices.DeleteFunc(m.items, func(a *models.Alert) bool {
		expired := a.Read && !a.Important && a.CreatedAt.Before(cutoff)
		if expired && a.Key != models.NoKey {
			delete(m.byKey, a.Key)
			if h, ok := m.removals[a.Key]; ok {
				h.Stop()
				delete(m.removals, a.Key)
			}
		}
		return expired
	})
}

// HandleEvent reacts to irrigation transitions
func (m *Manager) HandleEvent(e irrigation.Event) {
	switch ev := e.(type) {
	case irrigation.WateringStarted:
		if ev.Trigger == models.TriggerManual {
			m.Push(models.AlertInfo, "Manual watering started",
				fmt.Sprintf("Manual watering has started. Duration: %d minutes", ev.DurationMinutes), true)
		} else {
			m.Push(models.AlertSuccess, "Automatic watering started",
				fmt.Sprintf("Watering started on schedule. Duration: %d minutes", ev.DurationMinutes), true)
		}

	case irrigation.WateringCompleted:
		m.RemoveKey(models.KeyWateringInProgress)
		description := "Watering completed. No further watering is scheduled."
		if ev.Next != nil {
			description = fmt.Sprintf("Watering completed. Next watering is scheduled for %s", formatDate(*ev.Next))
		}
		m.Upsert(models.AlertSuccess, models.KeyWateringCompleted, "Watering completed", description)
		m.removeAfter(models.KeyWateringCompleted, m.opts.CompletedTTL)

	case irrigation.WateringStopped:
		m.RemoveKey(models.KeyWateringInProgress)
		m.Upsert(models.AlertWarning, models.KeyWateringStopped, "Watering stopped",
			fmt.Sprintf("Watering was stopped manually at %.0f%% complete", ev.ProgressAtStop))
		m.removeAfter(models.KeyWateringStopped, m.opts.StoppedTTL)

	case irrigation.ConfigUpdated:
		m.Push(models.AlertInfo, "Irrigation settings updated",
			"Updated "+strings.Join(ev.Changes, ", "), false)

	case irrigation.WateringScheduled:
		m.Push(models.AlertInfo, "Watering scheduled",
			fmt.Sprintf("Watering scheduled for %s at %s", formatDate(ev.Watering.ScheduledAt), ev.Watering.ScheduledAt.Format("15:04")), false)
	}
}

// List returns up to limit alerts, most recent first
func (m *Manager) List(limit int) models.AlertPage {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	page := models.AlertPage{
		Items: make([]models.Alert, 0, min(limit, len(m.items))),
		Total: len(m.items),
	}
	for i, a := range m.items {
		if i < limit {
			page.Items = append(page.Items, *a)
		}
		if !a.Read {
			page.UnreadCount++
		}
	}
	return page
}

// Counts returns the unread and total number of alerts
func (m *Manager) Counts() (unread, total int) {
	for _, a := range m.items {
		if !a.Read {
			unread++
		}
	}
	return unread, len(m.items)
}

func (m *Manager) find(id string) int {
	return slices.IndexFunc(m.items, func(a *models.Alert) bool { return a.ID == id })
}

// MarkRead flags a single alert as read
func (m *Manager) MarkRead(id string) error {
	i := m.find(id)
	if i < 0 {
		return ErrAlertNotFound
	}
	m.items[i].Read = true
	return nil
}

// MarkAllRead flags every alert as read and returns how many changed
func (m *Manager) MarkAllRead() int {
	n := 0
	for _, a := range m.items {
		if !a.Read {
			a.Read = true
			n++
		}
	}
	return n
}

// Delete removes an alert by id
func (m *Manager) Delete(id string) error {
	i := m.find(id)
	if i < 0 {
		return ErrAlertNotFound
	}
	if key := m.items[i].Key; key != models.NoKey {
		m.RemoveKey(key)
		return nil
	}
	m.items = slices.Delete(m.items, i, i+1)
	return nil
}

// Close cancels every pending removal and drops the alerts those removals
// would have expired, along with the in-progress alert of the abandoned
// session.
func (m *Manager) Close() {
	for key := range m.removals {
		m.RemoveKey(key)
	}
	m.RemoveKey(models.KeyWateringInProgress)
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func formatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
