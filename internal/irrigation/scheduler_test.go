// internal/irrigation/scheduler_test.go
package irrigation

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/testutil"
)

// Wednesday, mid morning
var testStart = time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

func defaultConfig() models.IrrigationConfig {
	return models.IrrigationConfig{FrequencyDays: 7, DurationMinutes: 15, StartTime: "08:00", Enabled: true}
}

// setupScheduler returns a scheduler on a manual clock plus the recorded events
func setupScheduler(t *testing.T, config models.IrrigationConfig) (*Scheduler, *testutil.Clock, *[]Event) {
	t.Helper()
	clock := testutil.NewClock(testStart)
	s, err := NewScheduler(clock, config, Options{
		ProgressInterval:  5 * time.Second,
		ScheduleTolerance: 5 * time.Minute,
		LastWateringAt:    testStart.AddDate(0, 0, -5),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	events := &[]Event{}
	s.Subscribe(func(e Event) { *events = append(*events, e) })
	return s, clock, events
}

func TestNewScheduler_InitialNext(t *testing.T) {
	s, _, _ := setupScheduler(t, defaultConfig())

	state := s.State()
	want := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	if state.NextScheduledAt == nil || !state.NextScheduledAt.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want %v", state.NextScheduledAt, want)
	}
	if state.DaysSinceLast != 5 {
		t.Errorf("DaysSinceLast = %d, want 5", state.DaysSinceLast)
	}
	if state.DaysUntilNext == nil || *state.DaysUntilNext != 2 {
		t.Errorf("DaysUntilNext = %v, want 2", state.DaysUntilNext)
	}
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	config := defaultConfig()
	config.FrequencyDays = 0

	_, err := NewScheduler(testutil.NewClock(testStart), config, Options{}, zerolog.Nop())
	if !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("NewScheduler() error = %v, want ErrInvalidFrequency", err)
	}
}

func TestScheduler_ManualWateringRunsToCompletion(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	duration, err := s.StartManual(10)
	if err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}
	if duration != 10 {
		t.Errorf("duration = %d, want 10", duration)
	}

	state := s.State()
	if !state.InProgress || state.ProgressPercent != 0 {
		t.Errorf("after start: in progress %v, progress %v", state.InProgress, state.ProgressPercent)
	}
	if state.Trigger != models.TriggerManual {
		t.Errorf("Trigger = %v, want manual", state.Trigger)
	}
	if clock.Pending() != 1 {
		t.Errorf("Pending timers = %d, want exactly one progress ticker", clock.Pending())
	}

	clock.Advance(5 * time.Minute)
	state = s.State()
	if state.ProgressPercent < 49.9 || state.ProgressPercent > 50.1 {
		t.Errorf("ProgressPercent = %v, want ~50", state.ProgressPercent)
	}
	if state.RemainingMinutes != 5 {
		t.Errorf("RemainingMinutes = %v, want 5", state.RemainingMinutes)
	}

	clock.Advance(5 * time.Minute)
	state = s.State()
	if state.InProgress {
		t.Error("watering should be finished after the full duration")
	}
	if state.ProgressPercent != 100 || state.RemainingMinutes != 0 {
		t.Errorf("final progress %v remaining %v, want 100/0", state.ProgressPercent, state.RemainingMinutes)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clock.Pending())
	}

	if len(*events) != 2 {
		t.Fatalf("events = %d, want 2", len(*events))
	}
	if _, ok := (*events)[0].(WateringStarted); !ok {
		t.Errorf("events[0] = %T, want WateringStarted", (*events)[0])
	}
	completed, ok := (*events)[1].(WateringCompleted)
	if !ok {
		t.Fatalf("events[1] = %T, want WateringCompleted", (*events)[1])
	}
	if completed.Next == nil {
		t.Error("WateringCompleted should carry the next recurring watering")
	}
}

func TestScheduler_StartManualDefaultsDuration(t *testing.T) {
	s, _, _ := setupScheduler(t, defaultConfig())

	duration, err := s.StartManual(0)
	if err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}
	if duration != 15 {
		t.Errorf("duration = %d, want configured 15", duration)
	}
}

func TestScheduler_StartGuards(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	if _, err := s.StartManual(500); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("StartManual(500) error = %v, want ErrInvalidDuration", err)
	}

	if _, err := s.StartManual(10); err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}
	clock.Advance(time.Minute)
	before := s.State()

	_, err := s.StartManual(20)
	if !errors.Is(err, ErrAlreadyWatering) {
		t.Errorf("second StartManual error = %v, want ErrAlreadyWatering", err)
	}

	after := s.State()
	if after.ProgressPercent != before.ProgressPercent || !after.LastWateringAt.Equal(before.LastWateringAt) {
		t.Error("rejected start must leave state unchanged")
	}
	if clock.Pending() != 1 {
		t.Errorf("Pending timers = %d, want 1", clock.Pending())
	}
	if len(*events) != 1 {
		t.Errorf("events = %d, want 1", len(*events))
	}
}

func TestScheduler_Stop(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	if _, err := s.Stop(); !errors.Is(err, ErrNotWatering) {
		t.Errorf("Stop() while idle error = %v, want ErrNotWatering", err)
	}
	if len(*events) != 0 {
		t.Error("failed Stop must not emit events")
	}

	s.StartManual(10)
	clock.Advance(2*time.Minute + 30*time.Second)

	reached, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if reached < 24.9 || reached > 25.1 {
		t.Errorf("progress at stop = %v, want ~25", reached)
	}

	state := s.State()
	if state.InProgress || state.ProgressPercent != 0 || state.RemainingMinutes != 0 {
		t.Errorf("after stop: %+v", state)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clock.Pending())
	}

	stopped, ok := (*events)[len(*events)-1].(WateringStopped)
	if !ok {
		t.Fatalf("last event = %T, want WateringStopped", (*events)[len(*events)-1])
	}
	if stopped.ProgressAtStop != reached {
		t.Errorf("ProgressAtStop = %v, want %v", stopped.ProgressAtStop, reached)
	}

	// Timer really disarmed
	clock.Advance(time.Hour)
	if s.State().ProgressPercent != 0 {
		t.Error("progress advanced after stop")
	}
}

func TestScheduler_ScheduleAt(t *testing.T) {
	s, _, events := setupScheduler(t, defaultConfig())

	past := testStart.AddDate(0, 0, -1)
	if _, err := s.ScheduleAt(past, "08:00", 15); !errors.Is(err, ErrNotFuture) {
		t.Errorf("ScheduleAt(past) error = %v, want ErrNotFuture", err)
	}
	// Earlier today is also in the past
	if _, err := s.ScheduleAt(testStart, "08:00", 15); !errors.Is(err, ErrNotFuture) {
		t.Errorf("ScheduleAt(today 08:00) error = %v, want ErrNotFuture", err)
	}
	if _, err := s.ScheduleAt(testStart.AddDate(0, 0, 1), "8 o'clock", 15); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("ScheduleAt(bad time) error = %v, want ErrInvalidTime", err)
	}
	if len(*events) != 0 {
		t.Errorf("failed scheduling emitted %d events", len(*events))
	}

	tomorrow := testStart.AddDate(0, 0, 1)
	sw, err := s.ScheduleAt(tomorrow, "08:00", 15)
	if err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}
	if sw.Status != models.WateringScheduled {
		t.Errorf("Status = %v, want SCHEDULED", sw.Status)
	}
	if sw.ID == "" {
		t.Error("ID should be set")
	}

	want := time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC)
	next := s.State().NextScheduledAt
	if next == nil || !next.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want %v (earliest pending)", next, want)
	}

	// A later entry does not move next
	if _, err := s.ScheduleAt(testStart.AddDate(0, 0, 10), "09:30", 0); err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}
	if got := s.State().NextScheduledAt; !got.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want unchanged %v", got, want)
	}

	list := s.ScheduledWaterings()
	if len(list) != 2 {
		t.Fatalf("ScheduledWaterings = %d, want 2", len(list))
	}
	if !list[0].ScheduledAt.Before(list[1].ScheduledAt) {
		t.Error("ScheduledWaterings should be ascending")
	}
	if list[1].DurationMinutes != 15 {
		t.Errorf("default duration = %d, want 15", list[1].DurationMinutes)
	}
	if len(*events) != 2 {
		t.Errorf("events = %d, want 2 WateringScheduled", len(*events))
	}
}

func TestScheduler_CancelScheduled(t *testing.T) {
	s, _, _ := setupScheduler(t, defaultConfig())

	if err := s.CancelScheduled("missing"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("CancelScheduled(missing) error = %v, want ErrScheduleNotFound", err)
	}

	first, _ := s.ScheduleAt(testStart.AddDate(0, 0, 1), "07:00", 10)
	second, _ := s.ScheduleAt(testStart.AddDate(0, 0, 1), "18:00", 10)

	if err := s.CancelScheduled(first.ID); err != nil {
		t.Fatalf("CancelScheduled failed: %v", err)
	}
	if got := s.State().NextScheduledAt; !got.Equal(second.ScheduledAt) {
		t.Errorf("NextScheduledAt = %v, want %v", got, second.ScheduledAt)
	}

	if err := s.CancelScheduled(second.ID); err != nil {
		t.Fatalf("CancelScheduled failed: %v", err)
	}
	// Back to last watering + frequency
	want := time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC)
	if got := s.State().NextScheduledAt; got == nil || !got.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want %v", got, want)
	}
}

func TestScheduler_Configure(t *testing.T) {
	s, _, events := setupScheduler(t, defaultConfig())

	freq := 3
	start := "06:30"
	config, err := s.Configure(models.IrrigationPatch{FrequencyDays: &freq, StartTime: &start})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if config.FrequencyDays != 3 || config.StartTime != "06:30" || config.DurationMinutes != 15 {
		t.Errorf("config = %+v", config)
	}

	// Last watering was 5 days ago: +3 days has passed, so one more cycle
	want := time.Date(2024, 1, 4, 6, 30, 0, 0, time.UTC)
	if got := s.State().NextScheduledAt; got == nil || !got.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want %v", got, want)
	}

	updated, ok := (*events)[0].(ConfigUpdated)
	if !ok {
		t.Fatalf("event = %T, want ConfigUpdated", (*events)[0])
	}
	if len(updated.Changes) != 2 {
		t.Errorf("Changes = %v, want 2 entries", updated.Changes)
	}
}

func TestScheduler_ConfigureSpecificDate(t *testing.T) {
	s, _, events := setupScheduler(t, defaultConfig())

	date := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	if _, err := s.Configure(models.IrrigationPatch{SpecificDate: &date}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	want := time.Date(2024, 2, 14, 8, 0, 0, 0, time.UTC)
	if got := s.State().NextScheduledAt; got == nil || !got.Equal(want) {
		t.Errorf("NextScheduledAt = %v, want %v", got, want)
	}
	if len(*events) != 0 {
		t.Error("no field changed, so no ConfigUpdated event")
	}
}

func TestScheduler_ConfigureInvalid(t *testing.T) {
	tests := []struct {
		name  string
		patch models.IrrigationPatch
		want  error
	}{
		{"frequency", models.IrrigationPatch{FrequencyDays: ptr(0)}, ErrInvalidFrequency},
		{"duration", models.IrrigationPatch{DurationMinutes: ptr(121)}, ErrInvalidDuration},
		{"start time", models.IrrigationPatch{StartTime: ptr("noon")}, ErrInvalidTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := setupScheduler(t, defaultConfig())
			_, err := s.Configure(tt.patch)
			if !errors.Is(err, tt.want) {
				t.Errorf("Configure() error = %v, want %v", err, tt.want)
			}
			if s.Config() != defaultConfig() {
				t.Error("rejected patch must leave config unchanged")
			}
		})
	}
}

func TestScheduler_CheckAutomaticScheduledEntry(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	sw, err := s.ScheduleAt(testStart, "10:30", 20)
	if err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}

	s.CheckAutomatic()
	if s.InProgress() {
		t.Fatal("should not start before the scheduled time")
	}

	clock.Set(sw.ScheduledAt.Add(2 * time.Minute))
	s.CheckAutomatic()

	state := s.State()
	if !state.InProgress {
		t.Fatal("scheduled watering should have started")
	}
	if state.Trigger != models.TriggerScheduled {
		t.Errorf("Trigger = %v, want scheduled", state.Trigger)
	}
	started := (*events)[len(*events)-1].(WateringStarted)
	if started.DurationMinutes != 20 {
		t.Errorf("DurationMinutes = %d, want the entry's own 20", started.DurationMinutes)
	}
	wantNext := clock.Now().AddDate(0, 0, 7)
	if !state.NextScheduledAt.Equal(wantNext) {
		t.Errorf("NextScheduledAt = %v, want %v", state.NextScheduledAt, wantNext)
	}
	if len(state.ScheduledWaterings) != 0 {
		t.Errorf("completed entry should be filtered, got %v", state.ScheduledWaterings)
	}
}

func TestScheduler_CheckAutomaticMissedWindow(t *testing.T) {
	s, clock, _ := setupScheduler(t, defaultConfig())

	sw, _ := s.ScheduleAt(testStart, "10:30", 20)
	clock.Set(sw.ScheduledAt.Add(10 * time.Minute))
	s.CheckAutomatic()

	if s.InProgress() {
		t.Error("entry older than the tolerance window must not start")
	}
}

func TestScheduler_CheckAutomaticRecurring(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		enabled bool
		want    bool
	}{
		{"before next", time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC), true, false},
		{"due on the hour", time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), true, true},
		{"due within tolerance", time.Date(2024, 1, 5, 8, 4, 0, 0, time.UTC), true, true},
		{"due outside tolerance", time.Date(2024, 1, 5, 8, 6, 0, 0, time.UTC), true, false},
		{"overdue, wrong hour", time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC), true, false},
		{"overdue, next day at start hour", time.Date(2024, 1, 6, 8, 2, 0, 0, time.UTC), true, true},
		{"disabled", time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := defaultConfig()
			config.Enabled = tt.enabled
			s, clock, _ := setupScheduler(t, config)

			clock.Set(tt.at)
			s.CheckAutomatic()

			if s.InProgress() != tt.want {
				t.Errorf("InProgress = %v, want %v", s.InProgress(), tt.want)
			}
			if tt.want && s.State().Trigger != models.TriggerAutomatic {
				t.Errorf("Trigger = %v, want automatic", s.State().Trigger)
			}
		})
	}
}

func TestScheduler_CheckAutomaticWhileWatering(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	s.StartManual(120)
	clock.Set(time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC))
	s.CheckAutomatic()

	if len(*events) != 1 {
		t.Errorf("events = %d, CheckAutomatic must be a no-op while watering", len(*events))
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestScheduler_CloseAbandonsSession(t *testing.T) {
	s, clock, events := setupScheduler(t, defaultConfig())

	if _, err := s.StartManual(10); err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}
	clock.Advance(time.Minute)
	before := len(*events)

	s.Close()

	if s.InProgress() {
		t.Error("InProgress = true after Close, want false")
	}
	if state := s.State(); state.ProgressPercent != 0 || state.RemainingMinutes != 0 {
		t.Errorf("progress = %v remaining = %v, want 0 0", state.ProgressPercent, state.RemainingMinutes)
	}
	if len(*events) != before {
		t.Errorf("events after Close = %d, want %d", len(*events), before)
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending timers = %d, want 0", clock.Pending())
	}
	if _, err := s.StartManual(10); err != nil {
		t.Errorf("StartManual after Close failed: %v", err)
	}
}
