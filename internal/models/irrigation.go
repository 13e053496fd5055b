package models

import (
	"fmt"
	"time"
)

// IrrigationConfig drives the recurring watering schedule
type IrrigationConfig struct {
	FrequencyDays   int    `json:"frequency_days" yaml:"frequency_days"`
	DurationMinutes int    `json:"duration_minutes" yaml:"duration_minutes"`
	StartTime       string `json:"start_time" yaml:"start_time"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
}

// Duration limits for a watering session, in minutes
const (
	MinWateringMinutes = 1
	MaxWateringMinutes = 120
)

// Validate checks every field of the config
func (c IrrigationConfig) Validate() error {
	var errs ValidationError
	if c.FrequencyDays < 1 {
		errs.Add("frequency_days must be at least 1")
	}
	if c.DurationMinutes < MinWateringMinutes || c.DurationMinutes > MaxWateringMinutes {
		errs.Add(fmt.Sprintf("duration_minutes must be between %d and %d", MinWateringMinutes, MaxWateringMinutes))
	}
	if _, _, err := ParseClock(c.StartTime); err != nil {
		errs.Add("start_time must use HH:MM")
	}
	return errs.OrNil()
}

// IrrigationPatch is a partial config update. Nil fields are left unchanged.
type IrrigationPatch struct {
	FrequencyDays   *int       `json:"frequency_days,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	StartTime       *string    `json:"start_time,omitempty"`
	Enabled         *bool      `json:"enabled,omitempty"`
	SpecificDate    *time.Time `json:"specific_date,omitempty"`
}

// ParseClock parses "HH:MM" (seconds are accepted and ignored)
func ParseClock(s string) (hour, minute int, err error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time of day %q", s)
}

// WateringTrigger records what started a session
type WateringTrigger string

const (
	TriggerManual    WateringTrigger = "manual"
	TriggerAutomatic WateringTrigger = "automatic"
	TriggerScheduled WateringTrigger = "scheduled"
)

// WateringStatus is the lifecycle of a scheduled watering
type WateringStatus string

const (
	WateringScheduled WateringStatus = "SCHEDULED"
	WateringCompleted WateringStatus = "COMPLETED"
	WateringCancelled WateringStatus = "CANCELLED"
)

// ScheduledWatering is a one-off future watering request
type ScheduledWatering struct {
	ID              string         `json:"id"`
	ScheduledAt     time.Time      `json:"scheduled_at"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          WateringStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IrrigationState is a snapshot of the watering state machine
type IrrigationState struct {
	LastWateringAt     time.Time           `json:"last_watering_at"`
	NextScheduledAt    *time.Time          `json:"next_scheduled_at"`
	DaysSinceLast      int                 `json:"days_since_last"`
	DaysUntilNext      *int                `json:"days_until_next"`
	InProgress         bool                `json:"in_progress"`
	Trigger            WateringTrigger     `json:"trigger,omitempty"`
	ProgressPercent    float64             `json:"progress_percent"`
	RemainingMinutes   float64             `json:"remaining_minutes"`
	ScheduledWaterings []ScheduledWatering `json:"scheduled_waterings"`
	Config             IrrigationConfig    `json:"config"`
}
