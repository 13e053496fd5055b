package models

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// IrrigationCalendar is a weekly watering plan for a greenhouse
type IrrigationCalendar struct {
	ID              int64          `json:"id"`
	GreenhouseID    int64          `json:"greenhouse_id"`
	Name            string         `json:"name"`
	TimeOfDay       string         `json:"time_of_day"` // HH:MM:SS
	DurationMinutes int            `json:"duration_minutes"`
	Days            []time.Weekday `json:"days"`
	Active          bool           `json:"active"`
	CreatedAt       time.Time      `json:"created_at"`
}

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d):([0-5]\d)$`)

// DefaultCalendarName is used when a calendar is created without a name
const DefaultCalendarName = "Main calendar"

// ApplyDefaults fills optional fields
func (c *IrrigationCalendar) ApplyDefaults() {
	if c.Name == "" {
		c.Name = DefaultCalendarName
	}
	if c.TimeOfDay == "" {
		c.TimeOfDay = "08:00:00"
	}
	if c.DurationMinutes == 0 {
		c.DurationMinutes = 10
	}
}

// Validate checks the calendar against the domain rules
func (c *IrrigationCalendar) Validate() error {
	var errs ValidationError
	if c.GreenhouseID <= 0 {
		errs.Add("greenhouse id is required")
	}
	if !timeOfDayPattern.MatchString(c.TimeOfDay) {
		errs.Add("time_of_day must use HH:MM:SS")
	}
	if c.DurationMinutes < MinWateringMinutes || c.DurationMinutes > MaxWateringMinutes {
		errs.Add(fmt.Sprintf("duration_minutes must be between %d and %d", MinWateringMinutes, MaxWateringMinutes))
	}
	if len(c.Days) == 0 {
		errs.Add("at least one day of the week is required")
	}
	for _, d := range c.Days {
		if d < time.Sunday || d > time.Saturday {
			errs.Add("days must be between 0 (Sunday) and 6 (Saturday)")
			break
		}
	}
	return errs.OrNil()
}

// WatersOn reports whether the calendar is active on the weekday of t
func (c *IrrigationCalendar) WatersOn(t time.Time) bool {
	return c.Active && slices.Contains(c.Days, t.Weekday())
}

// NextWatering returns the first watering instant strictly after now,
// or false if the calendar is inactive or has no days.
func (c *IrrigationCalendar) NextWatering(now time.Time) (time.Time, bool) {
	if !c.Active || len(c.Days) == 0 {
		return time.Time{}, false
	}
	hour, minute, err := ParseClock(c.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}

	for i := 0; i <= 7; i++ {
		day := now.AddDate(0, 0, i)
		if !slices.Contains(c.Days, day.Weekday()) {
			continue
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}

// DayNames returns the sorted weekday names of the calendar
func (c *IrrigationCalendar) DayNames() []string {
	days := slices.Clone(c.Days)
	slices.Sort(days)
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String())
	}
	return names
}
