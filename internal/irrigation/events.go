package irrigation

import (
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// Event is emitted by the scheduler on every state transition
type Event interface {
	irrigationEvent()
}

// Listener receives scheduler events on the loop goroutine
type Listener func(Event)

// WateringStarted is emitted when a session begins
type WateringStarted struct {
	Trigger         models.WateringTrigger
	DurationMinutes int
	At              time.Time
}

// WateringCompleted is emitted when a session runs to 100%.
// Next is the upcoming watering, nil if none is pending.
type WateringCompleted struct {
	At   time.Time
	Next *time.Time
}

// WateringStopped is emitted when a session is stopped early
type WateringStopped struct {
	At             time.Time
	ProgressAtStop float64
}

// ConfigUpdated lists human readable descriptions of the changed fields
type ConfigUpdated struct {
	Changes []string
	Config  models.IrrigationConfig
}

// WateringScheduled is emitted for each new one-off watering
type WateringScheduled struct {
	Watering models.ScheduledWatering
}

func (WateringStarted) irrigationEvent()   {}
func (WateringCompleted) irrigationEvent() {}
func (WateringStopped) irrigationEvent()   {}
func (ConfigUpdated) irrigationEvent()     {}
func (WateringScheduled) irrigationEvent() {}
