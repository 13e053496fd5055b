package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the environment classification of a reading
type Status int

const (
	StatusNormal Status = iota
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "NORMAL"
	case StatusWarning:
		return "WARNING"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts the textual form back into a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "NORMAL":
		return StatusNormal, nil
	case "WARNING":
		return StatusWarning, nil
	case "CRITICAL":
		return StatusCritical, nil
	default:
		return StatusNormal, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalJSON encodes the status as its name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SensorReading is a single temperature+humidity sample with derived status.
type SensorReading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
	Status      Status    `json:"status"`
}

// String returns the reading in a log friendly form
func (r SensorReading) String() string {
	return fmt.Sprintf("Temperature: %.1f°C, Humidity: %.1f%%, Status: %s, Timestamp: %s",
		r.Temperature,
		r.Humidity,
		r.Status,
		r.Timestamp.Format(time.RFC3339))
}

// SensorRecord is a reading persisted for a greenhouse
type SensorRecord struct {
	ID           int64     `json:"id,omitempty"`
	GreenhouseID int64     `json:"greenhouse_id"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	Status       Status    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewSensorRecord builds a record from a live reading
func NewSensorRecord(greenhouseID int64, r SensorReading) *SensorRecord {
	return &SensorRecord{
		GreenhouseID: greenhouseID,
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		Status:       r.Status,
		Timestamp:    r.Timestamp,
	}
}

// Validate checks the record is storable.
// Accepted ranges: temperature -10 to 50°C, humidity 0-100%
func (r *SensorRecord) Validate() error {
	const (
		minTemp     = -10.0
		maxTemp     = 50.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)

	var errs ValidationError
	if r.GreenhouseID <= 0 {
		errs.Add("greenhouse id is required")
	}
	if r.Timestamp.IsZero() {
		errs.Add("timestamp is required")
	}
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		errs.Add(fmt.Sprintf("temperature must be between %.0f°C and %.0f°C", minTemp, maxTemp))
	}
	if r.Humidity < minHumidity || r.Humidity > maxHumidity {
		errs.Add(fmt.Sprintf("humidity must be between %.0f%% and %.0f%%", minHumidity, maxHumidity))
	}
	return errs.OrNil()
}

// Copy returns a copy of the record
func (r *SensorRecord) Copy() *SensorRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
