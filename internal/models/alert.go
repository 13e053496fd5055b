package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertKind is the severity shown on the dashboard
type AlertKind string

const (
	AlertInfo    AlertKind = "info"
	AlertSuccess AlertKind = "success"
	AlertWarning AlertKind = "warning"
	AlertError   AlertKind = "error"
)

// AlertKey identifies an alert that represents an ongoing condition.
// Only the constants below are valid keys.
type AlertKey uint8

const (
	// NoKey marks an alert that is always appended
	NoKey AlertKey = iota
	KeyTempLow
	KeyTempHigh
	KeyHumidityLow
	KeyHumidityHigh
	KeyHumidityCritical
	KeyHumidityNormalized
	KeyWateringUpcoming
	KeyWateringInProgress
	KeyWateringCompleted
	KeyWateringStopped
)

var alertKeyNames = [...]string{
	NoKey:                 "",
	KeyTempLow:            "temp_low",
	KeyTempHigh:           "temp_high",
	KeyHumidityLow:        "humidity_low",
	KeyHumidityHigh:       "humidity_high",
	KeyHumidityCritical:   "humidity_critical",
	KeyHumidityNormalized: "humidity_normalized",
	KeyWateringUpcoming:   "watering_upcoming",
	KeyWateringInProgress: "watering_in_progress",
	KeyWateringCompleted:  "watering_completed",
	KeyWateringStopped:    "watering_stopped",
}

func (k AlertKey) String() string {
	if int(k) < len(alertKeyNames) {
		return alertKeyNames[k]
	}
	return fmt.Sprintf("AlertKey(%d)", uint8(k))
}

// IsHumidity reports whether the key belongs to the humidity family
func (k AlertKey) IsHumidity() bool {
	switch k {
	case KeyHumidityLow, KeyHumidityHigh, KeyHumidityCritical, KeyHumidityNormalized:
		return true
	}
	return false
}

// IsWatering reports whether the key belongs to the irrigation family
func (k AlertKey) IsWatering() bool {
	switch k {
	case KeyWateringUpcoming, KeyWateringInProgress, KeyWateringCompleted, KeyWateringStopped:
		return true
	}
	return false
}

// MarshalJSON encodes the key by name; NoKey encodes as null
func (k AlertKey) MarshalJSON() ([]byte, error) {
	if k == NoKey {
		return []byte("null"), nil
	}
	return json.Marshal(k.String())
}

// Alert is an entry in the active alert set
type Alert struct {
	ID          string    `json:"id"`
	Kind        AlertKind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
	Important   bool      `json:"important"`
	Key         AlertKey  `json:"key"`
}

// ImportantKind reports whether alerts of this kind are exempt from the sweep
func ImportantKind(kind AlertKind) bool {
	return kind == AlertWarning || kind == AlertError
}

// AlertPage is the alert listing returned to callers
type AlertPage struct {
	Items       []Alert `json:"items"`
	UnreadCount int     `json:"unread_count"`
	Total       int     `json:"total"`
}
