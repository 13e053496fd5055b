package models

import "time"

// SystemInfo describes the running greenhouse service
type SystemInfo struct {
	GreenhouseID int64     `json:"greenhouse_id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	Version      string    `json:"version"`
	StartTime    time.Time `json:"start_time"`
}

// Uptime returns the duration since the service started
func (s *SystemInfo) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// NewSystemInfo creates a SystemInfo with the current time as start time
func NewSystemInfo(greenhouseID int64, name, location, version string) *SystemInfo {
	return &SystemInfo{
		GreenhouseID: greenhouseID,
		Name:         name,
		Location:     location,
		Version:      version,
		StartTime:    time.Now(),
	}
}
