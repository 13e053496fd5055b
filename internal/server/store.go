package server

import (
	"sync"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// RecentReadings is an in-memory ring of the latest readings, fed by the
// monitor's snapshots
type RecentReadings struct {
	capacity      int
	readings      []models.SensorReading
	mutex         sync.RWMutex
	totalReadings int64
}

// RecentStats contains statistics about the ring
type RecentStats struct {
	TotalReadings   int64     `json:"total_readings"`
	CurrentReadings int       `json:"current_readings"`
	OldestReading   time.Time `json:"oldest_reading,omitempty"`
	NewestReading   time.Time `json:"newest_reading,omitempty"`
}

// NewRecentReadings creates a ring holding up to capacity readings
func NewRecentReadings(capacity int) *RecentReadings {
	if capacity <= 0 {
		capacity = 720
	}
	return &RecentReadings{
		capacity: capacity,
		readings: make([]models.SensorReading, 0, capacity),
	}
}

// OnSnapshot records the snapshot's reading
func (rr *RecentReadings) OnSnapshot(s models.Snapshot) {
	rr.Add(s.Reading)
}

// Add appends a reading, evicting the oldest when full
func (rr *RecentReadings) Add(reading models.SensorReading) {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	if len(rr.readings) >= rr.capacity {
		rr.readings = rr.readings[1:]
	}
	rr.readings = append(rr.readings, reading)
	rr.totalReadings++
}

// Latest returns up to n readings, newest first
func (rr *RecentReadings) Latest(n int) []models.SensorReading {
	rr.mutex.RLock()
	defer rr.mutex.RUnlock()

	start := max(len(rr.readings)-n, 0)
	result := make([]models.SensorReading, 0, len(rr.readings)-start)
	for i := len(rr.readings) - 1; i >= start; i-- {
		result = append(result, rr.readings[i])
	}
	return result
}

// Current returns the newest reading, if any
func (rr *RecentReadings) Current() (models.SensorReading, bool) {
	rr.mutex.RLock()
	defer rr.mutex.RUnlock()

	if len(rr.readings) == 0 {
		return models.SensorReading{}, false
	}
	return rr.readings[len(rr.readings)-1], true
}

// Stats returns statistics about the ring
func (rr *RecentReadings) Stats() RecentStats {
	rr.mutex.RLock()
	defer rr.mutex.RUnlock()

	stats := RecentStats{
		TotalReadings:   rr.totalReadings,
		CurrentReadings: len(rr.readings),
	}
	if len(rr.readings) > 0 {
		stats.OldestReading = rr.readings[0].Timestamp
		stats.NewestReading = rr.readings[len(rr.readings)-1].Timestamp
	}
	return stats
}

// Clear removes every reading
func (rr *RecentReadings) Clear() {
	rr.mutex.Lock()
	defer rr.mutex.Unlock()

	rr.readings = rr.readings[:0]
	rr.totalReadings = 0
}
