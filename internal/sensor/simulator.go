// Package sensor produces the synthetic greenhouse feed and classifies it.
package sensor

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// Channel is the simulated range of one measured quantity
type Channel struct {
	Min       float64
	Max       float64
	Optimum   float64
	Variation float64
}

func (c Channel) contains(v, margin float64) bool {
	return v >= c.Min-margin && v <= c.Max+margin
}

const (
	// reversion is the fraction of the distance to the optimum recovered per step
	reversion = 0.1
	// walkMargin bounds the walk to [min-walkMargin, max+walkMargin] on every channel
	walkMargin = 2.0
)

// step applies one mean-reverting random walk step
func (c Channel) step(current float64, rng *rand.Rand) float64 {
	noise := (rng.Float64()*2 - 1) * c.Variation
	next := current + reversion*(c.Optimum-current) + noise
	next = math.Max(c.Min-walkMargin, math.Min(c.Max+walkMargin, next))
	return math.Round(next*10) / 10
}

// Simulator is the synthetic temperature and humidity feed.
// It is not safe for concurrent use; callers serialise access.
type Simulator struct {
	classifier Classifier
	rng        *rand.Rand
	now        func() time.Time
	current    models.SensorReading
}

// NewSimulator creates a simulator starting at both optimums.
// src seeds the walk; now stamps readings.
func NewSimulator(classifier Classifier, src rand.Source, now func() time.Time) *Simulator {
	s := &Simulator{
		classifier: classifier,
		rng:        rand.New(src),
		now:        now,
	}
	s.current = s.stamp(classifier.Temperature.Optimum, classifier.Humidity.Optimum, now())
	return s
}

func (s *Simulator) stamp(temperature, humidity float64, at time.Time) models.SensorReading {
	return models.SensorReading{
		Temperature: temperature,
		Humidity:    humidity,
		Timestamp:   at,
		Status:      s.classifier.Classify(temperature, humidity),
	}
}

// Tick advances both channels one step and returns the new reading
func (s *Simulator) Tick() models.SensorReading {
	t := s.classifier.Temperature.step(s.current.Temperature, s.rng)
	h := s.classifier.Humidity.step(s.current.Humidity, s.rng)
	s.current = s.stamp(t, h, s.now())
	return s.current
}

// Reading returns the current reading without advancing
func (s *Simulator) Reading() models.SensorReading {
	return s.current
}

// Configure overrides either channel directly. Nil leaves a channel unchanged.
func (s *Simulator) Configure(temperature, humidity *float64) models.SensorReading {
	t, h := s.current.Temperature, s.current.Humidity
	if temperature != nil {
		t = *temperature
	}
	if humidity != nil {
		h = *humidity
	}
	s.current = s.stamp(t, h, s.now())
	return s.current
}

// History generates n synthetic points walking from the optimums, oldest
// first, spaced hourly so the last point is one hour ago. The live reading
// is not affected.
func (s *Simulator) History(n int) []models.SensorReading {
	if n <= 0 {
		return nil
	}
	now := s.now()
	t, h := s.classifier.Temperature.Optimum, s.classifier.Humidity.Optimum

	points := make([]models.SensorReading, 0, n)
	for i := 0; i < n; i++ {
		t = s.classifier.Temperature.step(t, s.rng)
		h = s.classifier.Humidity.step(h, s.rng)
		at := now.Add(-time.Duration(n-i) * time.Hour)
		points = append(points, s.stamp(t, h, at))
	}
	return points
}
