package sensor

import "github.com/afroash/greenhouse-monitor/internal/models"

// Outer band widths beyond [min,max] that still count as WARNING
const (
	TemperatureBand = 2.0
	HumidityBand    = 5.0
)

// Classifier maps a reading onto a status. It holds no state beyond its ranges.
type Classifier struct {
	Temperature Channel
	Humidity    Channel
}

// NewClassifier creates a classifier for the given channels
func NewClassifier(temperature, humidity Channel) Classifier {
	return Classifier{Temperature: temperature, Humidity: humidity}
}

// Classify returns NORMAL when both values are in range, WARNING when both
// are inside their outer bands and CRITICAL otherwise.
func (c Classifier) Classify(temperature, humidity float64) models.Status {
	if c.Temperature.contains(temperature, 0) && c.Humidity.contains(humidity, 0) {
		return models.StatusNormal
	}
	if c.Temperature.contains(temperature, TemperatureBand) && c.Humidity.contains(humidity, HumidityBand) {
		return models.StatusWarning
	}
	return models.StatusCritical
}
