package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// ReadingSource provides the live reading to record
type ReadingSource interface {
	CurrentReading(ctx context.Context) (models.SensorReading, error)
}

// RecordWriter accepts records for persistence
type RecordWriter interface {
	Write(record *models.SensorRecord) bool
}

// Recorder samples the current reading every interval and queues it for storage
type Recorder struct {
	source       ReadingSource
	writer       RecordWriter
	greenhouseID int64
	interval     time.Duration
	logger       zerolog.Logger
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	mu       sync.RWMutex
	recorded int64
	failed   int64
}

// RecorderStats contains counters for the recorder
type RecorderStats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
}

// NewRecorder starts recording. A non-positive interval defaults to one minute.
func NewRecorder(source ReadingSource, writer RecordWriter, greenhouseID int64, interval time.Duration, logger zerolog.Logger) *Recorder {
	if interval <= 0 {
		interval = time.Minute
	}

	r := &Recorder{
		source:       source,
		writer:       writer,
		greenhouseID: greenhouseID,
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.recordLoop()

	logger.Info().Dur("interval", interval).Int64("greenhouse_id", greenhouseID).Msg("Recorder started")
	return r
}

func (r *Recorder) recordLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RecordNow()
		case <-r.stopChan:
			r.logger.Info().Msg("Recorder stopped")
			return
		}
	}
}

// RecordNow samples and queues a single reading
func (r *Recorder) RecordNow() bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	reading, err := r.source.CurrentReading(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to sample reading")
		r.countFailure()
		return false
	}

	if !r.writer.Write(models.NewSensorRecord(r.greenhouseID, reading)) {
		r.countFailure()
		return false
	}

	r.mu.Lock()
	r.recorded++
	r.mu.Unlock()
	return true
}

func (r *Recorder) countFailure() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

// Stop ends the recording loop
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
	})
}

// Stats returns a copy of the recorder counters
func (r *Recorder) Stats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RecorderStats{Recorded: r.recorded, Failed: r.failed}
}
