package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// BatchInserter is the part of the store the writer needs
type BatchInserter interface {
	InsertBatch(records []*models.SensorRecord) error
}

// DBWriter queues sensor records and writes them to the store in batches.
// Records are validated on Write so one bad reading never fails a batch.
type DBWriter struct {
	store       BatchInserter
	logger      zerolog.Logger
	queue       chan *models.SensorRecord
	batchSize   int
	flushPeriod time.Duration

	mu      sync.RWMutex // guards stopped against in-flight sends
	stopped bool
	done    chan struct{}

	written   atomic.Int64
	batches   atomic.Int64
	errors    atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
	lastWrite atomic.Int64 // unix nanos
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // records per batch
	FlushPeriod time.Duration // max time between flushes
	ChannelSize int           // queue capacity
}

// DefaultDBWriterConfig mirrors the database section defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   50,
		FlushPeriod: 10 * time.Second,
		ChannelSize: 500,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	TotalRejected int64     `json:"total_rejected"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter starts the writer goroutine. Non-positive settings fall back to defaults.
func NewDBWriter(store BatchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	defaults := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = defaults.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = defaults.ChannelSize
	}

	w := &DBWriter{
		store:       store,
		logger:      logger,
		queue:       make(chan *models.SensorRecord, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		done:        make(chan struct{}),
	}
	go w.run()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")
	return w
}

// Write queues a copy of the record. It returns false when the record is
// invalid, the queue is full or the writer has stopped.
func (w *DBWriter) Write(record *models.SensorRecord) bool {
	if err := record.Validate(); err != nil {
		w.rejected.Add(1)
		w.logger.Warn().Err(err).Int64("greenhouse_id", record.GreenhouseID).Msg("DBWriter rejected invalid record")
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return false
	}

	select {
	case w.queue <- record.Copy():
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn().Int64("greenhouse_id", record.GreenhouseID).Msg("DBWriter queue full, dropping record")
		return false
	}
}

// run batches queued records until the queue is closed, then flushes the rest
func (w *DBWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	batch := make([]*models.SensorRecord, 0, w.batchSize)
	for {
		select {
		case record, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				w.logger.Info().Msg("DBWriter stopped")
				return
			}
			batch = append(batch, record)
			if len(batch) < w.batchSize {
				continue
			}
		case <-ticker.C:
		}
		batch = w.flush(batch)
	}
}

// flush writes a batch and returns an emptied slice for reuse
func (w *DBWriter) flush(batch []*models.SensorRecord) []*models.SensorRecord {
	if len(batch) == 0 {
		return batch
	}

	if err := w.store.InsertBatch(batch); err != nil {
		w.errors.Add(1)
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write reading batch")
	} else {
		w.written.Add(int64(len(batch)))
		w.batches.Add(1)
		w.lastWrite.Store(time.Now().UnixNano())
		w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
	}
	return make([]*models.SensorRecord, 0, w.batchSize)
}

// Stop flushes whatever is queued and waits for the writer to exit
func (w *DBWriter) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

// Stats returns a copy of the writer counters
func (w *DBWriter) Stats() DBWriterStats {
	stats := DBWriterStats{
		TotalWritten:  w.written.Load(),
		TotalBatches:  w.batches.Load(),
		TotalErrors:   w.errors.Load(),
		TotalDropped:  w.dropped.Load(),
		TotalRejected: w.rejected.Load(),
		QueueLength:   len(w.queue),
	}
	if ns := w.lastWrite.Load(); ns != 0 {
		stats.LastWriteTime = time.Unix(0, ns)
	}
	return stats
}
