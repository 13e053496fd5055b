package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

type fakeSource struct {
	reading models.SensorReading
	err     error
}

func (f fakeSource) CurrentReading(context.Context) (models.SensorReading, error) {
	return f.reading, f.err
}

type captureWriter struct {
	mu      sync.Mutex
	records []*models.SensorRecord
	full    bool
}

func (c *captureWriter) Write(r *models.SensorRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.records = append(c.records, r)
	return true
}

func (c *captureWriter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestRecorder_RecordNow(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	source := fakeSource{reading: models.SensorReading{Temperature: 21.3, Humidity: 80.1, Timestamp: at, Status: models.StatusNormal}}

	tests := []struct {
		name         string
		source       fakeSource
		full         bool
		wantOK       bool
		wantRecorded int64
		wantFailed   int64
	}{
		{"queued", source, false, true, 1, 0},
		{"queue full", source, true, false, 0, 1},
		{"source error", fakeSource{err: errors.New("stopped")}, false, false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &captureWriter{full: tt.full}
			r := NewRecorder(tt.source, writer, 4, time.Hour, zerolog.Nop())
			defer r.Stop()

			if ok := r.RecordNow(); ok != tt.wantOK {
				t.Errorf("RecordNow() = %v, want %v", ok, tt.wantOK)
			}
			stats := r.Stats()
			if stats.Recorded != tt.wantRecorded || stats.Failed != tt.wantFailed {
				t.Errorf("Stats = %+v, want recorded=%d failed=%d", stats, tt.wantRecorded, tt.wantFailed)
			}
			if tt.wantOK {
				got := writer.records[0]
				if got.GreenhouseID != 4 || got.Temperature != 21.3 || !got.Timestamp.Equal(at) {
					t.Errorf("record = %+v", got)
				}
			}
		})
	}
}

func TestRecorder_Periodic(t *testing.T) {
	writer := &captureWriter{}
	r := NewRecorder(fakeSource{reading: models.SensorReading{Temperature: 21, Humidity: 80, Timestamp: time.Now()}}, writer, 1, 10*time.Millisecond, zerolog.Nop())

	if !waitFor(t, time.Second, func() bool { return writer.len() >= 3 }) {
		t.Errorf("records = %d, want >= 3", writer.len())
	}
	r.Stop()

	n := writer.len()
	time.Sleep(30 * time.Millisecond)
	if writer.len() != n {
		t.Error("Recorder kept recording after Stop")
	}
}

func TestRecorder_IntoStore(t *testing.T) {
	store := setupTestDB(t)
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Second, ChannelSize: 10}, zerolog.Nop())

	source := fakeSource{reading: models.SensorReading{Temperature: 19.5, Humidity: 76, Timestamp: time.Now().UTC(), Status: models.StatusWarning}}
	r := NewRecorder(source, writer, 1, time.Hour, zerolog.Nop())
	r.RecordNow()
	r.Stop()
	writer.Stop()

	latest, err := store.GetLatestReading(1)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest.Status != models.StatusWarning || latest.Temperature != 19.5 {
		t.Errorf("latest = %+v", latest)
	}
}
