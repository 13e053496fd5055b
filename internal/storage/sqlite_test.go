package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// setupTestDB creates a store in a temporary directory
func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestRecord(greenhouseID int64, temp, humidity float64, status models.Status, ts time.Time) *models.SensorRecord {
	return &models.SensorRecord{
		GreenhouseID: greenhouseID,
		Temperature:  temp,
		Humidity:     humidity,
		Status:       status,
		Timestamp:    ts,
	}
}

func insertAll(t *testing.T, store *SQLiteStore, records ...*models.SensorRecord) {
	t.Helper()
	if err := store.InsertBatch(records); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/path/that/cannot/exist/test.db", zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestDB(t)

	for i := 0; i < 2; i++ {
		if err := store.Migrate(); err != nil {
			t.Fatalf("Migration %d failed: %v", i+2, err)
		}
	}
}

func TestInsertReading(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	record := createTestRecord(1, 23.5, 79.0, models.StatusWarning, now)

	if err := store.InsertReading(record); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}
	if record.ID == 0 {
		t.Error("InsertReading should set the record ID")
	}

	latest, err := store.GetLatestReading(1)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}

	if latest.ID != record.ID {
		t.Errorf("ID = %d, want %d", latest.ID, record.ID)
	}
	if latest.GreenhouseID != 1 {
		t.Errorf("GreenhouseID = %d, want 1", latest.GreenhouseID)
	}
	if latest.Temperature != 23.5 {
		t.Errorf("Temperature = %v, want 23.5", latest.Temperature)
	}
	if latest.Humidity != 79.0 {
		t.Errorf("Humidity = %v, want 79.0", latest.Humidity)
	}
	if latest.Status != models.StatusWarning {
		t.Errorf("Status = %v, want %v", latest.Status, models.StatusWarning)
	}
	if !latest.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", latest.Timestamp, now)
	}
}

func TestInsertReading_Invalid(t *testing.T) {
	store := setupTestDB(t)

	tests := []struct {
		name   string
		record *models.SensorRecord
	}{
		{"missing greenhouse", createTestRecord(0, 20, 50, models.StatusNormal, time.Now())},
		{"temperature too high", createTestRecord(1, 60, 50, models.StatusNormal, time.Now())},
		{"humidity negative", createTestRecord(1, 20, -1, models.StatusNormal, time.Now())},
		{"missing timestamp", createTestRecord(1, 20, 50, models.StatusNormal, time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.InsertReading(tt.record)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("InsertReading error = %v, want ValidationError", err)
			}
		})
	}
}

func TestInsertBatch(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Second)
	records := make([]*models.SensorRecord, 100)
	for i := range records {
		records[i] = createTestRecord(1, 20.0+float64(i)*0.1, 70.0+float64(i)*0.1, models.StatusNormal, base.Add(time.Duration(i)*time.Minute))
	}
	insertAll(t, store, records...)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 100 {
		t.Errorf("TotalReadings = %d, want 100", stats.TotalReadings)
	}
	if stats.UniqueGreenhouses != 1 {
		t.Errorf("UniqueGreenhouses = %d, want 1", stats.UniqueGreenhouses)
	}
	if !stats.OldestReading.Equal(base) {
		t.Errorf("OldestReading = %v, want %v", stats.OldestReading, base)
	}
}

func TestInsertBatch_EmptyAndNil(t *testing.T) {
	store := setupTestDB(t)

	if err := store.InsertBatch([]*models.SensorRecord{}); err != nil {
		t.Errorf("InsertBatch(empty) = %v", err)
	}
	if err := store.InsertBatch(nil); err != nil {
		t.Errorf("InsertBatch(nil) = %v", err)
	}
}

func TestInsertBatch_InvalidAbortsAll(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	err := store.InsertBatch([]*models.SensorRecord{
		createTestRecord(1, 20, 70, models.StatusNormal, now),
		createTestRecord(1, 200, 70, models.StatusNormal, now),
	})
	if err == nil {
		t.Fatal("InsertBatch should fail on an invalid record")
	}

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 0 {
		t.Errorf("TotalReadings = %d, want 0 after rollback", stats.TotalReadings)
	}
}

func TestGetReadingsInRange(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)
	for i := 0; i < 24; i++ {
		insertAll(t, store,
			createTestRecord(1, 20, 78, models.StatusNormal, base.Add(time.Duration(i)*time.Hour)),
			createTestRecord(2, 21, 79, models.StatusNormal, base.Add(time.Duration(i)*time.Hour)),
		)
	}

	tests := []struct {
		name         string
		greenhouseID int64
		start, end   time.Time
		limit        int
		want         int
	}{
		{"one greenhouse all day", 1, base, base.Add(23 * time.Hour), 0, 24},
		{"both greenhouses", 0, base, base.Add(23 * time.Hour), 0, 48},
		{"inclusive bounds", 1, base.Add(2 * time.Hour), base.Add(5 * time.Hour), 0, 4},
		{"limited", 1, base, base.Add(23 * time.Hour), 5, 5},
		{"unknown greenhouse", 9, base, base.Add(23 * time.Hour), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetReadingsInRange(tt.greenhouseID, tt.start, tt.end, tt.limit)
			if err != nil {
				t.Fatalf("GetReadingsInRange failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp.Before(got[i-1].Timestamp) {
					t.Fatal("readings should be ordered oldest first")
				}
			}
		})
	}
}

func TestGetReadingsBeforeAndAfter(t *testing.T) {
	store := setupTestDB(t)

	base := time.Now().UTC().Truncate(time.Second).Add(-10 * time.Hour)
	for i := 0; i < 10; i++ {
		insertAll(t, store, createTestRecord(1, 20+float64(i), 78, models.StatusNormal, base.Add(time.Duration(i)*time.Hour)))
	}
	pivot := base.Add(5 * time.Hour)

	before, err := store.GetReadingsBefore(1, pivot, 3)
	if err != nil {
		t.Fatalf("GetReadingsBefore failed: %v", err)
	}
	if len(before) != 3 {
		t.Fatalf("len(before) = %d, want 3", len(before))
	}
	if before[0].Temperature != 24 {
		t.Errorf("first before Temperature = %v, want 24 (newest first)", before[0].Temperature)
	}

	after, err := store.GetReadingsAfter(1, pivot, 0)
	if err != nil {
		t.Fatalf("GetReadingsAfter failed: %v", err)
	}
	if len(after) != 4 {
		t.Fatalf("len(after) = %d, want 4", len(after))
	}
	if after[0].Temperature != 26 {
		t.Errorf("first after Temperature = %v, want 26 (oldest first)", after[0].Temperature)
	}
}

func TestGetLatestReading_NotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetLatestReading(1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLatestReading error = %v, want ErrNotFound", err)
	}
}

func TestGetDailyStats(t *testing.T) {
	store := setupTestDB(t)

	day1 := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	insertAll(t, store,
		createTestRecord(1, 20, 70, models.StatusWarning, day1),
		createTestRecord(1, 22, 80, models.StatusNormal, day1.Add(time.Hour)),
		createTestRecord(1, 24, 90, models.StatusCritical, day1.Add(2*time.Hour)),
		createTestRecord(1, 21, 81, models.StatusNormal, day2),
	)

	stats, err := store.GetDailyStats(1, day1.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetDailyStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}

	first := stats[0]
	if !first.Date.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want 2026-03-10", first.Date)
	}
	if first.ReadingCount != 3 {
		t.Errorf("ReadingCount = %d, want 3", first.ReadingCount)
	}
	if first.MinTemperature != 20 || first.MaxTemperature != 24 || first.AvgTemperature != 22 {
		t.Errorf("temperature stats = %v/%v/%v, want 20/24/22", first.MinTemperature, first.MaxTemperature, first.AvgTemperature)
	}
	if first.AvgHumidity != 80 {
		t.Errorf("AvgHumidity = %v, want 80", first.AvgHumidity)
	}
	if first.WarningCount != 1 || first.CriticalCount != 1 {
		t.Errorf("warning/critical = %d/%d, want 1/1", first.WarningCount, first.CriticalCount)
	}
	if stats[1].ReadingCount != 1 {
		t.Errorf("second day ReadingCount = %d, want 1", stats[1].ReadingCount)
	}
}

func TestGetStatusCounts(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	insertAll(t, store,
		createTestRecord(1, 20, 70, models.StatusWarning, now.Add(-3*time.Minute)),
		createTestRecord(1, 20, 70, models.StatusWarning, now.Add(-2*time.Minute)),
		createTestRecord(1, 20, 90, models.StatusCritical, now.Add(-time.Minute)),
		createTestRecord(1, 21, 80, models.StatusNormal, now),
		createTestRecord(2, 21, 80, models.StatusCritical, now),
	)

	counts, err := store.GetStatusCounts(1, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("GetStatusCounts failed: %v", err)
	}
	want := StatusCounts{Total: 4, Normal: 1, Warning: 2, Critical: 1}
	if counts != want {
		t.Errorf("GetStatusCounts = %+v, want %+v", counts, want)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	insertAll(t, store,
		createTestRecord(1, 20, 80, models.StatusNormal, now.AddDate(0, 0, -40)),
		createTestRecord(1, 20, 80, models.StatusNormal, now.AddDate(0, 0, -31)),
		createTestRecord(1, 20, 80, models.StatusNormal, now.AddDate(0, 0, -1)),
	)

	deleted, err := store.DeleteOlderThan(30)
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestGetGreenhouseIDs(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	insertAll(t, store,
		createTestRecord(3, 20, 80, models.StatusNormal, now),
		createTestRecord(1, 20, 80, models.StatusNormal, now),
		createTestRecord(3, 20, 80, models.StatusNormal, now),
	)

	ids, err := store.GetGreenhouseIDs()
	if err != nil {
		t.Fatalf("GetGreenhouseIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("GetGreenhouseIDs = %v, want [1 3]", ids)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	tests := []string{
		"2026-05-01 08:30:00",
		"2026-05-01T08:30:00Z",
		"2026-05-01T10:30:00+02:00",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := parseTimestamp(in)
			if err != nil {
				t.Fatalf("parseTimestamp(%q) error: %v", in, err)
			}
			if !got.Equal(want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v", in, got, want)
			}
		})
	}

	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("parseTimestamp should reject garbage")
	}
}
