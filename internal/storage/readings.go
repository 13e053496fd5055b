package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// Store defines the interface for reading storage.
// A greenhouseID of 0 matches every greenhouse.
type Store interface {
	Close() error
	Migrate() error
	InsertReading(record *models.SensorRecord) error
	InsertBatch(records []*models.SensorRecord) error
	GetReadingsInRange(greenhouseID int64, start, end time.Time, limit int) ([]*models.SensorRecord, error)
	GetReadingsBefore(greenhouseID int64, before time.Time, limit int) ([]*models.SensorRecord, error)
	GetReadingsAfter(greenhouseID int64, after time.Time, limit int) ([]*models.SensorRecord, error)
	GetLatestReading(greenhouseID int64) (*models.SensorRecord, error)
	GetDailyStats(greenhouseID int64, start, end time.Time) ([]DailyStat, error)
	GetStatusCounts(greenhouseID int64, start, end time.Time) (StatusCounts, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetGreenhouseIDs() ([]int64, error)
}

var _ Store = (*SQLiteStore)(nil)

// DailyStat represents aggregated statistics for a single day
type DailyStat struct {
	Date           time.Time `json:"date"`
	GreenhouseID   int64     `json:"greenhouse_id"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	MinHumidity    float64   `json:"min_humidity"`
	MaxHumidity    float64   `json:"max_humidity"`
	AvgHumidity    float64   `json:"avg_humidity"`
	ReadingCount   int       `json:"reading_count"`
	WarningCount   int       `json:"warning_count"`
	CriticalCount  int       `json:"critical_count"`
}

// StatusCounts tallies readings by classification over a range
type StatusCounts struct {
	Total    int `json:"total"`
	Normal   int `json:"normal"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

const readingColumns = "id, greenhouse_id, temperature, humidity, status, recorded_at"

const insertReadingSQL = `
	INSERT INTO readings (greenhouse_id, temperature, humidity, status, recorded_at)
	VALUES (?, ?, ?, ?, ?)
`

// InsertReading writes a single record and sets its ID
func (s *SQLiteStore) InsertReading(record *models.SensorRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	result, err := s.db.Exec(insertReadingSQL,
		record.GreenhouseID,
		record.Temperature,
		record.Humidity,
		record.Status.String(),
		formatTimestamp(record.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// InsertBatch writes all records in one transaction. Any invalid record
// aborts the batch.
func (s *SQLiteStore) InsertBatch(records []*models.SensorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertReadingSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, record := range records {
		if err := record.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		_, err := stmt.Exec(
			record.GreenhouseID,
			record.Temperature,
			record.Humidity,
			record.Status.String(),
			formatTimestamp(record.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(records)).Msg("Batch inserted")
	return nil
}

// readingFilter accumulates WHERE clauses for reading queries
type readingFilter struct {
	clauses []string
	args    []any
}

func newReadingFilter(greenhouseID int64) *readingFilter {
	f := &readingFilter{}
	if greenhouseID > 0 {
		f.add("greenhouse_id = ?", greenhouseID)
	}
	return f
}

func (f *readingFilter) add(clause string, arg any) *readingFilter {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, arg)
	return f
}

func (f *readingFilter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// queryReadings runs a reading select with the filter, order and optional limit
func (s *SQLiteStore) queryReadings(f *readingFilter, order string, limit int) ([]*models.SensorRecord, error) {
	query := "SELECT " + readingColumns + " FROM readings" + f.where() + " ORDER BY recorded_at " + order
	args := f.args
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetReadingsInRange returns readings in [start, end], oldest first
func (s *SQLiteStore) GetReadingsInRange(greenhouseID int64, start, end time.Time, limit int) ([]*models.SensorRecord, error) {
	f := newReadingFilter(greenhouseID).
		add("recorded_at >= ?", formatTimestamp(start)).
		add("recorded_at <= ?", formatTimestamp(end))
	return s.queryReadings(f, "ASC", limit)
}

// GetReadingsBefore returns readings strictly before a time, newest first
func (s *SQLiteStore) GetReadingsBefore(greenhouseID int64, before time.Time, limit int) ([]*models.SensorRecord, error) {
	f := newReadingFilter(greenhouseID).add("recorded_at < ?", formatTimestamp(before))
	return s.queryReadings(f, "DESC", limit)
}

// GetReadingsAfter returns readings strictly after a time, oldest first
func (s *SQLiteStore) GetReadingsAfter(greenhouseID int64, after time.Time, limit int) ([]*models.SensorRecord, error) {
	f := newReadingFilter(greenhouseID).add("recorded_at > ?", formatTimestamp(after))
	return s.queryReadings(f, "ASC", limit)
}

// GetLatestReading returns the most recent reading or ErrNotFound
func (s *SQLiteStore) GetLatestReading(greenhouseID int64) (*models.SensorRecord, error) {
	f := newReadingFilter(greenhouseID)
	row := s.db.QueryRow("SELECT "+readingColumns+" FROM readings"+f.where()+" ORDER BY recorded_at DESC LIMIT 1", f.args...)

	record, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return record, nil
}

// GetDailyStats aggregates readings per calendar day (UTC) in the range
func (s *SQLiteStore) GetDailyStats(greenhouseID int64, start, end time.Time) ([]DailyStat, error) {
	f := newReadingFilter(greenhouseID).
		add("recorded_at >= ?", formatTimestamp(start)).
		add("recorded_at <= ?", formatTimestamp(end))

	query := `
		SELECT
			DATE(recorded_at) AS day,
			greenhouse_id,
			MIN(temperature), MAX(temperature), AVG(temperature),
			MIN(humidity), MAX(humidity), AVG(humidity),
			COUNT(*),
			SUM(CASE WHEN status = 'WARNING' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'CRITICAL' THEN 1 ELSE 0 END)
		FROM readings` + f.where() + `
		GROUP BY day, greenhouse_id
		ORDER BY day ASC, greenhouse_id ASC
	`

	rows, err := s.db.Query(query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var day string
		err := rows.Scan(
			&day,
			&stat.GreenhouseID,
			&stat.MinTemperature, &stat.MaxTemperature, &stat.AvgTemperature,
			&stat.MinHumidity, &stat.MaxHumidity, &stat.AvgHumidity,
			&stat.ReadingCount,
			&stat.WarningCount,
			&stat.CriticalCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stat.Date, err = time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("failed to parse day %q: %w", day, err)
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily stats: %w", err)
	}
	return stats, nil
}

// GetStatusCounts counts readings per status in [start, end]
func (s *SQLiteStore) GetStatusCounts(greenhouseID int64, start, end time.Time) (StatusCounts, error) {
	f := newReadingFilter(greenhouseID).
		add("recorded_at >= ?", formatTimestamp(start)).
		add("recorded_at <= ?", formatTimestamp(end))

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM readings"+f.where()+" GROUP BY status", f.args...)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts.Total += n
		switch status {
		case models.StatusWarning.String():
			counts.Warning += n
		case models.StatusCritical.String():
			counts.Critical += n
		default:
			counts.Normal += n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan removes readings recorded more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().
			Int64("deleted", deleted).
			Int("older_than_days", days).
			Msg("Deleted old readings")
	}
	return deleted, nil
}

// GetGreenhouseIDs returns every greenhouse with stored readings
func (s *SQLiteStore) GetGreenhouseIDs() ([]int64, error) {
	rows, err := s.db.Query("SELECT DISTINCT greenhouse_id FROM readings ORDER BY greenhouse_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query greenhouse IDs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan greenhouse ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanReading(row rowScanner) (*models.SensorRecord, error) {
	var record models.SensorRecord
	var status, recordedAt string

	if err := row.Scan(&record.ID, &record.GreenhouseID, &record.Temperature, &record.Humidity, &status, &recordedAt); err != nil {
		return nil, err
	}

	var err error
	if record.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	if record.Timestamp, err = parseTimestamp(recordedAt); err != nil {
		return nil, err
	}
	return &record, nil
}

func scanReadings(rows *sql.Rows) ([]*models.SensorRecord, error) {
	var records []*models.SensorRecord
	for rows.Next() {
		record, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating readings: %w", err)
	}
	return records, nil
}
