package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a row addressed by id does not exist
var ErrNotFound = errors.New("storage: not found")

// timeLayout is how timestamps are stored. Values are always written in UTC.
const timeLayout = "2006-01-02 15:04:05"

// SQLiteStore persists readings, calendars and notifications
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings       int64     `json:"total_readings"`
	OldestReading       time.Time `json:"oldest_reading,omitempty"`
	NewestReading       time.Time `json:"newest_reading,omitempty"`
	UniqueGreenhouses   int       `json:"unique_greenhouses"`
	TotalCalendars      int64     `json:"total_calendars"`
	TotalNotifications  int64     `json:"total_notifications"`
	UnreadNotifications int64     `json:"unread_notifications"`
	DatabaseSizeMB      float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and migrates it
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		greenhouse_id INTEGER NOT NULL,
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'NORMAL',
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_readings_greenhouse_time ON readings(greenhouse_id, recorded_at);

	CREATE TABLE IF NOT EXISTS irrigation_calendars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		greenhouse_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calendars_greenhouse ON irrigation_calendars(greenhouse_id);

	CREATE TABLE IF NOT EXISTS calendar_days (
		calendar_id INTEGER NOT NULL REFERENCES irrigation_calendars(id) ON DELETE CASCADE,
		weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		PRIMARY KEY (calendar_id, weekday)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		priority TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		sent_at DATETIME,
		read INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

	CREATE TABLE IF NOT EXISTS notification_recipients (
		notification_id INTEGER NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (notification_id, user_id)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// GetStorageStats returns row counts and the on-disk size
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	var oldest, newest sql.NullString
	err := s.db.QueryRow(`
		SELECT COUNT(*), MIN(recorded_at), MAX(recorded_at), COUNT(DISTINCT greenhouse_id)
		FROM readings
	`).Scan(&stats.TotalReadings, &oldest, &newest, &stats.UniqueGreenhouses)
	if err != nil {
		return nil, fmt.Errorf("failed to get reading stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestReading, _ = parseTimestamp(oldest.String)
	}
	if newest.Valid {
		stats.NewestReading, _ = parseTimestamp(newest.String)
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM irrigation_calendars`).Scan(&stats.TotalCalendars); err != nil {
		return nil, fmt.Errorf("failed to count calendars: %w", err)
	}
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END), 0)
		FROM notifications
	`).Scan(&stats.TotalNotifications, &stats.UnreadNotifications)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
		}
	}

	return stats, nil
}

// formatTimestamp renders t in the stored layout
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimestamp accepts the stored layout and the forms the driver may return
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05.999999999-07:00",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// affectedOrNotFound turns a zero-row update or delete into ErrNotFound
func affectedOrNotFound(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
