package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// CreateCalendar validates and stores a calendar with its weekdays
func (s *SQLiteStore) CreateCalendar(c *models.IrrigationCalendar) error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO irrigation_calendars (greenhouse_id, name, time_of_day, duration_minutes, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.GreenhouseID, c.Name, c.TimeOfDay, c.DurationMinutes, c.Active, formatTimestamp(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert calendar: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get calendar id: %w", err)
	}
	if err := insertCalendarDays(tx, id, c.Days); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	c.ID = id
	s.logger.Info().Int64("calendar_id", id).Int64("greenhouse_id", c.GreenhouseID).Msg("Calendar created")
	return nil
}

// UpdateCalendar replaces every field of an existing calendar
func (s *SQLiteStore) UpdateCalendar(c *models.IrrigationCalendar) error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE irrigation_calendars
		SET greenhouse_id = ?, name = ?, time_of_day = ?, duration_minutes = ?, active = ?
		WHERE id = ?
	`, c.GreenhouseID, c.Name, c.TimeOfDay, c.DurationMinutes, c.Active, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}
	if err := affectedOrNotFound(result); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM calendar_days WHERE calendar_id = ?", c.ID); err != nil {
		return fmt.Errorf("failed to clear calendar days: %w", err)
	}
	if err := insertCalendarDays(tx, c.ID, c.Days); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCalendar returns the calendar with id or ErrNotFound
func (s *SQLiteStore) GetCalendar(id int64) (*models.IrrigationCalendar, error) {
	row := s.db.QueryRow(`
		SELECT id, greenhouse_id, name, time_of_day, duration_minutes, active, created_at
		FROM irrigation_calendars WHERE id = ?
	`, id)

	c, err := scanCalendar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar: %w", err)
	}

	days, err := s.calendarDays(id)
	if err != nil {
		return nil, err
	}
	c.Days = days
	return c, nil
}

// ListCalendars returns the calendars of a greenhouse (0 for all), oldest first
func (s *SQLiteStore) ListCalendars(greenhouseID int64) ([]*models.IrrigationCalendar, error) {
	query := `SELECT id, greenhouse_id, name, time_of_day, duration_minutes, active, created_at FROM irrigation_calendars`
	var args []any
	if greenhouseID > 0 {
		query += " WHERE greenhouse_id = ?"
		args = append(args, greenhouseID)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendars: %w", err)
	}

	var calendars []*models.IrrigationCalendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan calendar: %w", err)
		}
		calendars = append(calendars, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating calendars: %w", err)
	}

	// The single connection is free again once rows is closed
	for _, c := range calendars {
		if c.Days, err = s.calendarDays(c.ID); err != nil {
			return nil, err
		}
	}
	return calendars, nil
}

// DeleteCalendar removes a calendar and its days
func (s *SQLiteStore) DeleteCalendar(id int64) error {
	result, err := s.db.Exec("DELETE FROM irrigation_calendars WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete calendar: %w", err)
	}
	return affectedOrNotFound(result)
}

func (s *SQLiteStore) calendarDays(id int64) ([]time.Weekday, error) {
	rows, err := s.db.Query("SELECT weekday FROM calendar_days WHERE calendar_id = ? ORDER BY weekday", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar days: %w", err)
	}
	defer rows.Close()

	days := []time.Weekday{}
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan calendar day: %w", err)
		}
		days = append(days, time.Weekday(d))
	}
	return days, rows.Err()
}

func insertCalendarDays(tx *sql.Tx, id int64, days []time.Weekday) error {
	unique := slices.Clone(days)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	for _, d := range unique {
		if _, err := tx.Exec("INSERT INTO calendar_days (calendar_id, weekday) VALUES (?, ?)", id, int(d)); err != nil {
			return fmt.Errorf("failed to insert calendar day: %w", err)
		}
	}
	return nil
}

func scanCalendar(row rowScanner) (*models.IrrigationCalendar, error) {
	var c models.IrrigationCalendar
	var createdAt string
	if err := row.Scan(&c.ID, &c.GreenhouseID, &c.Name, &c.TimeOfDay, &c.DurationMinutes, &c.Active, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}
