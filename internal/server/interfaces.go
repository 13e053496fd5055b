package server

import (
	"context"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
	"github.com/afroash/greenhouse-monitor/internal/storage"
)

// Greenhouse is the live core the API drives.
// greenhouse.Monitor implements this interface. A command that returns a
// context error was never applied.
type Greenhouse interface {
	CurrentReading(ctx context.Context) (models.SensorReading, error)
	Snapshot(ctx context.Context) (models.Snapshot, error)
	SetReading(ctx context.Context, temperature, humidity *float64) (models.SensorReading, error)
	History(ctx context.Context, n int) ([]models.SensorReading, error)

	Alerts(ctx context.Context, limit int) (models.AlertPage, error)
	MarkAlertRead(ctx context.Context, id string) error
	MarkAllAlertsRead(ctx context.Context) (int, error)
	DeleteAlert(ctx context.Context, id string) error

	IrrigationState(ctx context.Context) (models.IrrigationState, error)
	IrrigationConfig(ctx context.Context) (models.IrrigationConfig, error)
	UpdateIrrigationConfig(ctx context.Context, patch models.IrrigationPatch) (models.IrrigationConfig, error)
	ScheduledWaterings(ctx context.Context) ([]models.ScheduledWatering, error)
	ScheduleWatering(ctx context.Context, date time.Time, clock string, durationMinutes int) (models.ScheduledWatering, error)
	CancelScheduledWatering(ctx context.Context, id string) error
	StartWatering(ctx context.Context, durationMinutes int) (int, error)
	StopWatering(ctx context.Context) (float64, error)
}

// HistoricalStore is the persisted reading history.
// storage.SQLiteStore implements this interface.
type HistoricalStore interface {
	GetReadingsInRange(greenhouseID int64, start, end time.Time, limit int) ([]*models.SensorRecord, error)
	GetLatestReading(greenhouseID int64) (*models.SensorRecord, error)
	GetDailyStats(greenhouseID int64, start, end time.Time) ([]storage.DailyStat, error)
	GetStatusCounts(greenhouseID int64, start, end time.Time) (storage.StatusCounts, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// CalendarStore persists irrigation calendars
type CalendarStore interface {
	CreateCalendar(c *models.IrrigationCalendar) error
	UpdateCalendar(c *models.IrrigationCalendar) error
	GetCalendar(id int64) (*models.IrrigationCalendar, error)
	ListCalendars(greenhouseID int64) ([]*models.IrrigationCalendar, error)
	DeleteCalendar(id int64) error
}

// NotificationStore persists notifications
type NotificationStore interface {
	CreateNotification(n *models.Notification) error
	ListNotifications(filter models.NotificationFilter) ([]*models.Notification, error)
	MarkNotificationRead(id int64) error
	DeleteNotification(id int64) error
	CountNotificationsByType() (map[models.NotificationType]int, error)
}

// Database groups the persisted stores. storage.SQLiteStore satisfies it.
type Database interface {
	HistoricalStore
	CalendarStore
	NotificationStore
}
