package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Purger deletes rows outside the retention window
type Purger interface {
	DeleteOlderThan(days int) (int64, error)
	DeleteReadNotificationsOlderThan(days int) (int64, error)
}

const (
	jobReadings      = "readings"
	jobNotifications = "read_notifications"
)

// retentionJob purges one table. Jobs run in order and a failure skips the rest.
type retentionJob struct {
	name  string
	purge func(days int) (int64, error)
}

// RetentionCleaner periodically removes old readings and read notifications
type RetentionCleaner struct {
	jobs          []retentionJob
	logger        zerolog.Logger
	retentionDays int
	cleanupPeriod time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	mu          sync.RWMutex
	removed     map[string]int64
	lastRemoved map[string]int64
	runs        int64
	lastRun     time.Time
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int           // days of data to keep
	CleanupPeriod time.Duration // interval between runs
}

// DefaultRetentionCleanerConfig mirrors the database section defaults
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: 24 * time.Hour,
	}
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalPurged     int64     `json:"total_purged_notifications"`
	TotalCleanups   int64     `json:"total_cleanups"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	RetentionDays   int       `json:"retention_days"`
}

// NewRetentionCleaner runs one cleanup immediately and then every CleanupPeriod
func NewRetentionCleaner(store Purger, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		period = DefaultRetentionCleanerConfig().CleanupPeriod
		logger.Warn().
			Dur("provided_period", config.CleanupPeriod).
			Dur("default_period", period).
			Msg("Invalid CleanupPeriod provided (zero or negative), using default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RetentionCleaner{
		jobs: []retentionJob{
			{name: jobReadings, purge: store.DeleteOlderThan},
			{name: jobNotifications, purge: store.DeleteReadNotificationsOlderThan},
		},
		logger:        logger,
		retentionDays: config.RetentionDays,
		cleanupPeriod: period,
		cancel:        cancel,
		removed:       make(map[string]int64),
		lastRemoved:   make(map[string]int64),
	}

	c.wg.Add(1)
	go c.loop(ctx)

	logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", period).
		Msg("RetentionCleaner started")
	return c
}

func (c *RetentionCleaner) loop(ctx context.Context) {
	defer c.wg.Done()
	c.runCleanup()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("RetentionCleaner stopped")
			return
		case <-ticker.C:
			c.runCleanup()
		}
	}
}

func (c *RetentionCleaner) runCleanup() {
	removed := make(map[string]int64, len(c.jobs))
	for _, job := range c.jobs {
		n, err := job.purge(c.retentionDays)
		if err != nil {
			c.logger.Error().Err(err).Str("job", job.name).Msg("Retention cleanup failed")
			break
		}
		removed[job.name] = n
	}

	c.mu.Lock()
	c.runs++
	c.lastRun = time.Now()
	var total int64
	for name, n := range removed {
		c.removed[name] += n
		c.lastRemoved[name] = n
		total += n
	}
	c.mu.Unlock()

	event := c.logger.Debug()
	if total > 0 {
		event = c.logger.Info()
	}
	event.
		Int64("deleted", removed[jobReadings]).
		Int64("purged_notifications", removed[jobNotifications]).
		Int("retention_days", c.retentionDays).
		Msg("Retention cleanup completed")
}

// Stop ends the cleanup loop. Safe to call more than once.
func (c *RetentionCleaner) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Stats returns a copy of the cleaner counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RetentionCleanerStats{
		TotalDeleted:    c.removed[jobReadings],
		TotalPurged:     c.removed[jobNotifications],
		TotalCleanups:   c.runs,
		LastCleanup:     c.lastRun,
		LastDeleteCount: c.lastRemoved[jobReadings],
		RetentionDays:   c.retentionDays,
	}
}

// RunNow performs a cleanup on the calling goroutine
func (c *RetentionCleaner) RunNow() {
	c.runCleanup()
}
