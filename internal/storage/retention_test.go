package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

func setupTestRetentionCleaner(t *testing.T, config RetentionCleanerConfig) (*SQLiteStore, *RetentionCleaner) {
	t.Helper()

	store := setupTestDB(t)
	cleaner := NewRetentionCleaner(store, config, zerolog.Nop())
	t.Cleanup(cleaner.Stop)
	return store, cleaner
}

func TestRetentionCleaner_RunNow(t *testing.T) {
	store, cleaner := setupTestRetentionCleaner(t, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	})
	waitFor(t, time.Second, func() bool { return cleaner.Stats().TotalCleanups >= 1 })

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		insertAll(t, store,
			createTestRecord(1, 20, 80, models.StatusNormal, now.AddDate(0, 0, -35).Add(-time.Duration(i)*time.Hour)),
			createTestRecord(1, 21, 80, models.StatusNormal, now.Add(-time.Duration(i)*time.Hour)),
		)
	}

	old := now.AddDate(0, 0, -40)
	for _, n := range []*models.Notification{
		{Title: "old read", Message: "m", CreatedAt: old, Read: true},
		{Title: "old unread", Message: "m", CreatedAt: old},
		{Title: "recent read", Message: "m", CreatedAt: now, Read: true},
	} {
		if err := store.CreateNotification(n); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
	}

	cleaner.RunNow()

	if got := totalReadings(store); got != 10 {
		t.Errorf("readings after cleanup = %d, want 10", got)
	}
	left, err := store.ListNotifications(models.NotificationFilter{})
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("notifications after cleanup = %d, want 2", len(left))
	}

	stats := cleaner.Stats()
	if stats.LastDeleteCount != 10 {
		t.Errorf("LastDeleteCount = %d, want 10", stats.LastDeleteCount)
	}
	if stats.TotalPurged != 1 {
		t.Errorf("TotalPurged = %d, want 1", stats.TotalPurged)
	}
	if stats.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", stats.RetentionDays)
	}
}

func TestRetentionCleaner_PeriodicCleanup(t *testing.T) {
	store := setupTestDB(t)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertAll(t, store, createTestRecord(1, 20, 80, models.StatusNormal, now.AddDate(0, 0, -2)))
	}

	cleaner := NewRetentionCleaner(store, RetentionCleanerConfig{
		RetentionDays: 1,
		CleanupPeriod: 20 * time.Millisecond,
	}, zerolog.Nop())
	defer cleaner.Stop()

	if !waitFor(t, time.Second, func() bool { return cleaner.Stats().TotalCleanups >= 2 }) {
		t.Errorf("TotalCleanups = %d, expected >= 2", cleaner.Stats().TotalCleanups)
	}
	if got := cleaner.Stats().TotalDeleted; got != 5 {
		t.Errorf("TotalDeleted = %d, want 5", got)
	}
}

func TestRetentionCleaner_InvalidPeriodUsesDefault(t *testing.T) {
	_, cleaner := setupTestRetentionCleaner(t, RetentionCleanerConfig{RetentionDays: 30})

	if cleaner.cleanupPeriod != 24*time.Hour {
		t.Errorf("cleanupPeriod = %v, want 24h", cleaner.cleanupPeriod)
	}
}

type failingPurger struct {
	purged bool
}

func (f *failingPurger) DeleteOlderThan(int) (int64, error) {
	return 0, errors.New("disk gone")
}

func (f *failingPurger) DeleteReadNotificationsOlderThan(int) (int64, error) {
	f.purged = true
	return 0, nil
}

func TestRetentionCleaner_ReadingFailureSkipsNotifications(t *testing.T) {
	purger := &failingPurger{}
	cleaner := NewRetentionCleaner(purger, RetentionCleanerConfig{RetentionDays: 1, CleanupPeriod: time.Hour}, zerolog.Nop())
	cleaner.Stop()

	if purger.purged {
		t.Error("notifications should not be purged after a reading cleanup failure")
	}
	if got := cleaner.Stats().TotalCleanups; got != 1 {
		t.Errorf("TotalCleanups = %d, want 1", got)
	}
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	_, cleaner := setupTestRetentionCleaner(t, DefaultRetentionCleanerConfig())

	done := make(chan struct{})
	go func() {
		cleaner.Stop()
		cleaner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
