package storage

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// NotificationCreator persists notifications
type NotificationCreator interface {
	CreateNotification(n *models.Notification) error
}

// NotificationSink persists raised alerts as notifications.
// AlertRaised never blocks; alerts beyond the buffer are dropped.
type NotificationSink struct {
	store  NotificationCreator
	logger zerolog.Logger
	queue  chan models.Alert
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotificationSink starts the persisting goroutine
func NewNotificationSink(store NotificationCreator, bufferSize int, logger zerolog.Logger) *NotificationSink {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	s := &NotificationSink{
		store:  store,
		logger: logger,
		queue:  make(chan models.Alert, bufferSize),
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// AlertRaised queues the alert for persistence
func (s *NotificationSink) AlertRaised(a models.Alert) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- a:
	default:
		s.logger.Warn().Str("alert_id", a.ID).Msg("Notification queue full, dropping alert")
	}
}

func (s *NotificationSink) run() {
	defer s.wg.Done()

	for a := range s.queue {
		n := models.NotificationFromAlert(a)
		if err := s.store.CreateNotification(n); err != nil {
			s.logger.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to persist alert notification")
			continue
		}
		s.logger.Debug().Int64("notification_id", n.ID).Str("type", string(n.Type)).Msg("Alert persisted")
	}
}

// Close persists the queued alerts and stops the sink. Later alerts are ignored.
func (s *NotificationSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}
