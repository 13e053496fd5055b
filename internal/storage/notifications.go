package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

const defaultNotificationLimit = 50

// CreateNotification validates and stores a notification with its recipients
func (s *SQLiteStore) CreateNotification(n *models.Notification) error {
	n.ApplyDefaults()
	if err := n.Validate(); err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var sentAt any
	if n.SentAt != nil {
		sentAt = formatTimestamp(*n.SentAt)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO notifications (type, title, message, priority, created_at, sent_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(n.Type), n.Title, n.Message, string(n.Priority), formatTimestamp(n.CreatedAt), sentAt, n.Read)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get notification id: %w", err)
	}
	for _, user := range n.Recipients {
		if _, err := tx.Exec("INSERT OR IGNORE INTO notification_recipients (notification_id, user_id) VALUES (?, ?)", id, user); err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	n.ID = id
	return nil
}

// ListNotifications returns notifications matching the filter, newest first
func (s *SQLiteStore) ListNotifications(filter models.NotificationFilter) ([]*models.Notification, error) {
	query := "SELECT id, type, title, message, priority, created_at, sent_at, read FROM notifications WHERE 1 = 1"
	var args []any
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.UnreadOnly {
		query += " AND read = 0"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	var notifications []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	for _, n := range notifications {
		if n.Recipients, err = s.recipients(n.ID); err != nil {
			return nil, err
		}
	}
	return notifications, nil
}

// MarkNotificationRead flags a notification as read
func (s *SQLiteStore) MarkNotificationRead(id int64) error {
	result, err := s.db.Exec("UPDATE notifications SET read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return affectedOrNotFound(result)
}

// DeleteNotification removes a notification and its recipients
func (s *SQLiteStore) DeleteNotification(id int64) error {
	result, err := s.db.Exec("DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return affectedOrNotFound(result)
}

// CountNotificationsByType returns how many notifications exist per type
func (s *SQLiteStore) CountNotificationsByType() (map[models.NotificationType]int, error) {
	rows, err := s.db.Query("SELECT type, COUNT(*) FROM notifications GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.NotificationType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan notification count: %w", err)
		}
		counts[models.NotificationType(t)] = n
	}
	return counts, rows.Err()
}

// DeleteReadNotificationsOlderThan purges read notifications created more than days ago
func (s *SQLiteStore) DeleteReadNotificationsOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM notifications WHERE read = 1 AND created_at < ?", formatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func (s *SQLiteStore) recipients(id int64) ([]int64, error) {
	rows, err := s.db.Query("SELECT user_id FROM notification_recipients WHERE notification_id = ? ORDER BY user_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var u int64
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var typ, priority, createdAt string
	var sentAt sql.NullString
	if err := row.Scan(&n.ID, &typ, &n.Title, &n.Message, &priority, &createdAt, &sentAt, &n.Read); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	n.Priority = models.Priority(priority)

	var err error
	if n.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t, err := parseTimestamp(sentAt.String)
		if err != nil {
			return nil, err
		}
		n.SentAt = &t
	}
	return &n, nil
}
