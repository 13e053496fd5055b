package models

import (
	"slices"
	"strings"
	"time"
)

// NotificationType groups notifications by origin
type NotificationType string

const (
	NotificationIrrigation NotificationType = "IRRIGATION"
	NotificationAlert      NotificationType = "ALERT"
	NotificationSystem     NotificationType = "SYSTEM"
)

// Priority of a notification
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

const maxTitleLength = 200

// Notification is a persisted message addressed to users
type Notification struct {
	ID         int64            `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Priority   Priority         `json:"priority"`
	CreatedAt  time.Time        `json:"created_at"`
	SentAt     *time.Time       `json:"sent_at,omitempty"`
	Read       bool             `json:"read"`
	Recipients []int64          `json:"recipients,omitempty"`
}

// ApplyDefaults fills type and priority when omitted
func (n *Notification) ApplyDefaults() {
	if n.Type == "" {
		n.Type = NotificationSystem
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
}

// Validate checks the notification against the domain rules
func (n *Notification) Validate() error {
	var errs ValidationError
	if !slices.Contains([]NotificationType{NotificationIrrigation, NotificationAlert, NotificationSystem}, n.Type) {
		errs.Add("notification type is not valid")
	}
	if strings.TrimSpace(n.Title) == "" {
		errs.Add("title is required")
	}
	if len(n.Title) > maxTitleLength {
		errs.Add("title cannot exceed 200 characters")
	}
	if strings.TrimSpace(n.Message) == "" {
		errs.Add("message is required")
	}
	if !slices.Contains([]Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}, n.Priority) {
		errs.Add("priority is not valid")
	}
	return errs.OrNil()
}

// NotificationFromAlert maps a core alert onto a persistable notification
func NotificationFromAlert(a Alert) *Notification {
	n := &Notification{
		Title:     a.Title,
		Message:   a.Description,
		CreatedAt: a.CreatedAt,
	}

	switch {
	case a.Key.IsWatering():
		n.Type = NotificationIrrigation
	case a.Key != NoKey:
		n.Type = NotificationAlert
	default:
		n.Type = NotificationSystem
	}

	switch a.Kind {
	case AlertError:
		n.Priority = PriorityUrgent
	case AlertWarning:
		n.Priority = PriorityHigh
	case AlertSuccess:
		n.Priority = PriorityLow
	default:
		n.Priority = PriorityMedium
	}
	return n
}

// NotificationFilter narrows a notification listing
type NotificationFilter struct {
	Type       NotificationType
	UnreadOnly bool
	Limit      int
}
