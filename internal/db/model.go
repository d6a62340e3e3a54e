package db

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEntity is a row of the transactional outbox.
type NotificationEntity struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	Event           string
	Payload         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
