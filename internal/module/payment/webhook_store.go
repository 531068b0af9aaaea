package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is a processed (or in-flight) processor webhook event,
// stored for idempotent handling.
type WebhookEvent struct {
	ID           string `gorm:"primaryKey"`
	Type         string `gorm:"not null;index"`
	Payload      string `gorm:"type:text"`
	ProcessedAt  *time.Time
	ProcessError string
	CreatedAt    time.Time
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// EventStore records webhook events so redelivered events are skipped.
type EventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, event *WebhookEvent) error
	MarkProcessed(ctx context.Context, eventID string, processErr error) error
}

type eventStore struct {
	db *gorm.DB
}

// NewEventStore creates a new webhook event store.
func NewEventStore(db *gorm.DB) EventStore {
	return &eventStore{db: db}
}

func (s *eventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var event WebhookEvent
	err := s.db.WithContext(ctx).First(&event, "id = ?", eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return true, nil
}

func (s *eventStore) Record(ctx context.Context, event *WebhookEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (s *eventStore) MarkProcessed(ctx context.Context, eventID string, processErr error) error {
	updates := map[string]any{"processed_at": time.Now()}
	if processErr != nil {
		updates["process_error"] = processErr.Error()
	}
	err := s.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
