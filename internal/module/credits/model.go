package credits

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageRecord is one durable consumption event. Redis keeps the hot
// counter; these rows are the source of truth when the counter is cold.
type UsageRecord struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_usage_user_period,priority:1"`
	DocumentID  *uuid.UUID `gorm:"type:uuid"`
	Units       int64      `gorm:"not null"`
	PeriodStart time.Time  `gorm:"not null;index:idx_usage_user_period,priority:2"`
	CreatedAt   time.Time
}

// TableName overrides the gorm default.
func (UsageRecord) TableName() string {
	return "usage_records"
}

// BeforeCreate assigns the record ID.
func (r *UsageRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Balance is a user's credit position for the current billing period.
type Balance struct {
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}
