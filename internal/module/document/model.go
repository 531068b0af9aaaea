package document

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status tracks a document through its summarization lifecycle.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusSummarizing Status = "summarizing"
	StatusSummarized  Status = "summarized"
	StatusFailed      Status = "failed"
)

// Document is an uploaded legal document. The file body lives in object
// storage under StorageKey; only metadata and the produced summary are
// kept in Postgres.
type Document struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Title        string    `gorm:"not null"`
	FileName     string    `gorm:"not null"`
	ContentType  string    `gorm:"not null"`
	SizeBytes    int64     `gorm:"not null"`
	StorageKey   string    `gorm:"not null"`
	Status       Status    `gorm:"not null;default:'uploaded'"`
	Summary      string    `gorm:"type:text"`
	SummarizedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName overrides the gorm default.
func (Document) TableName() string {
	return "documents"
}

// BeforeCreate assigns the document ID.
func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
