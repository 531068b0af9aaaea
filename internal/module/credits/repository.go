package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists usage records.
type Repository interface {
	CreateRecord(ctx context.Context, record *UsageRecord) error
	SumUnits(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed usage record repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateRecord(ctx context.Context, record *UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *gormRepository) SumUnits(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("COALESCE(SUM(units), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, periodStart, periodEnd).
		Scan(&total).Error
	return total, err
}
