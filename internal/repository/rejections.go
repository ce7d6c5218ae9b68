package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"postback-engine/internal/models"
)

// RejectionRepository is the audit log of postbacks that did not become
// conversions.
type RejectionRepository struct {
	db *gorm.DB
}

func NewRejectionRepository(db *gorm.DB) *RejectionRepository {
	return &RejectionRepository{db: db}
}

func (r *RejectionRepository) Record(ctx context.Context, rej *models.Rejection) error {
	if err := r.db.WithContext(ctx).Create(rej).Error; err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

func (r *RejectionRepository) Recent(ctx context.Context, reason string, limit, offset int) ([]models.Rejection, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset)
	if reason != "" {
		q = q.Where("reason = ?", reason)
	}
	var out []models.Rejection
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	return out, nil
}
