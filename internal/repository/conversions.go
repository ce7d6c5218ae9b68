package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"postback-engine/internal/models"
)

var ErrNotFound = errors.New("not found")

type ConversionRepository struct {
	db *gorm.DB
}

func NewConversionRepository(db *gorm.DB) *ConversionRepository {
	return &ConversionRepository{db: db}
}

func (r *ConversionRepository) WithTx(tx *gorm.DB) *ConversionRepository {
	return &ConversionRepository{db: tx}
}

func (r *ConversionRepository) Create(ctx context.Context, c *models.Conversion) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create conversion: %w", err)
	}
	return nil
}

func (r *ConversionRepository) GetByID(ctx context.Context, id string) (*models.Conversion, error) {
	var c models.Conversion
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return &c, nil
}

// HasCPAAward reports whether the affiliate already earned CPA for the
// customer at this house.
func (r *ConversionRepository) HasCPAAward(ctx context.Context, houseID, affiliateID uint, customerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Conversion{}).
		Where("house_id = ? AND affiliate_id = ? AND customer_id = ? AND cpa_awarded = ?", houseID, affiliateID, customerID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check cpa award: %w", err)
	}
	return count > 0, nil
}

func (r *ConversionRepository) Recent(ctx context.Context, limit, offset int) ([]models.Conversion, error) {
	var out []models.Conversion
	err := r.db.WithContext(ctx).
		Order("converted_at DESC").
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	return out, nil
}
