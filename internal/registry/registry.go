// Package registry serves betting-house configuration to the ingest path.
// Houses are read fresh from the database unless a cache is configured.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postback-engine/internal/models"
)

var ErrHouseNotFound = errors.New("betting house not found")

// Cache is a short-lived read-through cache for house records.
type Cache interface {
	Get(ctx context.Context, slug string) (*models.BettingHouse, bool, error)
	Set(ctx context.Context, house *models.BettingHouse, ttl time.Duration) error
	Delete(ctx context.Context, slug string) error
}

type Registry struct {
	db     *gorm.DB
	logger *logrus.Logger
	cache  Cache
	ttl    time.Duration
}

func New(db *gorm.DB, logger *logrus.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// WithCache enables caching of house lookups for ttl.
func (r *Registry) WithCache(c Cache, ttl time.Duration) *Registry {
	r.cache = c
	r.ttl = ttl
	return r
}

// LookupHouse returns the active house for slug. Inactive houses are
// reported as ErrHouseNotFound.
func (r *Registry) LookupHouse(ctx context.Context, slug string) (*models.BettingHouse, error) {
	if slug == "" {
		return nil, ErrHouseNotFound
	}

	if r.cache != nil {
		house, ok, err := r.cache.Get(ctx, slug)
		if err != nil {
			r.logger.WithError(err).WithField("house", slug).Warn("House cache read failed, falling back to database")
		} else if ok {
			return activeOnly(house)
		}
	}

	var house models.BettingHouse
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&house).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHouseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup house %s: %w", slug, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, &house, r.ttl); err != nil {
			r.logger.WithError(err).WithField("house", slug).Warn("House cache write failed")
		}
	}

	return activeOnly(&house)
}

// Invalidate drops a cached house after an admin mutation.
func (r *Registry) Invalidate(ctx context.Context, slug string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, slug)
}

func (r *Registry) GetByID(ctx context.Context, id uint) (*models.BettingHouse, error) {
	var house models.BettingHouse
	err := r.db.WithContext(ctx).First(&house, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHouseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get house %d: %w", id, err)
	}
	return &house, nil
}

func activeOnly(h *models.BettingHouse) (*models.BettingHouse, error) {
	if !h.IsActive {
		return nil, ErrHouseNotFound
	}
	return h, nil
}
