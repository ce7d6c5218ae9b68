package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"postback-engine/internal/models"
)

// Reservation is the outcome of IdempotencyStore.Reserve. When New is false
// ConversionID is the conversion recorded by the first writer.
type Reservation struct {
	New          bool
	ConversionID string
}

// IdempotencyStore is the dedup ledger keyed by event fingerprint. The
// primary key on fingerprint makes Reserve an atomic insert-or-fetch.
type IdempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// WithTx binds the store to a transaction. A reservation made inside tx is
// released if tx rolls back.
func (s *IdempotencyStore) WithTx(tx *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: tx}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, fingerprint, conversionID string, now time.Time) (Reservation, error) {
	key := models.IdempotencyKey{
		Fingerprint:  fingerprint,
		ConversionID: conversionID,
		CreatedAt:    now,
	}

	// A concurrent writer of the same fingerprint blocks here until the
	// first transaction finishes, then sees either a conflict or a free slot.
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&key)
	if res.Error != nil {
		return Reservation{}, fmt.Errorf("reserve fingerprint: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return Reservation{New: true, ConversionID: conversionID}, nil
	}

	existing, ok, err := s.Lookup(ctx, fingerprint)
	if err != nil {
		return Reservation{}, err
	}
	if !ok {
		return Reservation{}, fmt.Errorf("reserve fingerprint: conflict without a visible row for %s", fingerprint)
	}
	return Reservation{New: false, ConversionID: existing}, nil
}

func (s *IdempotencyStore) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	var key models.IdempotencyKey
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return key.ConversionID, true, nil
}
