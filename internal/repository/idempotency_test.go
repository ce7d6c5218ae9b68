package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReserve_FirstWins(t *testing.T) {
	s := NewIdempotencyStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	r1, err := s.Reserve(ctx, "fp-1", "conv-1", now)
	require.NoError(t, err)
	assert.True(t, r1.New)
	assert.Equal(t, "conv-1", r1.ConversionID)

	r2, err := s.Reserve(ctx, "fp-1", "conv-2", now)
	require.NoError(t, err)
	assert.False(t, r2.New)
	assert.Equal(t, "conv-1", r2.ConversionID)
}

func TestReserve_RollbackReleases(t *testing.T) {
	db := newTestDB(t)
	s := NewIdempotencyStore(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		r, err := s.WithTx(tx).Reserve(ctx, "fp-rb", "conv-a", time.Now())
		require.NoError(t, err)
		require.True(t, r.New)
		return fmt.Errorf("persist failed")
	})
	require.Error(t, err)

	_, ok, err := s.Lookup(ctx, "fp-rb")
	require.NoError(t, err)
	assert.False(t, ok, "rolled back reservation must not survive")

	r, err := s.Reserve(ctx, "fp-rb", "conv-b", time.Now())
	require.NoError(t, err)
	assert.True(t, r.New)
	assert.Equal(t, "conv-b", r.ConversionID)
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	db := newTestDB(t)
	s := NewIdempotencyStore(db)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]Reservation, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.Transaction(func(tx *gorm.DB) error {
				r, err := s.WithTx(tx).Reserve(ctx, "fp-race", fmt.Sprintf("conv-%d", i), time.Now())
				results[i] = r
				return err
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	var winnerID string
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].New {
			winners++
			winnerID = results[i].ConversionID
		}
	}
	assert.Equal(t, 1, winners)
	for i := 0; i < n; i++ {
		assert.Equal(t, winnerID, results[i].ConversionID)
	}
}

func TestLookup_Missing(t *testing.T) {
	s := NewIdempotencyStore(newTestDB(t))
	_, ok, err := s.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
