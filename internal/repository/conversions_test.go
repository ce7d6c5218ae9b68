package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postback-engine/internal/models"
)

func TestConversion_CreateAndGet(t *testing.T) {
	repo := NewConversionRepository(newTestDB(t))
	ctx := context.Background()

	c := newConversion(1, 10, "c1", models.EventDeposit, "200.00", "50.00", time.Now())
	require.NoError(t, repo.Create(ctx, c))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", got.Commission.StringFixed(2))
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversion_FingerprintUnique(t *testing.T) {
	repo := NewConversionRepository(newTestDB(t))
	ctx := context.Background()

	a := newConversion(1, 10, "c1", models.EventDeposit, "1", "0", time.Now())
	b := newConversion(1, 10, "c1", models.EventDeposit, "1", "0", time.Now())
	b.Fingerprint = a.Fingerprint

	require.NoError(t, repo.Create(ctx, a))
	assert.Error(t, repo.Create(ctx, b))
}

func TestConversion_CPAAwardOncePerCustomer(t *testing.T) {
	repo := NewConversionRepository(newTestDB(t))
	ctx := context.Background()

	has, err := repo.HasCPAAward(ctx, 10, 1, "c1")
	require.NoError(t, err)
	assert.False(t, has)

	first := newConversion(1, 10, "c1", models.EventRegistration, "0", "50", time.Now())
	first.CPAAwarded = true
	require.NoError(t, repo.Create(ctx, first))

	has, err = repo.HasCPAAward(ctx, 10, 1, "c1")
	require.NoError(t, err)
	assert.True(t, has)

	second := newConversion(1, 10, "c1", models.EventDeposit, "10", "50", time.Now())
	second.CPAAwarded = true
	assert.Error(t, repo.Create(ctx, second), "the database refuses a second CPA award")

	otherAffiliate := newConversion(2, 10, "c1", models.EventRegistration, "0", "50", time.Now())
	otherAffiliate.CPAAwarded = true
	assert.NoError(t, repo.Create(ctx, otherAffiliate))
}

func TestConversion_Recent(t *testing.T) {
	repo := NewConversionRepository(newTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newConversion(1, 10, "c", models.EventClick, "0", "0", base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := repo.Recent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].ConvertedAt.After(page[1].ConvertedAt))

	rest, err := repo.Recent(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}
