package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postback-engine/internal/models"
)

func TestRejections_RecordAndFilter(t *testing.T) {
	repo := NewRejectionRepository(newTestDB(t))
	ctx := context.Background()

	houseID := uint(3)
	require.NoError(t, repo.Record(ctx, &models.Rejection{HouseIdentifier: "ghost", Reason: "unknown_house", EventType: "deposit"}))
	require.NoError(t, repo.Record(ctx, &models.Rejection{HouseIdentifier: "betmax", HouseID: &houseID, Reason: "unresolved_affiliate", SubID: "gone", CustomerID: "1"}))

	all, err := repo.Recent(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	unresolved, err := repo.Recent(ctx, "unresolved_affiliate", 10, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "gone", unresolved[0].SubID)
	require.NotNil(t, unresolved[0].HouseID)
	assert.Equal(t, houseID, *unresolved[0].HouseID)
}
