package repository

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postback-engine/internal/models"
	"postback-engine/internal/testutil"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.NewTestDB(t)
}

// newConversion builds a conversion with a unique id and fingerprint.
func newConversion(affiliateID, houseID uint, customer string, typ models.EventType, amount, commission string, at time.Time) *models.Conversion {
	id := uuid.NewString()
	return &models.Conversion{
		ID:              id,
		AffiliateID:     affiliateID,
		HouseID:         houseID,
		LinkID:          1,
		CustomerID:      customer,
		SubID:           "sub",
		Type:            typ,
		Amount:          decimal.RequireFromString(amount),
		Commission:      decimal.RequireFromString(commission),
		CommissionModel: models.ModelRevShare,
		Fingerprint:     "fp-" + id,
		Status:          models.StatusPending,
		ConvertedAt:     at.UTC(),
	}
}
