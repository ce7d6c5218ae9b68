// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"postback-engine/internal/database"
	"postback-engine/internal/models"
)

// NewTestDB returns a migrated in-memory SQLite database private to the test.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "sqlite://file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := database.SetupDatabase(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("SetupDatabase() failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// CreateHouse inserts a house; mutate adjusts the defaults before insert.
func CreateHouse(t *testing.T, db *gorm.DB, slug, token string, mutate func(*models.BettingHouse)) *models.BettingHouse {
	t.Helper()
	h := &models.BettingHouse{
		Slug:            slug,
		Name:            slug,
		SecurityToken:   token,
		CommissionModel: models.ModelRevShare,
		RevSharePercent: decimal.NewFromInt(25),
		CPATrigger:      models.TriggerRegistration,
		IsActive:        true,
	}
	if mutate != nil {
		mutate(h)
	}
	if err := db.Create(h).Error; err != nil {
		t.Fatalf("create house %s: %v", slug, err)
	}
	return h
}

func CreateLink(t *testing.T, db *gorm.DB, affiliateID, houseID uint, subid string, active bool) *models.AffiliateLink {
	t.Helper()
	l := &models.AffiliateLink{
		AffiliateID:         affiliateID,
		HouseID:             houseID,
		GeneratedIdentifier: subid,
		IsActive:            active,
	}
	if err := db.Create(l).Error; err != nil {
		t.Fatalf("create link %s: %v", subid, err)
	}
	return l
}
