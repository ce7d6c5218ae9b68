package database

import (
	"fmt"
	"os"

	"postback-engine/internal/commission"
	"postback-engine/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedFile is the YAML fixture format used by the seed command:
//
//	houses:
//	  - slug: betmax
//	    name: BetMax
//	    token: s3cret
//	    model: revshare
//	    revshare_percent: "25"
//	    links:
//	      - affiliate_id: 1
//	        subid: eadavid
type SeedFile struct {
	Houses []SeedHouse `yaml:"houses"`
}

type SeedHouse struct {
	Slug            string     `yaml:"slug"`
	Name            string     `yaml:"name"`
	BaseURL         string     `yaml:"base_url"`
	Token           string     `yaml:"token"`
	Model           string     `yaml:"model"`
	RevSharePercent string     `yaml:"revshare_percent"`
	CPAAmount       string     `yaml:"cpa_amount"`
	CPATrigger      string     `yaml:"cpa_trigger"`
	MinDeposit      string     `yaml:"min_deposit"`
	Inactive        bool       `yaml:"inactive"`
	Links           []SeedLink `yaml:"links"`
}

type SeedLink struct {
	AffiliateID uint   `yaml:"affiliate_id"`
	SubID       string `yaml:"subid"`
	Inactive    bool   `yaml:"inactive"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// SeedDatabase upserts houses by slug and inserts links that are not there
// yet. Returns the number of houses and links written.
func SeedDatabase(db *gorm.DB, f *SeedFile) (int, int, error) {
	houses, links := 0, 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, sh := range f.Houses {
			house, err := sh.toModel()
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "slug"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"name", "base_url", "security_token", "commission_model",
					"rev_share_percent", "cpa_amount", "cpa_trigger", "min_deposit", "is_active", "updated_at",
				}),
			}).Create(house).Error; err != nil {
				return fmt.Errorf("seed house %s: %w", sh.Slug, err)
			}
			var stored models.BettingHouse
			if err := tx.Where("slug = ?", house.Slug).First(&stored).Error; err != nil {
				return fmt.Errorf("reload house %s: %w", sh.Slug, err)
			}
			houses++

			for _, sl := range sh.Links {
				var count int64
				if err := tx.Model(&models.AffiliateLink{}).
					Where("house_id = ? AND affiliate_id = ? AND generated_identifier = ?", stored.ID, sl.AffiliateID, sl.SubID).
					Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					continue
				}
				link := models.AffiliateLink{
					AffiliateID:         sl.AffiliateID,
					HouseID:             stored.ID,
					GeneratedIdentifier: sl.SubID,
					IsActive:            !sl.Inactive,
				}
				if err := tx.Create(&link).Error; err != nil {
					return fmt.Errorf("seed link %s/%s: %w", sh.Slug, sl.SubID, err)
				}
				links++
			}
		}
		return nil
	})
	return houses, links, err
}

func (sh SeedHouse) toModel() (*models.BettingHouse, error) {
	if sh.Slug == "" || sh.Token == "" {
		return nil, fmt.Errorf("seed house %q: slug and token are required", sh.Slug)
	}
	trigger := models.CPATrigger(sh.CPATrigger)
	if trigger == "" {
		trigger = models.TriggerRegistration
	}
	h := &models.BettingHouse{
		Slug:            sh.Slug,
		Name:            sh.Name,
		BaseURL:         sh.BaseURL,
		SecurityToken:   sh.Token,
		CommissionModel: models.CommissionModel(sh.Model),
		RevSharePercent: parseDecimal(sh.RevSharePercent),
		CPAAmount:       parseDecimal(sh.CPAAmount),
		CPATrigger:      trigger,
		MinDeposit:      parseDecimal(sh.MinDeposit),
		IsActive:        !sh.Inactive,
	}
	if h.Name == "" {
		h.Name = h.Slug
	}
	if err := commission.ConfigFor(h).Validate(); err != nil {
		return nil, fmt.Errorf("seed house %s: %w", sh.Slug, err)
	}
	return h, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
