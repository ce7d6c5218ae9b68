package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the canonical postback event kind.
type EventType string

const (
	EventClick        EventType = "click"
	EventRegistration EventType = "registration"
	EventDeposit      EventType = "deposit"
	EventProfit       EventType = "profit"
)

// IsMonetary reports whether the event carries an amount.
func (t EventType) IsMonetary() bool {
	return t == EventDeposit || t == EventProfit
}

type CommissionModel string

const (
	ModelRevShare CommissionModel = "revshare"
	ModelCPA      CommissionModel = "cpa"
	ModelHybrid   CommissionModel = "hybrid"
)

// CPATrigger selects which first event of a customer earns the CPA amount.
type CPATrigger string

const (
	TriggerRegistration CPATrigger = "registration"
	TriggerDeposit      CPATrigger = "deposit"
)

type ConversionStatus string

const (
	StatusPending  ConversionStatus = "pending"
	StatusApproved ConversionStatus = "approved"
	StatusPaid     ConversionStatus = "paid"
)

type BettingHouse struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	Slug            string          `json:"slug" gorm:"size:64;not null;uniqueIndex"`
	Name            string          `json:"name" gorm:"not null"`
	BaseURL         string          `json:"base_url"`
	SecurityToken   string          `json:"-" gorm:"not null"`
	CommissionModel CommissionModel `json:"commission_model" gorm:"size:16;not null"`
	RevSharePercent decimal.Decimal `json:"revshare_percent" gorm:"type:numeric(7,4);not null;default:0"`
	CPAAmount       decimal.Decimal `json:"cpa_amount" gorm:"type:numeric(20,2);not null;default:0"`
	CPATrigger      CPATrigger      `json:"cpa_trigger" gorm:"size:16;not null;default:'registration'"`
	MinDeposit      decimal.Decimal `json:"min_deposit" gorm:"type:numeric(20,2);not null;default:0"`
	IsActive        bool            `json:"is_active" gorm:"not null"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type AffiliateLink struct {
	ID                  uint      `json:"id" gorm:"primaryKey"`
	AffiliateID         uint      `json:"affiliate_id" gorm:"not null;index;index:idx_links_active_affiliate_house,unique,where:is_active = true"`
	HouseID             uint      `json:"house_id" gorm:"not null;index:idx_links_house_subid;index:idx_links_active_affiliate_house,unique,where:is_active = true"`
	GeneratedIdentifier string    `json:"generated_identifier" gorm:"size:128;not null;index:idx_links_house_subid"`
	IsActive            bool      `json:"is_active" gorm:"not null"`
	CreatedAt           time.Time `json:"created_at"`
}

// Conversion is the single persisted record of a business event. Commission
// fields are a snapshot of the house config at conversion time.
type Conversion struct {
	ID                 string           `json:"id" gorm:"primaryKey;size:36"`
	AffiliateID        uint             `json:"affiliate_id" gorm:"not null;index;index:idx_conversions_cpa_once,unique,where:cpa_awarded = true"`
	HouseID            uint             `json:"house_id" gorm:"not null;index;index:idx_conversions_cpa_once,unique,where:cpa_awarded = true"`
	LinkID             uint             `json:"link_id" gorm:"not null"`
	CustomerID         string           `json:"customer_id" gorm:"size:128;index;index:idx_conversions_cpa_once,unique,where:cpa_awarded = true"`
	SubID              string           `json:"subid" gorm:"size:128;not null"`
	Type               EventType        `json:"type" gorm:"size:16;not null"`
	Amount             decimal.Decimal  `json:"amount" gorm:"type:numeric(20,4);not null;default:0"`
	Commission         decimal.Decimal  `json:"commission" gorm:"type:numeric(20,2);not null;default:0"`
	CPACommission      decimal.Decimal  `json:"cpa_commission" gorm:"type:numeric(20,2);not null;default:0"`
	RevShareCommission decimal.Decimal  `json:"revshare_commission" gorm:"type:numeric(20,2);not null;default:0"`
	CPAAwarded         bool             `json:"cpa_awarded" gorm:"not null"`
	CommissionModel    CommissionModel  `json:"commission_model" gorm:"size:16;not null"`
	TransactionID      string           `json:"transaction_id,omitempty" gorm:"size:128"`
	Fingerprint        string           `json:"fingerprint" gorm:"size:64;not null;uniqueIndex"`
	Status             ConversionStatus `json:"status" gorm:"size:16;not null;default:'pending'"`
	ConvertedAt        time.Time        `json:"converted_at" gorm:"not null;index"`
}

type IdempotencyKey struct {
	Fingerprint  string    `gorm:"primaryKey;size:64"`
	ConversionID string    `gorm:"size:36;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// AffiliateTotal and HouseTotal hold running counters. Money is kept in
// cents so sums stay exact on every dialect.
type AffiliateTotal struct {
	AffiliateID     uint      `json:"affiliate_id" gorm:"primaryKey;autoIncrement:false"`
	Clicks          int64     `json:"clicks" gorm:"not null;default:0"`
	Registrations   int64     `json:"registrations" gorm:"not null;default:0"`
	Deposits        int64     `json:"deposits" gorm:"not null;default:0"`
	Profits         int64     `json:"profits" gorm:"not null;default:0"`
	Conversions     int64     `json:"conversions" gorm:"not null;default:0"`
	CommissionCents int64     `json:"commission_cents" gorm:"not null;default:0"`
	AmountCents     int64     `json:"amount_cents" gorm:"not null;default:0"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type HouseTotal struct {
	HouseID         uint      `json:"house_id" gorm:"primaryKey;autoIncrement:false"`
	Clicks          int64     `json:"clicks" gorm:"not null;default:0"`
	Registrations   int64     `json:"registrations" gorm:"not null;default:0"`
	Deposits        int64     `json:"deposits" gorm:"not null;default:0"`
	Profits         int64     `json:"profits" gorm:"not null;default:0"`
	Conversions     int64     `json:"conversions" gorm:"not null;default:0"`
	CommissionCents int64     `json:"commission_cents" gorm:"not null;default:0"`
	AmountCents     int64     `json:"amount_cents" gorm:"not null;default:0"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AppliedConversion records which conversions were folded into the counters.
type AppliedConversion struct {
	ConversionID string    `gorm:"primaryKey;size:36"`
	AppliedAt    time.Time `gorm:"not null"`
}

func (AppliedConversion) TableName() string {
	return "aggregate_applications"
}

type Rejection struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	HouseIdentifier string    `json:"house_identifier" gorm:"size:64;index"`
	HouseID         *uint     `json:"house_id,omitempty" gorm:"index"`
	EventType       string    `json:"event_type" gorm:"size:32"`
	SubID           string    `json:"subid" gorm:"size:128"`
	CustomerID      string    `json:"customer_id" gorm:"size:128"`
	Reason          string    `json:"reason" gorm:"size:32;not null;index"`
	Detail          string    `json:"detail"`
	RawQuery        string    `json:"raw_query"`
	CreatedAt       time.Time `json:"created_at" gorm:"index"`
}

func (Rejection) TableName() string {
	return "postback_rejections"
}

// Totals is the reporting shape shared by counter and windowed reads.
type Totals struct {
	Clicks        int64           `json:"clicks"`
	Registrations int64           `json:"registrations"`
	Deposits      int64           `json:"deposits"`
	Profits       int64           `json:"profits"`
	Conversions   int64           `json:"conversions"`
	Commission    decimal.Decimal `json:"commission"`
	Amount        decimal.Decimal `json:"amount"`
}

type Lead struct {
	CustomerID   string          `json:"customer_id"`
	AffiliateIDs []uint          `json:"affiliate_ids"`
	HouseIDs     []uint          `json:"house_ids"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`
	Totals       Totals          `json:"totals"`
	CPAAwarded   bool            `json:"cpa_awarded"`
	Timeline     []Conversion    `json:"timeline"`
	DepositTotal decimal.Decimal `json:"deposit_total"`
}

// ConversionEvent is the payload published to the conversion feed.
type ConversionEvent struct {
	ConversionID string          `json:"conversion_id"`
	AffiliateID  uint            `json:"affiliate_id"`
	HouseID      uint            `json:"house_id"`
	CustomerID   string          `json:"customer_id,omitempty"`
	Type         EventType       `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Commission   decimal.Decimal `json:"commission"`
	ConvertedAt  time.Time       `json:"converted_at"`
}

func NewConversionEvent(c *Conversion) ConversionEvent {
	return ConversionEvent{
		ConversionID: c.ID,
		AffiliateID:  c.AffiliateID,
		HouseID:      c.HouseID,
		CustomerID:   c.CustomerID,
		Type:         c.Type,
		Amount:       c.Amount,
		Commission:   c.Commission,
		ConvertedAt:  c.ConvertedAt,
	}
}
