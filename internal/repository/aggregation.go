package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"postback-engine/internal/models"
)

// AggregationStore maintains per-affiliate and per-house counters and
// answers the reporting reads. Apply is idempotent per conversion id: the
// aggregate_applications ledger records what was already folded in.
type AggregationStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAggregationStore(db *gorm.DB, logger *logrus.Logger) *AggregationStore {
	return &AggregationStore{db: db, logger: logger}
}

func (s *AggregationStore) WithTx(tx *gorm.DB) *AggregationStore {
	return &AggregationStore{db: tx, logger: s.logger}
}

// Apply folds c into the counters. It returns false when c was applied before.
func (s *AggregationStore) Apply(ctx context.Context, c *models.Conversion, now time.Time) (bool, error) {
	d, err := deltaFor(c)
	if err != nil {
		return false, err
	}

	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.AppliedConversion{ConversionID: c.ID, AppliedAt: now})
	if res.Error != nil {
		return false, fmt.Errorf("mark conversion applied: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	aff := models.AffiliateTotal{
		AffiliateID:     c.AffiliateID,
		Clicks:          d.clicks,
		Registrations:   d.registrations,
		Deposits:        d.deposits,
		Profits:         d.profits,
		Conversions:     1,
		CommissionCents: d.commissionCents,
		AmountCents:     d.amountCents,
		UpdatedAt:       now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "affiliate_id"}},
		DoUpdates: incrementAssignments("affiliate_totals"),
	}).Create(&aff).Error; err != nil {
		return false, fmt.Errorf("apply affiliate totals: %w", err)
	}

	house := models.HouseTotal{
		HouseID:         c.HouseID,
		Clicks:          d.clicks,
		Registrations:   d.registrations,
		Deposits:        d.deposits,
		Profits:         d.profits,
		Conversions:     1,
		CommissionCents: d.commissionCents,
		AmountCents:     d.amountCents,
		UpdatedAt:       now,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "house_id"}},
		DoUpdates: incrementAssignments("house_totals"),
	}).Create(&house).Error; err != nil {
		return false, fmt.Errorf("apply house totals: %w", err)
	}

	return true, nil
}

type delta struct {
	clicks, registrations, deposits, profits int64
	commissionCents, amountCents             int64
}

func deltaFor(c *models.Conversion) (delta, error) {
	commissionCents, err := toCents(c.Commission)
	if err != nil {
		return delta{}, fmt.Errorf("commission of %s: %w", c.ID, err)
	}
	amountCents, err := toCents(c.Amount)
	if err != nil {
		return delta{}, fmt.Errorf("amount of %s: %w", c.ID, err)
	}
	d := delta{
		commissionCents: commissionCents,
		amountCents:     amountCents,
	}
	switch c.Type {
	case models.EventClick:
		d.clicks = 1
	case models.EventRegistration:
		d.registrations = 1
	case models.EventDeposit:
		d.deposits = 1
	case models.EventProfit:
		d.profits = 1
	}
	return d, nil
}

var ErrCentsOverflow = errors.New("value does not fit the cents counters")

func toCents(v decimal.Decimal) (int64, error) {
	cents := v.Shift(2).RoundBank(0).BigInt()
	if !cents.IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrCentsOverflow, v)
	}
	return cents.Int64(), nil
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func incrementAssignments(table string) clause.Set {
	inc := func(col string) interface{} {
		return gorm.Expr(table + "." + col + " + excluded." + col)
	}
	return clause.Assignments(map[string]interface{}{
		"clicks":           inc("clicks"),
		"registrations":    inc("registrations"),
		"deposits":         inc("deposits"),
		"profits":          inc("profits"),
		"conversions":      inc("conversions"),
		"commission_cents": inc("commission_cents"),
		"amount_cents":     inc("amount_cents"),
		"updated_at":       gorm.Expr("excluded.updated_at"),
	})
}

// AffiliateTotals returns the all-time counters for an affiliate. An
// affiliate with no conversions has zero totals.
func (s *AggregationStore) AffiliateTotals(ctx context.Context, affiliateID uint) (models.Totals, error) {
	var row models.AffiliateTotal
	err := s.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zeroTotals(), nil
	}
	if err != nil {
		return models.Totals{}, fmt.Errorf("affiliate totals: %w", err)
	}
	return models.Totals{
		Clicks:        row.Clicks,
		Registrations: row.Registrations,
		Deposits:      row.Deposits,
		Profits:       row.Profits,
		Conversions:   row.Conversions,
		Commission:    fromCents(row.CommissionCents),
		Amount:        fromCents(row.AmountCents),
	}, nil
}

func (s *AggregationStore) HouseTotals(ctx context.Context, houseID uint) (models.Totals, error) {
	var row models.HouseTotal
	err := s.db.WithContext(ctx).Where("house_id = ?", houseID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zeroTotals(), nil
	}
	if err != nil {
		return models.Totals{}, fmt.Errorf("house totals: %w", err)
	}
	return models.Totals{
		Clicks:        row.Clicks,
		Registrations: row.Registrations,
		Deposits:      row.Deposits,
		Profits:       row.Profits,
		Conversions:   row.Conversions,
		Commission:    fromCents(row.CommissionCents),
		Amount:        fromCents(row.AmountCents),
	}, nil
}

func zeroTotals() models.Totals {
	return models.Totals{Commission: decimal.Zero, Amount: decimal.Zero}
}

type windowRow struct {
	Clicks        int64
	Registrations int64
	Deposits      int64
	Profits       int64
	Conversions   int64
	Commission    decimal.Decimal
	Amount        decimal.Decimal
}

const windowQuery = `
	SELECT
		COUNT(CASE WHEN type = 'click' THEN 1 END) AS clicks,
		COUNT(CASE WHEN type = 'registration' THEN 1 END) AS registrations,
		COUNT(CASE WHEN type = 'deposit' THEN 1 END) AS deposits,
		COUNT(CASE WHEN type = 'profit' THEN 1 END) AS profits,
		COUNT(*) AS conversions,
		COALESCE(SUM(commission), 0) AS commission,
		COALESCE(SUM(amount), 0) AS amount
	FROM conversions
	WHERE %s = ? AND converted_at >= ?
`

// AffiliateTotalsSince sums conversions of an affiliate converted at or
// after since, straight from the conversion rows.
func (s *AggregationStore) AffiliateTotalsSince(ctx context.Context, affiliateID uint, since time.Time) (models.Totals, error) {
	return s.window(ctx, "affiliate_id", affiliateID, since)
}

func (s *AggregationStore) HouseTotalsSince(ctx context.Context, houseID uint, since time.Time) (models.Totals, error) {
	return s.window(ctx, "house_id", houseID, since)
}

// SumCommissionByAffiliate is the live sum of committed commission.
func (s *AggregationStore) SumCommissionByAffiliate(ctx context.Context, affiliateID uint) (decimal.Decimal, error) {
	t, err := s.window(ctx, "affiliate_id", affiliateID, time.Time{})
	if err != nil {
		return decimal.Zero, err
	}
	return t.Commission, nil
}

func (s *AggregationStore) window(ctx context.Context, column string, id uint, since time.Time) (models.Totals, error) {
	var row windowRow
	err := s.db.WithContext(ctx).Raw(fmt.Sprintf(windowQuery, column), id, since.UTC()).Scan(&row).Error
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			column:  id,
			"since": since,
		}).Error("Failed to compute windowed totals")
		return models.Totals{}, fmt.Errorf("windowed totals: %w", err)
	}
	return models.Totals{
		Clicks:        row.Clicks,
		Registrations: row.Registrations,
		Deposits:      row.Deposits,
		Profits:       row.Profits,
		Conversions:   row.Conversions,
		Commission:    row.Commission.RoundBank(2),
		Amount:        row.Amount.RoundBank(4),
	}, nil
}

// Lead rolls up every conversion of one customer across affiliates and houses.
func (s *AggregationStore) Lead(ctx context.Context, customerID string) (*models.Lead, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}

	var timeline []models.Conversion
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("converted_at").
		Order("id").
		Find(&timeline).Error
	if err != nil {
		return nil, fmt.Errorf("lead timeline: %w", err)
	}
	if len(timeline) == 0 {
		return nil, ErrNotFound
	}

	lead := &models.Lead{
		CustomerID:   customerID,
		Timeline:     timeline,
		FirstSeen:    timeline[0].ConvertedAt,
		LastSeen:     timeline[len(timeline)-1].ConvertedAt,
		Totals:       zeroTotals(),
		DepositTotal: decimal.Zero,
	}
	affiliates := map[uint]struct{}{}
	houses := map[uint]struct{}{}
	for _, c := range timeline {
		affiliates[c.AffiliateID] = struct{}{}
		houses[c.HouseID] = struct{}{}
		lead.Totals.Conversions++
		switch c.Type {
		case models.EventClick:
			lead.Totals.Clicks++
		case models.EventRegistration:
			lead.Totals.Registrations++
		case models.EventDeposit:
			lead.Totals.Deposits++
			lead.DepositTotal = lead.DepositTotal.Add(c.Amount)
		case models.EventProfit:
			lead.Totals.Profits++
		}
		lead.Totals.Commission = lead.Totals.Commission.Add(c.Commission)
		lead.Totals.Amount = lead.Totals.Amount.Add(c.Amount)
		if c.CPAAwarded {
			lead.CPAAwarded = true
		}
	}
	lead.AffiliateIDs = sortedKeys(affiliates)
	lead.HouseIDs = sortedKeys(houses)

	return lead, nil
}

func sortedKeys(m map[uint]struct{}) []uint {
	out := make([]uint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
