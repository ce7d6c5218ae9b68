// Package commission converts a validated event and a house commission
// config into a commission value. Everything here is pure.
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"postback-engine/internal/models"
)

var hundred = decimal.NewFromInt(100)

var ErrInvalidConfig = errors.New("invalid commission config")

// Config is the per-house parameter set. Which fields matter depends on Model.
type Config struct {
	Model           models.CommissionModel
	RevSharePercent decimal.Decimal
	CPAAmount       decimal.Decimal
	CPATrigger      models.CPATrigger
	MinDeposit      decimal.Decimal
}

func ConfigFor(h *models.BettingHouse) Config {
	return Config{
		Model:           h.CommissionModel,
		RevSharePercent: h.RevSharePercent,
		CPAAmount:       h.CPAAmount,
		CPATrigger:      h.CPATrigger,
		MinDeposit:      h.MinDeposit,
	}
}

// Validate checks the parameter schema of the selected model.
func (c Config) Validate() error {
	switch c.Model {
	case models.ModelRevShare:
		return c.validateRevShare()
	case models.ModelCPA:
		return c.validateCPA()
	case models.ModelHybrid:
		if err := c.validateRevShare(); err != nil {
			return err
		}
		return c.validateCPA()
	default:
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, c.Model)
	}
}

func (c Config) validateRevShare() error {
	if c.RevSharePercent.IsNegative() || c.RevSharePercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: revshare percent %s outside [0,100]", ErrInvalidConfig, c.RevSharePercent)
	}
	return nil
}

func (c Config) validateCPA() error {
	if c.CPAAmount.IsNegative() {
		return fmt.Errorf("%w: negative cpa amount %s", ErrInvalidConfig, c.CPAAmount)
	}
	if c.MinDeposit.IsNegative() {
		return fmt.Errorf("%w: negative min deposit %s", ErrInvalidConfig, c.MinDeposit)
	}
	switch c.CPATrigger {
	case models.TriggerRegistration, models.TriggerDeposit:
		return nil
	default:
		return fmt.Errorf("%w: unknown cpa trigger %q", ErrInvalidConfig, c.CPATrigger)
	}
}

// Breakdown is the result of Compute. Total = CPA + RevShare.
type Breakdown struct {
	CPA        decimal.Decimal
	RevShare   decimal.Decimal
	Total      decimal.Decimal
	CPAAwarded bool
}

// Compute returns the commission for one event. cpaAlreadyAwarded reports
// whether this affiliate already earned CPA for the customer at this house.
// All outputs are rounded half-even to 2 places.
func Compute(cfg Config, eventType models.EventType, amount decimal.Decimal, cpaAlreadyAwarded bool) Breakdown {
	var b Breakdown

	if cfg.Model == models.ModelRevShare || cfg.Model == models.ModelHybrid {
		b.RevShare = revShare(cfg.RevSharePercent, eventType, amount)
	}
	if cfg.Model == models.ModelCPA || cfg.Model == models.ModelHybrid {
		if !cpaAlreadyAwarded && cpaQualifies(cfg, eventType, amount) {
			b.CPA = cfg.CPAAmount.RoundBank(2)
			b.CPAAwarded = true
		}
	}

	b.RevShare = b.RevShare.RoundBank(2)
	b.CPA = b.CPA.RoundBank(2)
	b.Total = b.CPA.Add(b.RevShare).RoundBank(2)
	return b
}

func revShare(percent decimal.Decimal, eventType models.EventType, amount decimal.Decimal) decimal.Decimal {
	if !eventType.IsMonetary() {
		return decimal.Zero
	}
	return amount.Mul(percent).Div(hundred).RoundBank(2)
}

func cpaQualifies(cfg Config, eventType models.EventType, amount decimal.Decimal) bool {
	switch cfg.CPATrigger {
	case models.TriggerDeposit:
		return eventType == models.EventDeposit && amount.GreaterThanOrEqual(cfg.MinDeposit)
	case models.TriggerRegistration:
		return eventType == models.EventRegistration
	default:
		return false
	}
}

// CPATriggerEvent is the event type that can earn CPA under cfg, if any.
func CPATriggerEvent(cfg Config) (models.EventType, bool) {
	if cfg.Model != models.ModelCPA && cfg.Model != models.ModelHybrid {
		return "", false
	}
	switch cfg.CPATrigger {
	case models.TriggerDeposit:
		return models.EventDeposit, true
	case models.TriggerRegistration:
		return models.EventRegistration, true
	}
	return "", false
}
