package postback

import (
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"postback-engine/internal/models"
)

// Envelope is what every postback carries regardless of its type.
type Envelope struct {
	HouseIdentifier string
	SubID           string
	TransactionID   string
	RawQuery        string
	ReceivedAt      time.Time
}

// Event is a closed union: ClickEvent, RegistrationEvent, DepositEvent and
// ProfitEvent. Each variant only exists once its own required fields parsed.
type Event interface {
	Type() models.EventType
	Meta() Envelope
	isEvent()
}

// ClickEvent may arrive before the house knows the customer.
type ClickEvent struct {
	Envelope
	CustomerID string
}

type RegistrationEvent struct {
	Envelope
	CustomerID string
}

type DepositEvent struct {
	Envelope
	CustomerID string
	Amount     decimal.Decimal
}

type ProfitEvent struct {
	Envelope
	CustomerID string
	Amount     decimal.Decimal
}

func (ClickEvent) Type() models.EventType        { return models.EventClick }
func (RegistrationEvent) Type() models.EventType { return models.EventRegistration }
func (DepositEvent) Type() models.EventType      { return models.EventDeposit }
func (ProfitEvent) Type() models.EventType       { return models.EventProfit }

func (e ClickEvent) Meta() Envelope        { return e.Envelope }
func (e RegistrationEvent) Meta() Envelope { return e.Envelope }
func (e DepositEvent) Meta() Envelope      { return e.Envelope }
func (e ProfitEvent) Meta() Envelope       { return e.Envelope }

func (ClickEvent) isEvent()        {}
func (RegistrationEvent) isEvent() {}
func (DepositEvent) isEvent()      {}
func (ProfitEvent) isEvent()       {}

// CustomerOf returns the customer id of any event ("" for anonymous clicks).
func CustomerOf(e Event) string {
	switch ev := e.(type) {
	case ClickEvent:
		return ev.CustomerID
	case RegistrationEvent:
		return ev.CustomerID
	case DepositEvent:
		return ev.CustomerID
	case ProfitEvent:
		return ev.CustomerID
	}
	return ""
}

// AmountOf returns the monetary amount, zero for non-monetary events.
func AmountOf(e Event) decimal.Decimal {
	switch ev := e.(type) {
	case DepositEvent:
		return ev.Amount
	case ProfitEvent:
		return ev.Amount
	}
	return decimal.Zero
}

var eventAliases = map[string]models.EventType{
	"click":        models.EventClick,
	"registration": models.EventRegistration,
	"register":     models.EventRegistration,
	"signup":       models.EventRegistration,
	"deposit":      models.EventDeposit,
	"ftd":          models.EventDeposit,
	"profit":       models.EventProfit,
	"revenue":      models.EventProfit,
}

// ParseEventType maps a URL label onto a canonical event type.
func ParseEventType(label string) (models.EventType, bool) {
	t, ok := eventAliases[strings.ToLower(strings.TrimSpace(label))]
	return t, ok
}

func firstParam(params url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// ParseEvent validates params for the given event label and builds the
// matching variant. Failures are malformed_event errors.
func ParseEvent(houseIdentifier, label string, params url.Values, receivedAt time.Time) (Event, error) {
	eventType, ok := ParseEventType(label)
	if !ok {
		return nil, malformed("unknown event type %q", label)
	}

	env := Envelope{
		HouseIdentifier: houseIdentifier,
		SubID:           firstParam(params, "subid", "sub_id"),
		TransactionID:   firstParam(params, "txid", "transaction_id"),
		RawQuery:        redact(params),
		ReceivedAt:      receivedAt,
	}
	if env.SubID == "" {
		return nil, malformed("subid is required")
	}

	customerID := firstParam(params, "customer_id", "customerid")
	if customerID == "" && eventType != models.EventClick {
		return nil, malformed("customer_id is required for %s", eventType)
	}

	switch eventType {
	case models.EventClick:
		return ClickEvent{Envelope: env, CustomerID: customerID}, nil
	case models.EventRegistration:
		return RegistrationEvent{Envelope: env, CustomerID: customerID}, nil
	}

	amount, err := parseAmount(firstParam(params, "value", "amount"))
	if err != nil {
		return nil, err
	}
	if eventType == models.EventDeposit {
		return DepositEvent{Envelope: env, CustomerID: customerID, Amount: amount}, nil
	}
	return ProfitEvent{Envelope: env, CustomerID: customerID, Amount: amount}, nil
}

// Amounts are stored as numeric(20,4).
const amountScale = 4

var maxAmount = decimal.New(1, 16)

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, malformed("value is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, malformed("value %q is not a decimal", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, malformed("value %s is negative", raw)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, malformed("value %s is out of range", raw)
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return decimal.Zero, malformed("value %s has more than %d decimal places", raw, amountScale)
	}
	return amount, nil
}

// redact drops the token so stored raw queries never contain secrets.
func redact(params url.Values) string {
	if params.Get("token") == "" {
		return params.Encode()
	}
	clean := make(url.Values, len(params))
	for k, v := range params {
		if k == "token" {
			continue
		}
		clean[k] = v
	}
	return clean.Encode()
}
