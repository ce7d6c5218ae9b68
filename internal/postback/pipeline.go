// Package postback turns a raw partner callback into at most one committed
// conversion: authenticate, parse, attribute, dedupe, price and aggregate.
package postback

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postback-engine/internal/attribution"
	"postback-engine/internal/commission"
	"postback-engine/internal/metrics"
	"postback-engine/internal/models"
	"postback-engine/internal/registry"
	"postback-engine/internal/repository"
)

type HouseRegistry interface {
	LookupHouse(ctx context.Context, slug string) (*models.BettingHouse, error)
}

type LinkResolver interface {
	Resolve(ctx context.Context, houseID uint, subid string) (*models.AffiliateLink, error)
}

// Publisher receives committed conversions. Enqueue must not block.
type Publisher interface {
	Enqueue(event models.ConversionEvent) bool
}

type Options struct {
	Timeout     time.Duration
	ClickBucket time.Duration
	Publisher   Publisher
}

// Result is the outcome of an accepted postback. Duplicate results carry the
// id of the conversion created by the first delivery.
type Result struct {
	ConversionID string
	Duplicate    bool
	Conversion   *models.Conversion
}

type Pipeline struct {
	db          *gorm.DB
	houses      HouseRegistry
	links       LinkResolver
	idempotency *repository.IdempotencyStore
	conversions *repository.ConversionRepository
	aggregates  *repository.AggregationStore
	rejections  *repository.RejectionRepository
	publisher   Publisher
	logger      *logrus.Logger

	timeout     time.Duration
	clickBucket time.Duration
	nowFn       func() time.Time
	newID       func() string
}

func NewPipeline(db *gorm.DB, houses HouseRegistry, links LinkResolver, logger *logrus.Logger, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ClickBucket <= 0 {
		opts.ClickBucket = time.Minute
	}
	return &Pipeline{
		db:          db,
		houses:      houses,
		links:       links,
		idempotency: repository.NewIdempotencyStore(db),
		conversions: repository.NewConversionRepository(db),
		aggregates:  repository.NewAggregationStore(db, logger),
		rejections:  repository.NewRejectionRepository(db),
		publisher:   opts.Publisher,
		logger:      logger,
		timeout:     opts.Timeout,
		clickBucket: opts.ClickBucket,
		nowFn:       time.Now,
		newID:       uuid.NewString,
	}
}

// errDuplicate rolls back the ingest transaction when the fingerprint was
// already taken.
var errDuplicate = errors.New("duplicate fingerprint")

// unknownHouseToken is compared against when the house does not exist so
// both failure paths do the same work.
var unknownHouseToken = sha256.Sum256([]byte("postback/unknown-house"))

// Handle ingests one postback. houseIdentifier and eventType come from the
// request path; params carries token, subid, customer_id, value and txid.
func (p *Pipeline) Handle(ctx context.Context, houseIdentifier, eventType string, params url.Values) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	received := p.nowFn().UTC()
	metrics.PostbacksReceived.WithLabelValues(eventLabel(eventType)).Inc()

	rej := &models.Rejection{
		HouseIdentifier: houseIdentifier,
		EventType:       eventType,
		SubID:           firstParam(params, "subid", "sub_id"),
		CustomerID:      firstParam(params, "customer_id", "customerid"),
		RawQuery:        redact(params),
		CreatedAt:       received,
	}
	token := params.Get("token")

	house, err := p.houses.LookupHouse(ctx, houseIdentifier)
	if err != nil {
		tokenMatches(token, unknownHouseToken)
		if errors.Is(err, registry.ErrHouseNotFound) {
			return Result{}, p.reject(ctx, rej, newError(ReasonUnknownHouse, "no active house "+houseIdentifier, nil))
		}
		return Result{}, p.storeFailure(rej, "house lookup", err)
	}
	rej.HouseID = &house.ID

	if house.SecurityToken == "" || !tokenMatches(token, sha256.Sum256([]byte(house.SecurityToken))) {
		return Result{}, p.reject(ctx, rej, newError(ReasonInvalidToken, "token mismatch for house "+house.Slug, nil))
	}

	cfg := commission.ConfigFor(house)
	if err := cfg.Validate(); err != nil {
		p.logger.WithError(err).WithField("house", house.Slug).Error("House commission config is invalid")
		return Result{}, newError(ReasonInternal, "house misconfigured", err)
	}

	ev, err := ParseEvent(houseIdentifier, eventType, params, received)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = newError(ReasonMalformedEvent, err.Error(), nil)
		}
		return Result{}, p.reject(ctx, rej, perr)
	}

	link, err := p.links.Resolve(ctx, house.ID, ev.Meta().SubID)
	if err != nil {
		if errors.Is(err, attribution.ErrUnresolvedAffiliate) {
			return Result{}, p.reject(ctx, rej, newError(ReasonUnresolvedAffiliate, "no active link for subid "+ev.Meta().SubID, err))
		}
		return Result{}, p.storeFailure(rej, "resolve link", err)
	}

	fp := Fingerprint(house.ID, ev, p.clickBucket)
	res, err := p.commit(ctx, house, cfg, link, ev, fp)
	if err != nil {
		return Result{}, p.storeFailure(rej, "commit conversion", err)
	}

	entry := p.logger.WithFields(logrus.Fields{
		"conversion_id": res.ConversionID,
		"house":         house.Slug,
		"affiliate_id":  link.AffiliateID,
		"event_type":    ev.Type(),
		"fingerprint":   fp,
	})
	if res.Duplicate {
		metrics.PostbacksDuplicate.WithLabelValues(string(ev.Type())).Inc()
		entry.Info("Duplicate postback answered from idempotency ledger")
		return res, nil
	}

	c := res.Conversion
	metrics.ConversionsCreated.WithLabelValues(string(c.Type)).Inc()
	metrics.CommissionAwarded.WithLabelValues(string(c.CommissionModel)).Add(c.Commission.InexactFloat64())
	entry.WithField("commission", c.Commission.String()).Info("Conversion committed")

	if p.publisher != nil && !p.publisher.Enqueue(models.NewConversionEvent(c)) {
		entry.Warn("Conversion event not queued for publishing")
	}
	return res, nil
}

// commit reserves the fingerprint, prices the event and applies it to the
// counters in one transaction.
func (p *Pipeline) commit(ctx context.Context, house *models.BettingHouse, cfg commission.Config, link *models.AffiliateLink, ev Event, fp string) (Result, error) {
	meta := ev.Meta()
	customer := CustomerOf(ev)
	amount := AmountOf(ev)

	conv := &models.Conversion{
		ID:              p.newID(),
		AffiliateID:     link.AffiliateID,
		HouseID:         house.ID,
		LinkID:          link.ID,
		CustomerID:      customer,
		SubID:           meta.SubID,
		Type:            ev.Type(),
		Amount:          amount,
		CommissionModel: cfg.Model,
		TransactionID:   meta.TransactionID,
		Fingerprint:     fp,
		Status:          models.StatusPending,
		ConvertedAt:     meta.ReceivedAt,
	}

	var res Result
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := p.idempotency.WithTx(tx).Reserve(ctx, fp, conv.ID, meta.ReceivedAt)
		if err != nil {
			return err
		}
		if !reservation.New {
			res = Result{ConversionID: reservation.ConversionID, Duplicate: true}
			return errDuplicate
		}

		awarded := false
		if trigger, ok := commission.CPATriggerEvent(cfg); ok && trigger == ev.Type() {
			awarded, err = p.conversions.WithTx(tx).HasCPAAward(ctx, house.ID, link.AffiliateID, customer)
			if err != nil {
				return err
			}
		}

		b := commission.Compute(cfg, ev.Type(), amount, awarded)
		conv.Commission = b.Total
		conv.CPACommission = b.CPA
		conv.RevShareCommission = b.RevShare
		conv.CPAAwarded = b.CPAAwarded

		if err := p.conversions.WithTx(tx).Create(ctx, conv); err != nil {
			return err
		}
		if _, err := p.aggregates.WithTx(tx).Apply(ctx, conv, meta.ReceivedAt); err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{ConversionID: conv.ID, Conversion: conv}, nil
}

// reject logs and records a terminal rejection. The audit write gets its own
// deadline so an expired request still leaves a trace.
func (p *Pipeline) reject(ctx context.Context, rej *models.Rejection, perr *Error) error {
	metrics.PostbacksRejected.WithLabelValues(string(perr.Reason)).Inc()

	rej.Reason = string(perr.Reason)
	rej.Detail = perr.Detail
	p.logger.WithFields(logrus.Fields{
		"house":       rej.HouseIdentifier,
		"event_type":  rej.EventType,
		"subid":       rej.SubID,
		"customer_id": rej.CustomerID,
		"reason":      perr.Reason,
	}).Warn("Postback rejected: " + perr.Detail)

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.rejections.Record(auditCtx, rej); err != nil {
		p.logger.WithError(err).Error("Failed to record rejection")
	}
	return perr
}

// storeFailure wraps a persistence error as retryable. Nothing is recorded
// because the store is the thing that failed.
func (p *Pipeline) storeFailure(rej *models.Rejection, op string, err error) error {
	metrics.PostbacksRejected.WithLabelValues(string(ReasonStoreUnavailable)).Inc()
	p.logger.WithError(err).WithFields(logrus.Fields{
		"house":      rej.HouseIdentifier,
		"event_type": rej.EventType,
		"subid":      rej.SubID,
		"op":         op,
	}).Error("Postback failed on store, sender should retry")
	return newError(ReasonStoreUnavailable, op, err)
}

func tokenMatches(provided string, expected [sha256.Size]byte) bool {
	sum := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(sum[:], expected[:]) == 1
}

// eventLabel bounds metric cardinality to known event types.
func eventLabel(label string) string {
	if t, ok := ParseEventType(label); ok {
		return string(t)
	}
	return "unknown"
}
