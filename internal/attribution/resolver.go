package attribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postback-engine/internal/metrics"
	"postback-engine/internal/models"
)

var ErrUnresolvedAffiliate = errors.New("no active affiliate link matches subid")

type Resolver struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewResolver(db *gorm.DB, logger *logrus.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve finds the active link of houseID whose generated identifier is
// subid. More than one match is a configuration error: it is logged and the
// most recently created link wins.
func (r *Resolver) Resolve(ctx context.Context, houseID uint, subid string) (*models.AffiliateLink, error) {
	if subid == "" {
		return nil, ErrUnresolvedAffiliate
	}

	var links []models.AffiliateLink
	err := r.db.WithContext(ctx).
		Where("house_id = ? AND generated_identifier = ? AND is_active = ?", houseID, subid, true).
		Order("created_at DESC").
		Order("id DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("resolve subid %s: %w", subid, err)
	}

	switch len(links) {
	case 0:
		return nil, ErrUnresolvedAffiliate
	case 1:
		return &links[0], nil
	}

	ids := make([]uint, len(links))
	for i, l := range links {
		ids[i] = l.ID
	}
	metrics.AttributionInvariantViolations.Inc()
	r.logger.WithFields(logrus.Fields{
		"house_id": houseID,
		"subid":    subid,
		"link_ids": ids,
		"chosen":   links[0].ID,
		"anomaly":  "duplicate_active_link",
		"severity": "high",
	}).Error("Multiple active links share a subid, using the most recent")

	return &links[0], nil
}
