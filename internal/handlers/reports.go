package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"postback-engine/internal/models"
	"postback-engine/internal/registry"
	"postback-engine/internal/repository"
)

const maxPageSize = 500

func (s *Server) AffiliateReport(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/affiliates", start)

	id, ok := parseID(c)
	if !ok {
		return
	}
	s.totalsReport(c, gin.H{"affiliate_id": id}, id, s.aggregates.AffiliateTotals, s.aggregates.AffiliateTotalsSince)
}

func (s *Server) HouseReport(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/houses", start)

	id, ok := parseID(c)
	if !ok {
		return
	}
	house, err := s.houses.GetByID(c.Request.Context(), id)
	if errors.Is(err, registry.ErrHouseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "House not found"})
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("house_id", id).Error("Failed to load house")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load house"})
		return
	}
	s.totalsReport(c, gin.H{"house_id": id, "house": house}, id, s.aggregates.HouseTotals, s.aggregates.HouseTotalsSince)
}

type totalsFn func(ctx context.Context, id uint) (models.Totals, error)
type windowFn func(ctx context.Context, id uint, since time.Time) (models.Totals, error)

// totalsReport serves counter totals, or live sums over the last N days
// when ?days is given.
func (s *Server) totalsReport(c *gin.Context, body gin.H, id uint, all totalsFn, since windowFn) {
	var err error
	days := 0
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days parameter"})
			return
		}
	}

	var totals models.Totals
	if days > 0 {
		from := s.nowFn().UTC().AddDate(0, 0, -days)
		totals, err = since(c.Request.Context(), id, from)
	} else {
		totals, err = all(c.Request.Context(), id)
	}
	if err != nil {
		s.logger.WithError(err).WithField("id", id).Error("Failed to load totals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load totals"})
		return
	}

	body["totals"] = totals
	if days > 0 {
		body["days"] = days
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) ConversionByID(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/conversions/:id", start)

	conversion, err := s.conversions.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversion not found"})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load conversion")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversion"})
		return
	}
	c.JSON(http.StatusOK, conversion)
}

func (s *Server) LeadReport(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/leads", start)

	lead, err := s.aggregates.Lead(c.Request.Context(), c.Param("customerId"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to load lead")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load lead"})
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (s *Server) RecentConversions(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/conversions", start)

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	conversions, err := s.conversions.Recent(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list conversions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversions": conversions,
		"meta":        gin.H{"limit": limit, "offset": offset, "count": len(conversions)},
	})
}

func (s *Server) RecentRejections(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/reports/rejections", start)

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	rejections, err := s.rejections.Recent(c.Request.Context(), c.Query("reason"), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list rejections")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rejections"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rejections": rejections,
		"meta":       gin.H{"limit": limit, "offset": offset, "count": len(rejections)},
	})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

// pagination parses limit and offset, answering 400 itself on bad input.
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return 0, 0, false
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset parameter"})
		return 0, 0, false
	}
	return limit, offset, true
}
