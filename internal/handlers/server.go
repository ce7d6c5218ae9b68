package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"postback-engine/internal/metrics"
	"postback-engine/internal/middleware"
	"postback-engine/internal/postback"
	"postback-engine/internal/registry"
	"postback-engine/internal/repository"
)

// Ingestor is the postback pipeline as seen by the HTTP layer.
type Ingestor interface {
	Handle(ctx context.Context, houseIdentifier, eventType string, params url.Values) (postback.Result, error)
}

type Server struct {
	db          *gorm.DB
	logger      *logrus.Logger
	pipeline    Ingestor
	conversions *repository.ConversionRepository
	aggregates  *repository.AggregationStore
	rejections  *repository.RejectionRepository
	houses      *registry.Registry
	nowFn       func() time.Time
}

func NewServer(db *gorm.DB, logger *logrus.Logger, pipeline Ingestor) *Server {
	return &Server{
		db:          db,
		logger:      logger,
		pipeline:    pipeline,
		conversions: repository.NewConversionRepository(db),
		aggregates:  repository.NewAggregationStore(db, logger),
		rejections:  repository.NewRejectionRepository(db),
		houses:      registry.New(db, logger),
		nowFn:       time.Now,
	}
}

// NewRouter wires every route of the service onto a fresh gin engine.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(middleware.CORSMiddleware())

	r.GET("/postback/:event", s.Postback)
	r.POST("/postback/:event", s.Postback)
	r.GET("/houses/:house/postback/:event", s.Postback)
	r.POST("/houses/:house/postback/:event", s.Postback)

	api := r.Group("/api/v1")
	{
		reports := api.Group("/reports")
		reports.GET("/affiliates/:id", s.AffiliateReport)
		reports.GET("/houses/:id", s.HouseReport)
		reports.GET("/leads/:customerId", s.LeadReport)
		reports.GET("/conversions", s.RecentConversions)
		reports.GET("/conversions/:id", s.ConversionByID)
		reports.GET("/rejections", s.RecentRejections)
	}

	r.GET("/health", s.Health)
	r.GET("/ready", s.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func observe(c *gin.Context, endpoint string, start time.Time) {
	metrics.ResponseTime.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.nowFn().Unix(),
		"version":   "1.0.0",
	})
}

// Ready reports whether the database answers a ping within a second.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.logger.WithError(err).Warn("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
