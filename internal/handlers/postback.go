package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"postback-engine/internal/postback"
)

// Postback ingests a partner callback. GET carries fields in the query
// string; POST may also send them form-encoded.
func (s *Server) Postback(c *gin.Context) {
	start := time.Now()
	defer observe(c, "/postback", start)

	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": postback.ReasonMalformedEvent})
		return
	}
	params := c.Request.Form

	house := c.Param("house")
	if house == "" {
		house = params.Get("house")
	}

	res, err := s.pipeline.Handle(c.Request.Context(), house, c.Param("event"), params)
	if err != nil {
		reason := postback.ReasonOf(err)
		var perr *postback.Error
		if !errors.As(err, &perr) {
			s.logger.WithError(err).Error("Postback failed with an untyped error")
		}
		c.JSON(reason.HTTPStatus(), gin.H{"status": "rejected", "reason": reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "accepted",
		"conversion_id": res.ConversionID,
		"duplicate":     res.Duplicate,
	})
}
