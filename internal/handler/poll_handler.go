package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var errInvalidSince = errors.New("invalid since")

// Poll runs one live cycle for the tenant and returns its result as-is
func (h *Handlers) Poll(c *gin.Context) {
	tenantID := c.Param("tenant")
	result := h.scheduler.RunOnce(c.Request.Context(), tenantID)
	c.JSON(http.StatusOK, CycleResponse{TenantID: tenantID, Mode: "live", Result: result})
}

// Replay reprocesses everything received since ?since=, given as a duration
// back from now (168h) or an RFC3339 timestamp
func (h *Handlers) Replay(c *gin.Context) {
	tenantID := c.Param("tenant")

	since, err := parseSince(c.Query("since"), h.defaultReplay, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_since",
			Message: "since must be a positive duration or an RFC3339 timestamp",
			Code:    http.StatusBadRequest,
		})
		return
	}

	result := h.pipeline.Replay(c.Request.Context(), tenantID, since)
	c.JSON(http.StatusOK, CycleResponse{TenantID: tenantID, Mode: "historical", Since: &since, Result: result})
}

func parseSince(raw string, fallback time.Duration, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-fallback), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, errInvalidSince
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil || t.After(now) {
		return time.Time{}, errInvalidSince
	}
	return t, nil
}
