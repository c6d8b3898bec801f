package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/zec-tracker/internal/models"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 7 * 24
)

// SupplyHistory serves recorded live snapshots
type SupplyHistory interface {
	Series(window time.Duration) (models.Series, error)
}

type ShieldedHandler struct {
	history SupplyHistory
}

func NewShieldedHandler(history SupplyHistory) *ShieldedHandler {
	return &ShieldedHandler{history: history}
}

// GetHourly returns the recorded shielded totals of the last `hours` hours
// (default 24, at most one week) as {"data": [{t, v}, ...]}
func (h *ShieldedHandler) GetHourly(c *gin.Context) {
	hours := defaultHistoryHours
	if s := c.Query("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = min(n, maxHistoryHours)
	}

	series, err := h.history.Series(time.Duration(hours) * time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if series == nil {
		series = models.Series{}
	}
	c.JSON(http.StatusOK, gin.H{"data": series})
}
