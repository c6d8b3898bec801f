package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/zec-tracker/internal/app"
	"github.com/codyseavey/zec-tracker/internal/chart"
	"github.com/codyseavey/zec-tracker/internal/game"
	"github.com/codyseavey/zec-tracker/internal/models"
)

// Dashboard is the part of app.Dashboard the HTTP layer drives
type Dashboard interface {
	View() app.View
	TogglePriceTimeframe(ctx context.Context) (models.Timeframe, error)
	ToggleSupplyTimeframe(ctx context.Context) (models.Timeframe, error)
	SetCurrency(ctx context.Context, currency string) error
	SetMode(ctx context.Context, mode models.Mode) error
	PlaceBet(ctx context.Context, dir models.Direction, stake float64) (models.Round, error)
	SettleRound(ctx context.Context) (models.Round, error)
	Reconnect()
}

type DashboardHandler struct {
	dashboard Dashboard
}

func NewDashboardHandler(d Dashboard) *DashboardHandler {
	return &DashboardHandler{dashboard: d}
}

// GetState returns everything the dashboard currently displays
func (h *DashboardHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.dashboard.View())
}

func (h *DashboardHandler) TogglePriceTimeframe(c *gin.Context) {
	tf, err := h.dashboard.TogglePriceTimeframe(c.Request.Context())
	h.respondToggle(c, tf, err, func(v app.View) chart.Frame { return v.PriceChart })
}

func (h *DashboardHandler) ToggleSupplyTimeframe(c *gin.Context) {
	tf, err := h.dashboard.ToggleSupplyTimeframe(c.Request.Context())
	h.respondToggle(c, tf, err, func(v app.View) chart.Frame { return v.SupplyChart })
}

// respondToggle reports a failed toggle as 503; the chart keeps its previous timeframe
func (h *DashboardHandler) respondToggle(c *gin.Context, tf models.Timeframe, err error, pick func(app.View) chart.Frame) {
	if errors.Is(err, chart.ErrTimeframeUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "timeframe": tf})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeframe": tf, "chart": pick(h.dashboard.View())})
}

type setCurrencyRequest struct {
	Currency string `json:"currency" binding:"required"`
}

func (h *DashboardHandler) SetCurrency(c *gin.Context) {
	var req setCurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.dashboard.SetCurrency(c.Request.Context(), req.Currency)
	switch {
	case errors.Is(err, app.ErrInvalidCurrency):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chart.ErrTimeframeUnavailable):
		// The currency switched but the chart still shows the previous series
		c.JSON(http.StatusBadGateway, gin.H{"error": "price history unavailable", "state": h.dashboard.View()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.dashboard.View())
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *DashboardHandler) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.dashboard.SetMode(c.Request.Context(), models.Mode(req.Mode)); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, app.ErrInvalidMode) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.dashboard.View())
}

// Reconnect asks the price stream to dial now instead of waiting for its next probe
func (h *DashboardHandler) Reconnect(c *gin.Context) {
	h.dashboard.Reconnect()
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

func (h *DashboardHandler) GetGame(c *gin.Context) {
	v := h.dashboard.View()
	if v.Game == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": app.ErrGameDisabled.Error()})
		return
	}
	c.JSON(http.StatusOK, v.Game)
}

type placeBetRequest struct {
	Direction string  `json:"direction" binding:"required,oneof=up down"`
	Stake     float64 `json:"stake" binding:"required,gt=0"`
}

func (h *DashboardHandler) PlaceBet(c *gin.Context) {
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	round, err := h.dashboard.PlaceBet(c.Request.Context(), models.Direction(req.Direction), req.Stake)
	if err != nil {
		c.JSON(gameErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"round": round, "game": h.dashboard.View().Game})
}

func (h *DashboardHandler) SettleRound(c *gin.Context) {
	round, err := h.dashboard.SettleRound(c.Request.Context())
	if err != nil {
		c.JSON(gameErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "game": h.dashboard.View().Game})
}

func gameErrorStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidBet), errors.Is(err, game.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrRoundOpen), errors.Is(err, game.ErrNoRound), errors.Is(err, app.ErrNoPrice):
		return http.StatusConflict
	case errors.Is(err, app.ErrGameDisabled):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
