package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"optionguard/internal/auth"
	"optionguard/internal/escrow"
	"optionguard/internal/orchestrator"
	"optionguard/internal/repository"
	"optionguard/internal/stoploss"
	"optionguard/internal/valuation"
)

type PositionHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Repo         repository.Repository
}

func (h *PositionHandler) Register(r *gin.Engine) {
	p := r.Group("/api/v1/positions")
	p.POST("", h.create)
	p.GET("", h.list)
	p.GET("/:id", h.get)
	p.GET("/:id/can-execute", h.canExecute)
	p.GET("/:id/status", h.status)
	p.GET("/:id/events", h.events)
	p.GET("/:id/escrow", h.escrowEntries)
	p.POST("/:id/execute", h.execute)
	p.POST("/:id/cancel", h.cancel)

	r.POST("/api/v1/recover", h.recover)
}

type createPositionRequest struct {
	Maker           string          `json:"maker" binding:"required"`
	IsCall          bool            `json:"is_call"`
	StrikePrice     decimal.Decimal `json:"strike_price" binding:"required"`
	Premium         decimal.Decimal `json:"premium"`
	DurationSeconds int64           `json:"duration_seconds" binding:"required"`
	MakerAsset      string          `json:"maker_asset" binding:"required"`
	TakerAsset      string          `json:"taker_asset" binding:"required"`
	MakingAmount    decimal.Decimal `json:"making_amount" binding:"required"`
	MinTakingAmount decimal.Decimal `json:"min_taking_amount" binding:"required"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price" binding:"required"`
	MaxLossBps      int64           `json:"max_loss_bps" binding:"required"`
	FeedID          string          `json:"feed_id" binding:"required"`
}

func (h *PositionHandler) create(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req createPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	maker, ok := parseAddress(req.Maker)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid maker address", nil)
		return
	}
	id, err := h.Orchestrator.Create(c.Request.Context(), maker, orchestrator.CreateParams{
		IsCall:          req.IsCall,
		StrikePrice:     req.StrikePrice,
		Premium:         req.Premium,
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		MakerAsset:      req.MakerAsset,
		TakerAsset:      req.TakerAsset,
		MakingAmount:    req.MakingAmount,
		MinTakingAmount: req.MinTakingAmount,
		StopLossPrice:   req.StopLossPrice,
		MaxLossBps:      req.MaxLossBps,
		FeedID:          req.FeedID,
	})
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"position_id": id}, nil)
}

func (h *PositionHandler) list(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	maker, ok := parseAddress(c.Query("maker"))
	if !ok {
		Error(c, http.StatusBadRequest, "invalid maker address", nil)
		return
	}
	items, err := h.Orchestrator.GetUserPositions(c.Request.Context(), maker)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *PositionHandler) get(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	item, err := h.Orchestrator.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *PositionHandler) canExecute(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	ok, reason, err := h.Orchestrator.CanExecute(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"can_execute": ok, "reason": reason}, nil)
}

func (h *PositionHandler) status(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	st, err := h.Orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, st, nil)
}

func (h *PositionHandler) events(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListPositionEvents(c.Request.Context(), c.Param("id"), intQuery(c, "limit", 200))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *PositionHandler) escrowEntries(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListEscrowEntriesByPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type executeRequest struct {
	Executor     string          `json:"executor" binding:"required"`
	TakingAmount decimal.Decimal `json:"taking_amount" binding:"required"`
}

func (h *PositionHandler) execute(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	executor, ok := parseAddress(req.Executor)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid executor address", nil)
		return
	}
	paid, err := h.Orchestrator.Execute(c.Request.Context(), executor, c.Param("id"), req.TakingAmount)
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"making_amount": paid}, nil)
}

type cancelRequest struct {
	Caller string `json:"caller" binding:"required"`
}

func (h *PositionHandler) cancel(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid caller address", nil)
		return
	}
	if err := h.Orchestrator.Cancel(c.Request.Context(), caller, c.Param("id")); err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"cancelled": true}, nil)
}

type recoverRequest struct {
	Caller string          `json:"caller" binding:"required"`
	Asset  string          `json:"asset" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (h *PositionHandler) recover(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid caller address", nil)
		return
	}
	if err := h.Orchestrator.EmergencyRecover(c.Request.Context(), caller, req.Asset, req.Amount); err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"recovered": true}, nil)
}

func parseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// statusFor maps domain failures to HTTP codes: bad input is 400, access
// denial 403, lifecycle conflicts 409, unusable oracle data 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrInvalidDuration),
		errors.Is(err, orchestrator.ErrInvalidPosition),
		errors.Is(err, valuation.ErrInvalidOptionConfig),
		errors.Is(err, stoploss.ErrInvalidConfiguration),
		errors.Is(err, stoploss.ErrInvalidMaxLoss),
		errors.Is(err, stoploss.ErrInvalidTimeWindow):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotActive),
		errors.Is(err, orchestrator.ErrExpired),
		errors.Is(err, orchestrator.ErrInsufficientAmount),
		errors.Is(err, orchestrator.ErrStopLossTriggered),
		errors.Is(err, valuation.ErrConfigInactive),
		errors.Is(err, valuation.ErrOptionExpired),
		errors.Is(err, stoploss.ErrInactiveConfig),
		errors.Is(err, escrow.ErrReentrantCall),
		errors.Is(err, escrow.ErrInsufficientEscrow):
		return http.StatusConflict
	case errors.Is(err, valuation.ErrStalePrice),
		errors.Is(err, valuation.ErrInvalidPrice),
		errors.Is(err, stoploss.ErrStalePrice),
		errors.Is(err, stoploss.ErrInvalidPrice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
