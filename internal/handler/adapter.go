package handler

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"optionguard/internal/adapter"
)

// AdapterHandler exposes the order-engine plugin surface over HTTP so
// integrators can exercise the callbacks off-chain. Payloads travel as hex.
type AdapterHandler struct {
	Adapter *adapter.Adapter
}

func (h *AdapterHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/adapter")
	g.POST("/encode", h.encode)
	g.POST("/decode", h.decode)
	g.POST("/making-amount", h.makingAmount)
	g.POST("/taking-amount", h.takingAmount)
	g.POST("/predicate", h.predicate)
	g.POST("/combined-predicate", h.combinedPredicate)
	g.GET("/status", h.status)
}

type encodeRequest struct {
	OptionID        string          `json:"option_id" binding:"required"`
	StopLossID      string          `json:"stop_loss_id" binding:"required"`
	MinPayoff       decimal.Decimal `json:"min_payoff"`
	EnforceStopLoss bool            `json:"enforce_stop_loss"`
}

func (h *AdapterHandler) encode(c *gin.Context) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payload, err := adapter.Encode(req.OptionID, req.StopLossID, req.MinPayoff, req.EnforceStopLoss)
	if err != nil {
		Error(c, adapterStatusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"payload": "0x" + hex.EncodeToString(payload)}, nil)
}

type payloadRequest struct {
	Payload string `json:"payload" binding:"required"`
}

func (h *AdapterHandler) decode(c *gin.Context) {
	var req payloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	raw, err := parsePayload(req.Payload)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	data, err := adapter.Decode(raw)
	if err != nil {
		Error(c, adapterStatusFor(err), err.Error(), nil)
		return
	}
	Ok(c, data, nil)
}

type makingAmountRequest struct {
	TakingAmount          decimal.Decimal `json:"taking_amount" binding:"required"`
	RemainingMakingAmount decimal.Decimal `json:"remaining_making_amount" binding:"required"`
	Payload               string          `json:"payload" binding:"required"`
}

func (h *AdapterHandler) makingAmount(c *gin.Context) {
	if h.Adapter == nil {
		Error(c, http.StatusInternalServerError, "adapter unavailable", nil)
		return
	}
	var req makingAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	raw, err := parsePayload(req.Payload)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Adapter.MakingAmount(c.Request.Context(), req.TakingAmount, req.RemainingMakingAmount, raw)
	if err != nil {
		Error(c, adapterStatusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"making_amount": out}, nil)
}

type takingAmountRequest struct {
	MakingAmount decimal.Decimal `json:"making_amount" binding:"required"`
	Payload      string          `json:"payload" binding:"required"`
}

func (h *AdapterHandler) takingAmount(c *gin.Context) {
	if h.Adapter == nil {
		Error(c, http.StatusInternalServerError, "adapter unavailable", nil)
		return
	}
	var req takingAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	raw, err := parsePayload(req.Payload)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Adapter.TakingAmount(c.Request.Context(), req.MakingAmount, raw)
	if err != nil {
		Error(c, adapterStatusFor(err), err.Error(), nil)
		return
	}
	Ok(c, gin.H{"taking_amount": out}, nil)
}

func (h *AdapterHandler) predicate(c *gin.Context) {
	if h.Adapter == nil {
		Error(c, http.StatusInternalServerError, "adapter unavailable", nil)
		return
	}
	var req payloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	raw, err := parsePayload(req.Payload)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"valid": h.Adapter.Predicate(c.Request.Context(), raw)}, nil)
}

type combinedPredicateRequest struct {
	OptionID   string    `json:"option_id" binding:"required"`
	StopLossID string    `json:"stop_loss_id" binding:"required"`
	Expiry     time.Time `json:"expiry" binding:"required"`
}

func (h *AdapterHandler) combinedPredicate(c *gin.Context) {
	if h.Adapter == nil {
		Error(c, http.StatusInternalServerError, "adapter unavailable", nil)
		return
	}
	var req combinedPredicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	valid := h.Adapter.CombinedPredicate(c.Request.Context(), req.OptionID, req.StopLossID, req.Expiry)
	Ok(c, gin.H{"valid": valid}, nil)
}

func (h *AdapterHandler) status(c *gin.Context) {
	if h.Adapter == nil {
		Error(c, http.StatusInternalServerError, "adapter unavailable", nil)
		return
	}
	optionID := strings.TrimSpace(c.Query("option_id"))
	stopLossID := strings.TrimSpace(c.Query("stop_loss_id"))
	if optionID == "" || stopLossID == "" {
		Error(c, http.StatusBadRequest, "option_id and stop_loss_id are required", nil)
		return
	}
	st, err := h.Adapter.CurrentStatus(c.Request.Context(), optionID, stopLossID)
	if err != nil {
		Error(c, statusFor(err), err.Error(), nil)
		return
	}
	Ok(c, st, nil)
}

func parsePayload(raw string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	return hex.DecodeString(raw)
}

func adapterStatusFor(err error) int {
	switch {
	case errors.Is(err, adapter.ErrInvalidExtraData):
		return http.StatusBadRequest
	case errors.Is(err, adapter.ErrInsufficientPayoff),
		errors.Is(err, adapter.ErrStopLossTriggered):
		return http.StatusConflict
	default:
		return statusFor(err)
	}
}
