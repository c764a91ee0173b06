package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"optionguard/internal/oracle"
	"optionguard/internal/repository"
)

type OracleHandler struct {
	Repo  repository.Repository
	Feeds *oracle.Registry
}

func (h *OracleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/oracle")
	g.GET("/feeds", h.feeds)
	g.GET("/prices", h.prices)
	g.GET("/prices/:feed_id", h.price)
}

func (h *OracleHandler) feeds(c *gin.Context) {
	if h.Feeds == nil {
		Error(c, http.StatusInternalServerError, "registry unavailable", nil)
		return
	}
	ids := h.Feeds.FeedIDs()
	Ok(c, ids, map[string]any{"total": len(ids)})
}

func (h *OracleHandler) prices(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListOraclePrices(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *OracleHandler) price(c *gin.Context) {
	if h.Feeds == nil {
		Error(c, http.StatusInternalServerError, "registry unavailable", nil)
		return
	}
	feedID := strings.TrimSpace(c.Param("feed_id"))
	feed, err := h.Feeds.Feed(feedID)
	if err != nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	obs, err := feed.LatestPrice(c.Request.Context())
	if err != nil {
		Error(c, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"feed_id":    feedID,
		"price":      obs.Price,
		"decimals":   obs.Decimals,
		"updated_at": obs.UpdatedAt,
	}, nil)
}
