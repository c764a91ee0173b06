package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optionguard/internal/models"
)

// RESTPoller polls a ticker-price REST endpoint and upserts the feed's
// latest observation.
//
// The poller is "no key" and minimal: the default endpoint shape is
// Binance's /api/v3/ticker/price, which returns {"symbol":..., "price":...}.
// Prices are normalized to 8-decimal fixed point before storage.
type RESTPoller struct {
	HTTP   *http.Client
	Store  PriceStore
	Logger *zap.Logger

	FeedID       string
	Endpoint     string
	PollInterval time.Duration

	mu        sync.Mutex
	lastPoll  *time.Time
	lastError *string
	status    string
}

type PollerHealth struct {
	Status     string     `json:"status"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
}

func (p *RESTPoller) Run(ctx context.Context) error {
	if p == nil || p.Store == nil {
		return nil
	}
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	// Run immediately once so the feed is usable before the first tick.
	p.pollOnce(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *RESTPoller) Health() PollerHealth {
	if p == nil {
		return PollerHealth{Status: "unknown"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.status
	if strings.TrimSpace(status) == "" {
		status = "unknown"
	}
	return PollerHealth{Status: status, LastPollAt: p.lastPoll, LastError: p.lastError}
}

func (p *RESTPoller) pollOnce(ctx context.Context) {
	now := time.Now().UTC()
	endpoint := strings.TrimSpace(p.Endpoint)
	if endpoint == "" {
		p.setHealth(now, "down", strPtr("missing endpoint"))
		return
	}

	price, err := p.fetchPrice(ctx, endpoint)
	if err != nil {
		p.setHealth(now, "down", strPtr(err.Error()))
		if p.Logger != nil {
			p.Logger.Warn("oracle poll failed", zap.String("feed_id", p.FeedID), zap.Error(err))
		}
		return
	}

	row := &models.OraclePrice{
		FeedID:     p.FeedID,
		Price:      price,
		Decimals:   PriceDecimals,
		Source:     "rest_poll",
		ObservedAt: now,
	}
	if err := p.Store.UpsertOraclePrice(ctx, row); err != nil {
		p.setHealth(now, "down", strPtr(err.Error()))
		return
	}
	p.setHealth(now, "healthy", nil)
}

func (p *RESTPoller) fetchPrice(ctx context.Context, endpoint string) (decimal.Decimal, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, err
	}
	return normalizePrice(parsed.Price)
}

// normalizePrice converts a decimal string quote into the 8-decimal
// fixed-point integer representation the engines operate on.
func normalizePrice(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q", raw)
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive price %q", raw)
	}
	return d.Shift(PriceDecimals).Truncate(0), nil
}

func (p *RESTPoller) setHealth(ts time.Time, status string, errStr *string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPoll = &ts
	p.status = status
	p.lastError = errStr
}

func strPtr(s string) *string { return &s }
