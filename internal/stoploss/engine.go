package stoploss

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optionguard/internal/auth"
	"optionguard/internal/models"
	"optionguard/internal/oracle"
)

const (
	// MaxPriceAge is deliberately tighter than the valuation engine's:
	// stop-loss protection is time-critical.
	MaxPriceAge = 5 * time.Minute

	MinMaxLossBps = 1
	MaxMaxLossBps = 9000

	MinTimeWindow = 60 * time.Second
)

var (
	ErrInactiveConfig       = errors.New("stop-loss config is not active")
	ErrInvalidMaxLoss       = errors.New("max loss out of range")
	ErrInvalidTimeWindow    = errors.New("time window too short")
	ErrInvalidConfiguration = errors.New("invalid stop-loss configuration")
	ErrStalePrice           = errors.New("oracle price is stale")
	ErrInvalidPrice         = errors.New("oracle price is not positive")
)

var bpsDenominator = decimal.NewFromInt(10_000)

type ConfigStore interface {
	GetStopLossConfig(ctx context.Context, id string) (*models.StopLossConfig, error)
	SaveStopLossConfig(ctx context.Context, item *models.StopLossConfig) error
}

type EventSink interface {
	Emit(ctx context.Context, positionID, eventType string, payload map[string]any)
}

// Engine evaluates stop-loss triggers. It exposes two boolean forms with
// deliberately different semantics: IsTriggered is the strict monitoring
// query, Predicate is the permissive execution gate. They disagree at the
// exact threshold price and must not be substituted for one another.
type Engine struct {
	Access *auth.AccessList
	Store  ConfigStore
	Feeds  *oracle.Registry
	Events EventSink
	Logger *zap.Logger
}

type ConfigureParams struct {
	StopLossPrice decimal.Decimal
	MaxLossBps    int64
	TimeWindow    time.Duration
	FeedID        string
	IsLowerBound  bool
}

// Configure validates and writes the config at id, overwriting prior state
// and restamping CreatedAt.
func (e *Engine) Configure(ctx context.Context, caller common.Address, id string, p ConfigureParams) error {
	if err := e.Access.Require(caller); err != nil {
		return err
	}
	if p.StopLossPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: stop-loss price must be positive", ErrInvalidConfiguration)
	}
	if p.MaxLossBps < MinMaxLossBps || p.MaxLossBps > MaxMaxLossBps {
		return fmt.Errorf("%w: %d bps", ErrInvalidMaxLoss, p.MaxLossBps)
	}
	if p.TimeWindow < MinTimeWindow {
		return fmt.Errorf("%w: %s", ErrInvalidTimeWindow, p.TimeWindow)
	}
	if _, err := e.Feeds.Feed(p.FeedID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	item := &models.StopLossConfig{
		ID:            id,
		StopLossPrice: p.StopLossPrice,
		MaxLossBps:    p.MaxLossBps,
		TimeWindowSec: int64(p.TimeWindow / time.Second),
		FeedID:        p.FeedID,
		IsLowerBound:  p.IsLowerBound,
		IsActive:      true,
	}
	if err := e.Store.SaveStopLossConfig(ctx, item); err != nil {
		return err
	}
	if e.Events != nil {
		e.Events.Emit(ctx, "", "stop_loss_configured", map[string]any{
			"stop_loss_id":   id,
			"threshold":      p.StopLossPrice.String(),
			"is_lower_bound": p.IsLowerBound,
		})
	}
	if e.Logger != nil {
		e.Logger.Info("stop-loss configured",
			zap.String("stop_loss_id", id),
			zap.String("threshold", p.StopLossPrice.String()),
			zap.Bool("is_lower_bound", p.IsLowerBound),
		)
	}
	return nil
}

// Deactivate soft-deletes the config. Idempotent.
func (e *Engine) Deactivate(ctx context.Context, caller common.Address, id string) error {
	if err := e.Access.Require(caller); err != nil {
		return err
	}
	item, err := e.Store.GetStopLossConfig(ctx, id)
	if err != nil {
		return err
	}
	if item == nil || !item.IsActive {
		return nil
	}
	item.IsActive = false
	if err := e.Store.SaveStopLossConfig(ctx, item); err != nil {
		return err
	}
	if e.Events != nil {
		e.Events.Emit(ctx, "", "stop_loss_deactivated", map[string]any{"stop_loss_id": id})
	}
	return nil
}

// IsTriggered is the strict monitoring query: inactive configs and oracle
// failures are errors, and a price exactly at the threshold counts as
// triggered.
func (e *Engine) IsTriggered(ctx context.Context, caller common.Address, id string) (bool, error) {
	if err := e.Access.Require(caller); err != nil {
		return false, err
	}
	item, err := e.activeConfig(ctx, id)
	if err != nil {
		return false, err
	}
	price, _, err := e.fetchPrice(ctx, item.FeedID, true)
	if err != nil {
		return false, err
	}
	if item.IsLowerBound {
		return price.LessThanOrEqual(item.StopLossPrice), nil
	}
	return price.GreaterThanOrEqual(item.StopLossPrice), nil
}

// Predicate is the permissive execution gate: true means "safe to proceed".
// An inactive or missing config imposes no restriction and returns true
// without touching the oracle. For active configs oracle failures still
// propagate; only the strictness of the comparison differs from
// IsTriggered (a price exactly at the threshold is not safe here).
func (e *Engine) Predicate(ctx context.Context, id string) (bool, error) {
	item, err := e.Store.GetStopLossConfig(ctx, id)
	if err != nil {
		return false, err
	}
	if item == nil || !item.IsActive {
		return true, nil
	}
	price, _, err := e.fetchPrice(ctx, item.FeedID, true)
	if err != nil {
		return false, err
	}
	if item.IsLowerBound {
		return price.GreaterThan(item.StopLossPrice), nil
	}
	return price.LessThan(item.StopLossPrice), nil
}

// MultiPredicate folds Predicate over ids. requireAll selects AND versus OR
// semantics, short-circuiting either way. An empty list passes.
func (e *Engine) MultiPredicate(ctx context.Context, ids []string, requireAll bool) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	for _, id := range ids {
		ok, err := e.Predicate(ctx, id)
		if err != nil {
			return false, err
		}
		if requireAll && !ok {
			return false, nil
		}
		if !requireAll && ok {
			return true, nil
		}
	}
	return requireAll, nil
}

// DynamicThreshold derives a threshold from an entry price and the
// configured max loss: entry - entry*maxLoss/10000 for lower bounds,
// entry + entry*maxLoss/10000 for upper bounds. Pure, no oracle read.
func (e *Engine) DynamicThreshold(ctx context.Context, caller common.Address, id string, entryPrice decimal.Decimal) (decimal.Decimal, error) {
	if err := e.Access.Require(caller); err != nil {
		return decimal.Zero, err
	}
	item, err := e.activeConfig(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	delta, _ := entryPrice.Mul(decimal.NewFromInt(item.MaxLossBps)).QuoRem(bpsDenominator, 0)
	if item.IsLowerBound {
		return entryPrice.Sub(delta), nil
	}
	return entryPrice.Add(delta), nil
}

// PriceInfo is a diagnostic read: it reports the latest price and its age
// without enforcing the staleness policy.
func (e *Engine) PriceInfo(ctx context.Context, caller common.Address, id string) (price decimal.Decimal, age time.Duration, err error) {
	if err := e.Access.Require(caller); err != nil {
		return decimal.Zero, 0, err
	}
	item, err := e.activeConfig(ctx, id)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return e.fetchPrice(ctx, item.FeedID, false)
}

func (e *Engine) activeConfig(ctx context.Context, id string) (*models.StopLossConfig, error) {
	item, err := e.Store.GetStopLossConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.IsActive {
		return nil, ErrInactiveConfig
	}
	return item, nil
}

func (e *Engine) fetchPrice(ctx context.Context, feedID string, enforceFreshness bool) (decimal.Decimal, time.Duration, error) {
	feed, err := e.Feeds.Feed(feedID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	obs, err := feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, 0, err
	}
	age := time.Since(obs.UpdatedAt)
	if enforceFreshness && age > MaxPriceAge {
		return decimal.Zero, 0, ErrStalePrice
	}
	if obs.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, 0, ErrInvalidPrice
	}
	return obs.Price, age, nil
}
