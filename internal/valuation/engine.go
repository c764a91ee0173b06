package valuation

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
	// MaxPriceAge is the valuation staleness tolerance. The stop-loss
	// engine runs a tighter window; the two are different by design.
	MaxPriceAge = time.Hour

	MinMultiplier = 1
	MaxMultiplier = 100
)

var (
	ErrConfigInactive      = errors.New("option config is not active")
	ErrOptionExpired       = errors.New("option has expired")
	ErrStalePrice          = errors.New("oracle price is stale")
	ErrInvalidPrice        = errors.New("oracle price is not positive")
	ErrInvalidOptionConfig = errors.New("invalid option config")
)

// MinValueThreshold is the in-the-money floor: $0.01 in 8-decimal fixed
// point. Intrinsic value at or below it counts as rounding dust.
var MinValueThreshold = decimal.NewFromInt(1_000_000)

// premiumScale is the 18-decimal fixed-point unit of the premium rate.
var premiumScale = decimal.New(1, 18)

var hundred = decimal.NewFromInt(100)

// ConfigStore is the slice of the repository the engine persists through.
type ConfigStore interface {
	GetOptionConfig(ctx context.Context, id string) (*models.OptionConfig, error)
	SaveOptionConfig(ctx context.Context, item *models.OptionConfig) error
}

// EventSink receives change notifications. The journal implementation
// persists them; tests pass nil.
type EventSink interface {
	Emit(ctx context.Context, positionID, eventType string, payload map[string]any)
}

// Engine computes option intrinsic value and amount conversions against a
// live feed. Mutations and the amount getters are gated by the access list.
type Engine struct {
	Access *auth.AccessList
	Store  ConfigStore
	Feeds  *oracle.Registry
	Events EventSink
	Logger *zap.Logger
}

type SetConfigParams struct {
	IsCall      bool
	StrikePrice decimal.Decimal
	Premium     decimal.Decimal
	Expiration  time.Time
	FeedID      string
	Multiplier  int64
}

// SetConfig validates and writes the config at id, overwriting any prior
// state and resetting it active.
func (e *Engine) SetConfig(ctx context.Context, caller common.Address, id string, p SetConfigParams) error {
	if err := e.Access.Require(caller); err != nil {
		return err
	}
	if p.StrikePrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: strike must be positive", ErrInvalidOptionConfig)
	}
	if p.Multiplier < MinMultiplier || p.Multiplier > MaxMultiplier {
		return fmt.Errorf("%w: multiplier %d out of [%d,%d]", ErrInvalidOptionConfig, p.Multiplier, MinMultiplier, MaxMultiplier)
	}
	if !p.Expiration.After(time.Now()) {
		return fmt.Errorf("%w: expiration is not in the future", ErrInvalidOptionConfig)
	}
	if _, err := e.Feeds.Feed(p.FeedID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptionConfig, err)
	}

	item := &models.OptionConfig{
		ID:          id,
		IsCall:      p.IsCall,
		StrikePrice: p.StrikePrice,
		Premium:     p.Premium,
		Expiration:  p.Expiration,
		FeedID:      p.FeedID,
		Multiplier:  p.Multiplier,
		IsActive:    true,
	}
	if err := e.Store.SaveOptionConfig(ctx, item); err != nil {
		return err
	}
	if e.Events != nil {
		e.Events.Emit(ctx, "", "option_params_updated", map[string]any{
			"option_id": id,
			"is_call":   p.IsCall,
			"strike":    p.StrikePrice.String(),
			"feed_id":   p.FeedID,
		})
	}
	if e.Logger != nil {
		e.Logger.Info("option config set",
			zap.String("option_id", id),
			zap.Bool("is_call", p.IsCall),
			zap.String("strike", p.StrikePrice.String()),
		)
	}
	return nil
}

// Deactivate soft-deletes the config. Idempotent: a missing or already
// inactive config is a no-op.
func (e *Engine) Deactivate(ctx context.Context, caller common.Address, id string) error {
	if err := e.Access.Require(caller); err != nil {
		return err
	}
	item, err := e.Store.GetOptionConfig(ctx, id)
	if err != nil {
		return err
	}
	if item == nil || !item.IsActive {
		return nil
	}
	item.IsActive = false
	if err := e.Store.SaveOptionConfig(ctx, item); err != nil {
		return err
	}
	if e.Events != nil {
		e.Events.Emit(ctx, "", "option_deactivated", map[string]any{"option_id": id})
	}
	return nil
}

// CurrentIntrinsicValue returns the immediate-exercise payoff and the price
// it was computed from, both in 8-decimal fixed point.
func (e *Engine) CurrentIntrinsicValue(ctx context.Context, id string) (intrinsic, price decimal.Decimal, err error) {
	item, err := e.activeConfig(ctx, id)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	price, err = e.fetchPrice(ctx, item.FeedID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return intrinsicValue(item.IsCall, price, item.StrikePrice), price, nil
}

// IsInTheMoney reports whether intrinsic value strictly exceeds the
// minimum-value floor.
func (e *Engine) IsInTheMoney(ctx context.Context, id string) (bool, error) {
	intrinsic, _, err := e.CurrentIntrinsicValue(ctx, id)
	if err != nil {
		return false, err
	}
	return intrinsic.GreaterThan(MinValueThreshold), nil
}

// MakingAmountFor converts a payment amount into the collateral amount owed.
// In the money: takingAmount * intrinsic * multiplier / (strike * 100).
// Otherwise the flat premium rate applies: takingAmount * premium / 1e18.
// Multiplication happens before division to keep truncation loss minimal;
// the order must not be rearranged.
func (e *Engine) MakingAmountFor(ctx context.Context, caller common.Address, id string, takingAmount decimal.Decimal) (decimal.Decimal, error) {
	if err := e.Access.Require(caller); err != nil {
		return decimal.Zero, err
	}
	item, err := e.usableConfig(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := e.fetchPrice(ctx, item.FeedID)
	if err != nil {
		return decimal.Zero, err
	}
	intrinsic := intrinsicValue(item.IsCall, price, item.StrikePrice)
	if intrinsic.GreaterThan(MinValueThreshold) {
		num := takingAmount.Mul(intrinsic).Mul(decimal.NewFromInt(item.Multiplier))
		return quoTrunc(num, item.StrikePrice.Mul(hundred))
	}
	return quoTrunc(takingAmount.Mul(item.Premium), premiumScale)
}

// TakingAmountFor is the inverse conversion, with the same truncating
// integer semantics.
func (e *Engine) TakingAmountFor(ctx context.Context, caller common.Address, id string, makingAmount decimal.Decimal) (decimal.Decimal, error) {
	if err := e.Access.Require(caller); err != nil {
		return decimal.Zero, err
	}
	item, err := e.usableConfig(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := e.fetchPrice(ctx, item.FeedID)
	if err != nil {
		return decimal.Zero, err
	}
	intrinsic := intrinsicValue(item.IsCall, price, item.StrikePrice)
	if intrinsic.GreaterThan(MinValueThreshold) {
		num := makingAmount.Mul(item.StrikePrice).Mul(hundred)
		return quoTrunc(num, intrinsic.Mul(decimal.NewFromInt(item.Multiplier)))
	}
	if item.Premium.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero premium", ErrInvalidOptionConfig)
	}
	return quoTrunc(makingAmount.Mul(premiumScale), item.Premium)
}

func (e *Engine) activeConfig(ctx context.Context, id string) (*models.OptionConfig, error) {
	item, err := e.Store.GetOptionConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.IsActive {
		return nil, ErrConfigInactive
	}
	return item, nil
}

// usableConfig additionally rejects expired options; expiry makes a config
// unusable without an explicit deactivation write.
func (e *Engine) usableConfig(ctx context.Context, id string) (*models.OptionConfig, error) {
	item, err := e.activeConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(item.Expiration) {
		return nil, ErrOptionExpired
	}
	return item, nil
}

func (e *Engine) fetchPrice(ctx context.Context, feedID string) (decimal.Decimal, error) {
	feed, err := e.Feeds.Feed(feedID)
	if err != nil {
		return decimal.Zero, err
	}
	obs, err := feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if time.Since(obs.UpdatedAt) > MaxPriceAge {
		return decimal.Zero, ErrStalePrice
	}
	if obs.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidPrice
	}
	return obs.Price, nil
}

func intrinsicValue(isCall bool, price, strike decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	if isCall {
		v = price.Sub(strike)
	} else {
		v = strike.Sub(price)
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// quoTrunc is integer division truncated toward zero.
func quoTrunc(num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: division by zero", ErrInvalidOptionConfig)
	}
	q, _ := num.QuoRem(den, 0)
	return q, nil
}
