package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optionguard/internal/valuation"
)

// payloadLen is two 32-byte identifiers, a 32-byte minimum payoff, and one
// flag byte.
const payloadLen = 97

var (
	ErrInvalidExtraData   = errors.New("invalid extra data payload")
	ErrInsufficientPayoff = errors.New("payoff below the configured minimum")
	ErrStopLossTriggered  = errors.New("stop-loss triggered")
)

// ExtraData is the decoded form of the opaque payload the order engine
// passes back to our callbacks.
type ExtraData struct {
	OptionID        string
	StopLossID      string
	MinPayoff       decimal.Decimal
	EnforceStopLoss bool
}

// Encode packs the fields into the fixed 97-byte wire form.
func Encode(optionID, stopLossID string, minPayoff decimal.Decimal, enforceStopLoss bool) ([]byte, error) {
	if minPayoff.IsNegative() {
		return nil, fmt.Errorf("%w: negative min payoff", ErrInvalidExtraData)
	}
	payoff := minPayoff.BigInt()
	if payoff.BitLen() > 256 {
		return nil, fmt.Errorf("%w: min payoff exceeds 256 bits", ErrInvalidExtraData)
	}
	out := make([]byte, payloadLen)
	copy(out[0:32], common.HexToHash(optionID).Bytes())
	copy(out[32:64], common.HexToHash(stopLossID).Bytes())
	payoff.FillBytes(out[64:96])
	if enforceStopLoss {
		out[96] = 1
	}
	return out, nil
}

// Decode is the inverse of Encode. An empty payload is rejected up front,
// before any shape check.
func Decode(payload []byte) (ExtraData, error) {
	if len(payload) == 0 {
		return ExtraData{}, fmt.Errorf("%w: empty payload", ErrInvalidExtraData)
	}
	if len(payload) != payloadLen {
		return ExtraData{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidExtraData, len(payload), payloadLen)
	}
	if payload[96] > 1 {
		return ExtraData{}, fmt.Errorf("%w: flag byte %d", ErrInvalidExtraData, payload[96])
	}
	return ExtraData{
		OptionID:        common.BytesToHash(payload[0:32]).Hex(),
		StopLossID:      common.BytesToHash(payload[32:64]).Hex(),
		MinPayoff:       decimal.NewFromBigInt(new(big.Int).SetBytes(payload[64:96]), 0),
		EnforceStopLoss: payload[96] == 1,
	}, nil
}

// StopLossGate is the slice of the stop-loss engine the adapter needs.
type StopLossGate interface {
	Predicate(ctx context.Context, id string) (bool, error)
}

// Status is the adapter's live view over a config pair. CanExecute here is
// in-the-money AND stop-loss-ok only; unlike the orchestrator's canExecute
// it does not consider expiry, and callers must not treat the two as
// equivalent.
type Status struct {
	CanExecute     bool            `json:"can_execute"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	IntrinsicValue decimal.Decimal `json:"intrinsic_value"`
	StopLossOk     bool            `json:"stop_loss_ok"`
}

// Adapter is the stateless plugin surface for the external order engine:
// two amount-getter callbacks and a family of boolean predicates, all over
// the opaque payload. It validates nothing against the order terms; that
// is the engine's job.
type Adapter struct {
	Valuation *valuation.Engine
	StopLoss  StopLossGate
	Identity  common.Address
	Logger    *zap.Logger
}

// MakingAmount converts the engine-proposed takingAmount into collateral
// owed, enforcing the stop-loss when the payload asks for it, the payload's
// minimum payoff, and the remaining fill cap.
func (a *Adapter) MakingAmount(ctx context.Context, takingAmount, remainingMakingAmount decimal.Decimal, payload []byte) (decimal.Decimal, error) {
	data, err := Decode(payload)
	if err != nil {
		return decimal.Zero, err
	}
	if err := a.checkStopLoss(ctx, data); err != nil {
		return decimal.Zero, err
	}
	making, err := a.Valuation.MakingAmountFor(ctx, a.Identity, data.OptionID, takingAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if making.LessThan(data.MinPayoff) {
		return decimal.Zero, fmt.Errorf("%w: %s < %s", ErrInsufficientPayoff, making, data.MinPayoff)
	}
	if making.GreaterThan(remainingMakingAmount) {
		making = remainingMakingAmount
	}
	return making, nil
}

// TakingAmount is the inverse conversion. It deliberately applies neither
// the minimum-payoff floor nor the remaining-amount cap; the two getters
// are independently specified.
func (a *Adapter) TakingAmount(ctx context.Context, makingAmount decimal.Decimal, payload []byte) (decimal.Decimal, error) {
	data, err := Decode(payload)
	if err != nil {
		return decimal.Zero, err
	}
	if err := a.checkStopLoss(ctx, data); err != nil {
		return decimal.Zero, err
	}
	return a.Valuation.TakingAmountFor(ctx, a.Identity, data.OptionID, makingAmount)
}

// Predicate is the failure-absorbing execution gate. Any failure in the
// nested evaluation, including a malformed payload or a stale price, maps
// to false; a predicate must never abort the engine's larger transaction.
func (a *Adapter) Predicate(ctx context.Context, payload []byte) bool {
	data, err := Decode(payload)
	if err != nil {
		a.debug("predicate rejected payload", err)
		return false
	}
	itm, err := a.Valuation.IsInTheMoney(ctx, data.OptionID)
	if err != nil {
		a.debug("predicate valuation failed", err)
		return false
	}
	if !itm {
		return false
	}
	if !data.EnforceStopLoss {
		return true
	}
	ok, err := a.StopLoss.Predicate(ctx, data.StopLossID)
	if err != nil {
		a.debug("predicate stop-loss failed", err)
		return false
	}
	return ok
}

// TimePredicate reports whether the order is still within its validity
// window.
func (a *Adapter) TimePredicate(expiry time.Time) bool {
	return time.Now().Before(expiry)
}

// CombinedPredicate is time AND in-the-money AND stop-loss, short-circuit
// in that order, with the same failure-absorbing behavior as Predicate.
func (a *Adapter) CombinedPredicate(ctx context.Context, optionID, stopLossID string, expiry time.Time) bool {
	if !a.TimePredicate(expiry) {
		return false
	}
	itm, err := a.Valuation.IsInTheMoney(ctx, optionID)
	if err != nil {
		a.debug("combined predicate valuation failed", err)
		return false
	}
	if !itm {
		return false
	}
	ok, err := a.StopLoss.Predicate(ctx, stopLossID)
	if err != nil {
		a.debug("combined predicate stop-loss failed", err)
		return false
	}
	return ok
}

// CurrentStatus reports the live view over the config pair.
func (a *Adapter) CurrentStatus(ctx context.Context, optionID, stopLossID string) (Status, error) {
	intrinsic, price, err := a.Valuation.CurrentIntrinsicValue(ctx, optionID)
	if err != nil {
		return Status{}, err
	}
	ok, err := a.StopLoss.Predicate(ctx, stopLossID)
	if err != nil {
		return Status{}, err
	}
	itm := intrinsic.GreaterThan(valuation.MinValueThreshold)
	return Status{
		CanExecute:     itm && ok,
		CurrentPrice:   price,
		IntrinsicValue: intrinsic,
		StopLossOk:     ok,
	}, nil
}

func (a *Adapter) checkStopLoss(ctx context.Context, data ExtraData) error {
	if !data.EnforceStopLoss {
		return nil
	}
	ok, err := a.StopLoss.Predicate(ctx, data.StopLossID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStopLossTriggered
	}
	return nil
}

func (a *Adapter) debug(msg string, err error) {
	if a.Logger != nil {
		a.Logger.Debug(msg, zap.Error(err))
	}
}
