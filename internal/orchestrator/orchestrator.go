package orchestrator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optionguard/internal/auth"
	"optionguard/internal/escrow"
	"optionguard/internal/models"
	"optionguard/internal/stoploss"
	"optionguard/internal/valuation"
)

const (
	MinDuration = time.Hour
	MaxDuration = 30 * 24 * time.Hour
)

// canExecute reason strings. Callers and the UI key off these exact values.
const (
	ReasonNotActive       = "Option not active"
	ReasonExpired         = "Option expired"
	ReasonAlreadyExecuted = "Option already executed"
	ReasonStopLossHit     = "Stop-loss triggered"
	ReasonOutOfTheMoney   = "Option out of the money"
	ReasonCanExecute      = "Can execute"
)

// cancel reason tags recorded on the position.
const (
	CancelReasonExpired   = "expired"
	CancelReasonStopLoss  = "stop-loss"
	CancelReasonRequested = "cancelled"
)

var (
	ErrInvalidDuration    = errors.New("position duration out of bounds")
	ErrInvalidPosition    = errors.New("invalid position parameters")
	ErrNotActive          = errors.New("position is not active")
	ErrExpired            = errors.New("position has expired")
	ErrInsufficientAmount = errors.New("taking amount below minimum")
	ErrStopLossTriggered  = errors.New("stop-loss triggered")
)

type PositionStore interface {
	GetProtectedOption(ctx context.Context, id string) (*models.ProtectedOption, error)
	SaveProtectedOption(ctx context.Context, item *models.ProtectedOption) error
	ListProtectedOptionsByMaker(ctx context.Context, maker string) ([]models.ProtectedOption, error)
	ListActiveProtectedOptions(ctx context.Context) ([]models.ProtectedOption, error)
}

type EventSink interface {
	Emit(ctx context.Context, positionID, eventType string, payload map[string]any)
}

// Orchestrator owns the position lifecycle: create escrows collateral and
// registers configs in both engines, execute settles against a counterparty,
// cancel returns collateral. Exactly one of execute or cancel settles a
// position; both run under the vault's per-position guard.
type Orchestrator struct {
	Access    *auth.AccessList
	Identity  common.Address // the caller identity this service presents to the engines
	Valuation *valuation.Engine
	StopLoss  *stoploss.Engine
	Vault     *escrow.Vault
	Store     PositionStore
	Events    EventSink
	Logger    *zap.Logger

	counter atomic.Uint64
}

type CreateParams struct {
	IsCall          bool
	StrikePrice     decimal.Decimal
	Premium         decimal.Decimal
	Duration        time.Duration
	MakerAsset      string
	TakerAsset      string
	MakingAmount    decimal.Decimal
	MinTakingAmount decimal.Decimal
	StopLossPrice   decimal.Decimal
	MaxLossBps      int64
	FeedID          string
}

// PositionStatus is the live view over both engines.
type PositionStatus struct {
	InTheMoney     bool            `json:"in_the_money"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	IntrinsicValue decimal.Decimal `json:"intrinsic_value"`
	StopLossOk     bool            `json:"stop_loss_ok"`
}

// Create validates parameters, registers configs in both engines, escrows
// the maker's collateral, and persists the position. Any failure after the
// escrow pull refunds the maker and deactivates the configs so no partial
// state survives.
func (o *Orchestrator) Create(ctx context.Context, maker common.Address, p CreateParams) (string, error) {
	if p.Duration < MinDuration || p.Duration > MaxDuration {
		return "", fmt.Errorf("%w: %s", ErrInvalidDuration, p.Duration)
	}
	if p.MakingAmount.LessThanOrEqual(decimal.Zero) || p.MinTakingAmount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: amounts must be positive", ErrInvalidPosition)
	}
	if p.MakerAsset == "" || p.TakerAsset == "" {
		return "", fmt.Errorf("%w: assets must be set", ErrInvalidPosition)
	}

	positionID := o.deriveID(maker)
	optionID := deriveChildID(positionID, "option")
	stopLossID := deriveChildID(positionID, "stoploss")

	release, err := o.Vault.Acquire(positionID)
	if err != nil {
		return "", err
	}
	defer release()

	now := time.Now()
	expiresAt := now.Add(p.Duration)

	if err := o.Valuation.SetConfig(ctx, o.Identity, optionID, valuation.SetConfigParams{
		IsCall:      p.IsCall,
		StrikePrice: p.StrikePrice,
		Premium:     p.Premium,
		Expiration:  expiresAt,
		FeedID:      p.FeedID,
		Multiplier:  1,
	}); err != nil {
		return "", err
	}

	// Bound direction is fixed by convention: a call is protected against
	// price falling, a put against price rising.
	if err := o.StopLoss.Configure(ctx, o.Identity, stopLossID, stoploss.ConfigureParams{
		StopLossPrice: p.StopLossPrice,
		MaxLossBps:    p.MaxLossBps,
		TimeWindow:    p.Duration,
		FeedID:        p.FeedID,
		IsLowerBound:  p.IsCall,
	}); err != nil {
		o.deactivateConfigs(ctx, optionID, stopLossID)
		return "", err
	}

	if err := o.Vault.Deposit(ctx, positionID, p.MakerAsset, maker, p.MakingAmount, "create"); err != nil {
		o.deactivateConfigs(ctx, optionID, stopLossID)
		return "", err
	}

	item := &models.ProtectedOption{
		ID:              positionID,
		OptionID:        optionID,
		StopLossID:      stopLossID,
		Maker:           maker.Hex(),
		MakerAsset:      p.MakerAsset,
		TakerAsset:      p.TakerAsset,
		MakingAmount:    p.MakingAmount,
		MinTakingAmount: p.MinTakingAmount,
		IsCall:          p.IsCall,
		IsActive:        true,
		ExpiresAt:       expiresAt,
	}
	if err := o.Store.SaveProtectedOption(ctx, item); err != nil {
		if refundErr := o.Vault.Withdraw(ctx, positionID, p.MakerAsset, maker, p.MakingAmount, "create_rollback"); refundErr != nil && o.Logger != nil {
			o.Logger.Error("create rollback refund failed",
				zap.String("position_id", positionID),
				zap.Error(refundErr),
			)
		}
		o.deactivateConfigs(ctx, optionID, stopLossID)
		return "", err
	}

	if o.Events != nil {
		o.Events.Emit(ctx, positionID, "position_created", map[string]any{
			"option_id":    optionID,
			"stop_loss_id": stopLossID,
			"maker":        maker.Hex(),
			"is_call":      p.IsCall,
		})
	}
	if o.Logger != nil {
		o.Logger.Info("position created",
			zap.String("position_id", positionID),
			zap.String("maker", maker.Hex()),
			zap.Bool("is_call", p.IsCall),
			zap.String("making_amount", p.MakingAmount.String()),
		)
	}
	return positionID, nil
}

// Execute settles the position against the caller. The collateral paid out
// is the valuation engine's conversion of takingAmount, capped at the
// remaining escrowed balance. Returns the amount paid to the executor.
func (o *Orchestrator) Execute(ctx context.Context, executor common.Address, positionID string, takingAmount decimal.Decimal) (decimal.Decimal, error) {
	release, err := o.Vault.Acquire(positionID)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	item, err := o.activePosition(ctx, positionID)
	if err != nil {
		return decimal.Zero, err
	}
	if !time.Now().Before(item.ExpiresAt) {
		return decimal.Zero, ErrExpired
	}
	if takingAmount.LessThan(item.MinTakingAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s < %s", ErrInsufficientAmount, takingAmount, item.MinTakingAmount)
	}

	safe, err := o.StopLoss.Predicate(ctx, item.StopLossID)
	if err != nil {
		return decimal.Zero, err
	}
	if !safe {
		return decimal.Zero, ErrStopLossTriggered
	}

	itm, err := o.Valuation.IsInTheMoney(ctx, item.OptionID)
	if err != nil {
		return decimal.Zero, err
	}
	if !itm {
		return decimal.Zero, fmt.Errorf("%w: option out of the money", ErrNotActive)
	}

	making, err := o.Valuation.MakingAmountFor(ctx, o.Identity, item.OptionID, takingAmount)
	if err != nil {
		return decimal.Zero, err
	}
	if remaining := o.Vault.Balance(positionID); making.GreaterThan(remaining) {
		making = remaining
	}

	if err := o.Vault.Withdraw(ctx, positionID, item.MakerAsset, executor, making, "execute"); err != nil {
		return decimal.Zero, err
	}

	now := time.Now()
	executedBy := executor.Hex()
	item.IsActive = false
	item.Executed = true
	item.ExecutedBy = &executedBy
	item.SettledAt = &now
	if err := o.Store.SaveProtectedOption(ctx, item); err != nil {
		if refundErr := o.Vault.Deposit(ctx, positionID, item.MakerAsset, executor, making, "execute_rollback"); refundErr != nil && o.Logger != nil {
			o.Logger.Error("execute rollback failed",
				zap.String("position_id", positionID),
				zap.Error(refundErr),
			)
		}
		return decimal.Zero, err
	}

	o.deactivateConfigs(ctx, item.OptionID, item.StopLossID)

	if o.Events != nil {
		o.Events.Emit(ctx, positionID, "position_executed", map[string]any{
			"executor":      executedBy,
			"taking_amount": takingAmount.String(),
			"making_amount": making.String(),
		})
	}
	if o.Logger != nil {
		o.Logger.Info("position executed",
			zap.String("position_id", positionID),
			zap.String("executor", executedBy),
			zap.String("making_amount", making.String()),
		)
	}
	return making, nil
}

// Cancel settles the position by returning all escrowed collateral to the
// maker. Authorization is disjunctive: the maker may always cancel, anyone
// may cancel an expired position, and anyone may cancel once the stop-loss
// has tripped. When several grounds hold at once the recorded reason
// prefers expiry over stop-loss over maker choice.
func (o *Orchestrator) Cancel(ctx context.Context, caller common.Address, positionID string) error {
	release, err := o.Vault.Acquire(positionID)
	if err != nil {
		return err
	}
	defer release()

	item, err := o.activePosition(ctx, positionID)
	if err != nil {
		return err
	}

	reason, err := o.cancelReason(ctx, caller, item)
	if err != nil {
		return err
	}

	maker := common.HexToAddress(item.Maker)
	if bal := o.Vault.Balance(positionID); bal.GreaterThan(decimal.Zero) {
		if err := o.Vault.Withdraw(ctx, positionID, item.MakerAsset, maker, bal, "cancel"); err != nil {
			return err
		}
	}

	now := time.Now()
	item.IsActive = false
	item.CancelReason = &reason
	item.SettledAt = &now
	if err := o.Store.SaveProtectedOption(ctx, item); err != nil {
		if refundErr := o.Vault.Deposit(ctx, positionID, item.MakerAsset, maker, item.MakingAmount, "cancel_rollback"); refundErr != nil && o.Logger != nil {
			o.Logger.Error("cancel rollback failed",
				zap.String("position_id", positionID),
				zap.Error(refundErr),
			)
		}
		return err
	}

	o.deactivateConfigs(ctx, item.OptionID, item.StopLossID)

	if o.Events != nil {
		o.Events.Emit(ctx, positionID, "position_cancelled", map[string]any{
			"caller": caller.Hex(),
			"reason": reason,
		})
	}
	if o.Logger != nil {
		o.Logger.Info("position cancelled",
			zap.String("position_id", positionID),
			zap.String("reason", reason),
		)
	}
	return nil
}

// cancelReason authorizes the cancellation and derives its reason tag.
// Expiry is checked before the stop-loss so the tag stays deterministic
// when both hold.
func (o *Orchestrator) cancelReason(ctx context.Context, caller common.Address, item *models.ProtectedOption) (string, error) {
	if !time.Now().Before(item.ExpiresAt) {
		return CancelReasonExpired, nil
	}
	safe, err := o.StopLoss.Predicate(ctx, item.StopLossID)
	if err != nil {
		return "", err
	}
	if !safe {
		return CancelReasonStopLoss, nil
	}
	if caller == common.HexToAddress(item.Maker) {
		return CancelReasonRequested, nil
	}
	return "", auth.ErrUnauthorized
}

// CanExecute runs the same checks Execute performs, read-only, and reports
// the first failing one. The check order is part of the contract.
func (o *Orchestrator) CanExecute(ctx context.Context, positionID string) (bool, string, error) {
	item, err := o.Store.GetProtectedOption(ctx, positionID)
	if err != nil {
		return false, "", err
	}
	if item == nil || (!item.IsActive && !item.Executed) {
		return false, ReasonNotActive, nil
	}
	if !time.Now().Before(item.ExpiresAt) {
		return false, ReasonExpired, nil
	}
	if item.Executed {
		return false, ReasonAlreadyExecuted, nil
	}
	safe, err := o.StopLoss.Predicate(ctx, item.StopLossID)
	if err != nil {
		return false, "", err
	}
	if !safe {
		return false, ReasonStopLossHit, nil
	}
	itm, err := o.Valuation.IsInTheMoney(ctx, item.OptionID)
	if err != nil {
		return false, "", err
	}
	if !itm {
		return false, ReasonOutOfTheMoney, nil
	}
	return true, ReasonCanExecute, nil
}

// Status reports the live engine view. An inactive position yields the
// zero status rather than an error.
func (o *Orchestrator) Status(ctx context.Context, positionID string) (PositionStatus, error) {
	item, err := o.Store.GetProtectedOption(ctx, positionID)
	if err != nil {
		return PositionStatus{}, err
	}
	if item == nil || !item.IsActive {
		return PositionStatus{}, nil
	}
	intrinsic, price, err := o.Valuation.CurrentIntrinsicValue(ctx, item.OptionID)
	if err != nil {
		return PositionStatus{}, err
	}
	safe, err := o.StopLoss.Predicate(ctx, item.StopLossID)
	if err != nil {
		return PositionStatus{}, err
	}
	return PositionStatus{
		InTheMoney:     intrinsic.GreaterThan(valuation.MinValueThreshold),
		CurrentPrice:   price,
		IntrinsicValue: intrinsic,
		StopLossOk:     safe,
	}, nil
}

func (o *Orchestrator) GetPosition(ctx context.Context, positionID string) (*models.ProtectedOption, error) {
	return o.Store.GetProtectedOption(ctx, positionID)
}

func (o *Orchestrator) GetUserPositions(ctx context.Context, maker common.Address) ([]models.ProtectedOption, error) {
	return o.Store.ListProtectedOptionsByMaker(ctx, maker.Hex())
}

// EmergencyRecover journals an owner-only remediation transfer of assets
// that ended up outside any position's escrow.
func (o *Orchestrator) EmergencyRecover(ctx context.Context, caller common.Address, asset string, amount decimal.Decimal) error {
	if caller != o.Access.Owner() {
		return auth.ErrUnauthorized
	}
	return o.Vault.Recover(ctx, asset, caller, amount)
}

func (o *Orchestrator) activePosition(ctx context.Context, positionID string) (*models.ProtectedOption, error) {
	item, err := o.Store.GetProtectedOption(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.IsActive || item.Executed {
		return nil, ErrNotActive
	}
	return item, nil
}

func (o *Orchestrator) deactivateConfigs(ctx context.Context, optionID, stopLossID string) {
	if err := o.Valuation.Deactivate(ctx, o.Identity, optionID); err != nil && o.Logger != nil {
		o.Logger.Warn("option config deactivation failed",
			zap.String("option_id", optionID),
			zap.Error(err),
		)
	}
	if err := o.StopLoss.Deactivate(ctx, o.Identity, stopLossID); err != nil && o.Logger != nil {
		o.Logger.Warn("stop-loss deactivation failed",
			zap.String("stop_loss_id", stopLossID),
			zap.Error(err),
		)
	}
}

// deriveID hashes maker, a nanosecond timestamp, and a process-monotonic
// counter into a fresh position identifier.
func (o *Orchestrator) deriveID(maker common.Address) string {
	var buf [36]byte
	copy(buf[:20], maker.Bytes())
	binary.BigEndian.PutUint64(buf[20:28], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(buf[28:36], o.counter.Add(1))
	return common.BytesToHash(crypto.Keccak256(buf[:])).Hex()
}

func deriveChildID(positionID, kind string) string {
	return common.BytesToHash(crypto.Keccak256([]byte(positionID), []byte(kind))).Hex()
}
