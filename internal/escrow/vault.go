package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"optionguard/internal/models"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	ErrReentrantCall      = errors.New("position operation already in flight")
	ErrInsufficientEscrow = errors.New("insufficient escrowed balance")
	ErrInvalidAmount      = errors.New("escrow amount must be positive")
)

// LedgerStore persists the append-only movement journal. Balances are
// derived state; the journal is the source of truth for audits.
type LedgerStore interface {
	AppendEscrowEntry(ctx context.Context, entry *models.EscrowEntry) error
	SumEscrowByPosition(ctx context.Context, positionID string) (decimal.Decimal, error)
}

// Vault is the sole custodian of maker collateral between position creation
// and settlement. Deposit and Withdraw are the only two balance-changing
// operations; everything else is bookkeeping.
type Vault struct {
	Store  LedgerStore
	Logger *zap.Logger

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	inFlight map[string]bool
}

func NewVault(store LedgerStore, logger *zap.Logger) *Vault {
	return &Vault{
		Store:    store,
		Logger:   logger,
		balances: map[string]decimal.Decimal{},
		inFlight: map[string]bool{},
	}
}

// Acquire marks the position as having a mutating operation in flight and
// returns the release func. A second Acquire before release fails with
// ErrReentrantCall; this is the guard that blocks reentrant double-spends.
func (v *Vault) Acquire(positionID string) (func(), error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.inFlight[positionID] {
		return nil, fmt.Errorf("%w: %s", ErrReentrantCall, positionID)
	}
	v.inFlight[positionID] = true
	return func() {
		v.mu.Lock()
		delete(v.inFlight, positionID)
		v.mu.Unlock()
	}, nil
}

// Deposit moves amount of asset from account into escrow for positionID.
func (v *Vault) Deposit(ctx context.Context, positionID, asset string, account common.Address, amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	entry := &models.EscrowEntry{
		PositionID: positionID,
		Asset:      asset,
		Account:    account.Hex(),
		Direction:  DirectionIn,
		Amount:     amount,
		Reason:     reason,
	}
	if err := v.Store.AppendEscrowEntry(ctx, entry); err != nil {
		return err
	}
	v.mu.Lock()
	v.balances[positionID] = v.balances[positionID].Add(amount)
	v.mu.Unlock()
	if v.Logger != nil {
		v.Logger.Info("escrow deposit",
			zap.String("position_id", positionID),
			zap.String("asset", asset),
			zap.String("amount", amount.String()),
			zap.String("reason", reason),
		)
	}
	return nil
}

// Withdraw moves amount of asset out of escrow to account. Fails without
// any state change when the position's balance cannot cover it.
func (v *Vault) Withdraw(ctx context.Context, positionID, asset string, account common.Address, amount decimal.Decimal, reason string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	bal := v.balances[positionID]
	if bal.LessThan(amount) {
		v.mu.Unlock()
		return fmt.Errorf("%w: position %s holds %s, want %s", ErrInsufficientEscrow, positionID, bal, amount)
	}
	v.balances[positionID] = bal.Sub(amount)
	v.mu.Unlock()

	entry := &models.EscrowEntry{
		PositionID: positionID,
		Asset:      asset,
		Account:    account.Hex(),
		Direction:  DirectionOut,
		Amount:     amount,
		Reason:     reason,
	}
	if err := v.Store.AppendEscrowEntry(ctx, entry); err != nil {
		// Roll the balance back so a journal write failure leaves no
		// partial state.
		v.mu.Lock()
		v.balances[positionID] = v.balances[positionID].Add(amount)
		v.mu.Unlock()
		return err
	}
	if v.Logger != nil {
		v.Logger.Info("escrow withdrawal",
			zap.String("position_id", positionID),
			zap.String("asset", asset),
			zap.String("account", account.Hex()),
			zap.String("amount", amount.String()),
			zap.String("reason", reason),
		)
	}
	return nil
}

// Balance reports the current escrowed amount for the position.
func (v *Vault) Balance(positionID string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[positionID]
}

// Recover journals an out-movement not tied to any position, used for
// owner-driven remediation of stuck assets. It bypasses position balances
// on purpose: the funds it moves were never booked to one.
func (v *Vault) Recover(ctx context.Context, asset string, account common.Address, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	entry := &models.EscrowEntry{
		PositionID: "",
		Asset:      asset,
		Account:    account.Hex(),
		Direction:  DirectionOut,
		Amount:     amount,
		Reason:     "emergency_recover",
	}
	if err := v.Store.AppendEscrowEntry(ctx, entry); err != nil {
		return err
	}
	if v.Logger != nil {
		v.Logger.Warn("emergency recovery",
			zap.String("asset", asset),
			zap.String("account", account.Hex()),
			zap.String("amount", amount.String()),
		)
	}
	return nil
}

// Restore seeds the in-memory balance from the persisted journal, used at
// startup to rebuild custody state for still-active positions.
func (v *Vault) Restore(ctx context.Context, positionID string) error {
	bal, err := v.Store.SumEscrowByPosition(ctx, positionID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.balances[positionID] = bal
	v.mu.Unlock()
	return nil
}
