package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	maker  = common.HexToAddress("0x0000000000000000000000000000000000000011")
	taker  = common.HexToAddress("0x0000000000000000000000000000000000000022")
	wei    = func(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
	usdcID = "0x0000000000000000000000000000000000000aaa"
)

func TestDepositWithdrawBalance(t *testing.T) {
	ledger := NewMemoryLedger()
	v := NewVault(ledger, nil)
	ctx := context.Background()

	if err := v.Deposit(ctx, "pos-1", usdcID, maker, wei(1000), "create"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := v.Balance("pos-1"); !got.Equal(wei(1000)) {
		t.Fatalf("balance = %s, want 1000", got)
	}

	if err := v.Withdraw(ctx, "pos-1", usdcID, taker, wei(400), "execute"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := v.Balance("pos-1"); !got.Equal(wei(600)) {
		t.Fatalf("balance = %s, want 600", got)
	}

	if err := v.Withdraw(ctx, "pos-1", usdcID, maker, wei(601), "refund"); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientEscrow", err)
	}
	if got := v.Balance("pos-1"); !got.Equal(wei(600)) {
		t.Fatalf("balance after failed overdraw = %s, want 600", got)
	}

	entries := ledger.Entries()
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(entries))
	}
	if entries[0].Direction != DirectionIn || entries[1].Direction != DirectionOut {
		t.Fatalf("journal directions %s/%s", entries[0].Direction, entries[1].Direction)
	}
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	v := NewVault(NewMemoryLedger(), nil)
	ctx := context.Background()
	if err := v.Deposit(ctx, "pos-1", usdcID, maker, decimal.Zero, "create"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit: got %v, want ErrInvalidAmount", err)
	}
	if err := v.Withdraw(ctx, "pos-1", usdcID, maker, wei(-1), "refund"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative withdraw: got %v, want ErrInvalidAmount", err)
	}
}

func TestAcquireBlocksReentry(t *testing.T) {
	v := NewVault(NewMemoryLedger(), nil)

	release, err := v.Acquire("pos-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := v.Acquire("pos-1"); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("reentrant acquire: got %v, want ErrReentrantCall", err)
	}

	// Other positions are unaffected.
	release2, err := v.Acquire("pos-2")
	if err != nil {
		t.Fatalf("independent acquire: %v", err)
	}
	release2()

	release()
	release3, err := v.Acquire("pos-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release3()
}

func TestWithdrawJournalFailureRollsBack(t *testing.T) {
	ledger := NewMemoryLedger()
	v := NewVault(ledger, nil)
	ctx := context.Background()
	if err := v.Deposit(ctx, "pos-1", usdcID, maker, wei(500), "create"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	dbErr := errors.New("db down")
	ledger.FailWith(dbErr)
	if err := v.Withdraw(ctx, "pos-1", usdcID, taker, wei(500), "execute"); !errors.Is(err, dbErr) {
		t.Fatalf("withdraw with broken journal: got %v", err)
	}
	if got := v.Balance("pos-1"); !got.Equal(wei(500)) {
		t.Fatalf("balance after rollback = %s, want 500", got)
	}
}

func TestRestoreFromJournal(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	v1 := NewVault(ledger, nil)
	if err := v1.Deposit(ctx, "pos-1", usdcID, maker, wei(900), "create"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v1.Withdraw(ctx, "pos-1", usdcID, taker, wei(300), "execute"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// A fresh vault over the same journal rebuilds the balance.
	v2 := NewVault(ledger, nil)
	if err := v2.Restore(ctx, "pos-1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := v2.Balance("pos-1"); !got.Equal(wei(600)) {
		t.Fatalf("restored balance = %s, want 600", got)
	}
}
