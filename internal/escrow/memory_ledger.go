package escrow

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"optionguard/internal/models"
)

// MemoryLedger is an in-process LedgerStore for tests and dry-run wiring.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []models.EscrowEntry
	nextID  uint64
	failErr error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{nextID: 1}
}

// FailWith makes every subsequent append return err; pass nil to clear.
func (l *MemoryLedger) FailWith(err error) {
	l.mu.Lock()
	l.failErr = err
	l.mu.Unlock()
}

func (l *MemoryLedger) AppendEscrowEntry(_ context.Context, entry *models.EscrowEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	entry.ID = l.nextID
	l.nextID++
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *MemoryLedger) SumEscrowByPosition(_ context.Context, positionID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := decimal.Zero
	for _, e := range l.entries {
		if e.PositionID != positionID {
			continue
		}
		if e.Direction == DirectionIn {
			sum = sum.Add(e.Amount)
		} else {
			sum = sum.Sub(e.Amount)
		}
	}
	return sum, nil
}

// Entries returns a copy of the journal for assertions.
func (l *MemoryLedger) Entries() []models.EscrowEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.EscrowEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
