package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticFeed is a settable feed used in tests and dry-run wiring.
type StaticFeed struct {
	mu        sync.Mutex
	price     decimal.Decimal
	updatedAt time.Time
	err       error
}

func NewStaticFeed(price decimal.Decimal, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{price: price, updatedAt: updatedAt}
}

func (f *StaticFeed) Set(price decimal.Decimal, updatedAt time.Time) {
	f.mu.Lock()
	f.price = price
	f.updatedAt = updatedAt
	f.err = nil
	f.mu.Unlock()
}

func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *StaticFeed) LatestPrice(context.Context) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Observation{}, f.err
	}
	return Observation{Price: f.price, Decimals: PriceDecimals, UpdatedAt: f.updatedAt}, nil
}
