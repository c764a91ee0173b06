package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the fixed-point scale every feed normalizes to before
// the engines consume it.
const PriceDecimals = 8

var (
	ErrUnknownFeed = errors.New("unknown price feed")
	ErrNoPrice     = errors.New("feed has no observation yet")
)

// Observation is one feed reading. Price is an 8-decimal fixed-point
// integer; UpdatedAt is the feed's own timestamp. Staleness is the
// consumer's responsibility.
type Observation struct {
	Price     decimal.Decimal
	Decimals  int
	UpdatedAt time.Time
}

type PriceFeed interface {
	LatestPrice(ctx context.Context) (Observation, error)
}
