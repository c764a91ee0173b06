package oracle

import (
	"context"

	"optionguard/internal/models"
)

// PriceStore is the slice of the repository the oracle package needs.
type PriceStore interface {
	GetOraclePrice(ctx context.Context, feedID string) (*models.OraclePrice, error)
	UpsertOraclePrice(ctx context.Context, item *models.OraclePrice) error
}

// StoreFeed reads the latest observation from the price table. The pollers
// below write the table; this type is what the engines consume.
type StoreFeed struct {
	FeedID string
	Store  PriceStore
}

func (f *StoreFeed) LatestPrice(ctx context.Context) (Observation, error) {
	row, err := f.Store.GetOraclePrice(ctx, f.FeedID)
	if err != nil {
		return Observation{}, err
	}
	if row == nil {
		return Observation{}, ErrNoPrice
	}
	return Observation{
		Price:     row.Price,
		Decimals:  row.Decimals,
		UpdatedAt: row.ObservedAt,
	}, nil
}
