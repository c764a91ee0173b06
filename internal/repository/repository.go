package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"optionguard/internal/models"
)

// Repository is the persistence surface shared by the engines, the
// orchestrator, the escrow vault, the oracle collectors, and the HTTP
// handlers. Engines consume narrow slices of it through their own
// interfaces; this is the union the gorm store implements.
type Repository interface {
	// Valuation engine configs.
	GetOptionConfig(ctx context.Context, id string) (*models.OptionConfig, error)
	SaveOptionConfig(ctx context.Context, item *models.OptionConfig) error

	// Stop-loss engine configs.
	GetStopLossConfig(ctx context.Context, id string) (*models.StopLossConfig, error)
	SaveStopLossConfig(ctx context.Context, item *models.StopLossConfig) error

	// Positions.
	GetProtectedOption(ctx context.Context, id string) (*models.ProtectedOption, error)
	SaveProtectedOption(ctx context.Context, item *models.ProtectedOption) error
	ListProtectedOptionsByMaker(ctx context.Context, maker string) ([]models.ProtectedOption, error)
	ListActiveProtectedOptions(ctx context.Context) ([]models.ProtectedOption, error)
	ListExpiredActiveProtectedOptions(ctx context.Context, limit int) ([]models.ProtectedOption, error)

	// Escrow journal.
	AppendEscrowEntry(ctx context.Context, entry *models.EscrowEntry) error
	SumEscrowByPosition(ctx context.Context, positionID string) (decimal.Decimal, error)
	ListEscrowEntriesByPosition(ctx context.Context, positionID string) ([]models.EscrowEntry, error)

	// Lifecycle event journal.
	AppendPositionEvent(ctx context.Context, event *models.PositionEvent) error
	ListPositionEvents(ctx context.Context, positionID string, limit int) ([]models.PositionEvent, error)

	// Oracle price cache.
	GetOraclePrice(ctx context.Context, feedID string) (*models.OraclePrice, error)
	UpsertOraclePrice(ctx context.Context, item *models.OraclePrice) error
	ListOraclePrices(ctx context.Context) ([]models.OraclePrice, error)
}
