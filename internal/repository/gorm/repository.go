package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"optionguard/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- option configs ---------------------------------------------------------

func (s *Store) GetOptionConfig(ctx context.Context, id string) (*models.OptionConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OptionConfig
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveOptionConfig(ctx context.Context, item *models.OptionConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_call",
			"strike_price",
			"premium",
			"expiration",
			"feed_id",
			"multiplier",
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- stop-loss configs ------------------------------------------------------

func (s *Store) GetStopLossConfig(ctx context.Context, id string) (*models.StopLossConfig, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.StopLossConfig
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveStopLossConfig(ctx context.Context, item *models.StopLossConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stop_loss_price",
			"max_loss_bps",
			"time_window_sec",
			"feed_id",
			"is_lower_bound",
			"is_active",
			"updated_at",
		}),
	}).Create(item).Error
}

// --- positions --------------------------------------------------------------

func (s *Store) GetProtectedOption(ctx context.Context, id string) (*models.ProtectedOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ProtectedOption
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveProtectedOption(ctx context.Context, item *models.ProtectedOption) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active",
			"executed",
			"executed_by",
			"cancel_reason",
			"settled_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListProtectedOptionsByMaker(ctx context.Context, maker string) ([]models.ProtectedOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	maker = strings.TrimSpace(maker)
	if maker == "" {
		return nil, nil
	}
	var items []models.ProtectedOption
	if err := s.db.WithContext(ctx).
		Where("maker = ?", maker).
		Order("created_at desc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveProtectedOptions(ctx context.Context) ([]models.ProtectedOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProtectedOption
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListExpiredActiveProtectedOptions reports positions past expiry that are
// still holding escrow. Nothing sweeps these automatically; the report
// exists so operators can see collateral waiting on a cancel call.
func (s *Store) ListExpiredActiveProtectedOptions(ctx context.Context, limit int) ([]models.ProtectedOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var items []models.ProtectedOption
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("expires_at <= ?", time.Now().UTC()).
		Order("expires_at asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- escrow journal ---------------------------------------------------------

func (s *Store) AppendEscrowEntry(ctx context.Context, entry *models.EscrowEntry) error {
	if s == nil || s.db == nil || entry == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) SumEscrowByPosition(ctx context.Context, positionID string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.EscrowEntry{}).
		Select("SUM(CASE WHEN direction = 'in' THEN amount ELSE -amount END)").
		Where("position_id = ?", positionID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func (s *Store) ListEscrowEntriesByPosition(ctx context.Context, positionID string) ([]models.EscrowEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EscrowEntry
	if err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- event journal ----------------------------------------------------------

func (s *Store) AppendPositionEvent(ctx context.Context, event *models.PositionEvent) error {
	if s == nil || s.db == nil || event == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *Store) ListPositionEvents(ctx context.Context, positionID string, limit int) ([]models.PositionEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var items []models.PositionEvent
	if err := s.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- oracle price cache -----------------------------------------------------

func (s *Store) GetOraclePrice(ctx context.Context, feedID string) (*models.OraclePrice, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OraclePrice
	err := s.db.WithContext(ctx).Where("feed_id = ?", feedID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertOraclePrice(ctx context.Context, item *models.OraclePrice) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.FeedID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "feed_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price",
			"decimals",
			"source",
			"observed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListOraclePrices(ctx context.Context) ([]models.OraclePrice, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OraclePrice
	if err := s.db.WithContext(ctx).
		Model(&models.OraclePrice{}).
		Order("feed_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
