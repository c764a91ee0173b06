package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OraclePrice is the latest observation for one price feed. Price is an
// 8-decimal fixed-point integer; ObservedAt is the feed's own timestamp,
// which staleness checks compare against, not our row timestamps.
type OraclePrice struct {
	FeedID     string          `gorm:"primaryKey;type:varchar(100)" json:"feed_id"`
	Price      decimal.Decimal `gorm:"type:numeric(30,0);not null" json:"price"`
	Decimals   int             `gorm:"not null;default:8" json:"decimals"`
	Source     string          `gorm:"type:varchar(40)" json:"source"`
	ObservedAt time.Time       `gorm:"type:timestamptz;not null" json:"observed_at"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (OraclePrice) TableName() string {
	return "oracle_prices"
}
