package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionConfig holds the valuation parameters for one protected option.
// StrikePrice is an 8-decimal fixed-point USD integer; Premium is an
// 18-decimal fixed-point rate applied when the option is out of the money.
type OptionConfig struct {
	ID          string          `gorm:"primaryKey;type:varchar(66)" json:"id"`
	IsCall      bool            `gorm:"not null" json:"is_call"`
	StrikePrice decimal.Decimal `gorm:"type:numeric(30,0);not null" json:"strike_price"`
	Premium     decimal.Decimal `gorm:"type:numeric(40,0);not null;default:0" json:"premium"`
	Expiration  time.Time       `gorm:"type:timestamptz;not null" json:"expiration"`
	FeedID      string          `gorm:"type:varchar(100);not null" json:"feed_id"`
	Multiplier  int64           `gorm:"not null;default:1" json:"multiplier"`
	IsActive    bool            `gorm:"not null;default:true;index" json:"is_active"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (OptionConfig) TableName() string {
	return "option_configs"
}
