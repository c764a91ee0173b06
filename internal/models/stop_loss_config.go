package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StopLossConfig holds the trigger parameters for one protected position.
// StopLossPrice is an 8-decimal fixed-point USD integer. IsLowerBound true
// means the trigger fires when price falls to or below the threshold.
type StopLossConfig struct {
	ID            string          `gorm:"primaryKey;type:varchar(66)" json:"id"`
	StopLossPrice decimal.Decimal `gorm:"type:numeric(30,0);not null" json:"stop_loss_price"`
	MaxLossBps    int64           `gorm:"not null" json:"max_loss_bps"`
	TimeWindowSec int64           `gorm:"not null" json:"time_window_sec"`
	FeedID        string          `gorm:"type:varchar(100);not null" json:"feed_id"`
	IsLowerBound  bool            `gorm:"not null" json:"is_lower_bound"`
	IsActive      bool            `gorm:"not null;default:true;index" json:"is_active"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (StopLossConfig) TableName() string {
	return "stop_loss_configs"
}
