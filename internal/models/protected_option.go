package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProtectedOption is the orchestrator's position record. Amounts are token
// base-unit integers. The position stays queryable after settlement; IsActive
// flips to false exactly once, on execute or cancel.
type ProtectedOption struct {
	ID         string `gorm:"primaryKey;type:varchar(66)" json:"id"`
	OptionID   string `gorm:"type:varchar(66);not null;uniqueIndex" json:"option_id"`
	StopLossID string `gorm:"type:varchar(66);not null;uniqueIndex" json:"stop_loss_id"`

	Maker      string `gorm:"type:varchar(42);not null;index" json:"maker"`
	MakerAsset string `gorm:"type:varchar(42);not null" json:"maker_asset"`
	TakerAsset string `gorm:"type:varchar(42);not null" json:"taker_asset"`

	MakingAmount    decimal.Decimal `gorm:"type:numeric(40,0);not null" json:"making_amount"`
	MinTakingAmount decimal.Decimal `gorm:"type:numeric(40,0);not null" json:"min_taking_amount"`

	IsCall   bool `gorm:"not null" json:"is_call"`
	IsActive bool `gorm:"not null;default:true;index" json:"is_active"`
	Executed bool `gorm:"not null;default:false" json:"executed"`

	ExecutedBy   *string    `gorm:"type:varchar(42)" json:"executed_by,omitempty"`
	CancelReason *string    `gorm:"type:varchar(20)" json:"cancel_reason,omitempty"`
	SettledAt    *time.Time `gorm:"type:timestamptz" json:"settled_at,omitempty"`

	ExpiresAt time.Time `gorm:"type:timestamptz;not null;index" json:"expires_at"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (ProtectedOption) TableName() string {
	return "protected_options"
}
