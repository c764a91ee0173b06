package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowEntry journals every collateral movement through the vault.
// Direction is "in" (deposit into escrow) or "out" (release/refund).
type EscrowEntry struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PositionID string          `gorm:"type:varchar(66);not null;index" json:"position_id"`
	Asset      string          `gorm:"type:varchar(42);not null;index" json:"asset"`
	Account    string          `gorm:"type:varchar(42);not null" json:"account"`
	Direction  string          `gorm:"type:varchar(4);not null" json:"direction"`
	Amount     decimal.Decimal `gorm:"type:numeric(40,0);not null" json:"amount"`
	Reason     string          `gorm:"type:varchar(20);not null" json:"reason"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (EscrowEntry) TableName() string {
	return "escrow_entries"
}
