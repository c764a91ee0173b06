package models

import (
	"time"

	"gorm.io/datatypes"
)

// PositionEvent is the observable state-transition journal. Payload carries
// the event-specific fields (ids, amounts, counterparty, cancel reason).
type PositionEvent struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PositionID string         `gorm:"type:varchar(66);index" json:"position_id"`
	EventType  string         `gorm:"type:varchar(40);not null;index" json:"event_type"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (PositionEvent) TableName() string {
	return "position_events"
}
