package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"optionguard/internal/models"
)

type Store interface {
	AppendPositionEvent(ctx context.Context, event *models.PositionEvent) error
}

// Journal persists lifecycle events and mirrors them to the log. A journal
// write failure is logged but never fails the operation that emitted it;
// the log line keeps the record in that case.
type Journal struct {
	Store  Store
	Logger *zap.Logger
}

func NewJournal(store Store, logger *zap.Logger) *Journal {
	return &Journal{Store: store, Logger: logger}
}

func (j *Journal) Emit(ctx context.Context, positionID, eventType string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Warn("event payload not serializable",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
		raw = []byte("{}")
	}
	if j.Logger != nil {
		j.Logger.Info("position event",
			zap.String("position_id", positionID),
			zap.String("event_type", eventType),
			zap.ByteString("payload", raw),
		)
	}
	if j.Store == nil {
		return
	}
	event := &models.PositionEvent{
		PositionID: positionID,
		EventType:  eventType,
		Payload:    datatypes.JSON(raw),
	}
	if err := j.Store.AppendPositionEvent(ctx, event); err != nil && j.Logger != nil {
		j.Logger.Warn("event journal write failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
