package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"optionguard/internal/models"
)

// PriceStream subscribes to a trade-stream websocket and keeps the feed's
// observation row fresh with lower latency than the REST poller. Both
// writers target the same row; last write wins, which is fine because both
// carry the feed's own timestamp.
type PriceStreamOptions struct {
	URL        string
	FeedID     string
	BackoffMin time.Duration
	BackoffMax time.Duration
	Logger     *zap.Logger
}

type PriceStream struct {
	opts  PriceStreamOptions
	store PriceStore
}

// tradeEvent is the Binance-style trade payload: p is the trade price,
// E the event time in epoch milliseconds.
type tradeEvent struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	EventTime int64  `json:"E"`
}

func NewPriceStream(opts PriceStreamOptions, store PriceStore) *PriceStream {
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &PriceStream{opts: opts, store: store}
}

func (s *PriceStream) Run(ctx context.Context) error {
	if s == nil || s.store == nil {
		return nil
	}
	if strings.TrimSpace(s.opts.URL) == "" {
		return fmt.Errorf("price stream url is empty")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price stream connect failed", zap.String("feed_id", s.opts.FeedID), zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		conn.SetReadLimit(1 << 20)
		if s.opts.Logger != nil {
			s.opts.Logger.Info("price stream connected", zap.String("feed_id", s.opts.FeedID))
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("price stream read failed", zap.String("feed_id", s.opts.FeedID), zap.Error(err))
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *PriceStream) consume(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev tradeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		price, err := normalizePrice(ev.Price)
		if err != nil {
			continue
		}
		observedAt := time.Now().UTC()
		if ev.EventTime > 0 {
			observedAt = time.UnixMilli(ev.EventTime).UTC()
		}
		row := &models.OraclePrice{
			FeedID:     s.opts.FeedID,
			Price:      price,
			Decimals:   PriceDecimals,
			Source:     "ws_stream",
			ObservedAt: observedAt,
		}
		if err := s.store.UpsertOraclePrice(ctx, row); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("price stream upsert failed", zap.String("feed_id", s.opts.FeedID), zap.Error(err))
			}
		}
	}
}

func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
