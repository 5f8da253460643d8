// Package events publishes executed trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/efreitasn/singlebook/internal/domain"
)

// Publisher delivers executed trades.
type Publisher interface {
	PublishTrades(ctx context.Context, trades []domain.Trade) error
	Close() error
}

// TradeEvent is the wire form of a trade.
type TradeEvent struct {
	TradeID      string    `json:"trade_id"`
	InstrumentID uint32    `json:"instrument_id"`
	BuyerID      uint32    `json:"buyer_id"`
	SellerID     uint32    `json:"seller_id"`
	BuyIntentID  string    `json:"buy_intent_id"`
	SellIntentID string    `json:"sell_intent_id"`
	Price        uint64    `json:"price"`
	Quantity     uint64    `json:"quantity"`
	Aggressor    string    `json:"aggressor"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// NewTradeEvent converts a domain trade to its wire form.
func NewTradeEvent(t domain.Trade) TradeEvent {
	return TradeEvent{
		TradeID:      t.ID,
		InstrumentID: uint32(t.Instrument),
		BuyerID:      uint32(t.Buyer),
		SellerID:     uint32(t.Seller),
		BuyIntentID:  t.BuyIntentID,
		SellIntentID: t.SellIntentID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		Aggressor:    string(t.Aggressor),
		ExecutedAt:   t.ExecutedAt,
	}
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per trade, keyed by instrument so
// every trade of an instrument lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// PublishTrades writes all trades in a single batch.
func (p *KafkaPublisher) PublishTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(trades))
	for i, t := range trades {
		value, err := json.Marshal(NewTradeEvent(t))
		if err != nil {
			return fmt.Errorf("marshal trade %s: %w", t.ID, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(t.Instrument), 10)),
			Value: value,
			Time:  t.ExecutedAt,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d trade events: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs trades instead of shipping them anywhere.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs every trade at info.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// PublishTrades logs each trade.
func (p *LogPublisher) PublishTrades(_ context.Context, trades []domain.Trade) error {
	for _, t := range trades {
		p.logger.Info("trade executed",
			zap.String("trade_id", t.ID),
			zap.Uint32("instrument_id", uint32(t.Instrument)),
			zap.Uint32("buyer_id", uint32(t.Buyer)),
			zap.Uint32("seller_id", uint32(t.Seller)),
			zap.Uint64("price", t.Price),
			zap.Uint64("quantity", t.Quantity),
			zap.String("aggressor", string(t.Aggressor)),
		)
	}
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
