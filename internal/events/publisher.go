// Package events publishes purchase lifecycle events for downstream consumers
// such as entitlement and email delivery.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"go.uber.org/zap"
)

const TopicPurchaseCompleted = "purchase.completed"

type PurchaseCompleted struct {
	PurchaseID     string    `json:"purchase_id"`
	UserID         string    `json:"user_id"`
	GameID         string    `json:"game_id"`
	Gateway        string    `json:"gateway"`
	GatewayOrderID string    `json:"gateway_order_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PurchaseCompletedFrom builds the event for a completed record.
func PurchaseCompletedFrom(record *purchasedomain.PurchaseRecord) PurchaseCompleted {
	return PurchaseCompleted{
		PurchaseID:     record.ID.String(),
		UserID:         record.UserID,
		GameID:         record.GameID,
		Gateway:        record.PaymentGateway,
		GatewayOrderID: record.GatewayOrderID,
		Amount:         record.Amount,
		Currency:       record.Currency,
		CompletedAt:    record.UpdatedAt,
	}
}

type Publisher interface {
	PublishPurchaseCompleted(ctx context.Context, event PurchaseCompleted) error
}

type NopPublisher struct{}

func (NopPublisher) PublishPurchaseCompleted(ctx context.Context, event PurchaseCompleted) error {
	return nil
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *KafkaPublisher {
	if topic == "" {
		topic = TopicPurchaseCompleted
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.Named("events.kafka"),
	}
}

// PublishPurchaseCompleted sends the event keyed by user id so that one
// user's events stay ordered within a partition.
func (p *KafkaPublisher) PublishPurchaseCompleted(ctx context.Context, event PurchaseCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(TopicPurchaseCompleted)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}

	p.log.Debug("published purchase.completed",
		zap.String("purchase_id", event.PurchaseID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
