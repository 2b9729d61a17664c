package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexusedu/credit-service/internal/infrastructure/redis"
	"github.com/nexusedu/credit-service/internal/models"
	"github.com/segmentio/kafka-go"
)

// CreditApplier is the slice of the wallet engine the payment consumer
// needs. Credits are applied only after the gateway has confirmed the
// purchase, so the consumer never has to roll anything back.
type CreditApplier interface {
	Credit(ctx context.Context, accountID string, amount int64, toolID, description, gatewayRef string) (*models.Transaction, error)
}

// Consumer reads payment confirmation events from the gateway topic and
// applies the corresponding wallet credits.
type Consumer struct {
	reader *kafka.Reader
	wallet CreditApplier
	redis  redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, wallet CreditApplier, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		wallet: wallet,
		redis:  redisClient,
	}
}

type paymentEvent struct {
	EventType        string `json:"event_type"`
	AccountID        string `json:"account_id"`
	Amount           int64  `json:"amount"`
	ToolID           string `json:"tool_id"`
	Description      string `json:"description"`
	GatewayReference string `json:"gateway_reference"`
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		var event paymentEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal payment event", "error", err)
			continue
		}
		if event.EventType != "payment_confirmed" {
			continue
		}
		if event.AccountID == "" || event.Amount <= 0 || event.GatewayReference == "" {
			slog.Error("malformed payment event dropped", "account_id", event.AccountID, "gateway_reference", event.GatewayReference)
			continue
		}

		// Gateway retries deliver the same confirmation more than once.
		dedupeKey := fmt.Sprintf("gateway:%s", event.GatewayReference)
		ok, err := c.redis.SetNX(ctx, dedupeKey, "processed", 24*time.Hour)
		if err != nil {
			slog.Error("failed to set gateway dedupe key", "key", dedupeKey, "error", err)
		} else if !ok {
			slog.Warn("payment confirmation already processed", "gateway_reference", event.GatewayReference)
			continue
		}

		toolID := event.ToolID
		if toolID == "" {
			toolID = models.ToolGlobal
		}
		description := event.Description
		if description == "" {
			description = fmt.Sprintf("credit purchase %s", event.GatewayReference)
		}

		if _, err := c.wallet.Credit(ctx, event.AccountID, event.Amount, toolID, description, event.GatewayReference); err != nil {
			slog.Error("failed to apply confirmed payment", "account_id", event.AccountID, "gateway_reference", event.GatewayReference, "error", err)
			c.redis.Del(ctx, dedupeKey)
			continue
		}

		slog.Info("payment credited", "account_id", event.AccountID, "amount", event.Amount, "gateway_reference", event.GatewayReference)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
