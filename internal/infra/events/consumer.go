package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/domain/cartview"
	"storefront/internal/domain/event"

	kafkaGo "github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkaGo.Message, error)
	Close() error
}

// 注文確定でカートを空にする先（CartUsecase）
type CartClearer interface {
	Clear(ctx context.Context, ownerID string) (cartview.CartView, error)
}

// orders.confirmed を読んでカートを空にする
type OrderConfirmedConsumer struct {
	r     messageReader
	carts CartClearer
	log   *slog.Logger

	// 読み込み失敗の後に待つ時間
	retryDelay time.Duration
}

func NewOrderConfirmedConsumer(brokers []string, topic string, groupID string, carts CartClearer, log *slog.Logger) *OrderConfirmedConsumer {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return newConsumerWithReader(reader, carts, log)
}

func newConsumerWithReader(r messageReader, carts CartClearer, log *slog.Logger) *OrderConfirmedConsumer {
	return &OrderConfirmedConsumer{r: r, carts: carts, log: log, retryDelay: time.Second}
}

// ctxがキャンセルされるまで読む
func (c *OrderConfirmedConsumer) Run(ctx context.Context) {
	defer func() { _ = c.r.Close() }()

	for {
		msg, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer shutting down", "topic", msg.Topic)
				return
			}
			c.log.Error("read message failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		if err := c.Handle(ctx, msg.Value); err != nil {
			c.log.Error("handle order confirmed failed", "offset", msg.Offset, "err", err)
		}
	}
}

func (c *OrderConfirmedConsumer) Handle(ctx context.Context, payload []byte) error {
	var ev event.OrderConfirmed
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode order confirmed: %w", err)
	}
	ownerID := strings.TrimSpace(ev.OwnerID)
	if ownerID == "" {
		return errors.New("order confirmed without owner_id")
	}

	if _, err := c.carts.Clear(ctx, ownerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	c.log.Info("cart cleared after order", "owner_id", ownerID, "order_id", ev.OrderID)
	return nil
}
