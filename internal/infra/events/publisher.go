// Package events はKafka（segmentio/kafka-go）とのやりとり。
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront/internal/domain/event"

	kafkaGo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// cart.changed へ送る
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafkaGo.Writer{
			Addr:     kafkaGo.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafkaGo.Hash{},
		},
	}
}

func newPublisherWithWriter(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// キーはオーナーID（同じオーナーのイベントは同じパーティションに並ぶ）
func (p *KafkaPublisher) PublishCartChanged(ctx context.Context, ev event.CartChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal cart event: %w", err)
	}

	if err := p.w.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte(ev.OwnerID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write cart event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// ブローカー未設定のとき
type NopPublisher struct{}

func (NopPublisher) PublishCartChanged(ctx context.Context, ev event.CartChanged) error {
	return nil
}
