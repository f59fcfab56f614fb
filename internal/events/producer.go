package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
)

// Producer publishes messaging state changes to the platform event stream.
// Downstream consumers (notification service, analytics) react to these; the
// messaging request path never depends on them.
type Producer struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

type messageNewEvent struct {
	Event   string          `json:"event"`
	Message *domain.Message `json:"message"`
}

type messageReadEvent struct {
	Event         string `json:"event"`
	ReaderID      string `json:"readerId"`
	CounterpartID string `json:"counterpartId"`
}

func NewProducer(brokers []string, topic string, log *zap.SugaredLogger) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Producer{writer: w, log: log}
}

func (p *Producer) PublishMessageNew(ctx context.Context, msg *domain.Message) error {
	return p.publish(ctx, msg.ID, messageNewEvent{Event: "message.new", Message: msg})
}

func (p *Producer) PublishMessageRead(ctx context.Context, readerID, counterpartID string) error {
	key := domain.PairKey(readerID, counterpartID)
	return p.publish(ctx, key, messageReadEvent{Event: "message.read", ReaderID: readerID, CounterpartID: counterpartID})
}

func (p *Producer) publish(ctx context.Context, key string, payload any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
