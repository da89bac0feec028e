package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/event-checkin/internal/models"
)

// SwipeProducer publishes every swipe decision onto a Kafka stream.
// The publish is best-effort: a drop here only widens the
// reconciliation gap the reconciler closes later.
type SwipeProducer struct {
	writer *kafka.Writer
}

func NewSwipeProducer(brokers []string, topic string) *SwipeProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &SwipeProducer{writer: w}
}

func (k *SwipeProducer) PublishSwipe(s models.Swipe) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(s)
	key := []byte(s.SwiperID + "|" + s.SwipedID + "|" + s.EventID)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: b})
}

func (k *SwipeProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
