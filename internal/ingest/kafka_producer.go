package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-tracking/internal/models"
)

// LocationPublisher streams accepted driver locations to Kafka for
// downstream consumers (presence refresh, analytics). Publishing is
// best-effort; the realtime path never blocks on it beyond the timeout.
type LocationPublisher struct {
	writer *kafka.Writer
}

func NewLocationPublisher(brokers []string, topic string) *LocationPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationPublisher{writer: w}
}

func (p *LocationPublisher) PublishLocation(ctx context.Context, loc models.LastLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b})
}

func (p *LocationPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
