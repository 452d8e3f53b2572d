package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/hawkstwelve/twf-models-sub001/internal/config"
	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
)

// Notifier publishes frame-published events to a Kafka topic so downstream
// consumers (cache invalidators, client push channels) learn about new frames
// without polling discovery. Delivery is best effort: a broker outage must
// never fail a frame publish, so errors are counted and logged, not returned.
// It implements storage.Notifier.
type Notifier struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewNotifier creates a Kafka producer for the frame-published topic.
func NewNotifier(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaPublishTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &Notifier{writer: w, logger: logger, metrics: metrics}
}

// FramePublished serializes and publishes one event.
func (n *Notifier) FramePublished(ctx context.Context, event domain.FramePublishedEvent) {
	msg, err := serializeEvent(event)
	if err != nil {
		n.metrics.NotifierErrors.Inc()
		n.logger.Error("serialize frame event failed", "frame", event.FrameKey.String(), "error", err)
		return
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.metrics.NotifierErrors.Inc()
		n.logger.Warn("frame event delivery failed", "frame", event.FrameKey.String(), "error", err)
		return
	}
	n.metrics.NotifierEvents.Inc()
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeEvent marshals a FramePublishedEvent into a Kafka message keyed by
// the frame identity, so one frame's republish compacts onto one partition.
func serializeEvent(event domain.FramePublishedEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize frame event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.FrameKey.String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "model", Value: []byte(event.Model)},
			{Key: "variable", Value: []byte(event.Variable)},
			{Key: "published_at", Value: []byte(event.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}
