package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/tracing"
)

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher writes events to one topic keyed by subject id.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a publisher. The writer connects lazily on first publish.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{writer: writer, topic: cfg.Topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	ctx, span := tracing.StartSpan(ctx, "events.KafkaPublisher.Publish")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.SubjectID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "workspace_id", Value: []byte(event.WorkspaceID.String())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event_type", event.Type).Error("Failed to publish event")
		return err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"event_type": event.Type,
		"subject_id": event.SubjectID.String(),
	}).Debug("Published event")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
