package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"aura-gateway/internal/models"
)

// Producer is the subset of client.KafkaProducer the sink needs.
type Producer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes the event JSON keyed by endpointId, so one endpoint's
// events share a partition.
type KafkaSink struct {
	producer Producer
}

func NewKafkaSink(producer Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Archive(ctx context.Context, event models.TelemetryEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	headers := map[string]string{
		"eventId":   event.EventID,
		"eventType": event.EventType,
	}
	return s.producer.ProduceMessage(ctx, []byte(event.EndpointID), value, headers)
}
