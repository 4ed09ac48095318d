package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"aura-gateway/internal/config"
)

// KafkaProducer writes to a single topic. Messages with the same key land on
// the same partition.
type KafkaProducer struct {
	Writer *kafka.Writer
	config *config.KafkaConfig
	tls    bool
	logger *zap.Logger
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if kafkaConfig.TelemetryTopic == "" {
		return nil, fmt.Errorf("kafka telemetry topic is required")
	}

	useTLS := cfg.IsProduction() || kafkaConfig.TLS

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Topic:        kafkaConfig.TelemetryTopic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchBytes:   1048576, // 1MB
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	if useTLS {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", kafkaConfig.TelemetryTopic),
		zap.Bool("tls", useTLS),
	)

	return &KafkaProducer{
		Writer: writer,
		config: &kafkaConfig,
		tls:    useTLS,
		logger: logger,
	}, nil
}

func (p *KafkaProducer) Topic() string {
	return p.config.TelemetryTopic
}

func (p *KafkaProducer) Close() error {
	if p.Writer != nil {
		err := p.Writer.Close()
		if err != nil {
			p.logger.Error("failed to close Kafka producer", zap.Error(err))
			return err
		}
		p.logger.Info("Kafka producer closed")
	}
	return nil
}

// ProduceMessage writes one message to the producer's topic.
func (p *KafkaProducer) ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Produced kafka message",
		zap.String("topic", p.config.TelemetryTopic),
		zap.ByteString("key", key),
		zap.Int("value_size", len(value)),
	)

	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	dialer := &kafka.Dialer{
		Timeout:   5 * time.Second,
		DualStack: true,
	}
	if p.tls {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := dialer.DialContext(ctx, "tcp", p.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(p.config.TelemetryTopic); err != nil {
		return fmt.Errorf("failed to read Kafka partitions: %w", err)
	}
	return nil
}
