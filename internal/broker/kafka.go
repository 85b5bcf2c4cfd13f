package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ibex/internal/config"
	"ibex/internal/constants"
	"ibex/internal/logger"
	"ibex/pkg/metrics"
)

type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
	logger logger.Logger
}

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, topic: cfg.Kafka.ProcessedTopic, logger: log}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: p.topic,
			Key:   []byte(key),
			Value: body,
			Time:  time.Now(),
		},
	)

	if err != nil {
		metrics.ProcessedEventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.ProcessedEventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
