package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Audit events ride on the webhook path, so every network step is short.
const (
	netTimeout   = 2 * time.Second
	retryBackoff = 100 * time.Millisecond
)

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Timeout = netTimeout
	config.Producer.Retry.Max = 1
	config.Producer.Retry.Backoff = retryBackoff
	config.Metadata.Retry.Max = 1
	config.Metadata.Retry.Backoff = retryBackoff
	config.Net.DialTimeout = netTimeout
	config.Net.ReadTimeout = netTimeout
	config.Net.WriteTimeout = netTimeout
	return config
}

func InitProducer(broker string, logger *zap.Logger) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer([]string{broker}, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized", zap.String("broker", broker))
	return producer, nil
}

// FulfillmentPublisher writes order_fulfilled events keyed by checkout session.
type FulfillmentPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewFulfillmentPublisher(producer sarama.SyncProducer, topic string, logger *zap.Logger) *FulfillmentPublisher {
	return &FulfillmentPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *FulfillmentPublisher) PublishFulfillment(ctx context.Context, event models.FulfillmentEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.SessionID),
		Value: sarama.ByteEncoder(eventJSON),
	}

	carrier := make(saramaHeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []sarama.RecordHeader(carrier)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Info("Event published",
		zap.String("trace_id", middleware.TraceID(ctx)),
		zap.String("topic", p.topic),
		zap.String("event_type", event.EventType),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
