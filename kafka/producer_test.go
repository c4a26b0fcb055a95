package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront-svc/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func testEvent() models.FulfillmentEvent {
	return models.FulfillmentEvent{
		EventType:  "order_fulfilled",
		SessionID:  "cs_test_1",
		Email:      "buyer@example.com",
		LoopIDs:    []string{"horror__loop_1"},
		Delivery:   models.DeliveryStatusSent,
		OccurredAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFulfillmentPublisher_Publish(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "order_events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "cs_test_1" {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var ev models.FulfillmentEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return err
		}
		if ev.Email != "buyer@example.com" || len(ev.LoopIDs) != 1 {
			return errors.New("unexpected payload")
		}
		carrier := saramaHeaderCarrier(msg.Headers)
		if carrier.Get("traceparent") == "" {
			return errors.New("missing traceparent header")
		}
		return nil
	})

	publisher := NewFulfillmentPublisher(producer, "order_events", zaptest.NewLogger(t))
	require.NoError(t, publisher.PublishFulfillment(ctx, testEvent()))
	require.NoError(t, producer.Close())
}

func TestFulfillmentPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewFulfillmentPublisher(producer, "order_events", zaptest.NewLogger(t))
	err := publisher.PublishFulfillment(context.Background(), testEvent())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestSaramaHeaderCarrier(t *testing.T) {
	carrier := make(saramaHeaderCarrier, 0)
	carrier.Set("a", "1")
	carrier.Set("b", "2")

	assert.Equal(t, "1", carrier.Get("a"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, carrier.Keys())
}

func TestProducerConfig_IsBounded(t *testing.T) {
	config := producerConfig()
	require.NoError(t, config.Validate())

	assert.True(t, config.Producer.Return.Successes)
	assert.Equal(t, netTimeout, config.Producer.Timeout)
	assert.Equal(t, netTimeout, config.Net.DialTimeout)
	assert.Equal(t, netTimeout, config.Net.ReadTimeout)
	assert.Equal(t, netTimeout, config.Net.WriteTimeout)

	// One retry of each kind keeps a dead broker well under ten seconds.
	worst := time.Duration(config.Producer.Retry.Max+1)*(config.Net.DialTimeout+config.Producer.Retry.Backoff) +
		time.Duration(config.Metadata.Retry.Max)*config.Metadata.Retry.Backoff
	assert.Less(t, worst, 10*time.Second)
}
