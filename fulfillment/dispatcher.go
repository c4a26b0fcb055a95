package fulfillment

import (
	"context"
	"time"

	"storefront-svc/models"
	"storefront-svc/notifier"
	"storefront-svc/orderref"
	"storefront-svc/webhook"

	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDropped    Outcome = "dropped"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeDispatched Outcome = "dispatched"
)

const (
	EventSessionCompleted    = "checkout.session.completed"
	EventAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"

	paymentStatusUnpaid = "unpaid"
	eventOrderFulfilled = "order_fulfilled"
)

// DefaultPublishTimeout caps how long the audit event may hold a notification.
const DefaultPublishTimeout = 2 * time.Second

type Catalog interface {
	AllIDs() []string
}

type Deliverer interface {
	Deliver(ctx context.Context, email string, ids []string) notifier.Result
}

type Deduper interface {
	Claim(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

type Publisher interface {
	PublishFulfillment(ctx context.Context, event models.FulfillmentEvent) error
}

type Option func(*Dispatcher)

func WithDeduper(d Deduper) Option {
	return func(disp *Dispatcher) { disp.deduper = d }
}

func WithPublisher(p Publisher) Option {
	return func(disp *Dispatcher) { disp.publisher = p }
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(disp *Dispatcher) {
		if timeout > 0 {
			disp.publishTimeout = timeout
		}
	}
}

type Dispatcher struct {
	catalog   Catalog
	deliverer Deliverer
	deduper   Deduper
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger

	publishTimeout time.Duration
}

func NewDispatcher(catalog Catalog, deliverer Deliverer, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:   catalog,
		deliverer: deliverer,
		now:       time.Now,
		logger:    logger,

		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func isCompletion(eventType string, sess webhook.CheckoutSession) bool {
	switch eventType {
	case EventSessionCompleted:
		// Delayed payment methods complete the session before the money arrives.
		return sess.PaymentStatus != paymentStatusUnpaid
	case EventAsyncPaymentSuccess:
		return true
	default:
		return false
	}
}

// Handle acts on a verified event. The returned error is only ever
// webhook.ErrMalformedNotification; delivery problems are logged.
func (d *Dispatcher) Handle(ctx context.Context, event stripe.Event) (Outcome, error) {
	ctx, span := otel.Tracer("storefront-service").Start(ctx, "Dispatcher.Handle")
	defer span.End()

	eventType := string(event.Type)
	span.SetAttributes(attribute.String("stripe.event_type", eventType), attribute.String("stripe.event_id", event.ID))

	if eventType != EventSessionCompleted && eventType != EventAsyncPaymentSuccess {
		d.logger.Debug("Ignoring event", zap.String("event_id", event.ID), zap.String("type", eventType))
		return OutcomeIgnored, nil
	}

	sess, err := webhook.ParseSession(event)
	if err != nil {
		return "", err
	}

	logger := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("type", eventType),
		zap.String("session_id", sess.ID),
	)

	if !isCompletion(eventType, sess) {
		logger.Info("Session completed without payment, waiting for async result",
			zap.String("payment_status", sess.PaymentStatus))
		return OutcomeIgnored, nil
	}

	purchase := orderref.Decode(sess.Metadata)
	ids := purchase.IDs
	if purchase.FullPack {
		ids = d.catalog.AllIDs()
	}

	email := sess.Email()
	if email == "" || len(ids) == 0 {
		logger.Warn("Completed session has nothing to fulfil",
			zap.Bool("has_email", email != ""),
			zap.Int("loops", len(ids)),
			zap.Bool("full_pack", purchase.FullPack),
		)
		return OutcomeDropped, nil
	}

	if d.deduper != nil && sess.ID != "" {
		first, err := d.deduper.Claim(ctx, sess.ID)
		switch {
		case err != nil:
			logger.Warn("Fulfillment dedup unavailable, delivering anyway", zap.Error(err))
		case !first:
			logger.Info("Session already fulfilled, skipping delivery")
			return OutcomeDuplicate, nil
		}
	}

	span.SetAttributes(attribute.Int("loops.count", len(ids)), attribute.Bool("full_pack", purchase.FullPack))
	result := d.deliverer.Deliver(ctx, email, ids)
	logger.Info("Fulfillment dispatched",
		zap.Int("loops", len(ids)),
		zap.Bool("full_pack", purchase.FullPack),
		zap.String("delivery", string(result.Status)),
		zap.String("reason", result.Reason),
	)

	if result.Status == models.DeliveryStatusFailed && d.deduper != nil && sess.ID != "" {
		if err := d.deduper.Release(ctx, sess.ID); err != nil {
			logger.Warn("Failed to release fulfillment claim", zap.Error(err))
		}
	}

	if d.publisher != nil {
		ev := models.FulfillmentEvent{
			EventType:  eventOrderFulfilled,
			SessionID:  sess.ID,
			Email:      email,
			LoopIDs:    ids,
			FullPack:   purchase.FullPack,
			Delivery:   result.Status,
			OccurredAt: d.now().UTC(),
		}
		if err := d.publish(ctx, ev); err != nil {
			logger.Error("Failed to publish fulfillment event", zap.Error(err))
		}
	}

	return OutcomeDispatched, nil
}

// publish gives up after publishTimeout even when the publisher ignores ctx.
// A send still in flight finishes in the background.
func (d *Dispatcher) publish(ctx context.Context, ev models.FulfillmentEvent) error {
	ctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- d.publisher.PublishFulfillment(ctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
