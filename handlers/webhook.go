package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"storefront-svc/fulfillment"
	"storefront-svc/middleware"
	"storefront-svc/webhook"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1 << 20

type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

type EventDispatcher interface {
	Handle(ctx context.Context, event stripe.Event) (fulfillment.Outcome, error)
}

type WebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	logger     *zap.Logger
}

func NewWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// StripeWebhook answers 200 with an empty body whenever the notification was
// authentic and well formed, whatever happened to the email afterwards.
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "StripeWebhook")
	defer span.End()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("Failed to read webhook body", zap.Error(err))
		middleware.RecordWebhookEvent("unknown", "unreadable")
		c.Status(http.StatusBadRequest)
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		outcome := "unauthenticated"
		if errors.Is(err, webhook.ErrMalformedNotification) {
			outcome = "malformed"
		}
		h.logger.Warn("Rejected payment notification", zap.String("reason", outcome))
		middleware.RecordWebhookEvent("unknown", outcome)
		c.Status(http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String("stripe.event_type", string(event.Type)))

	outcome, err := h.dispatcher.Handle(ctx, event)
	if err != nil {
		span.RecordError(err)
		h.logger.Warn("Malformed payment notification",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		middleware.RecordWebhookEvent(string(event.Type), "malformed")
		c.Status(http.StatusBadRequest)
		return
	}

	middleware.RecordWebhookEvent(string(event.Type), string(outcome))
	c.String(http.StatusOK, "")
}
