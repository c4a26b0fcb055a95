package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-svc/middleware"
	"storefront-svc/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 10 * time.Second
	Subject        = "Vos boucles Spectra Film Loops"
)

var ErrNoTransport = errors.New("no email transport configured")

type Message struct {
	To      string
	Subject string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

type Catalog interface {
	Resolve(ids []string) []*models.Loop
}

// Result is what a delivery attempt did. It is logged by callers, never
// treated as a failure of the notification.
type Result struct {
	Status    models.DeliveryStatus
	Reason    string
	Delivered []string
	Err       error
}

type Notifier struct {
	catalog Catalog
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
}

// NewNotifier accepts a nil sender; every delivery is then skipped.
func NewNotifier(catalog Catalog, sender Sender, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		catalog: catalog,
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}
}

func (n *Notifier) Configured() bool {
	return n.sender != nil
}

func (n *Notifier) Deliver(ctx context.Context, email string, ids []string) Result {
	ctx, span := otel.Tracer("storefront-service").Start(ctx, "Notifier.Deliver")
	defer span.End()

	loops := n.catalog.Resolve(ids)
	if len(loops) == 0 {
		return n.skip("no known loops")
	}
	if n.sender == nil {
		return n.skip(ErrNoTransport.Error())
	}

	delivered := make([]string, len(loops))
	for i, loop := range loops {
		delivered[i] = loop.ID
	}
	span.SetAttributes(
		attribute.String("mail.transport", n.sender.Name()),
		attribute.Int("loops.count", len(loops)),
	)

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := Message{To: email, Subject: Subject, Text: ComposeBody(loops)}
	if err := n.sender.Send(sendCtx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		middleware.RecordDelivery(string(models.DeliveryStatusFailed))
		n.logger.Error("Failed to send download links",
			zap.String("transport", n.sender.Name()),
			zap.Int("loops", len(loops)),
			zap.Error(err),
		)
		return Result{Status: models.DeliveryStatusFailed, Reason: err.Error(), Err: err}
	}

	middleware.RecordDelivery(string(models.DeliveryStatusSent))
	n.logger.Info("Download links sent",
		zap.String("transport", n.sender.Name()),
		zap.Int("loops", len(loops)),
	)
	return Result{Status: models.DeliveryStatusSent, Delivered: delivered}
}

func (n *Notifier) skip(reason string) Result {
	middleware.RecordDelivery(string(models.DeliveryStatusSkipped))
	n.logger.Info("Delivery skipped", zap.String("reason", reason))
	return Result{Status: models.DeliveryStatusSkipped, Reason: reason}
}

func ComposeBody(loops []*models.Loop) string {
	var b strings.Builder
	b.WriteString("Merci pour votre achat de boucles Spectra Film Loops 🎬\n\n")
	b.WriteString("Voici vos liens de téléchargement (WAV haute qualité) :\n\n")
	for _, loop := range loops {
		fmt.Fprintf(&b, "- %s : %s\n", loop.Name, loop.URL)
	}
	b.WriteString("\nBonne création musicale,\nSpectra Media")
	return b.String()
}
