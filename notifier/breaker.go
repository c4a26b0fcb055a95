package notifier

import (
	"context"
	"time"

	"storefront-svc/circuitbreaker"
	"storefront-svc/config"

	"go.uber.org/zap"
)

// BreakerSender stops calling a mail provider that keeps failing, so each
// notification does not wait out the full send timeout.
type BreakerSender struct {
	inner   Sender
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerSender(inner Sender, maxFailures int, resetTimeout time.Duration) *BreakerSender {
	return &BreakerSender{
		inner:   inner,
		breaker: circuitbreaker.NewCircuitBreaker(maxFailures, resetTimeout),
	}
}

func (b *BreakerSender) Name() string {
	return b.inner.Name()
}

func (b *BreakerSender) Send(ctx context.Context, msg Message) error {
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.inner.Send(ctx, msg)
	})
}

func (b *BreakerSender) State() circuitbreaker.State {
	return b.breaker.GetState()
}

// SelectSender picks Mailjet when its credentials are complete, then SMTP,
// and returns nil when neither is configured.
func SelectSender(cfg config.MailConfig, logger *zap.Logger) Sender {
	var sender Sender
	switch {
	case cfg.MailjetConfigured():
		sender = NewMailjetSender(cfg.MailjetAPIKey, cfg.MailjetAPISecret, cfg.FromEmail, cfg.FromName)
	case cfg.SMTPConfigured():
		sender = NewSMTPSender(SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUser,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			Timeout:   cfg.Timeout,
		})
	default:
		logger.Warn("No email transport configured, download links will not be sent")
		return nil
	}

	logger.Info("Email transport selected", zap.String("transport", sender.Name()))
	if cfg.BreakerMaxFailures > 0 {
		return NewBreakerSender(sender, cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	}
	return sender
}
