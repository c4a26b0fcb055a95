package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const SignatureHeader = "Stripe-Signature"

var (
	ErrUnauthenticated       = errors.New("notification could not be authenticated")
	ErrMalformedNotification = errors.New("malformed notification")
)

type Verifier struct {
	secret string
	logger *zap.Logger
}

func NewVerifier(secret string, logger *zap.Logger) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), logger: logger}
}

func (v *Verifier) Configured() bool {
	return v.secret != ""
}

// Verify authenticates the raw body before anything in it is trusted.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if !v.Configured() {
		v.logger.Warn("Webhook secret not configured, rejecting notification")
		return stripe.Event{}, ErrUnauthenticated
	}
	if strings.TrimSpace(sigHeader) == "" {
		v.logger.Debug("Notification without signature header")
		return stripe.Event{}, ErrUnauthenticated
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, sigHeader, v.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                stripewebhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			v.logger.Debug("Notification signature rejected", zap.Error(err))
			return stripe.Event{}, ErrUnauthenticated
		}
		v.logger.Debug("Notification payload rejected", zap.Error(err))
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	return event, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, stripewebhook.ErrNotSigned) ||
		errors.Is(err, stripewebhook.ErrInvalidHeader) ||
		errors.Is(err, stripewebhook.ErrNoValidSignature) ||
		errors.Is(err, stripewebhook.ErrTooOld)
}

type CustomerDetails struct {
	Email string `json:"email"`
}

// CheckoutSession is the part of the checkout session object fulfillment reads.
type CheckoutSession struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	PaymentStatus   string            `json:"payment_status"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	Metadata        map[string]string `json:"metadata"`
}

// Email prefers the address collected on the payment page.
func (s CheckoutSession) Email() string {
	if s.CustomerDetails != nil {
		if email := strings.TrimSpace(s.CustomerDetails.Email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(s.CustomerEmail)
}

func ParseSession(event stripe.Event) (CheckoutSession, error) {
	var sess CheckoutSession
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return sess, fmt.Errorf("%w: event %s has no data object", ErrMalformedNotification, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return sess, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return sess, nil
}
