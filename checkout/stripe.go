package checkout

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// StripeSessions creates checkout sessions through the Stripe API.
type StripeSessions struct {
	client session.Client
}

func NewStripeSessions(secretKey string) *StripeSessions {
	return &StripeSessions{
		client: session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

func (s *StripeSessions) Create(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return s.client.New(params)
}
