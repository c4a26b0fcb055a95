package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"storefront-svc/models"
	"storefront-svc/orderref"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeLoops    Mode = "loops"
	ModeCart     Mode = "cart"
	ModeFullPack Mode = "full_pack"

	Currency           = "eur"
	DefaultProductName = "Spectra Film Loops"
	cartSuffix         = " (Panier)"

	loopsDescription = "%d boucles cinéma & horreur"
	cartDescription  = "%d boucles achetées"
)

var (
	ErrEmptySelection         = errors.New("no known items selected")
	ErrCheckoutCreationFailed = errors.New("checkout session creation failed")
	ErrFullPackUnavailable    = errors.New("full pack price is not configured")
)

// CreationError carries the payment processor's message back to the caller.
type CreationError struct {
	Message string
	Err     error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCheckoutCreationFailed, e.Message)
}

func (e *CreationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCheckoutCreationFailed}
	}
	return []error{ErrCheckoutCreationFailed, e.Err}
}

type SessionCreator interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type Catalog interface {
	Resolve(ids []string) []*models.Loop
}

type RedirectURLs struct {
	Success string
	Cancel  string
}

func RedirectsFor(baseURL string) RedirectURLs {
	base := strings.TrimRight(baseURL, "/")
	return RedirectURLs{
		Success: base + "/?status=success",
		Cancel:  base + "/?status=cancel",
	}
}

type Session struct {
	ID     string
	URL    string
	Amount int64
	Loops  []*models.Loop
}

type Config struct {
	ProductName     string
	FullPackPriceID string
}

type Builder struct {
	sessions SessionCreator
	catalog  Catalog
	config   Config
	logger   *zap.Logger
}

func NewBuilder(sessions SessionCreator, catalog Catalog, cfg Config, logger *zap.Logger) *Builder {
	if cfg.ProductName == "" {
		cfg.ProductName = DefaultProductName
	}
	return &Builder{
		sessions: sessions,
		catalog:  catalog,
		config:   cfg,
		logger:   logger,
	}
}

func (b *Builder) FullPackConfigured() bool {
	return b.config.FullPackPriceID != ""
}

// Price resolves the known ids and sums their unit prices.
func (b *Builder) Price(ids []string) ([]*models.Loop, float64) {
	loops := b.catalog.Resolve(ids)
	total := 0.0
	for _, loop := range loops {
		total += loop.PriceEUR
	}
	return loops, total
}

// ToMinorUnits converts a euro total to cents.
func ToMinorUnits(total float64) int64 {
	return int64(math.Round(total * 100))
}

func (b *Builder) ForItems(ctx context.Context, ids []string, mode Mode, urls RedirectURLs) (*Session, error) {
	loops, total := b.Price(ids)
	if len(loops) == 0 {
		return nil, ErrEmptySelection
	}

	resolved := make([]string, len(loops))
	for i, loop := range loops {
		resolved[i] = loop.ID
	}
	metadata, err := orderref.Encode(orderref.Loops(resolved...))
	if err != nil {
		return nil, &CreationError{Message: err.Error(), Err: err}
	}

	name := b.config.ProductName
	description := loopsDescription
	if mode == ModeCart {
		name += cartSuffix
		description = cartDescription
	}
	amount := ToMinorUnits(total)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(name),
						Description: stripe.String(fmt.Sprintf(description, len(loops))),
					},
					UnitAmount: stripe.Int64(amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(urls.Success),
		CancelURL:  stripe.String(urls.Cancel),
	}
	params.Metadata = metadata

	sess, err := b.create(ctx, params)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(mode)),
		zap.Int("loops", len(loops)),
		zap.Int64("amount", amount),
	)

	return &Session{ID: sess.ID, URL: sess.URL, Amount: amount, Loops: loops}, nil
}

func (b *Builder) ForFullPack(ctx context.Context, urls RedirectURLs) (*Session, error) {
	if !b.FullPackConfigured() {
		return nil, ErrFullPackUnavailable
	}
	metadata, err := orderref.Encode(orderref.FullPack())
	if err != nil {
		return nil, &CreationError{Message: err.Error(), Err: err}
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(b.config.FullPackPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(urls.Success),
		CancelURL:  stripe.String(urls.Cancel),
	}
	params.Metadata = metadata

	sess, err := b.create(ctx, params)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Full pack checkout session created", zap.String("session_id", sess.ID))
	return &Session{ID: sess.ID, URL: sess.URL}, nil
}

func (b *Builder) create(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	sess, err := b.sessions.Create(ctx, params)
	if err != nil {
		message := err.Error()
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
			message = stripeErr.Msg
		}
		b.logger.Error("Failed to create checkout session", zap.Error(err))
		return nil, &CreationError{Message: message, Err: err}
	}
	return sess, nil
}
