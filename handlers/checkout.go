package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"storefront-svc/checkout"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgNoLoopsSelected  = "Aucune boucle sélectionnée."
	msgCartEmpty        = "Panier vide."
	msgInvalidBody      = "Invalid request body"
	msgFullPackDisabled = "Full pack is not available"
)

type CheckoutBuilder interface {
	ForItems(ctx context.Context, ids []string, mode checkout.Mode, urls checkout.RedirectURLs) (*checkout.Session, error)
	ForFullPack(ctx context.Context, urls checkout.RedirectURLs) (*checkout.Session, error)
	Price(ids []string) ([]*models.Loop, float64)
}

type CheckoutHandler struct {
	builder       CheckoutBuilder
	publicBaseURL string
	logger        *zap.Logger
}

func NewCheckoutHandler(builder CheckoutBuilder, publicBaseURL string, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		builder:       builder,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

// bindOptionalJSON treats an empty body as an empty request.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *CheckoutHandler) redirects(c *gin.Context) checkout.RedirectURLs {
	base := h.publicBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if forwarded := forwardedScheme(c.GetHeader("X-Forwarded-Proto")); forwarded != "" {
			scheme = forwarded
		}
		base = scheme + "://" + c.Request.Host
	}
	return checkout.RedirectsFor(base)
}

// forwardedScheme takes the client-facing hop of a proxy chain and ignores
// anything that is not http or https.
func forwardedScheme(header string) string {
	first, _, _ := strings.Cut(header, ",")
	switch scheme := strings.ToLower(strings.TrimSpace(first)); scheme {
	case "http", "https":
		return scheme
	default:
		return ""
	}
}

func (h *CheckoutHandler) CreateCheckoutSession(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "CreateCheckoutSession")
	defer span.End()

	var req models.CheckoutRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}
	span.SetAttributes(attribute.Int("loops.requested", len(req.Loops)))

	sess, err := h.builder.ForItems(ctx, req.Loops, checkout.ModeLoops, h.redirects(c))
	if err != nil {
		span.RecordError(err)
		h.respondError(c, checkout.ModeLoops, err, msgNoLoopsSelected)
		return
	}

	middleware.RecordCheckoutSession(string(checkout.ModeLoops), "created")
	c.JSON(http.StatusOK, models.CheckoutResponse{ID: sess.ID, URL: sess.URL})
}

func (h *CheckoutHandler) CreateCartCheckoutSession(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "CreateCartCheckoutSession")
	defer span.End()

	var req models.CartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}
	span.SetAttributes(attribute.Int("loops.requested", len(req.IDs)))

	sess, err := h.builder.ForItems(ctx, req.IDs, checkout.ModeCart, h.redirects(c))
	if err != nil {
		span.RecordError(err)
		h.respondError(c, checkout.ModeCart, err, msgCartEmpty)
		return
	}

	middleware.RecordCheckoutSession(string(checkout.ModeCart), "created")
	c.JSON(http.StatusOK, models.CheckoutResponse{URL: sess.URL})
}

func (h *CheckoutHandler) CreateFullPackCheckoutSession(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-service").Start(c.Request.Context(), "CreateFullPackCheckoutSession")
	defer span.End()

	sess, err := h.builder.ForFullPack(ctx, h.redirects(c))
	if err != nil {
		span.RecordError(err)
		h.respondError(c, checkout.ModeFullPack, err, "")
		return
	}

	middleware.RecordCheckoutSession(string(checkout.ModeFullPack), "created")
	c.JSON(http.StatusOK, models.CheckoutResponse{ID: sess.ID, URL: sess.URL})
}

func (h *CheckoutHandler) GetCart(c *gin.Context) {
	var req models.CartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}

	items, total := h.builder.Price(req.IDs)
	c.JSON(http.StatusOK, models.CartResponse{Items: items, Total: total})
}

func (h *CheckoutHandler) respondError(c *gin.Context, mode checkout.Mode, err error, emptyMessage string) {
	var creationErr *checkout.CreationError
	switch {
	case errors.Is(err, checkout.ErrEmptySelection):
		middleware.RecordCheckoutSession(string(mode), "empty")
		c.JSON(http.StatusBadRequest, gin.H{"error": emptyMessage})
	case errors.Is(err, checkout.ErrFullPackUnavailable):
		middleware.RecordCheckoutSession(string(mode), "unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgFullPackDisabled})
	case errors.As(err, &creationErr):
		middleware.RecordCheckoutSession(string(mode), "failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": creationErr.Message})
	default:
		middleware.RecordCheckoutSession(string(mode), "failed")
		h.logger.Error("Unexpected checkout error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
