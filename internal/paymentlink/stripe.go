package paymentlink

import (
	"context"
	"strings"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

var _ invoice.PaymentLinkProvider = (*StripeProvider)(nil)

// checkoutSessionAPI is the slice of the stripe client used here
type checkoutSessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// StripeProvider creates payment links as Stripe checkout sessions
type StripeProvider struct {
	sessions   checkoutSessionAPI
	successURL string
	cancelURL  string
	logger     *logger.Logger
}

// NewStripeProvider returns nil when stripe is disabled or has no secret key,
// in which case the payment link step is skipped.
func NewStripeProvider(cfg *config.Configuration, logger *logger.Logger) *StripeProvider {
	if !cfg.Stripe.Enabled || cfg.Stripe.SecretKey == "" {
		return nil
	}

	sc := stripe.NewClient(cfg.Stripe.SecretKey, nil)
	return newStripeProvider(sc.V1CheckoutSessions, cfg.Stripe, logger)
}

func newStripeProvider(sessions checkoutSessionAPI, cfg config.StripeConfig, logger *logger.Logger) *StripeProvider {
	return &StripeProvider{
		sessions:   sessions,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     logger,
	}
}

func (p *StripeProvider) CreateLink(ctx context.Context, req invoice.LinkRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", ierr.NewError("payment link amount must be positive").
			WithHint("Cannot create a payment link for a zero amount").
			WithReportableDetails(map[string]any{
				"invoice_id": req.InvoiceID,
				"step":       "payment_link",
			}).
			Mark(ierr.ErrValidation)
	}

	amountCents := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	metadata := map[string]string{
		"invoice_id":     req.InvoiceID,
		"invoice_number": req.InvoiceNumber,
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(productName(req)),
					},
					UnitAmount: stripe.Int64(amountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(p.successURL),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.InvoiceID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.Description != "" {
		params.LineItems[0].PriceData.ProductData.Description = stripe.String(req.Description)
	}

	session, err := p.sessions.Create(ctx, params)
	if err != nil {
		p.logger.Errorw("failed to create stripe checkout session",
			"error", err,
			"invoice_id", req.InvoiceID)
		return "", ierr.WithError(err).
			WithHint("Unable to create payment link").
			WithReportableDetails(map[string]any{
				"invoice_id": req.InvoiceID,
				"step":       "payment_link",
			}).
			Mark(ierr.ErrDependency)
	}

	p.logger.Infow("created stripe checkout session",
		"invoice_id", req.InvoiceID,
		"session_id", session.ID,
		"amount_cents", amountCents,
		"currency", req.Currency)

	return session.URL, nil
}

func productName(req invoice.LinkRequest) string {
	if req.InvoiceNumber == "" {
		return "Invoice payment"
	}
	return "Invoice " + req.InvoiceNumber
}
