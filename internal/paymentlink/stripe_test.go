package paymentlink

import (
	"context"
	"errors"
	"testing"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type fakeSessions struct {
	params *stripe.CheckoutSessionCreateParams
	err    error
}

func (f *fakeSessions) Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func newTestProvider(sessions *fakeSessions) *StripeProvider {
	return newStripeProvider(sessions, config.StripeConfig{
		SuccessURL: "https://example.com/ok",
		CancelURL:  "https://example.com/cancel",
	}, logger.NewNoopLogger())
}

func TestCreateLink(t *testing.T) {
	sessions := &fakeSessions{}
	provider := newTestProvider(sessions)

	url, err := provider.CreateLink(context.Background(), invoice.LinkRequest{
		InvoiceID:     "inv_1",
		InvoiceNumber: "PROF-1001",
		Amount:        decimal.RequireFromString("119.99"),
		Currency:      "EUR",
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", url)

	require.NotNil(t, sessions.params)
	item := sessions.params.LineItems[0]
	assert.Equal(t, int64(11999), *item.PriceData.UnitAmount)
	assert.Equal(t, "eur", *item.PriceData.Currency)
	assert.Equal(t, "Invoice PROF-1001", *item.PriceData.ProductData.Name)
	assert.Equal(t, "buyer@example.com", *sessions.params.CustomerEmail)
	assert.Equal(t, "inv_1", sessions.params.Metadata["invoice_id"])
}

func TestCreateLink_StripeError(t *testing.T) {
	provider := newTestProvider(&fakeSessions{err: errors.New("card_declined")})

	_, err := provider.CreateLink(context.Background(), invoice.LinkRequest{
		InvoiceID: "inv_1",
		Amount:    decimal.NewFromInt(10),
		Currency:  "EUR",
	})
	require.Error(t, err)
	assert.True(t, ierr.IsDependency(err))
	assert.Equal(t, "payment_link", ierr.ReportableDetails(err)["step"])
}

func TestCreateLink_ZeroAmount(t *testing.T) {
	sessions := &fakeSessions{}
	provider := newTestProvider(sessions)

	_, err := provider.CreateLink(context.Background(), invoice.LinkRequest{InvoiceID: "inv_1", Currency: "EUR"})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Nil(t, sessions.params)
}

func TestNewStripeProvider_Disabled(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Stripe.Enabled = false
	assert.Nil(t, NewStripeProvider(cfg, logger.NewNoopLogger()))
}
