package testutil

import (
	"context"

	"github.com/flexprice/invoicing/internal/domain/invoice"
	"github.com/stretchr/testify/mock"
)

var (
	_ invoice.PaymentLinkProvider = (*MockPaymentLinkProvider)(nil)
	_ invoice.DocumentRenderer    = (*MockDocumentRenderer)(nil)
	_ invoice.NotificationSender  = (*MockNotificationSender)(nil)
)

// MockPaymentLinkProvider is a testify mock of invoice.PaymentLinkProvider
type MockPaymentLinkProvider struct {
	mock.Mock
}

func (m *MockPaymentLinkProvider) CreateLink(ctx context.Context, req invoice.LinkRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockDocumentRenderer is a testify mock of invoice.DocumentRenderer
type MockDocumentRenderer struct {
	mock.Mock
}

func (m *MockDocumentRenderer) Render(ctx context.Context, inv *invoice.Invoice, paymentLinkURL string) (*invoice.Document, error) {
	args := m.Called(ctx, inv, paymentLinkURL)
	if doc := args.Get(0); doc != nil {
		return doc.(*invoice.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockNotificationSender is a testify mock of invoice.NotificationSender
type MockNotificationSender struct {
	mock.Mock
}

func (m *MockNotificationSender) Send(ctx context.Context, n invoice.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}
