package invoice

import (
	"context"

	"github.com/shopspring/decimal"
)

// LinkRequest describes the checkout a payment link should open
type LinkRequest struct {
	InvoiceID     string
	InvoiceNumber string
	Description   string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
}

// Document is a rendered invoice. URL is set when the document was uploaded somewhere.
type Document struct {
	FileName    string
	ContentType string
	Content     []byte
	URL         string
}

// Notification is the message sent to the buyer after a transition
type Notification struct {
	InvoiceID  string
	To         string
	Subject    string
	Body       string
	Attachment *Document
}

// PaymentLinkProvider creates hosted payment pages for a proforma
type PaymentLinkProvider interface {
	CreateLink(ctx context.Context, req LinkRequest) (string, error)
}

// DocumentRenderer produces the invoice document. paymentLinkURL may be empty.
type DocumentRenderer interface {
	Render(ctx context.Context, inv *Invoice, paymentLinkURL string) (*Document, error)
}

// NotificationSender delivers a notification and returns the provider message id
type NotificationSender interface {
	Send(ctx context.Context, n Notification) (string, error)
}
