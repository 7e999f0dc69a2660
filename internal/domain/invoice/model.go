package invoice

import (
	"fmt"
	"time"

	"github.com/flexprice/invoicing/internal/domain/exchangerate"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/money"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice represents the invoice domain model
type Invoice struct {
	ID             string              `json:"id"`
	InvoiceNumber  string              `json:"invoice_number"`
	Series         string              `json:"series"`
	SequenceNumber int64               `json:"sequence_number"`
	NumberDegraded bool                `json:"number_degraded"`
	Kind           types.InvoiceKind   `json:"kind"`
	PaymentStatus  types.PaymentStatus `json:"payment_status"`
	InvoiceStatus  types.InvoiceStatus `json:"invoice_status"`

	Buyer   Buyer   `json:"buyer"`
	Package Package `json:"package"`

	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	VATPercentage    decimal.Decimal `json:"vat_percentage"`
	VATAmount        decimal.Decimal `json:"vat_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PricesIncludeVAT bool            `json:"prices_include_vat"`

	ConversionRequested  bool                   `json:"conversion_requested"`
	ConversionSkipped    bool                   `json:"conversion_skipped"`
	ConversionSkipReason string                 `json:"conversion_skip_reason,omitempty"`
	ConvertedAmounts     *ConvertedAmounts      `json:"converted_amounts,omitempty"`
	ExchangeRate         *exchangerate.Snapshot `json:"exchange_rate,omitempty"`

	// ProformaInvoiceID is set on fiscal invoices
	ProformaInvoiceID *string `json:"proforma_invoice_id,omitempty"`
	// FiscalInvoiceID is set on a proforma once it has been paid
	FiscalInvoiceID *string `json:"fiscal_invoice_id,omitempty"`

	PaidAt  *time.Time `json:"paid_at,omitempty"`
	Payment *Payment   `json:"payment,omitempty"`

	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`

	PaymentLinkURL *string           `json:"payment_link_url,omitempty"`
	DocumentURL    *string           `json:"document_url,omitempty"`
	SideEffects    *SideEffectReport `json:"side_effects,omitempty"`

	IssuedAt  time.Time      `json:"issued_at"`
	DueDate   *time.Time     `json:"due_date,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	Metadata  types.Metadata `json:"metadata,omitempty"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Buyer is the customer the invoice is addressed to
type Buyer struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	TaxID        string `json:"tax_id,omitempty"`
	CompanyName  string `json:"company_name,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	County       string `json:"county,omitempty"`
	Country      string `json:"country,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// DisplayName prefers the company name for business buyers
func (b Buyer) DisplayName() string {
	if b.CompanyName != "" {
		return b.CompanyName
	}
	return b.Name
}

// Package is the single purchased item
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ConvertedAmounts are the invoice figures in the conversion target currency
type ConvertedAmounts struct {
	Currency  string          `json:"currency"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	VATAmount decimal.Decimal `json:"vat_amount"`
	Total     decimal.Decimal `json:"total"`
}

// Payment records how a proforma was settled
type Payment struct {
	Method    types.PaymentMethod `json:"method"`
	Reference string              `json:"reference,omitempty"`
	Amount    decimal.Decimal     `json:"amount"`
	Currency  string              `json:"currency"`
	PaidAt    time.Time           `json:"paid_at"`
	Notes     string              `json:"notes,omitempty"`
	Metadata  types.Metadata      `json:"metadata,omitempty"`
}

// FormatNumber joins a series and a sequence value, e.g. PROF-1007
func FormatNumber(series string, value int64) string {
	return fmt.Sprintf("%s-%d", series, value)
}

func (i *Invoice) IsProforma() bool {
	return i.Kind == types.InvoiceKindProforma
}

func (i *Invoice) IsFiscal() bool {
	return i.Kind == types.InvoiceKindFiscal
}

// CanBeMarkedPaid is true only for an issued, pending proforma
func (i *Invoice) CanBeMarkedPaid() bool {
	return i.IsProforma() &&
		i.PaymentStatus == types.PaymentStatusPending &&
		i.InvoiceStatus == types.InvoiceStatusIssued
}

// CanBeCancelled follows the same rule as CanBeMarkedPaid
func (i *Invoice) CanBeCancelled() bool {
	return i.CanBeMarkedPaid()
}

// StateLabel is kind/payment/status, e.g. proforma/paid/issued
func (i *Invoice) StateLabel() string {
	return string(i.Kind) + "/" + string(i.PaymentStatus) + "/" + string(i.InvoiceStatus)
}

// Validate checks the invoice invariants before it is persisted
func (i *Invoice) Validate() error {
	if err := i.Kind.Validate(); err != nil {
		return err
	}
	if err := i.PaymentStatus.Validate(); err != nil {
		return err
	}
	if err := i.InvoiceStatus.Validate(); err != nil {
		return err
	}

	breakdown := money.Breakdown{
		Subtotal:  i.Subtotal,
		VATAmount: i.VATAmount,
		Total:     i.TotalAmount,
	}
	if !breakdown.IsConsistent() {
		return ierr.NewError("invoice total does not match subtotal plus vat").
			WithHint("Invoice amounts are inconsistent").
			WithReportableDetails(map[string]any{
				"invoice_id": i.ID,
				"subtotal":   i.Subtotal.String(),
				"vat_amount": i.VATAmount.String(),
				"total":      i.TotalAmount.String(),
				"step":       "validate_invoice",
			}).
			Mark(ierr.ErrValidation)
	}

	if i.IsFiscal() {
		if i.PaymentStatus != types.PaymentStatusPaid {
			return ierr.NewError("fiscal invoice must be paid").
				WithHint("A fiscal invoice can only be created for a paid proforma").
				WithReportableDetails(map[string]any{
					"invoice_id": i.ID,
					"step":       "validate_invoice",
				}).
				Mark(ierr.ErrValidation)
		}
		if i.ProformaInvoiceID == nil || *i.ProformaInvoiceID == "" {
			return ierr.NewError("fiscal invoice must reference its proforma").
				WithHint("A fiscal invoice must be derived from a proforma").
				WithReportableDetails(map[string]any{
					"invoice_id": i.ID,
					"step":       "validate_invoice",
				}).
				Mark(ierr.ErrValidation)
		}
	}

	return nil
}
