package dto

import (
	"time"

	"github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/flexprice/invoicing/internal/validator"
	"github.com/shopspring/decimal"
)

// BuyerRequest is the customer an invoice is addressed to
type BuyerRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,max=50"`
	TaxID        string `json:"tax_id,omitempty" validate:"omitempty,max=50"`
	CompanyName  string `json:"company_name,omitempty" validate:"omitempty,max=255"`
	AddressLine1 string `json:"address_line1,omitempty" validate:"omitempty,max=255"`
	AddressLine2 string `json:"address_line2,omitempty" validate:"omitempty,max=255"`
	City         string `json:"city,omitempty" validate:"omitempty,max=100"`
	County       string `json:"county,omitempty" validate:"omitempty,max=100"`
	Country      string `json:"country,omitempty" validate:"omitempty,len=2"`
	PostalCode   string `json:"postal_code,omitempty" validate:"omitempty,max=20"`
}

func (b BuyerRequest) ToBuyer() invoice.Buyer {
	return invoice.Buyer{
		Name:         b.Name,
		Email:        b.Email,
		Phone:        b.Phone,
		TaxID:        b.TaxID,
		CompanyName:  b.CompanyName,
		AddressLine1: b.AddressLine1,
		AddressLine2: b.AddressLine2,
		City:         b.City,
		County:       b.County,
		Country:      b.Country,
		PostalCode:   b.PostalCode,
	}
}

// PackageRequest is the purchased item
type PackageRequest struct {
	ID          string `json:"id,omitempty" validate:"omitempty,max=100"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

func (p PackageRequest) ToPackage() invoice.Package {
	return invoice.Package{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
	}
}

// IssueProformaRequest is the input for issuing a proforma invoice
type IssueProformaRequest struct {
	Buyer   BuyerRequest   `json:"buyer" validate:"required"`
	Package PackageRequest `json:"package" validate:"required"`

	// amount is the package price. It is the subtotal unless prices_include_vat is set.
	Amount decimal.Decimal `json:"amount" swaggertype:"string"`

	// currency defaults to invoice.default_currency
	Currency string `json:"currency,omitempty" validate:"omitempty,currency"`

	// vat_percentage defaults to invoice.default_vat_percentage
	VATPercentage *decimal.Decimal `json:"vat_percentage,omitempty" swaggertype:"string"`

	PricesIncludeVAT bool `json:"prices_include_vat"`

	// convert_to_local_currency adds the amounts in the local currency using the exchange rate cache
	ConvertToLocalCurrency bool `json:"convert_to_local_currency"`

	CreatePaymentLink bool `json:"create_payment_link"`

	Notes    string         `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Metadata types.Metadata `json:"metadata,omitempty"`
}

func (r *IssueProformaRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}

	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithHint("Please provide a positive amount").
			WithReportableDetails(map[string]any{
				"amount": r.Amount.String(),
				"step":   "validate_request",
			}).
			Mark(ierr.ErrValidation)
	}

	if r.VATPercentage != nil && (r.VATPercentage.IsNegative() || r.VATPercentage.GreaterThan(decimal.NewFromInt(100))) {
		return ierr.NewError("vat_percentage must be between 0 and 100").
			WithHint("VAT percentage must be between 0 and 100").
			WithReportableDetails(map[string]any{
				"vat_percentage": r.VATPercentage.String(),
				"step":           "validate_request",
			}).
			Mark(ierr.ErrValidation)
	}

	if r.VATPercentage != nil && !r.VATPercentage.Equal(r.VATPercentage.Round(2)) {
		return ierr.NewError("vat_percentage allows at most two decimals").
			WithHint("VAT percentage can have at most two decimal places").
			WithReportableDetails(map[string]any{
				"vat_percentage": r.VATPercentage.String(),
				"step":           "validate_request",
			}).
			Mark(ierr.ErrValidation)
	}

	return nil
}

// MarkPaidRequest carries the payment metadata recorded on the proforma
type MarkPaidRequest struct {
	PaymentMethod types.PaymentMethod `json:"payment_method" validate:"required"`
	Reference     string              `json:"reference,omitempty" validate:"omitempty,max=255"`

	// amount defaults to the invoice total
	Amount *decimal.Decimal `json:"amount,omitempty" swaggertype:"string"`

	// paid_at defaults to now
	PaidAt   *time.Time     `json:"paid_at,omitempty"`
	Notes    string         `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Metadata types.Metadata `json:"metadata,omitempty"`
}

func (r *MarkPaidRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.PaymentMethod.Validate(); err != nil {
		return err
	}
	if r.Amount != nil && !r.Amount.IsPositive() {
		return ierr.NewError("payment amount must be positive").
			WithHint("Please provide a positive payment amount").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CancelInvoiceRequest is the input for cancelling a proforma
type CancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *CancelInvoiceRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// SideEffectsResponse summarizes what happened after the transition
type SideEffectsResponse struct {
	PaymentLinkCreated bool                      `json:"payment_link_created"`
	PDFGenerated       bool                      `json:"pdf_generated"`
	NotificationSent   bool                      `json:"notification_sent"`
	PaymentLinkURL     *string                   `json:"payment_link_url"`
	DocumentURL        *string                   `json:"document_url"`
	Report             *invoice.SideEffectReport `json:"report,omitempty"`
}

// NewSideEffectsResponse never returns nil so flags are always present
func NewSideEffectsResponse(report *invoice.SideEffectReport) *SideEffectsResponse {
	resp := &SideEffectsResponse{Report: report}
	if report == nil {
		return resp
	}
	resp.PaymentLinkCreated = report.PaymentLinkCreated
	resp.PDFGenerated = report.PDFGenerated
	resp.NotificationSent = report.NotificationSent
	if report.PaymentLinkURL != "" {
		resp.PaymentLinkURL = &report.PaymentLinkURL
	}
	if report.DocumentURL != "" {
		resp.DocumentURL = &report.DocumentURL
	}
	return resp
}

// IssueInvoiceResponse is returned from issuance even when side effects degraded
type IssueInvoiceResponse struct {
	InvoiceID      string              `json:"invoice_id"`
	InvoiceNumber  string              `json:"invoice_number"`
	NumberDegraded bool                `json:"number_degraded"`
	Kind           types.InvoiceKind   `json:"kind"`
	PaymentStatus  types.PaymentStatus `json:"payment_status"`
	InvoiceStatus  types.InvoiceStatus `json:"invoice_status"`
	Currency       string              `json:"currency"`
	Subtotal       decimal.Decimal     `json:"subtotal" swaggertype:"string"`
	VATPercentage  decimal.Decimal     `json:"vat_percentage" swaggertype:"string"`
	VATAmount      decimal.Decimal     `json:"vat_amount" swaggertype:"string"`
	Total          decimal.Decimal     `json:"total" swaggertype:"string"`
	DueDate        *time.Time          `json:"due_date,omitempty"`

	ConversionRequested  bool                      `json:"conversion_requested"`
	ConversionSkipped    bool                      `json:"conversion_skipped"`
	ConversionSkipReason string                    `json:"conversion_skip_reason,omitempty"`
	ConvertedAmounts     *invoice.ConvertedAmounts `json:"converted_amounts"`
	ExchangeRate         *exchangerate.Snapshot    `json:"exchange_rate"`
	SideEffects          *SideEffectsResponse      `json:"side_effects"`
}

func NewIssueInvoiceResponse(inv *invoice.Invoice, report *invoice.SideEffectReport) *IssueInvoiceResponse {
	return &IssueInvoiceResponse{
		InvoiceID:            inv.ID,
		InvoiceNumber:        inv.InvoiceNumber,
		NumberDegraded:       inv.NumberDegraded,
		Kind:                 inv.Kind,
		PaymentStatus:        inv.PaymentStatus,
		InvoiceStatus:        inv.InvoiceStatus,
		Currency:             inv.Currency,
		Subtotal:             inv.Subtotal,
		VATPercentage:        inv.VATPercentage,
		VATAmount:            inv.VATAmount,
		Total:                inv.TotalAmount,
		DueDate:              inv.DueDate,
		ConversionRequested:  inv.ConversionRequested,
		ConversionSkipped:    inv.ConversionSkipped,
		ConversionSkipReason: inv.ConversionSkipReason,
		ConvertedAmounts:     inv.ConvertedAmounts,
		ExchangeRate:         inv.ExchangeRate,
		SideEffects:          NewSideEffectsResponse(report),
	}
}

// MarkPaidResponse names both the paid proforma and the derived fiscal invoice
type MarkPaidResponse struct {
	ProformaInvoiceID   string               `json:"proforma_invoice_id"`
	ProformaNumber      string               `json:"proforma_number"`
	FiscalInvoiceID     string               `json:"fiscal_invoice_id"`
	FiscalInvoiceNumber string               `json:"fiscal_invoice_number"`
	PaidAt              time.Time            `json:"paid_at"`
	Total               decimal.Decimal      `json:"total" swaggertype:"string"`
	Currency            string               `json:"currency"`
	SideEffects         *SideEffectsResponse `json:"side_effects"`
}

// StatusResponse is the lightweight lifecycle view of an invoice
type StatusResponse struct {
	InvoiceID         string              `json:"invoice_id"`
	InvoiceNumber     string              `json:"invoice_number"`
	Kind              types.InvoiceKind   `json:"kind"`
	PaymentStatus     types.PaymentStatus `json:"payment_status"`
	InvoiceStatus     types.InvoiceStatus `json:"invoice_status"`
	PaidAt            *time.Time          `json:"paid_at,omitempty"`
	CancelledAt       *time.Time          `json:"cancelled_at,omitempty"`
	ProformaInvoiceID *string             `json:"proforma_invoice_id,omitempty"`
	FiscalInvoiceID   *string             `json:"fiscal_invoice_id,omitempty"`
	PaymentLinkURL    *string             `json:"payment_link_url,omitempty"`
	DocumentURL       *string             `json:"document_url,omitempty"`
}

func NewStatusResponse(inv *invoice.Invoice) *StatusResponse {
	return &StatusResponse{
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.InvoiceNumber,
		Kind:              inv.Kind,
		PaymentStatus:     inv.PaymentStatus,
		InvoiceStatus:     inv.InvoiceStatus,
		PaidAt:            inv.PaidAt,
		CancelledAt:       inv.CancelledAt,
		ProformaInvoiceID: inv.ProformaInvoiceID,
		FiscalInvoiceID:   inv.FiscalInvoiceID,
		PaymentLinkURL:    inv.PaymentLinkURL,
		DocumentURL:       inv.DocumentURL,
	}
}

// InvoiceResponse is the full invoice record
type InvoiceResponse struct {
	*invoice.Invoice
}

func NewInvoiceResponse(inv *invoice.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	return &InvoiceResponse{Invoice: inv}
}

// ListInvoicesResponse represents the response for listing invoices
type ListInvoicesResponse = types.ListResponse[*InvoiceResponse]

// ResendDocumentsResponse is returned after re-running document and notification
type ResendDocumentsResponse struct {
	InvoiceID     string               `json:"invoice_id"`
	InvoiceNumber string               `json:"invoice_number"`
	SideEffects   *SideEffectsResponse `json:"side_effects"`
}

// CountersResponse lists the numbering series
type CountersResponse struct {
	Counters []*invoice.SeriesCounter `json:"counters"`
}
