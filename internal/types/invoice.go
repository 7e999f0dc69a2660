package types

import (
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/samber/lo"
)

// InvoiceKind distinguishes a payment request from the legally binding invoice
type InvoiceKind string

const (
	// InvoiceKindProforma is issued up front and can be paid or cancelled
	InvoiceKindProforma InvoiceKind = "proforma"
	// InvoiceKindFiscal is derived from a paid proforma and is always paid
	InvoiceKindFiscal InvoiceKind = "fiscal"
)

func (k InvoiceKind) String() string {
	return string(k)
}

func (k InvoiceKind) Validate() error {
	allowed := []InvoiceKind{
		InvoiceKindProforma,
		InvoiceKindFiscal,
	}
	if !lo.Contains(allowed, k) {
		return ierr.NewError("invalid invoice kind").
			WithHint("Please provide a valid invoice kind").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PaymentStatus is whether money has been received for the invoice
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) Validate() error {
	allowed := []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusPaid,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid payment status").
			WithHint("Please provide a valid payment status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InvoiceStatus is the document state, independent of payment
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusIssued,
		InvoiceStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Please provide a valid invoice status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PaymentMethod records how a proforma was settled
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) Validate() error {
	allowed := []PaymentMethod{
		PaymentMethodBankTransfer,
		PaymentMethodCard,
		PaymentMethodCash,
		PaymentMethodOther,
	}
	if !lo.Contains(allowed, m) {
		return ierr.NewError("invalid payment method").
			WithHint("Please provide a valid payment method").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InvoiceFilter represents the filter options for listing invoices
type InvoiceFilter struct {
	*QueryFilter

	// kind filters by proforma or fiscal
	Kind InvoiceKind `json:"kind,omitempty" form:"kind"`

	// payment_status filters by the payment state of invoices
	PaymentStatus PaymentStatus `json:"payment_status,omitempty" form:"payment_status"`

	// invoice_status filters by issued or cancelled
	InvoiceStatus InvoiceStatus `json:"invoice_status,omitempty" form:"invoice_status"`
}

// NewInvoiceFilter creates a new invoice filter with default options
func NewInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *InvoiceFilter) Validate() error {
	if f == nil {
		return nil
	}
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return ierr.WithError(err).WithHint("invalid query filter").Mark(ierr.ErrValidation)
		}
	}
	if f.Kind != "" {
		if err := f.Kind.Validate(); err != nil {
			return err
		}
	}
	if f.PaymentStatus != "" {
		if err := f.PaymentStatus.Validate(); err != nil {
			return err
		}
	}
	if f.InvoiceStatus != "" {
		if err := f.InvoiceStatus.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetLimit implements BaseFilter interface
func (f *InvoiceFilter) GetLimit() int {
	if f == nil || f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

// GetOffset implements BaseFilter interface
func (f *InvoiceFilter) GetOffset() int {
	if f == nil || f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

// GetOrder implements BaseFilter interface
func (f *InvoiceFilter) GetOrder() string {
	if f == nil || f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOrder()
	}
	return f.QueryFilter.GetOrder()
}
