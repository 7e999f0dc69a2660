package invoice

import (
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/types"
)

// NewNotFoundError is returned for unknown invoice ids
func NewNotFoundError(id string, step string) error {
	return ierr.NewError("invoice not found").
		WithHintf("Invoice %s was not found", id).
		WithReportableDetails(map[string]any{
			"invoice_id": id,
			"step":       step,
		}).
		Mark(ierr.ErrNotFound)
}

// NewTransitionConflictError reports an invalid transition and names the current state
func NewTransitionConflictError(current *Invoice, step string) error {
	hint := "Invoice cannot be changed in its current state"
	switch {
	case current.IsFiscal():
		hint = "Fiscal invoices cannot be changed"
	case current.PaymentStatus == types.PaymentStatusPaid:
		hint = "Invoice is already paid"
	case current.InvoiceStatus == types.InvoiceStatusCancelled:
		hint = "Invoice is cancelled"
	}

	return ierr.NewErrorf("invalid transition from %s", current.StateLabel()).
		WithHint(hint).
		WithReportableDetails(map[string]any{
			"invoice_id":     current.ID,
			"step":           step,
			"kind":           current.Kind,
			"payment_status": current.PaymentStatus,
			"invoice_status": current.InvoiceStatus,
		}).
		Mark(ierr.ErrConflict)
}
