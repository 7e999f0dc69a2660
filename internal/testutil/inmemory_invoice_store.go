package testutil

import (
	"context"
	"time"

	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/samber/lo"
)

var _ invoice.Repository = (*InMemoryInvoiceStore)(nil)

// InMemoryInvoiceStore implements invoice.Repository. Transitions use the
// same compare-and-set rule as the postgres repository.
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]

	// CreateErr, when set, is returned by Create
	CreateErr error
}

// NewInMemoryInvoiceStore creates a new in-memory invoice store
func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](),
	}
}

// copyInvoice returns a copy that shares no pointers with inv
func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}

	c := *inv
	c.ExchangeRate = inv.ExchangeRate.Copy()
	c.ProformaInvoiceID = copyPtr(inv.ProformaInvoiceID)
	c.FiscalInvoiceID = copyPtr(inv.FiscalInvoiceID)
	c.PaidAt = copyPtr(inv.PaidAt)
	c.CancelledAt = copyPtr(inv.CancelledAt)
	c.CancellationReason = copyPtr(inv.CancellationReason)
	c.PaymentLinkURL = copyPtr(inv.PaymentLinkURL)
	c.DocumentURL = copyPtr(inv.DocumentURL)
	c.DueDate = copyPtr(inv.DueDate)
	c.ConvertedAmounts = copyPtr(inv.ConvertedAmounts)

	if inv.Payment != nil {
		p := *inv.Payment
		p.Metadata = copyMetadata(inv.Payment.Metadata)
		c.Payment = &p
	}
	if inv.SideEffects != nil {
		r := *inv.SideEffects
		r.Steps = make([]*invoice.StepResult, 0, len(inv.SideEffects.Steps))
		for _, step := range inv.SideEffects.Steps {
			r.Steps = append(r.Steps, copyPtr(step))
		}
		r.CompletedAt = copyPtr(inv.SideEffects.CompletedAt)
		c.SideEffects = &r
	}
	c.Metadata = copyMetadata(inv.Metadata)
	return &c
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyMetadata(m types.Metadata) types.Metadata {
	if m == nil {
		return nil
	}
	c := make(types.Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	return s.InMemoryStore.Create(ctx, inv.ID, copyInvoice(inv))
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, invoice.NewNotFoundError(id, "get_invoice")
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	if filter == nil {
		filter = types.NewInvoiceFilter()
	}

	invoices, err := s.InMemoryStore.List(ctx, filter, invoiceFilterFn, invoiceSortFn(filter.GetOrder()))
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return copyInvoice(inv)
	}), nil
}

func (s *InMemoryInvoiceStore) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	return s.InMemoryStore.Count(ctx, filter, invoiceFilterFn)
}

func (s *InMemoryInvoiceStore) MarkPaid(ctx context.Context, id string, payment *invoice.Payment) (*invoice.Invoice, error) {
	updated, err := s.InMemoryStore.Mutate(ctx, id, func(current *invoice.Invoice) (*invoice.Invoice, error) {
		if !current.CanBeMarkedPaid() {
			return nil, invoice.NewTransitionConflictError(current, "mark_paid")
		}
		next := copyInvoice(current)
		next.PaymentStatus = types.PaymentStatusPaid
		next.PaidAt = lo.ToPtr(payment.PaidAt)
		next.Payment = copyPtr(payment)
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	})
	return s.mutated(id, "mark_paid", updated, err)
}

func (s *InMemoryInvoiceStore) Cancel(ctx context.Context, id string, reason string, cancelledAt time.Time) (*invoice.Invoice, error) {
	updated, err := s.InMemoryStore.Mutate(ctx, id, func(current *invoice.Invoice) (*invoice.Invoice, error) {
		if !current.CanBeCancelled() {
			return nil, invoice.NewTransitionConflictError(current, "cancel")
		}
		next := copyInvoice(current)
		next.InvoiceStatus = types.InvoiceStatusCancelled
		next.CancelledAt = lo.ToPtr(cancelledAt)
		next.CancellationReason = lo.ToPtr(reason)
		next.Version++
		next.UpdatedAt = cancelledAt
		return next, nil
	})
	return s.mutated(id, "cancel", updated, err)
}

func (s *InMemoryInvoiceStore) LinkFiscal(ctx context.Context, proformaID string, fiscalID string) error {
	updated, err := s.InMemoryStore.Mutate(ctx, proformaID, func(current *invoice.Invoice) (*invoice.Invoice, error) {
		if current.FiscalInvoiceID != nil {
			return nil, invoice.NewTransitionConflictError(current, "link_fiscal")
		}
		next := copyInvoice(current)
		next.FiscalInvoiceID = lo.ToPtr(fiscalID)
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	})
	_, err = s.mutated(proformaID, "link_fiscal", updated, err)
	return err
}

func (s *InMemoryInvoiceStore) SaveSideEffects(ctx context.Context, id string, report *invoice.SideEffectReport) error {
	updated, err := s.InMemoryStore.Mutate(ctx, id, func(current *invoice.Invoice) (*invoice.Invoice, error) {
		next := copyInvoice(current)
		next.SideEffects = report
		if report.PaymentLinkURL != "" {
			next.PaymentLinkURL = lo.ToPtr(report.PaymentLinkURL)
		}
		if report.DocumentURL != "" {
			next.DocumentURL = lo.ToPtr(report.DocumentURL)
		}
		next.UpdatedAt = time.Now().UTC()
		return copyInvoice(next), nil
	})
	_, err = s.mutated(id, "save_side_effects", updated, err)
	return err
}

// mutated maps the generic store's not found error onto the invoice error
func (s *InMemoryInvoiceStore) mutated(id, step string, inv *invoice.Invoice, err error) (*invoice.Invoice, error) {
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, invoice.NewNotFoundError(id, step)
		}
		return nil, err
	}
	return copyInvoice(inv), nil
}

func invoiceFilterFn(ctx context.Context, inv *invoice.Invoice, filter interface{}) bool {
	f, ok := filter.(*types.InvoiceFilter)
	if !ok || f == nil {
		return true
	}
	if f.Kind != "" && inv.Kind != f.Kind {
		return false
	}
	if f.PaymentStatus != "" && inv.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.InvoiceStatus != "" && inv.InvoiceStatus != f.InvoiceStatus {
		return false
	}
	return true
}

func invoiceSortFn(order string) SortFunc[*invoice.Invoice] {
	return func(i, j *invoice.Invoice) bool {
		if i.CreatedAt.Equal(j.CreatedAt) {
			if order == types.OrderAsc {
				return i.ID < j.ID
			}
			return i.ID > j.ID
		}
		if order == types.OrderAsc {
			return i.CreatedAt.Before(j.CreatedAt)
		}
		return i.CreatedAt.After(j.CreatedAt)
	}
}
