package invoice

import (
	"context"
	"time"

	"github.com/flexprice/invoicing/internal/types"
)

// Repository defines the interface for invoice persistence operations
type Repository interface {
	// Create creates a new invoice
	Create(ctx context.Context, invoice *Invoice) error

	// Get retrieves an invoice by ID
	Get(ctx context.Context, id string) (*Invoice, error)

	// List retrieves invoices based on filter criteria
	List(ctx context.Context, filter *types.InvoiceFilter) ([]*Invoice, error)

	// Count returns the total count of invoices based on filter criteria
	Count(ctx context.Context, filter *types.InvoiceFilter) (int, error)

	// MarkPaid moves an issued pending proforma to paid. It is a compare-and-set:
	// when the invoice is no longer in that state a conflict naming the current
	// state is returned and nothing is written.
	MarkPaid(ctx context.Context, id string, payment *Payment) (*Invoice, error)

	// Cancel moves an issued pending proforma to cancelled with the same
	// compare-and-set rule as MarkPaid.
	Cancel(ctx context.Context, id string, reason string, cancelledAt time.Time) (*Invoice, error)

	// LinkFiscal records the fiscal invoice derived from a proforma
	LinkFiscal(ctx context.Context, proformaID string, fiscalID string) error

	// SaveSideEffects stores the side-effect report and any produced urls
	SaveSideEffects(ctx context.Context, id string, report *SideEffectReport) error
}

// CounterRepository stores the per-series numbering counters
type CounterRepository interface {
	// Get returns the counter for a series or a not found error
	Get(ctx context.Context, series string) (*SeriesCounter, error)

	// Increment atomically creates the counter at start when missing, adds one
	// and returns the new value. Two callers never observe the same value.
	Increment(ctx context.Context, series string, start int64) (int64, error)

	// AdvanceTo raises the counter to at least value, creating it when
	// missing. It never lowers a counter.
	AdvanceTo(ctx context.Context, series string, start, value int64) error

	// List returns every stored counter
	List(ctx context.Context) ([]*SeriesCounter, error)
}
