package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
	"github.com/flexprice/invoicing/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var invoiceColumns = []string{
	"id", "invoice_number", "series", "sequence_number", "number_degraded",
	"kind", "payment_status", "invoice_status", "buyer", "package",
	"currency", "subtotal", "vat_percentage", "vat_amount", "total_amount", "prices_include_vat",
	"conversion_requested", "conversion_skipped", "conversion_skip_reason", "converted_amounts", "exchange_rate",
	"proforma_invoice_id", "fiscal_invoice_id", "paid_at", "payment",
	"cancelled_at", "cancellation_reason", "payment_link_url", "document_url", "side_effects",
	"issued_at", "due_date", "notes", "metadata", "version", "created_at", "updated_at",
}

var invoiceSelectColumns = strings.Join(invoiceColumns, ", ")

// invoiceRow is the invoices table layout. Nested values are stored as jsonb.
type invoiceRow struct {
	ID                   string          `db:"id"`
	InvoiceNumber        string          `db:"invoice_number"`
	Series               string          `db:"series"`
	SequenceNumber       int64           `db:"sequence_number"`
	NumberDegraded       bool            `db:"number_degraded"`
	Kind                 string          `db:"kind"`
	PaymentStatus        string          `db:"payment_status"`
	InvoiceStatus        string          `db:"invoice_status"`
	Buyer                []byte          `db:"buyer"`
	Package              []byte          `db:"package"`
	Currency             string          `db:"currency"`
	Subtotal             decimal.Decimal `db:"subtotal"`
	VATPercentage        decimal.Decimal `db:"vat_percentage"`
	VATAmount            decimal.Decimal `db:"vat_amount"`
	TotalAmount          decimal.Decimal `db:"total_amount"`
	PricesIncludeVAT     bool            `db:"prices_include_vat"`
	ConversionRequested  bool            `db:"conversion_requested"`
	ConversionSkipped    bool            `db:"conversion_skipped"`
	ConversionSkipReason string          `db:"conversion_skip_reason"`
	ConvertedAmounts     []byte          `db:"converted_amounts"`
	ExchangeRate         []byte          `db:"exchange_rate"`
	ProformaInvoiceID    *string         `db:"proforma_invoice_id"`
	FiscalInvoiceID      *string         `db:"fiscal_invoice_id"`
	PaidAt               *time.Time      `db:"paid_at"`
	Payment              []byte          `db:"payment"`
	CancelledAt          *time.Time      `db:"cancelled_at"`
	CancellationReason   *string         `db:"cancellation_reason"`
	PaymentLinkURL       *string         `db:"payment_link_url"`
	DocumentURL          *string         `db:"document_url"`
	SideEffects          []byte          `db:"side_effects"`
	IssuedAt             time.Time       `db:"issued_at"`
	DueDate              *time.Time      `db:"due_date"`
	Notes                string          `db:"notes"`
	Metadata             types.Metadata  `db:"metadata"`
	Version              int             `db:"version"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

// args returns the row values in invoiceColumns order
func (r *invoiceRow) args() []interface{} {
	return []interface{}{
		r.ID, r.InvoiceNumber, r.Series, r.SequenceNumber, r.NumberDegraded,
		r.Kind, r.PaymentStatus, r.InvoiceStatus, r.Buyer, r.Package,
		r.Currency, r.Subtotal, r.VATPercentage, r.VATAmount, r.TotalAmount, r.PricesIncludeVAT,
		r.ConversionRequested, r.ConversionSkipped, r.ConversionSkipReason, nullableJSON(r.ConvertedAmounts), nullableJSON(r.ExchangeRate),
		r.ProformaInvoiceID, r.FiscalInvoiceID, r.PaidAt, nullableJSON(r.Payment),
		r.CancelledAt, r.CancellationReason, r.PaymentLinkURL, r.DocumentURL, nullableJSON(r.SideEffects),
		r.IssuedAt, r.DueDate, r.Notes, r.Metadata, r.Version, r.CreatedAt, r.UpdatedAt,
	}
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

// marshalOptional encodes v or returns nil for a nil pointer
func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalOptional[T any](b []byte) (*T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func toInvoiceRow(inv *invoice.Invoice) (*invoiceRow, error) {
	buyer, err := json.Marshal(inv.Buyer)
	if err != nil {
		return nil, err
	}
	pkg, err := json.Marshal(inv.Package)
	if err != nil {
		return nil, err
	}
	converted, err := marshalOptional(inv.ConvertedAmounts)
	if err != nil {
		return nil, err
	}
	rate, err := marshalOptional(inv.ExchangeRate)
	if err != nil {
		return nil, err
	}
	payment, err := marshalOptional(inv.Payment)
	if err != nil {
		return nil, err
	}
	sideEffects, err := marshalOptional(inv.SideEffects)
	if err != nil {
		return nil, err
	}

	return &invoiceRow{
		ID:                   inv.ID,
		InvoiceNumber:        inv.InvoiceNumber,
		Series:               inv.Series,
		SequenceNumber:       inv.SequenceNumber,
		NumberDegraded:       inv.NumberDegraded,
		Kind:                 string(inv.Kind),
		PaymentStatus:        string(inv.PaymentStatus),
		InvoiceStatus:        string(inv.InvoiceStatus),
		Buyer:                buyer,
		Package:              pkg,
		Currency:             inv.Currency,
		Subtotal:             inv.Subtotal,
		VATPercentage:        inv.VATPercentage,
		VATAmount:            inv.VATAmount,
		TotalAmount:          inv.TotalAmount,
		PricesIncludeVAT:     inv.PricesIncludeVAT,
		ConversionRequested:  inv.ConversionRequested,
		ConversionSkipped:    inv.ConversionSkipped,
		ConversionSkipReason: inv.ConversionSkipReason,
		ConvertedAmounts:     converted,
		ExchangeRate:         rate,
		ProformaInvoiceID:    inv.ProformaInvoiceID,
		FiscalInvoiceID:      inv.FiscalInvoiceID,
		PaidAt:               inv.PaidAt,
		Payment:              payment,
		CancelledAt:          inv.CancelledAt,
		CancellationReason:   inv.CancellationReason,
		PaymentLinkURL:       inv.PaymentLinkURL,
		DocumentURL:          inv.DocumentURL,
		SideEffects:          sideEffects,
		IssuedAt:             inv.IssuedAt,
		DueDate:              inv.DueDate,
		Notes:                inv.Notes,
		Metadata:             inv.Metadata,
		Version:              inv.Version,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
	}, nil
}

func (r *invoiceRow) toDomain() (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:                   r.ID,
		InvoiceNumber:        r.InvoiceNumber,
		Series:               r.Series,
		SequenceNumber:       r.SequenceNumber,
		NumberDegraded:       r.NumberDegraded,
		Kind:                 types.InvoiceKind(r.Kind),
		PaymentStatus:        types.PaymentStatus(r.PaymentStatus),
		InvoiceStatus:        types.InvoiceStatus(r.InvoiceStatus),
		Currency:             r.Currency,
		Subtotal:             r.Subtotal,
		VATPercentage:        r.VATPercentage,
		VATAmount:            r.VATAmount,
		TotalAmount:          r.TotalAmount,
		PricesIncludeVAT:     r.PricesIncludeVAT,
		ConversionRequested:  r.ConversionRequested,
		ConversionSkipped:    r.ConversionSkipped,
		ConversionSkipReason: r.ConversionSkipReason,
		ProformaInvoiceID:    r.ProformaInvoiceID,
		FiscalInvoiceID:      r.FiscalInvoiceID,
		PaidAt:               r.PaidAt,
		CancelledAt:          r.CancelledAt,
		CancellationReason:   r.CancellationReason,
		PaymentLinkURL:       r.PaymentLinkURL,
		DocumentURL:          r.DocumentURL,
		IssuedAt:             r.IssuedAt,
		DueDate:              r.DueDate,
		Notes:                r.Notes,
		Metadata:             r.Metadata,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}

	if err := json.Unmarshal(r.Buyer, &inv.Buyer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Package, &inv.Package); err != nil {
		return nil, err
	}

	var err error
	if inv.ConvertedAmounts, err = unmarshalOptional[invoice.ConvertedAmounts](r.ConvertedAmounts); err != nil {
		return nil, err
	}
	if inv.ExchangeRate, err = unmarshalOptional[exchangerate.Snapshot](r.ExchangeRate); err != nil {
		return nil, err
	}
	if inv.Payment, err = unmarshalOptional[invoice.Payment](r.Payment); err != nil {
		return nil, err
	}
	if inv.SideEffects, err = unmarshalOptional[invoice.SideEffectReport](r.SideEffects); err != nil {
		return nil, err
	}

	return inv, nil
}

type invoiceRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	span := StartRepositorySpan(ctx, "invoice", "create", map[string]interface{}{
		"invoice_id": inv.ID,
		"kind":       inv.Kind,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"kind", inv.Kind,
	)

	row, err := toInvoiceRow(inv)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode invoice").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID, "step": "persist_invoice"}).
			Mark(ierr.ErrSystem)
	}

	query := fmt.Sprintf(`INSERT INTO invoices (%s) VALUES (%s)`,
		invoiceSelectColumns, placeholders(1, len(invoiceColumns)))

	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, row.args()...); err != nil {
		SetSpanError(span, err)
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHintf("Invoice %s already exists", inv.InvoiceNumber).
				WithReportableDetails(map[string]any{
					"invoice_id":     inv.ID,
					"invoice_number": inv.InvoiceNumber,
					"step":           "persist_invoice",
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create invoice").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID, "step": "persist_invoice"}).
			Mark(ierr.ErrDatabase)
	}

	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "get", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	var row invoiceRow
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1`, invoiceSelectColumns)
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, id); err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invoice.NewNotFoundError(id, "get_invoice")
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "get_invoice"}).
			Mark(ierr.ErrDatabase)
	}

	return r.decode(&row)
}

func (r *invoiceRepository) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "list", nil)
	defer FinishSpan(span)

	if filter == nil {
		filter = types.NewInvoiceFilter()
	}

	where, args := invoiceWhere(filter)
	order := "DESC"
	if filter.GetOrder() == types.OrderAsc {
		order = "ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM invoices%s ORDER BY created_at %s, id %s LIMIT $%d OFFSET $%d`,
		invoiceSelectColumns, where, order, order, len(args)+1, len(args)+2)
	args = append(args, filter.GetLimit(), filter.GetOffset())

	var rows []*invoiceRow
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			WithReportableDetails(map[string]any{"step": "list_invoices"}).
			Mark(ierr.ErrDatabase)
	}

	invoices := make([]*invoice.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := r.decode(row)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	span := StartRepositorySpan(ctx, "invoice", "count", nil)
	defer FinishSpan(span)

	where, args := invoiceWhere(filter)

	var count int
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &count, `SELECT COUNT(*) FROM invoices`+where, args...); err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to count invoices").
			WithReportableDetails(map[string]any{"step": "list_invoices"}).
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func invoiceWhere(filter *types.InvoiceFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		conditions []string
		args       []interface{}
	)
	add := func(column string, value string) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.Kind != "" {
		add("kind", string(filter.Kind))
	}
	if filter.PaymentStatus != "" {
		add("payment_status", string(filter.PaymentStatus))
	}
	if filter.InvoiceStatus != "" {
		add("invoice_status", string(filter.InvoiceStatus))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// MarkPaid is a single conditional UPDATE. Zero rows means another caller
// already moved the invoice, in which case the current state is reported.
func (r *invoiceRepository) MarkPaid(ctx context.Context, id string, payment *invoice.Payment) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "mark_paid", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	encoded, err := json.Marshal(payment)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode payment").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "mark_paid"}).
			Mark(ierr.ErrSystem)
	}

	query := fmt.Sprintf(`
		UPDATE invoices
		SET payment_status = $2, paid_at = $3, payment = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND kind = $6 AND payment_status = $7 AND invoice_status = $8
		RETURNING %s`, invoiceSelectColumns)

	var row invoiceRow
	err = r.db.GetQuerier(ctx).GetContext(ctx, &row, query,
		id,
		string(types.PaymentStatusPaid),
		payment.PaidAt,
		encoded,
		time.Now().UTC(),
		string(types.InvoiceKindProforma),
		string(types.PaymentStatusPending),
		string(types.InvoiceStatusIssued),
	)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionError(ctx, id, "mark_paid")
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to mark invoice as paid").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "mark_paid"}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("marked invoice as paid", "invoice_id", id)
	return r.decode(&row)
}

func (r *invoiceRepository) Cancel(ctx context.Context, id string, reason string, cancelledAt time.Time) (*invoice.Invoice, error) {
	span := StartRepositorySpan(ctx, "invoice", "cancel", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	query := fmt.Sprintf(`
		UPDATE invoices
		SET invoice_status = $2, cancelled_at = $3, cancellation_reason = $4, version = version + 1, updated_at = $3
		WHERE id = $1 AND kind = $5 AND payment_status = $6 AND invoice_status = $7
		RETURNING %s`, invoiceSelectColumns)

	var row invoiceRow
	err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query,
		id,
		string(types.InvoiceStatusCancelled),
		cancelledAt,
		reason,
		string(types.InvoiceKindProforma),
		string(types.PaymentStatusPending),
		string(types.InvoiceStatusIssued),
	)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionError(ctx, id, "cancel")
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to cancel invoice").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "cancel"}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("cancelled invoice", "invoice_id", id)
	return r.decode(&row)
}

func (r *invoiceRepository) LinkFiscal(ctx context.Context, proformaID string, fiscalID string) error {
	span := StartRepositorySpan(ctx, "invoice", "link_fiscal", map[string]interface{}{
		"invoice_id":        proformaID,
		"fiscal_invoice_id": fiscalID,
	})
	defer FinishSpan(span)

	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, `
		UPDATE invoices
		SET fiscal_invoice_id = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND fiscal_invoice_id IS NULL`,
		proformaID, fiscalID, time.Now().UTC())
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to link fiscal invoice").
			WithReportableDetails(map[string]any{"invoice_id": proformaID, "step": "link_fiscal"}).
			Mark(ierr.ErrDatabase)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return r.transitionError(ctx, proformaID, "link_fiscal")
	}
	return nil
}

func (r *invoiceRepository) SaveSideEffects(ctx context.Context, id string, report *invoice.SideEffectReport) error {
	span := StartRepositorySpan(ctx, "invoice", "save_side_effects", map[string]interface{}{
		"invoice_id": id,
	})
	defer FinishSpan(span)

	encoded, err := json.Marshal(report)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode side effect report").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "save_side_effects"}).
			Mark(ierr.ErrSystem)
	}

	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, `
		UPDATE invoices
		SET side_effects = $2,
			payment_link_url = COALESCE(NULLIF($3, ''), payment_link_url),
			document_url = COALESCE(NULLIF($4, ''), document_url),
			updated_at = $5
		WHERE id = $1`,
		id, encoded, report.PaymentLinkURL, report.DocumentURL, time.Now().UTC())
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to save side effect report").
			WithReportableDetails(map[string]any{"invoice_id": id, "step": "save_side_effects"}).
			Mark(ierr.ErrDatabase)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return invoice.NewNotFoundError(id, "save_side_effects")
	}
	return nil
}

// transitionError loads the current row to tell not found apart from a conflict
func (r *invoiceRepository) transitionError(ctx context.Context, id string, step string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		if ierr.IsNotFound(err) {
			return invoice.NewNotFoundError(id, step)
		}
		return err
	}
	return invoice.NewTransitionConflictError(current, step)
}

func (r *invoiceRepository) decode(row *invoiceRow) (*invoice.Invoice, error) {
	inv, err := row.toDomain()
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decode invoice").
			WithReportableDetails(map[string]any{"invoice_id": row.ID}).
			Mark(ierr.ErrDatabase)
	}
	return inv, nil
}
