package postgres

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
	"github.com/flexprice/invoicing/internal/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return postgres.NewDBFromSQLX(sqlx.NewDb(mockDB, "postgres"), logger.NewNoopLogger(), time.Second), mock
}

func testProforma() *invoice.Invoice {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &invoice.Invoice{
		ID:             "inv_01",
		InvoiceNumber:  "PROF-1001",
		Series:         "PROF",
		SequenceNumber: 1001,
		Kind:           types.InvoiceKindProforma,
		PaymentStatus:  types.PaymentStatusPending,
		InvoiceStatus:  types.InvoiceStatusIssued,
		Buyer:          invoice.Buyer{Name: "Ana Pop", Email: "ana@example.com"},
		Package:        invoice.Package{ID: "pkg_1", Name: "Gold"},
		Currency:       "EUR",
		Subtotal:       decimal.NewFromInt(100),
		VATPercentage:  decimal.NewFromInt(19),
		VATAmount:      decimal.NewFromInt(19),
		TotalAmount:    decimal.NewFromInt(119),
		ExchangeRate: &exchangerate.Snapshot{
			SourceCurrency: "EUR",
			TargetCurrency: "RON",
			Rate:           decimal.RequireFromString("4.9771"),
			Provider:       "bnr",
			FetchedAt:      now,
		},
		IssuedAt:  now,
		Metadata:  types.Metadata{"source": "web"},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// rowsFor renders invoices as sqlmock rows in the table's column order
func rowsFor(t *testing.T, invoices ...*invoice.Invoice) *sqlmock.Rows {
	rows := sqlmock.NewRows(invoiceColumns)
	for _, inv := range invoices {
		row, err := toInvoiceRow(inv)
		require.NoError(t, err)

		values := make([]driver.Value, 0, len(invoiceColumns))
		for _, arg := range row.args() {
			v, err := driver.DefaultParameterConverter.ConvertValue(arg)
			require.NoError(t, err)
			values = append(values, v)
		}
		rows.AddRow(values...)
	}
	return rows
}

func TestInvoiceRepository_Create(t *testing.T) {
	t.Run("inserts every column", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices (id, invoice_number")).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), testProforma()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate number is already exists", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
			WillReturnError(&pq.Error{Code: pqUniqueViolation})

		err := repo.Create(context.Background(), testProforma())
		require.Error(t, err)
		assert.True(t, ierr.IsAlreadyExists(err))
	})
}

func TestInvoiceRepository_Get(t *testing.T) {
	t.Run("decodes nested columns", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())
		want := testProforma()

		mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
			WithArgs(want.ID).
			WillReturnRows(rowsFor(t, want))

		got, err := repo.Get(context.Background(), want.ID)
		require.NoError(t, err)
		assert.Equal(t, "PROF-1001", got.InvoiceNumber)
		assert.Equal(t, "Ana Pop", got.Buyer.Name)
		assert.Equal(t, "Gold", got.Package.Name)
		assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(119)))
		require.NotNil(t, got.ExchangeRate)
		assert.True(t, got.ExchangeRate.Rate.Equal(decimal.RequireFromString("4.9771")))
		assert.Nil(t, got.Payment)
		assert.Equal(t, "web", got.Metadata["source"])
	})

	t.Run("missing row is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
			WithArgs("inv_missing").
			WillReturnRows(sqlmock.NewRows(invoiceColumns))

		_, err := repo.Get(context.Background(), "inv_missing")
		require.Error(t, err)
		assert.True(t, ierr.IsNotFound(err))
		assert.Equal(t, "inv_missing", ierr.ReportableDetails(err)["invoice_id"])
	})
}

func TestInvoiceRepository_MarkPaid(t *testing.T) {
	payment := &invoice.Payment{
		Method:   types.PaymentMethodBankTransfer,
		Amount:   decimal.NewFromInt(119),
		Currency: "EUR",
		PaidAt:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	t.Run("pending proforma becomes paid", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		paid := testProforma()
		paid.PaymentStatus = types.PaymentStatusPaid
		paid.PaidAt = lo.ToPtr(payment.PaidAt)
		paid.Payment = payment

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE invoices")).
			WithArgs(paid.ID, "paid", payment.PaidAt, sqlmock.AnyArg(), sqlmock.AnyArg(), "proforma", "pending", "issued").
			WillReturnRows(rowsFor(t, paid))

		got, err := repo.MarkPaid(context.Background(), paid.ID, payment)
		require.NoError(t, err)
		assert.Equal(t, types.PaymentStatusPaid, got.PaymentStatus)
		require.NotNil(t, got.Payment)
		assert.Equal(t, types.PaymentMethodBankTransfer, got.Payment.Method)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already paid is a conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		current := testProforma()
		current.PaymentStatus = types.PaymentStatusPaid

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE invoices")).
			WillReturnRows(sqlmock.NewRows(invoiceColumns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
			WithArgs(current.ID).
			WillReturnRows(rowsFor(t, current))

		_, err := repo.MarkPaid(context.Background(), current.ID, payment)
		require.Error(t, err)
		assert.True(t, ierr.IsConflict(err))
		assert.Equal(t, "Invoice is already paid", ierr.DisplayMessage(err))
		assert.Equal(t, "mark_paid", ierr.ReportableDetails(err)["step"])
	})

	t.Run("unknown invoice is not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInvoiceRepository(db, logger.NewNoopLogger())

		mock.ExpectQuery(regexp.QuoteMeta("UPDATE invoices")).
			WillReturnRows(sqlmock.NewRows(invoiceColumns))
		mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(invoiceColumns))

		_, err := repo.MarkPaid(context.Background(), "inv_missing", payment)
		require.Error(t, err)
		assert.True(t, ierr.IsNotFound(err))
	})
}

func TestInvoiceRepository_Cancel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, logger.NewNoopLogger())
	cancelledAt := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	current := testProforma()
	current.InvoiceStatus = types.InvoiceStatusCancelled

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE invoices")).
		WithArgs(current.ID, "cancelled", cancelledAt, "customer request", "proforma", "pending", "issued").
		WillReturnRows(sqlmock.NewRows(invoiceColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
		WillReturnRows(rowsFor(t, current))

	_, err := repo.Cancel(context.Background(), current.ID, "customer request", cancelledAt)
	require.Error(t, err)
	assert.True(t, ierr.IsConflict(err))
	assert.Equal(t, "Invoice is cancelled", ierr.DisplayMessage(err))
}

func TestInvoiceRepository_ListAndCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, logger.NewNoopLogger())

	filter := types.NewInvoiceFilter()
	filter.Kind = types.InvoiceKindProforma
	filter.PaymentStatus = types.PaymentStatusPending
	filter.Limit = lo.ToPtr(10)

	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE kind = $1 AND payment_status = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("proforma", "pending", 10, 0).
		WillReturnRows(rowsFor(t, testProforma()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM invoices WHERE kind = $1 AND payment_status = $2")).
		WithArgs("proforma", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	invoices, err := repo.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	count, err := repo.Count(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_LinkFiscal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, logger.NewNoopLogger())

	mock.ExpectExec(regexp.QuoteMeta("SET fiscal_invoice_id = $2")).
		WithArgs("inv_01", "inv_02", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.LinkFiscal(context.Background(), "inv_01", "inv_02"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_SaveSideEffects(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvoiceRepository(db, logger.NewNoopLogger())

	report := &invoice.SideEffectReport{
		InvoiceID:    "inv_01",
		PDFGenerated: true,
		DocumentURL:  "https://files.example.com/inv_01.pdf",
	}

	mock.ExpectExec(regexp.QuoteMeta("SET side_effects = $2")).
		WithArgs("inv_01", sqlmock.AnyArg(), "", report.DocumentURL, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveSideEffects(context.Background(), "inv_01", report)
	require.Error(t, err)
	assert.True(t, ierr.IsNotFound(err))
}
