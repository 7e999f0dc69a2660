package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
)

const (
	counterIncrementQuery = `
		INSERT INTO invoice_series_counters (series, value, start_value, created_at, updated_at)
		VALUES ($1, $2 + 1, $2, NOW(), NOW())
		ON CONFLICT (series) DO UPDATE
			SET value = invoice_series_counters.value + 1,
				updated_at = NOW()
		RETURNING value`

	counterAdvanceQuery = `
		INSERT INTO invoice_series_counters (series, value, start_value, created_at, updated_at)
		VALUES ($1, $3, $2, NOW(), NOW())
		ON CONFLICT (series) DO UPDATE
			SET value = GREATEST(invoice_series_counters.value, EXCLUDED.value),
				updated_at = NOW()`

	counterSelectQuery = `SELECT series, value, start_value, updated_at FROM invoice_series_counters`
)

type counterRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewCounterRepository(db *postgres.DB, logger *logger.Logger) invoice.CounterRepository {
	return &counterRepository{db: db, logger: logger}
}

func (r *counterRepository) Increment(ctx context.Context, series string, start int64) (int64, error) {
	span := StartRepositorySpan(ctx, "counter", "increment", map[string]interface{}{
		"series": series,
	})
	defer FinishSpan(span)

	var value int64
	err := r.db.GetQuerier(ctx).QueryRowContext(ctx, counterIncrementQuery, series, start).Scan(&value)
	if err != nil {
		SetSpanError(span, err)
		return 0, ierr.WithError(err).
			WithHint("Failed to allocate invoice number").
			WithReportableDetails(map[string]any{
				"series": series,
				"step":   "allocate_number",
			}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("incremented series counter", "series", series, "value", value)
	return value, nil
}

func (r *counterRepository) AdvanceTo(ctx context.Context, series string, start, value int64) error {
	span := StartRepositorySpan(ctx, "counter", "advance", map[string]interface{}{
		"series": series,
		"value":  value,
	})
	defer FinishSpan(span)

	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, counterAdvanceQuery, series, start, value); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to advance invoice number counter").
			WithReportableDetails(map[string]any{
				"series": series,
				"value":  value,
				"step":   "allocate_number",
			}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Infow("advanced series counter", "series", series, "value", value)
	return nil
}

func (r *counterRepository) Get(ctx context.Context, series string) (*invoice.SeriesCounter, error) {
	span := StartRepositorySpan(ctx, "counter", "get", map[string]interface{}{
		"series": series,
	})
	defer FinishSpan(span)

	var counter invoice.SeriesCounter
	err := r.db.GetQuerier(ctx).GetContext(ctx, &counter, counterSelectQuery+` WHERE series = $1`, series)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Series %s has no counter yet", series).
				WithReportableDetails(map[string]any{
					"series": series,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get series counter").
			WithReportableDetails(map[string]any{
				"series": series,
			}).
			Mark(ierr.ErrDatabase)
	}

	return &counter, nil
}

func (r *counterRepository) List(ctx context.Context) ([]*invoice.SeriesCounter, error) {
	span := StartRepositorySpan(ctx, "counter", "list", nil)
	defer FinishSpan(span)

	var counters []*invoice.SeriesCounter
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &counters, counterSelectQuery+` ORDER BY series`); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list series counters").
			Mark(ierr.ErrDatabase)
	}

	return counters, nil
}
