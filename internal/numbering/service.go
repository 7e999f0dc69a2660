// Package numbering allocates sequential invoice numbers per series.
//
// Numbers come from the durable counter store when one is configured. When it
// is missing or failing, and numbering.allow_in_process_fallback is set, a
// mutex-guarded in-process counter takes over. The in-process path is only
// safe for single-instance deployments. Unknown series never fail and get a
// degraded number built from a timestamp and a random suffix.
package numbering

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/domain/invoice"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
	"github.com/flexprice/invoicing/internal/types"
)

// Source tells where an allocated number came from
type Source string

const (
	SourceDurable   Source = "durable"
	SourceInProcess Source = "in_process"
	SourceDegraded  Source = "degraded"
)

const (
	degradedTimeLayout = "20060102150405"

	// retryWindow bounds durable retries when no query timeout is configured
	retryWindow = 2 * time.Second

	maxReconcileAttempts = 3
)

// Allocation is one allocated invoice number
type Allocation struct {
	Series string `json:"series"`
	Value  int64  `json:"value"`
	Number string `json:"number"`
	Source Source `json:"source"`
}

// Degraded is true for numbers that are not part of a sequence
func (a *Allocation) Degraded() bool {
	return a.Source == SourceDegraded
}

// Service allocates invoice numbers
type Service interface {
	// Next returns the next number of series. It fails only when the durable
	// store fails and either the in-process fallback is disabled or ctx
	// carries a transaction.
	Next(ctx context.Context, series string) (*Allocation, error)

	// Counters returns the current value of every known series
	Counters(ctx context.Context) ([]*invoice.SeriesCounter, error)

	// Counter returns the current value of one series or a not found error
	Counter(ctx context.Context, series string) (*invoice.SeriesCounter, error)
}

// Option configures the service
type Option func(*service)

// WithClock overrides the time source used for degraded numbers
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	repo          invoice.CounterRepository
	starts        map[string]int64
	allowFallback bool
	queryTimeout  time.Duration
	logger        *logger.Logger
	now           func() time.Time

	mu    sync.Mutex
	local map[string]*invoice.SeriesCounter
	// unsynced is the highest in-process value per series the durable store
	// has not been advanced to yet
	unsynced map[string]int64
}

// NewService builds the numbering service. repo may be nil, in which case
// the service refuses to start unless the in-process fallback is allowed.
func NewService(cfg *config.Configuration, repo invoice.CounterRepository, log *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil && !cfg.Numbering.AllowInProcessFallback {
		return nil, ierr.NewError("durable counter store is not configured").
			WithHint("Enable postgres or set numbering.allow_in_process_fallback for single-instance deployments").
			Mark(ierr.ErrDependency)
	}

	s := &service{
		repo:          repo,
		starts:        cfg.Numbering.SeriesStart(),
		allowFallback: cfg.Numbering.AllowInProcessFallback,
		queryTimeout:  cfg.Postgres.QueryTimeout,
		logger:        log,
		now:           time.Now,
		local:         make(map[string]*invoice.SeriesCounter),
		unsynced:      make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if repo == nil {
		log.Warnw("numbering uses in-process counters, invoice numbers may collide across instances")
	}
	return s, nil
}

func (s *service) Next(ctx context.Context, series string) (*Allocation, error) {
	start, known := s.starts[series]
	if !known {
		return s.degraded(series), nil
	}

	if s.repo != nil {
		value, err := s.allocateDurable(ctx, series, start)
		if err == nil {
			return newAllocation(series, value, SourceDurable), nil
		}

		// a failed statement has already aborted the surrounding transaction,
		// so an in-process number could not be persisted with it
		_, inTx := postgres.GetTx(ctx)
		if !s.allowFallback || inTx {
			s.logger.Errorw("durable numbering failed",
				"series", series,
				"step", "allocate_number",
				"in_transaction", inTx,
				"error", err,
			)
			return nil, ierr.WithError(err).
				WithHintf("Could not allocate a number for series %s", series).
				WithReportableDetails(map[string]any{
					"series": series,
					"step":   "allocate_number",
				}).
				Mark(ierr.ErrDependency)
		}

		s.logger.Warnw("durable numbering failed, using in-process counter",
			"series", series,
			"step", "allocate_number",
			"error", err,
		)
	} else {
		s.logger.Warnw("allocating from in-process counter", "series", series)
	}

	return newAllocation(series, s.nextLocal(series, start), SourceInProcess), nil
}

// allocateDurable takes the next value from the durable store. Values handed
// out in-process while the store was failing are pushed to it first, so the
// durable sequence resumes above them.
func (s *service) allocateDurable(ctx context.Context, series string, start int64) (int64, error) {
	_, inTx := postgres.GetTx(ctx)

	for attempt := 1; ; attempt++ {
		highWater := s.unsyncedValue(series)
		if highWater > 0 {
			s.logger.Infow("reconciling durable counter with in-process numbers",
				"series", series,
				"value", highWater,
			)
		}

		value, err := s.nextDurable(ctx, series, start, highWater)
		if err != nil {
			return 0, err
		}

		// a rollback undoes the advance, so the high-water is kept until a
		// call outside a transaction succeeds
		if s.settle(series, start, value, !inTx) {
			return value, nil
		}

		if attempt >= maxReconcileAttempts {
			return 0, ierr.NewErrorf("durable counter for series %s is behind in-process numbers", series).
				WithReportableDetails(map[string]any{
					"series": series,
					"value":  value,
				}).
				Mark(ierr.ErrConflict)
		}
	}
}

// nextDurable increments the stored counter within postgres.query_timeout,
// advancing it to highWater first when that is set. Transient failures are
// retried unless the call runs inside a transaction, where a failed statement
// aborts the transaction anyway.
func (s *service) nextDurable(ctx context.Context, series string, start, highWater int64) (int64, error) {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	increment := func() (int64, error) {
		if highWater > 0 {
			if err := s.repo.AdvanceTo(ctx, series, start, highWater); err != nil {
				return 0, err
			}
		}
		return s.repo.Increment(ctx, series, start)
	}

	if _, inTx := postgres.GetTx(ctx); inTx {
		return increment()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = s.queryTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = retryWindow
	}

	attempt := 0
	return backoff.RetryWithData(func() (int64, error) {
		attempt++
		value, err := increment()
		if err != nil && ctx.Err() != nil {
			return 0, backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Debugw("counter increment failed", "series", series, "attempt", attempt, "error", err)
		}
		return value, err
	}, backoff.WithContext(b, ctx))
}

// settle accepts a durable value only when it is above every in-process
// value handed out so far. An accepted value also moves the in-process
// counter up so a later fallback continues the sequence instead of
// restarting it.
func (s *service) settle(series string, start, value int64, forget bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value <= s.unsynced[series] {
		return false
	}
	if forget {
		delete(s.unsynced, series)
	}

	counter := s.localCounter(series, start)
	if value > counter.Value {
		counter.Value = value
		counter.UpdatedAt = s.now().UTC()
	}
	return true
}

func (s *service) unsyncedValue(series string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsynced[series]
}

func (s *service) nextLocal(series string, start int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.localCounter(series, start)
	counter.Value++
	counter.UpdatedAt = s.now().UTC()
	if s.repo != nil {
		s.unsynced[series] = counter.Value
	}
	return counter.Value
}

// localCounter must be called with mu held
func (s *service) localCounter(series string, start int64) *invoice.SeriesCounter {
	counter, ok := s.local[series]
	if !ok {
		counter = &invoice.SeriesCounter{Series: series, Value: start, Start: start}
		s.local[series] = counter
	}
	return counter
}

func (s *service) degraded(series string) *Allocation {
	prefix := strings.ToUpper(strings.TrimSpace(series))
	if prefix == "" {
		prefix = "INV"
	}

	suffix := types.GenerateShortID()
	if suffix == "" {
		suffix = strings.ToUpper(types.GenerateUUID()[:8])
	}

	number := fmt.Sprintf("%s-%s-%s", prefix, s.now().UTC().Format(degradedTimeLayout), suffix)
	s.logger.Warnw("degraded invoice number allocated",
		"series", series,
		"number", number,
		"step", "allocate_number",
	)

	return &Allocation{
		Series: prefix,
		Number: number,
		Source: SourceDegraded,
	}
}

func (s *service) Counters(ctx context.Context) ([]*invoice.SeriesCounter, error) {
	bySeries := make(map[string]*invoice.SeriesCounter)

	s.mu.Lock()
	for series, start := range s.starts {
		counter := &invoice.SeriesCounter{Series: series, Value: start, Start: start}
		if local, ok := s.local[series]; ok {
			copied := *local
			counter = &copied
		}
		bySeries[series] = counter
	}
	s.mu.Unlock()

	if s.repo != nil {
		stored, err := s.repo.List(ctx)
		if err != nil {
			if !s.allowFallback {
				return nil, err
			}
			s.logger.Warnw("failed to list durable counters, reporting in-process values", "error", err)
		}
		for _, counter := range stored {
			bySeries[counter.Series] = counter
		}
	}

	counters := make([]*invoice.SeriesCounter, 0, len(bySeries))
	for _, counter := range bySeries {
		counters = append(counters, counter)
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].Series < counters[j].Series
	})
	return counters, nil
}

func (s *service) Counter(ctx context.Context, series string) (*invoice.SeriesCounter, error) {
	counters, err := s.Counters(ctx)
	if err != nil {
		return nil, err
	}

	for _, counter := range counters {
		if counter.Series == series {
			return counter, nil
		}
	}

	return nil, ierr.NewErrorf("series %s not found", series).
		WithHintf("Series %s is not configured", series).
		WithReportableDetails(map[string]any{
			"series": series,
			"step":   "get_counter",
		}).
		Mark(ierr.ErrNotFound)
}

func newAllocation(series string, value int64, source Source) *Allocation {
	return &Allocation{
		Series: series,
		Value:  value,
		Number: invoice.FormatNumber(series, value),
		Source: source,
	}
}
