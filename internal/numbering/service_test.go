package numbering

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
	"github.com/flexprice/invoicing/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type NumberingServiceSuite struct {
	suite.Suite
	ctx   context.Context
	cfg   *config.Configuration
	store *testutil.InMemoryCounterStore
	log   *logger.Logger
}

func TestNumberingService(t *testing.T) {
	suite.Run(t, new(NumberingServiceSuite))
}

func (s *NumberingServiceSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.cfg = config.GetDefaultConfig()
	s.cfg.Postgres.QueryTimeout = 200 * time.Millisecond
	s.store = testutil.NewInMemoryCounterStore()
	s.log = logger.NewNoopLogger()
}

func (s *NumberingServiceSuite) newService(repo *testutil.InMemoryCounterStore, opts ...Option) Service {
	var svc Service
	var err error
	if repo == nil {
		svc, err = NewService(s.cfg, nil, s.log, opts...)
	} else {
		svc, err = NewService(s.cfg, repo, s.log, opts...)
	}
	s.Require().NoError(err)
	return svc
}

func (s *NumberingServiceSuite) TestFirstAllocationIsStartPlusOne() {
	svc := s.newService(s.store)

	alloc, err := svc.Next(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal(int64(1001), alloc.Value)
	s.Equal("PROF-1001", alloc.Number)
	s.Equal(SourceDurable, alloc.Source)

	alloc, err = svc.Next(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal("PROF-1002", alloc.Number)

	fiscal, err := svc.Next(s.ctx, "FISC")
	s.Require().NoError(err)
	s.Equal("FISC-1001", fiscal.Number)
}

func (s *NumberingServiceSuite) TestConcurrentAllocationsAreDistinct() {
	for _, durable := range []bool{true, false} {
		s.Run(map[bool]string{true: "durable", false: "in_process"}[durable], func() {
			s.cfg.Numbering.AllowInProcessFallback = !durable
			var svc Service
			if durable {
				svc = s.newService(testutil.NewInMemoryCounterStore())
			} else {
				svc = s.newService(nil)
			}

			const n = 50
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				values = make(map[int64]struct{}, n)
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					alloc, err := svc.Next(s.ctx, "PROF")
					s.NoError(err)
					if alloc == nil {
						return
					}
					mu.Lock()
					values[alloc.Value] = struct{}{}
					mu.Unlock()
				}()
			}
			wg.Wait()

			s.Len(values, n)
			for v := int64(1001); v <= 1000+n; v++ {
				s.Contains(values, v)
			}
		})
	}
}

func (s *NumberingServiceSuite) TestMissingStoreIsRejectedWithoutFallback() {
	s.cfg.Numbering.AllowInProcessFallback = false

	_, err := NewService(s.cfg, nil, s.log)
	s.Require().Error(err)
	s.True(ierr.IsDependency(err))
}

func (s *NumberingServiceSuite) TestDurableFailureWithoutFallbackIsFatal() {
	s.cfg.Numbering.AllowInProcessFallback = false
	svc := s.newService(s.store)
	s.store.SetError(errors.New("connection refused"))

	_, err := svc.Next(s.ctx, "PROF")
	s.Require().Error(err)
	s.True(ierr.IsDependency(err))
	s.Equal("allocate_number", ierr.ReportableDetails(err)["step"])
	s.Greater(s.store.Calls(), 1, "transient failures are retried")
}

func (s *NumberingServiceSuite) TestDurableFailureFallsBackAndContinuesSequence() {
	s.cfg.Numbering.AllowInProcessFallback = true
	svc := s.newService(s.store)

	first, err := svc.Next(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal(int64(1001), first.Value)

	s.store.SetError(errors.New("connection refused"))
	second, err := svc.Next(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal(SourceInProcess, second.Source)
	s.Equal(int64(1002), second.Value)
}

func (s *NumberingServiceSuite) TestRecoveredStoreResumesAboveFallbackNumbers() {
	s.cfg.Numbering.AllowInProcessFallback = true
	svc := s.newService(s.store)

	seen := make(map[string]Source)
	next := func() *Allocation {
		alloc, err := svc.Next(s.ctx, "PROF")
		s.Require().NoError(err)
		s.NotContains(seen, alloc.Number, "number %s allocated twice", alloc.Number)
		seen[alloc.Number] = alloc.Source
		return alloc
	}

	s.Equal("PROF-1001", next().Number)

	s.store.SetError(errors.New("connection refused"))
	fallback := next()
	s.Equal(SourceInProcess, fallback.Source)
	s.Equal("PROF-1002", fallback.Number)
	s.Equal("PROF-1003", next().Number)

	s.store.SetError(nil)
	recovered := next()
	s.Equal(SourceDurable, recovered.Source)
	s.Equal("PROF-1004", recovered.Number)

	stored, err := s.store.Get(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal(int64(1004), stored.Value)

	s.Equal("PROF-1005", next().Number)
	s.Len(seen, 5)
}

func (s *NumberingServiceSuite) TestDurableFailureInsideTransactionIsFatal() {
	s.cfg.Numbering.AllowInProcessFallback = true
	svc := s.newService(s.store)
	s.store.SetError(errors.New("current transaction is aborted"))

	txCtx := context.WithValue(s.ctx, postgres.TxKey{}, &postgres.Tx{ID: "tx_numbering"})
	_, err := svc.Next(txCtx, "FISC")
	s.Require().Error(err)
	s.True(ierr.IsDependency(err))
	s.Equal("allocate_number", ierr.ReportableDetails(err)["step"])
	s.Equal(1, s.store.Calls(), "no retries inside a transaction")

	s.store.SetError(nil)
	alloc, err := svc.Next(s.ctx, "FISC")
	s.Require().NoError(err)
	s.Equal(SourceDurable, alloc.Source)
	s.Equal("FISC-1001", alloc.Number)
}

func (s *NumberingServiceSuite) TestUnknownSeriesIsDegraded() {
	now := time.Date(2026, 5, 4, 13, 14, 15, 0, time.UTC)
	svc := s.newService(s.store, WithClock(func() time.Time { return now }))

	alloc, err := svc.Next(s.ctx, "ADHOC")
	s.Require().NoError(err)
	s.True(alloc.Degraded())
	s.Regexp(regexp.MustCompile(`^ADHOC-20260504131415-[A-Za-z0-9]+$`), alloc.Number)
	s.Zero(alloc.Value)
	s.Zero(s.store.Calls())

	other, err := svc.Next(s.ctx, "ADHOC")
	s.Require().NoError(err)
	s.NotEqual(alloc.Number, other.Number)
}

func (s *NumberingServiceSuite) TestCounters() {
	svc := s.newService(s.store)

	_, err := svc.Next(s.ctx, "PROF")
	s.Require().NoError(err)

	counters, err := svc.Counters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(counters, 2)
	s.Equal("FISC", counters[0].Series)
	s.Equal(int64(1000), counters[0].Value)
	s.Equal("PROF", counters[1].Series)
	s.Equal(int64(1001), counters[1].Value)

	counter, err := svc.Counter(s.ctx, "PROF")
	s.Require().NoError(err)
	s.Equal(int64(1001), counter.Value)

	_, err = svc.Counter(s.ctx, "NOPE")
	s.True(ierr.IsNotFound(err))
}

func TestAllocationFormat(t *testing.T) {
	alloc := newAllocation("PROF", 1007, SourceDurable)
	require.NotNil(t, alloc)
	assert.Equal(t, "PROF-1007", alloc.Number)
	assert.False(t, alloc.Degraded())
}
