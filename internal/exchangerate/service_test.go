package exchangerate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexprice/invoicing/internal/cache"
	"github.com/flexprice/invoicing/internal/config"
	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type fakeFeed struct {
	mu      sync.Mutex
	rate    decimal.Decimal
	err     error
	delay   time.Duration
	calls   int32
	release chan struct{}
}

func (f *fakeFeed) Name() string { return "fake" }

func (f *fakeFeed) FetchRate(ctx context.Context, pair domainRate.Pair) (*domainRate.FeedRate, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &domainRate.FeedRate{Pair: pair, Rate: f.rate, Provider: "fake"}, nil
}

func (f *fakeFeed) set(rate string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rate != "" {
		f.rate = decimal.RequireFromString(rate)
	}
	f.err = err
}

func (f *fakeFeed) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	feed  *fakeFeed
	cache *cache.InMemoryCache
	now   time.Time
	svc   Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.feed = &fakeFeed{rate: decimal.RequireFromString("5.00")}
	s.cache = cache.NewInMemoryCache()
	s.now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s.svc = s.newService(10 * time.Second)
}

func (s *ServiceSuite) newService(fetchTimeout time.Duration) Service {
	cfg := config.GetDefaultConfig()
	cfg.ExchangeRate.FetchTimeout = fetchTimeout
	return NewService(cfg, s.cache, s.feed, logger.NewNoopLogger(), WithClock(func() time.Time { return s.now }))
}

func (s *ServiceSuite) TestIdentityPairNeverCallsFeed() {
	snap, err := s.svc.GetRate(s.ctx, "RON", "ron")
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(1).Equal(snap.Rate))
	s.Equal(domainRate.ProviderIdentity, snap.Provider)

	snap, err = s.svc.GetRate(s.ctx, "USD", "USD")
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(1).Equal(snap.Rate))
	s.Equal(0, s.feed.Calls())
}

func (s *ServiceSuite) TestUnsupportedPair() {
	_, err := s.svc.GetRate(s.ctx, "USD", "RON")
	s.Require().Error(err)
	s.True(ierr.IsNotSupported(err))
	s.Equal(0, s.feed.Calls())
}

func (s *ServiceSuite) TestWithinTTLServedFromCache() {
	first, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)
	s.False(first.IsCached)
	s.Equal(1, s.feed.Calls())

	s.now = s.now.Add(23 * time.Hour)
	for i := 0; i < 5; i++ {
		snap, err := s.svc.GetRate(s.ctx, "EUR", "RON")
		s.Require().NoError(err)
		s.True(snap.IsCached)
		s.False(snap.IsStale)
		s.True(first.Rate.Equal(snap.Rate))
	}
	s.Equal(1, s.feed.Calls())
}

func (s *ServiceSuite) TestInverseUsesSameEntry() {
	_, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)

	snap, err := s.svc.GetRate(s.ctx, "RON", "EUR")
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("0.2").Equal(snap.Rate), snap.Rate.String())
	s.Equal("RON", snap.SourceCurrency)
	s.Equal("EUR", snap.TargetCurrency)
	s.True(snap.IsCached)
	s.Equal(1, s.feed.Calls())
}

func (s *ServiceSuite) TestExpiredAndFailingFeedServesStale() {
	fresh, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)

	s.now = s.now.Add(25 * time.Hour)
	s.feed.set("", errors.New("connection refused"))

	snap, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)
	s.True(snap.IsCached)
	s.True(snap.IsStale)
	s.True(fresh.Rate.Equal(snap.Rate))
	s.Equal(fresh.FetchedAt, snap.FetchedAt)
	s.Equal(2, s.feed.Calls())
}

func (s *ServiceSuite) TestExpiredRefreshesWhenFeedIsUp() {
	_, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)

	s.now = s.now.Add(25 * time.Hour)
	s.feed.set("5.10", nil)

	snap, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)
	s.False(snap.IsCached)
	s.True(decimal.RequireFromString("5.10").Equal(snap.Rate))
	s.Equal(s.now, snap.FetchedAt)
}

func (s *ServiceSuite) TestNoPreviousValueFails() {
	s.feed.set("", errors.New("timeout"))

	_, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().Error(err)
	s.True(ierr.IsDependency(err))
}

func (s *ServiceSuite) TestFeedTimeoutBehavesLikeFailure() {
	s.feed.delay = time.Second
	svc := s.newService(10 * time.Millisecond)

	_, err := svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().Error(err)
	s.True(ierr.IsDependency(err))
}

func (s *ServiceSuite) TestConcurrentMissesCoalesce() {
	s.feed.release = make(chan struct{})

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.GetRate(s.ctx, "EUR", "RON")
			errs <- err
		}()
	}

	// let every caller reach the in-flight fetch before it completes
	s.Eventually(func() bool { return s.feed.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(s.feed.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(1, s.feed.Calls())
}

func (s *ServiceSuite) TestConvert() {
	amount, snap, err := s.svc.Convert(s.ctx, decimal.RequireFromString("119.00"), "EUR", "RON")
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("595.00").Equal(amount), amount.String())
	s.True(decimal.RequireFromString("5.00").Equal(snap.Rate))
}

func (s *ServiceSuite) TestStatusAndClear() {
	_, err := s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Hour)
	status, err := s.svc.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(24*3600), status.TTLSeconds)
	s.Require().Len(status.Pairs, 1)
	s.Equal("EUR_RON", status.Pairs[0].Pair)
	s.Equal(int64(7200), status.Pairs[0].AgeSeconds)
	s.False(status.Pairs[0].Expired)

	s.Require().NoError(s.svc.Clear(s.ctx))
	status, err = s.svc.Status(s.ctx)
	s.Require().NoError(err)
	s.Empty(status.Pairs)

	_, err = s.svc.GetRate(s.ctx, "EUR", "RON")
	s.Require().NoError(err)
	s.Equal(2, s.feed.Calls())
}
