// Package exchangerate answers "what is one unit of A worth in B" for the
// configured currency pair, with a TTL cache that keeps serving the last known
// rate when the upstream feed is unavailable.
package exchangerate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/flexprice/invoicing/internal/cache"
	"github.com/flexprice/invoicing/internal/config"
	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/money"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service is the exchange rate cache
type Service interface {
	// GetRate returns the rate to convert one unit of from into to.
	// Unsupported pairs return an ErrNotSupported error.
	GetRate(ctx context.Context, from, to string) (*domainRate.Snapshot, error)

	// Convert multiplies amount by the rate and rounds to two decimals
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, *domainRate.Snapshot, error)

	// Status describes every cached pair
	Status(ctx context.Context) (*domainRate.CacheStatus, error)

	// Clear drops every cached rate
	Clear(ctx context.Context) error
}

type service struct {
	cache  cache.Cache
	feed   domainRate.Feed
	logger *logger.Logger

	base         domainRate.Pair
	ttl          time.Duration
	fetchTimeout time.Duration

	group singleflight.Group
	now   func() time.Time
}

// Option customizes the service, mostly for tests
type Option func(*service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates the rate cache for the configured foreign to local pair
func NewService(cfg *config.Configuration, c cache.Cache, feed domainRate.Feed, log *logger.Logger, opts ...Option) Service {
	s := &service{
		cache:        c,
		feed:         feed,
		logger:       log,
		base:         domainRate.NewPair(cfg.ExchangeRate.ForeignCurrency, cfg.ExchangeRate.LocalCurrency),
		ttl:          cfg.ExchangeRate.TTL,
		fetchTimeout: cfg.ExchangeRate.FetchTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) GetRate(ctx context.Context, from, to string) (*domainRate.Snapshot, error) {
	pair := domainRate.NewPair(from, to)

	if pair.IsIdentity() {
		return &domainRate.Snapshot{
			SourceCurrency: pair.From,
			TargetCurrency: pair.To,
			Rate:           decimal.NewFromInt(1),
			Provider:       domainRate.ProviderIdentity,
			FetchedAt:      s.now(),
		}, nil
	}

	inverse := false
	switch pair {
	case s.base:
	case s.base.Inverse():
		inverse = true
	default:
		return nil, ierr.NewErrorf("currency pair %s is not supported", pair).
			WithHintf("Conversion from %s to %s is not supported", pair.From, pair.To).
			WithReportableDetails(map[string]any{
				"pair": pair.Key(),
				"step": "get_rate",
			}).
			Mark(ierr.ErrNotSupported)
	}

	entry, cached, stale, err := s.resolve(ctx, s.base)
	if err != nil {
		return nil, err
	}

	rate := entry.Rate
	if inverse {
		rate = decimal.NewFromInt(1).Div(entry.Rate)
	}

	return &domainRate.Snapshot{
		SourceCurrency: pair.From,
		TargetCurrency: pair.To,
		Rate:           rate,
		Provider:       entry.Provider,
		FetchedAt:      entry.FetchedAt,
		IsCached:       cached,
		IsStale:        stale,
	}, nil
}

func (s *service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, *domainRate.Snapshot, error) {
	snapshot, err := s.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, nil, err
	}
	return money.Round(amount.Mul(snapshot.Rate)), snapshot, nil
}

// resolve serves pair from the cache within the TTL and refreshes it otherwise.
// A failed refresh falls back to the previous entry when there is one.
func (s *service) resolve(ctx context.Context, pair domainRate.Pair) (entry *domainRate.CacheEntry, cached bool, stale bool, err error) {
	previous := s.load(ctx, pair)
	if previous != nil && !previous.IsExpired(s.now(), s.ttl) {
		return previous, true, false, nil
	}

	v, err, _ := s.group.Do(pair.Key(), func() (interface{}, error) {
		// another caller may have refreshed while we were waiting
		if current := s.load(ctx, pair); current != nil && !current.IsExpired(s.now(), s.ttl) {
			return current, nil
		}
		return s.refresh(ctx, pair)
	})
	if err == nil {
		return v.(*domainRate.CacheEntry), false, false, nil
	}

	if previous != nil {
		s.logger.Warnw("exchange rate refresh failed, serving stale rate",
			"pair", pair.Key(),
			"fetched_at", previous.FetchedAt,
			"age", s.now().Sub(previous.FetchedAt).String(),
			"error", err,
		)
		return previous, true, true, nil
	}

	s.logger.Errorw("exchange rate refresh failed and no previous rate is cached",
		"pair", pair.Key(),
		"error", err,
	)
	if ierr.IsNotSupported(err) {
		return nil, false, false, err
	}
	return nil, false, false, ierr.WithError(err).
		WithHintf("Exchange rate for %s is unavailable", pair).
		WithReportableDetails(map[string]any{
			"pair": pair.Key(),
			"step": "get_rate",
		}).
		Mark(ierr.ErrDependency)
}

func (s *service) refresh(ctx context.Context, pair domainRate.Pair) (*domainRate.CacheEntry, error) {
	// the fetch is shared by every waiter, so one caller cancelling must not fail the others
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
	defer cancel()

	rate, err := s.feed.FetchRate(fetchCtx, pair)
	if err != nil {
		return nil, err
	}

	entry := &domainRate.CacheEntry{
		Pair:      pair.Key(),
		From:      pair.From,
		To:        pair.To,
		Rate:      rate.Rate,
		Provider:  rate.Provider,
		FetchedAt: s.now(),
	}
	s.store(ctx, entry)

	s.logger.Infow("exchange rate refreshed",
		"pair", entry.Pair,
		"rate", entry.Rate.String(),
		"provider", entry.Provider,
	)
	return entry, nil
}

// load reads an entry; cache errors are logged and treated as a miss
func (s *service) load(ctx context.Context, pair domainRate.Pair) *domainRate.CacheEntry {
	return s.loadKey(ctx, cache.GenerateKey(cache.PrefixExchangeRate, pair.Key()))
}

func (s *service) loadKey(ctx context.Context, key string) *domainRate.CacheEntry {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warnw("failed to read exchange rate from cache", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var entry domainRate.CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		s.logger.Warnw("failed to decode cached exchange rate", "key", key, "error", err)
		return nil
	}
	return &entry
}

// store keeps the entry without expiration so it stays available as a stale fallback
func (s *service) store(ctx context.Context, entry *domainRate.CacheEntry) {
	b, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warnw("failed to encode exchange rate", "pair", entry.Pair, "error", err)
		return
	}

	key := cache.GenerateKey(cache.PrefixExchangeRate, entry.Pair)
	if err := s.cache.Set(ctx, key, b, cache.NoExpiration); err != nil {
		s.logger.Warnw("failed to write exchange rate to cache", "pair", entry.Pair, "error", err)
	}
}

func (s *service) Status(ctx context.Context) (*domainRate.CacheStatus, error) {
	keys, err := s.cache.Keys(ctx, cache.PrefixExchangeRate)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	now := s.now()
	status := &domainRate.CacheStatus{
		TTLSeconds: int64(s.ttl / time.Second),
		Pairs:      make([]domainRate.PairStatus, 0, len(keys)),
	}
	for _, key := range keys {
		entry := s.loadKey(ctx, key)
		if entry == nil {
			continue
		}
		status.Pairs = append(status.Pairs, domainRate.PairStatus{
			Pair:       strings.TrimPrefix(key, cache.PrefixExchangeRate),
			Rate:       entry.Rate,
			Provider:   entry.Provider,
			FetchedAt:  entry.FetchedAt,
			AgeSeconds: int64(entry.Age(now) / time.Second),
			Expired:    entry.IsExpired(now, s.ttl),
		})
	}
	return status, nil
}

func (s *service) Clear(ctx context.Context) error {
	if err := s.cache.DeleteByPrefix(ctx, cache.PrefixExchangeRate); err != nil {
		return err
	}
	s.logger.Infow("exchange rate cache cleared")
	return nil
}
