package testutil

import (
	"context"
	"sync"
	"time"

	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	"github.com/shopspring/decimal"
)

var _ domainRate.Feed = (*FakeRateFeed)(nil)

// FakeRateFeed returns a fixed rate for every pair and counts fetches
type FakeRateFeed struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	err   error
	calls int
}

func NewFakeRateFeed(rate string) *FakeRateFeed {
	return &FakeRateFeed{rate: decimal.RequireFromString(rate)}
}

func (f *FakeRateFeed) Name() string { return "fake" }

func (f *FakeRateFeed) FetchRate(ctx context.Context, pair domainRate.Pair) (*domainRate.FeedRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domainRate.FeedRate{
		Pair:        pair,
		Rate:        f.rate,
		Provider:    f.Name(),
		PublishedOn: time.Now().UTC(),
	}, nil
}

// Set replaces the rate and the error returned by the next fetches
func (f *FakeRateFeed) Set(rate string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rate != "" {
		f.rate = decimal.RequireFromString(rate)
	}
	f.err = err
}

func (f *FakeRateFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
