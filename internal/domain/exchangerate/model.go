package exchangerate

import (
	"context"
	"fmt"
	"time"

	"github.com/flexprice/invoicing/internal/types"
	"github.com/shopspring/decimal"
)

// ProviderIdentity is the provider recorded for same-currency lookups
const ProviderIdentity = "identity"

// Pair is a directed currency pair. One unit of From is worth Rate units of To.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewPair normalizes both currency codes
func NewPair(from, to string) Pair {
	return Pair{
		From: types.NormalizeCurrency(from),
		To:   types.NormalizeCurrency(to),
	}
}

// Key is the cache key of the pair, e.g. EUR_RON
func (p Pair) Key() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

func (p Pair) Inverse() Pair {
	return Pair{From: p.To, To: p.From}
}

func (p Pair) IsIdentity() bool {
	return p.From == p.To
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.From, p.To)
}

// Snapshot is the rate embedded into an invoice at issuance time.
// It is copied verbatim onto derived invoices and never recomputed.
type Snapshot struct {
	SourceCurrency string          `json:"source_currency"`
	TargetCurrency string          `json:"target_currency"`
	Rate           decimal.Decimal `json:"rate"`
	Provider       string          `json:"provider"`
	FetchedAt      time.Time       `json:"fetched_at"`
	IsCached       bool            `json:"is_cached"`
	IsStale        bool            `json:"is_stale"`
}

// Copy returns a detached copy of the snapshot
func (s *Snapshot) Copy() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// CacheEntry is the last fetched rate for a pair
type CacheEntry struct {
	Pair      string          `json:"pair"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	Provider  string          `json:"provider"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Age is how long ago the entry was fetched
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsExpired reports whether the entry is older than ttl
func (e *CacheEntry) IsExpired(now time.Time, ttl time.Duration) bool {
	return e.Age(now) >= ttl
}

// PairStatus describes one cached pair
type PairStatus struct {
	Pair       string          `json:"pair"`
	Rate       decimal.Decimal `json:"rate"`
	Provider   string          `json:"provider"`
	FetchedAt  time.Time       `json:"fetched_at"`
	AgeSeconds int64           `json:"age_seconds"`
	Expired    bool            `json:"expired"`
}

// CacheStatus is a view over the whole rate cache
type CacheStatus struct {
	TTLSeconds int64        `json:"ttl_seconds"`
	Pairs      []PairStatus `json:"pairs"`
}

// FeedRate is a single rate as returned by an upstream feed
type FeedRate struct {
	Pair        Pair            `json:"pair"`
	Rate        decimal.Decimal `json:"rate"`
	Provider    string          `json:"provider"`
	PublishedOn time.Time       `json:"published_on"`
}

// Feed fetches the current rate for a pair from an upstream source
type Feed interface {
	// FetchRate returns how many units of pair.To one unit of pair.From is worth
	FetchRate(ctx context.Context, pair Pair) (*FeedRate, error)
	// Name identifies the provider in snapshots
	Name() string
}
