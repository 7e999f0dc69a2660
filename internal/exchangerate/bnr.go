package exchangerate

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/httpclient"
	"github.com/shopspring/decimal"
)

const bnrDateLayout = "2006-01-02"

// bnrDataSet mirrors the National Bank of Romania daily reference rates document
type bnrDataSet struct {
	XMLName xml.Name `xml:"DataSet"`
	Header  struct {
		Publisher      string `xml:"Publisher"`
		PublishingDate string `xml:"PublishingDate"`
	} `xml:"Header"`
	Body struct {
		OrigCurrency string    `xml:"OrigCurrency"`
		Cubes        []bnrCube `xml:"Cube"`
	} `xml:"Body"`
}

type bnrCube struct {
	Date  string    `xml:"date,attr"`
	Rates []bnrRate `xml:"Rate"`
}

type bnrRate struct {
	Currency   string `xml:"currency,attr"`
	Multiplier string `xml:"multiplier,attr"`
	Value      string `xml:",chardata"`
}

// BNRFeed reads reference rates quoted against RON from the BNR XML feed
type BNRFeed struct {
	client   httpclient.Client
	url      string
	provider string
}

// NewBNRFeed creates a feed reading from url
func NewBNRFeed(client httpclient.Client, url string, provider string) *BNRFeed {
	if provider == "" {
		provider = "bnr"
	}
	return &BNRFeed{
		client:   client,
		url:      url,
		provider: provider,
	}
}

func (f *BNRFeed) Name() string {
	return f.provider
}

// FetchRate returns how many units of pair.To one unit of pair.From is worth.
// Only pairs quoted against the feed's origin currency are supported.
func (f *BNRFeed) FetchRate(ctx context.Context, pair domainRate.Pair) (*domainRate.FeedRate, error) {
	resp, err := f.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodGet,
		URL:     f.url,
		Headers: map[string]string{"Accept": "application/xml"},
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Exchange rate feed is unavailable").
			WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "fetch_rate"}).
			Mark(ierr.ErrDependency)
	}

	return f.parse(resp.Body, pair)
}

func (f *BNRFeed) parse(body []byte, pair domainRate.Pair) (*domainRate.FeedRate, error) {
	var ds bnrDataSet
	if err := xml.Unmarshal(body, &ds); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Exchange rate feed returned an unreadable document").
			WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "parse_rate"}).
			Mark(ierr.ErrDependency)
	}

	origin := strings.ToUpper(strings.TrimSpace(ds.Body.OrigCurrency))
	if origin == "" {
		origin = "RON"
	}
	if pair.To != origin {
		return nil, ierr.NewErrorf("feed quotes against %s, not %s", origin, pair.To).
			WithHintf("Currency pair %s is not supported", pair).
			WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "parse_rate"}).
			Mark(ierr.ErrNotSupported)
	}

	cube, ok := latestCube(ds.Body.Cubes)
	if !ok {
		return nil, ierr.NewError("feed has no rates").
			WithHint("Exchange rate feed returned no rates").
			WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "parse_rate"}).
			Mark(ierr.ErrDependency)
	}

	for _, r := range cube.Rates {
		if !strings.EqualFold(r.Currency, pair.From) {
			continue
		}

		value, err := decimal.NewFromString(strings.TrimSpace(r.Value))
		if err != nil || !value.IsPositive() {
			return nil, ierr.NewErrorf("invalid rate %q for %s", r.Value, r.Currency).
				WithHint("Exchange rate feed returned an invalid rate").
				WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "parse_rate"}).
				Mark(ierr.ErrDependency)
		}

		if r.Multiplier != "" {
			multiplier, err := decimal.NewFromString(strings.TrimSpace(r.Multiplier))
			if err == nil && multiplier.IsPositive() {
				value = value.Div(multiplier)
			}
		}

		published, _ := time.Parse(bnrDateLayout, cube.Date)

		return &domainRate.FeedRate{
			Pair:        pair,
			Rate:        value,
			Provider:    f.provider,
			PublishedOn: published,
		}, nil
	}

	return nil, ierr.NewErrorf("feed has no rate for %s", pair.From).
		WithHintf("Currency pair %s is not supported", pair).
		WithReportableDetails(map[string]any{"pair": pair.Key(), "step": "parse_rate"}).
		Mark(ierr.ErrNotSupported)
}

// latestCube picks the most recent dated cube; the daily feed carries one
func latestCube(cubes []bnrCube) (bnrCube, bool) {
	if len(cubes) == 0 {
		return bnrCube{}, false
	}

	latest := cubes[0]
	for _, c := range cubes[1:] {
		// ISO dates compare lexically
		if c.Date > latest.Date {
			latest = c
		}
	}
	return latest, true
}
