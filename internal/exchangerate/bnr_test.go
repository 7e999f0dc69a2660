package exchangerate

import (
	"context"
	"net/http"
	"testing"

	domainRate "github.com/flexprice/invoicing/internal/domain/exchangerate"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedURL = "https://www.bnr.ro/nbrfxrates.xml"

const sampleFeed = `<?xml version="1.0" encoding="utf-8"?>
<DataSet xmlns="http://www.bnr.ro/xsd" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
	<Header>
		<Publisher>National Bank of Romania</Publisher>
		<PublishingDate>2024-05-10</PublishingDate>
		<MessageType>DR</MessageType>
	</Header>
	<Body>
		<Subject>Reference rates</Subject>
		<OrigCurrency>RON</OrigCurrency>
		<Cube date="2024-05-10">
			<Rate currency="EUR">4.9762</Rate>
			<Rate currency="HUF" multiplier="100">1.2834</Rate>
			<Rate currency="USD">4.6187</Rate>
		</Cube>
	</Body>
</DataSet>`

func newFeed(t *testing.T, status int, body string) *BNRFeed {
	t.Helper()
	client := testutil.NewMockHTTPClient()
	client.RegisterResponse(feedURL, testutil.MockResponse{
		StatusCode: status,
		Body:       []byte(body),
	})
	return NewBNRFeed(client, feedURL, "bnr")
}

func TestBNRFeed_FetchRate(t *testing.T) {
	feed := newFeed(t, http.StatusOK, sampleFeed)

	rate, err := feed.FetchRate(context.Background(), domainRate.NewPair("eur", "ron"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.9762").Equal(rate.Rate))
	assert.Equal(t, "bnr", rate.Provider)
	assert.Equal(t, "2024-05-10", rate.PublishedOn.Format("2006-01-02"))
}

func TestBNRFeed_Multiplier(t *testing.T) {
	feed := newFeed(t, http.StatusOK, sampleFeed)

	rate, err := feed.FetchRate(context.Background(), domainRate.NewPair("HUF", "RON"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.012834").Equal(rate.Rate), rate.Rate.String())
}

func TestBNRFeed_UnsupportedPair(t *testing.T) {
	feed := newFeed(t, http.StatusOK, sampleFeed)

	_, err := feed.FetchRate(context.Background(), domainRate.NewPair("GBP", "RON"))
	require.Error(t, err)
	assert.True(t, ierr.IsNotSupported(err))

	_, err = feed.FetchRate(context.Background(), domainRate.NewPair("EUR", "USD"))
	require.Error(t, err)
	assert.True(t, ierr.IsNotSupported(err))
}

func TestBNRFeed_Failures(t *testing.T) {
	_, err := newFeed(t, http.StatusOK, "not xml").FetchRate(context.Background(), domainRate.NewPair("EUR", "RON"))
	require.Error(t, err)
	assert.True(t, ierr.IsDependency(err))

	_, err = newFeed(t, http.StatusServiceUnavailable, "down").FetchRate(context.Background(), domainRate.NewPair("EUR", "RON"))
	require.Error(t, err)
	assert.True(t, ierr.IsDependency(err))
}
