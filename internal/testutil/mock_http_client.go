package testutil

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/flexprice/invoicing/internal/httpclient"
)

// MockHTTPClient implements a mock HTTP client for testing
type MockHTTPClient struct {
	mu       sync.RWMutex
	routes   map[string]MockResponse
	requests []*httpclient.Request
}

// MockResponse represents a mock HTTP response. Err, when set, is returned
// instead of a response.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Err        error
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string]MockResponse),
	}
}

// RegisterResponse registers a mock response for a given URL
func (m *MockHTTPClient) RegisterResponse(url string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[url] = resp
}

// RegisterXMLResponse is a helper to register an XML document response
func (m *MockHTTPClient) RegisterXMLResponse(url string, body string) {
	m.RegisterResponse(url, MockResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Headers: map[string]string{
			"Content-Type": "text/xml",
		},
	})
}

// Send implements the httpclient.Client interface. Like the real client,
// status codes of 400 and above come back as *httpclient.Error.
func (m *MockHTTPClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matchedResponse MockResponse
	var found bool
	for route, resp := range m.routes {
		if strings.HasSuffix(req.URL, route) {
			matchedResponse = resp
			found = true
			break
		}
	}

	if !found {
		return nil, httpclient.NewError(http.StatusNotFound, []byte("Not Found"))
	}
	if matchedResponse.Err != nil {
		return nil, matchedResponse.Err
	}
	if matchedResponse.StatusCode >= http.StatusBadRequest {
		return nil, httpclient.NewError(matchedResponse.StatusCode, matchedResponse.Body)
	}

	return &httpclient.Response{
		StatusCode: matchedResponse.StatusCode,
		Body:       matchedResponse.Body,
		Headers:    matchedResponse.Headers,
	}, nil
}

// Requests returns the number of requests sent so far
func (m *MockHTTPClient) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Clear removes all registered responses
func (m *MockHTTPClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string]MockResponse)
	m.requests = nil
}
