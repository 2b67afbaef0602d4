// Package httpapi provides a chat.Source backed by a REST endpoint.
//
// The endpoint is expected to return a JSON array of chat lines, newest
// first, in the shape emitted by common chat-overlay scrapers:
//
//	[{"user": "viewer1", "message": "hello"}, ...]
//
// A `limit` query parameter caps the number of returned lines.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/moksori-live/moksori/pkg/provider/chat"
	"github.com/moksori-live/moksori/pkg/types"
)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithTimeout sets the HTTP timeout per fetch. Defaults to 5s, matching the
// poller's fetch budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.httpClient.Timeout = d }
}

// WithHeader adds a header to every fetch request (e.g. an API key).
func WithHeader(key, value string) Option {
	return func(s *Source) { s.headers.Set(key, value) }
}

// Source implements chat.Source against a chat REST endpoint.
type Source struct {
	endpoint   string
	headers    http.Header
	httpClient *http.Client
}

// New creates a Source for the given endpoint URL. endpoint must be a valid
// absolute URL.
func New(endpoint string, opts ...Option) (*Source, error) {
	if endpoint == "" {
		return nil, errors.New("httpapi: endpoint must not be empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("httpapi: invalid endpoint %q", endpoint)
	}

	s := &Source{
		endpoint:   endpoint,
		headers:    http.Header{},
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// FetchLatest requests up to limit lines from the endpoint.
func (s *Source) FetchLatest(ctx context.Context, limit int) ([]types.ChatLine, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse endpoint: %w", err)
	}
	if limit > 0 {
		q := u.Query()
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpapi: create request: %w", err)
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpapi: server returned HTTP %d", resp.StatusCode)
	}

	var lines []types.ChatLine
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("httpapi: decode response: %w", err)
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

// Ensure Source implements chat.Source at compile time.
var _ chat.Source = (*Source)(nil)
