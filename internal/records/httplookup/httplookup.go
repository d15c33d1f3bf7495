// Package httplookup resolves lost and found record codes against the
// records service HTTP API.
package httplookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/linnemanlabs/watchpost/internal/refs"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Client looks records up by code over HTTP. It is safe for concurrent use.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a client for the records API at endpoint. token, when set, is
// sent as a bearer token.
func New(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// FindByCode fetches GET /api/v1/records/{code}. A 404 maps to refs.ErrNotFound.
func (c *Client) FindByCode(ctx context.Context, code string) (*refs.Record, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u = u.JoinPath("api", "v1", "records", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record lookup failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", code, refs.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("records service returned %d: %s", resp.StatusCode, string(body))
	}

	var rec refs.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec.Code == "" {
		rec.Code = code
	}
	return &rec, nil
}
