package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/leadgrid/places-pipeline/internal/util"
)

// APIError is a sanitized summary of a non-2xx API response.
//
// Important: do not include raw response bodies verbatim (they can echo
// request headers, including the API key).
type APIError struct {
	StatusCode int
	Status     string
	Snippet    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "places api error"
	}
	msg := fmt.Sprintf("places api error: status=%s", strings.TrimSpace(e.Status))
	if strings.TrimSpace(e.Snippet) != "" {
		msg += " body=" + strings.TrimSpace(e.Snippet)
	}
	return msg
}

// ClientOptions configures a Client. Zero values fall back to the documented
// defaults (10s timeout, 3 retries, 500ms backoff seed).
type ClientOptions struct {
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffInitial time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues authenticated search requests with bounded retry on
// server-side transient failures (500, 502, 503, 504) and transport errors.
// 4xx responses and malformed bodies are never retried.
type Client struct {
	endpoint       string
	apiKey         string
	http           *http.Client
	requestTimeout time.Duration
	maxRetries     int
	backoffInitial time.Duration

	// calls counts every outbound attempt, retries included.
	calls atomic.Int64
}

func NewClient(opts ClientOptions) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := opts.BackoffInitial
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{
		endpoint:       endpoint,
		apiKey:         strings.TrimSpace(opts.APIKey),
		http:           hc,
		requestTimeout: timeout,
		maxRetries:     retries,
		backoffInitial: backoff,
	}, nil
}

// Calls reports the total number of outbound attempts made so far.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

type searchRequest struct {
	Q        string `json:"q"`
	Location string `json:"location"`
	// Page is omitted on the first page, matching the API's convention.
	Page int `json:"page,omitempty"`
}

type searchResponse struct {
	Places []map[string]any `json:"places"`
}

// Search fetches one page of places for a term/location. Page 1 omits the
// page field from the payload. The returned maps preserve numeric fields as
// json.Number so 64-bit identifiers survive without precision loss.
func (c *Client) Search(ctx context.Context, term, location string, page int) ([]map[string]any, error) {
	req := searchRequest{Q: term, Location: location}
	if page > 1 {
		req.Page = page
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.backoffSleep(attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}

		places, retryable, err := c.doSearch(ctx, payload)
		if err == nil {
			return places, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Client) doSearch(ctx context.Context, payload []byte) (places []map[string]any, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	c.calls.Add(1)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Transport errors (timeouts, resets) get the same retry budget as 5xx.
		return nil, true, fmt.Errorf("places request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read places response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, isRetryableStatus(resp.StatusCode), newAPIError(resp, b)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out searchResponse
	if err := dec.Decode(&out); err != nil {
		return nil, false, fmt.Errorf("parse places response: %w", err)
	}
	return out.Places, false, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) backoffSleep(attempt int) time.Duration {
	sleep := c.backoffInitial
	for i := 1; i < attempt; i++ {
		sleep *= 2
	}
	return sleep
}

func newAPIError(resp *http.Response, body []byte) error {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	const snippetLen = 256
	b := body
	if len(b) > snippetLen {
		b = b[:snippetLen]
	}
	s := util.RedactSecrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	e.Snippet = strings.TrimSpace(s)
	return e
}
