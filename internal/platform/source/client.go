// Package source talks to the external clinical-data API. It fetches one
// page of records at a time, enforcing a courtesy delay between requests and
// retrying transient failures with exponential backoff before surfacing a
// fatal error to the batch orchestrator.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/clinsync/clinsync/internal/platform/fhir"
)

// FetchError reports a page fetch that failed after exhausting the retry
// budget, or a non-retryable HTTP failure.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a response body that is not a well-formed page
// container. It is fatal: a malformed page is never silently skipped.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse page %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client used for page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithInterval sets the minimum spacing between requests to the source,
// applied across retries. Zero or negative disables the spacing.
func WithInterval(d time.Duration) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithRetries sets the number of retry attempts after the initial request.
func WithRetries(n int) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithBackoff sets the base delay for exponential retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(cl *Client) { cl.backoffBase = d }
}

// WithToken sets a bearer token for the source API. Token acquisition itself
// belongs to an external credentials provider.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// Client fetches pages from the clinical source API.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	token       string
	logger      zerolog.Logger
}

// NewClient creates a Client with the default 30s request timeout, 3s
// inter-request spacing, and 3 retries with 2s base backoff.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(3*time.Second), 1),
		maxRetries:  3,
		backoffBase: 2 * time.Second,
		logger:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FirstPageURL builds the initial page URL for a source endpoint.
func FirstPageURL(endpoint string, pageSize int) string {
	return strings.TrimRight(endpoint, "/") + "/Patient?_count=" + strconv.Itoa(pageSize)
}

// FetchPage retrieves one page of records. Network errors, timeouts, 429s,
// and 5xx responses are retried up to the configured budget; other HTTP
// failures fail immediately. A body that does not decode into a Bundle
// container is a fatal ParseError regardless of remaining budget.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (*fhir.Bundle, error) {
	var lastErr error
	lastStatus := 0

	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Courtesy spacing applies to every request, retries included.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: pageURL, Attempts: attempts, Err: err}
		}

		if attempt > 0 {
			c.logger.Warn().
				Str("url", pageURL).
				Int("attempt", attempt+1).
				Msg("retrying page fetch")
		}

		attempts++
		bundle, status, err := c.fetchOnce(ctx, pageURL)
		if err == nil {
			return bundle, nil
		}

		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, perr
		}

		lastErr = err
		lastStatus = status

		if !retryableStatus(status) && status != 0 {
			// Client-side HTTP errors are not worth retrying.
			break
		}

		if attempt < c.maxRetries {
			if err := sleepCtx(ctx, c.backoffBase<<uint(attempt)); err != nil {
				return nil, &FetchError{URL: pageURL, StatusCode: lastStatus, Attempts: attempts, Err: err}
			}
		}
	}

	return nil, &FetchError{URL: pageURL, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*fhir.Bundle, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, resp.StatusCode, &ParseError{URL: pageURL, Err: err}
	}
	if bundle.ResourceType != "Bundle" {
		return nil, resp.StatusCode, &ParseError{URL: pageURL, Err: fmt.Errorf("resourceType %q is not a page container", bundle.ResourceType)}
	}

	return &bundle, resp.StatusCode, nil
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
