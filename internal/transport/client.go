package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/logging"
)

// Config tunes the shared upstream client.
type Config struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Backoff is the base delay for transient failures.
	Backoff time.Duration

	// RateLimitBackoff is the base delay after a 429 without Retry-After.
	RateLimitBackoff time.Duration

	// MaxBackoff caps any computed delay.
	MaxBackoff time.Duration

	// RateLimit is requests per second across all sources.
	RateLimit float64
	Burst     int

	UserAgent string

	// Transport allows injecting a custom round tripper (tests).
	Transport http.RoundTripper
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:          constants.DefaultHTTPTimeout,
		MaxRetries:       constants.MaxRetries,
		Backoff:          constants.RetryBackoff,
		RateLimitBackoff: constants.RateLimitBackoff,
		MaxBackoff:       constants.MaxRetryBackoff,
		RateLimit:        constants.DefaultRateLimit,
		Burst:            constants.BurstSize,
		UserAgent:        "kstartup/1.0",
	}
}

// Credentials authenticate requests for one source.
type Credentials struct {
	Source string
	Auth   Authenticator
	APIKey string

	// Timeout overrides Config.Timeout for this source when positive.
	Timeout time.Duration
}

// Client is a rate-limited, retrying HTTP client shared by all sources.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a client, filling zero fields from DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: cfg.Transport},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		sleep:   sleepCtx,
	}
}

// Get fetches rawURL with query applied, retrying transient failures.
// The returned error is classified by pkg/errors: authentication problems
// and exhausted retries are not retryable by the caller.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, creds Credentials) (*Response, error) {
	if creds.Auth == nil {
		creds.Auth = &NoAuth{}
	}
	if creds.Auth.Method() != AuthNone && creds.APIKey == "" {
		return nil, errors.NewAuthenticationError(creds.Source, creds.Auth.Method(), "service key is not set", errors.ErrAPIKeyRequired)
	}

	logger := logging.FromContext(ctx)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, rawURL, query, creds)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !errors.IsRetryable(err) || attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt, err)
		logger.Warn().
			Err(err).
			Str("source", creds.Source).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Upstream request failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if errors.IsRetryable(lastErr) {
		return nil, fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, rawURL string, query url.Values, creds Credentials) (*Response, error) {
	timeout := c.cfg.Timeout
	if creds.Timeout > 0 {
		timeout = creds.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := newRequest(reqCtx, rawURL, query)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	creds.Auth.Apply(req, creds.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(creds.Source, rawURL, timeout, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.FromContext(ctx).Debug().Err(cerr).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(creds.Source, rawURL, timeout, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if !out.IsSuccess() {
		apiErr := errors.NewAPIError(creds.Source, resp.StatusCode, truncate(string(body), 256))
		apiErr.Endpoint = rawURL
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, apiErr
	}
	return out, nil
}

// backoff is exponential with full jitter for transient failures. A 429
// never waits less than the transient ceiling of the same attempt; an
// explicit Retry-After wins over the computed delay.
func (c *Client) backoff(attempt int, err error) time.Duration {
	transient := c.ceiling(c.cfg.Backoff, attempt)
	if !errors.IsRateLimited(err) {
		return jitter(0, transient)
	}

	var apiErr *errors.APIError
	if stderrors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return jitter(transient, max(transient, c.ceiling(c.cfg.RateLimitBackoff, attempt)))
}

func (c *Client) ceiling(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d <= 0 || d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

// jitter draws uniformly from [lo, hi].
func jitter(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// classifyTransportError tags connection-level failures so IsRetryable
// recognizes them. A per-attempt deadline becomes a TimeoutError.
func classifyTransportError(source, endpoint string, timeout time.Duration, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		timeoutErr := errors.NewTimeoutError("GET "+endpoint, timeout.String(), "request timed out")
		timeoutErr.Err = err
		return &errors.APIError{Source: source, Endpoint: endpoint, Message: timeoutErr.Error(), Err: timeoutErr}
	}
	return &errors.APIError{
		Source:   source,
		Endpoint: endpoint,
		Message:  err.Error(),
		Err:      fmt.Errorf("%w: %w", errors.ErrUpstreamUnavailable, err),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
