package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 3
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
)

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "onedrive-serve/0.1"

// TokenSource provides bearer tokens. Defined at the consumer (graph
// package); tokencache.Cache is the real implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Observer receives one call per upstream HTTP attempt. It lets the metrics
// package count Graph traffic without graph importing it.
type Observer interface {
	ObserveUpstream(operation string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, int, time.Duration) {}

// Client is an HTTP client for the drive endpoints of the Microsoft Graph
// API. It handles request construction, authentication, retry with
// exponential backoff, per-request timeouts and error classification.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	token          TokenSource
	logger         *slog.Logger
	userAgent      string
	requestTimeout time.Duration
	maxRetries     int
	observer       Observer

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRequestTimeout bounds every single upstream attempt. Zero disables it.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// WithMaxRetries sets how many times a failed attempt is retried. Zero
// surfaces the first failure to the caller.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithObserver registers an Observer for upstream attempts.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewClient creates a Graph API client.
// baseURL is the drive endpoint, typically
// "https://graph.microsoft.com/v1.0/me/drive".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  DefaultUserAgent,
		maxRetries: defaultMaxRetries,
		observer:   nopObserver{},
		sleepFunc:  timeSleep,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Do executes a GET-style request against the Graph API. The path (with
// query string) is appended to the client's base URL. The caller closes the
// response body on success. Non-2xx responses are returned as *GraphError.
func (c *Client) Do(ctx context.Context, method, path string) (*http.Response, error) {
	return c.do(ctx, method, c.baseURL+path, path, true)
}

// do runs the retry loop. url is what is requested; logPath is what is
// logged (pre-authenticated URLs must never be logged).
func (c *Client) do(ctx context.Context, method, url, logPath string, authenticate bool) (*http.Response, error) {
	var attempt int
	for {
		start := time.Now()
		resp, cancel, err := c.doOnce(ctx, method, url, authenticate)
		if err != nil {
			c.observer.ObserveUpstream(method, 0, time.Since(start))

			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			// Token failures are not retryable either; the caller decides.
			var tokErr *tokenError
			if errors.As(err, &tokErr) {
				return nil, tokErr.err
			}

			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", logPath),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("graph: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("graph: %s %s failed after %d retries: %w", method, logPath, c.maxRetries, err)
		}

		c.observer.ObserveUpstream(method, resp.StatusCode, time.Since(start))

		// 2xx: success. The per-attempt timeout stays armed until the
		// caller closes the body.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", logPath),
				slog.Int("status", resp.StatusCode),
			)

			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := resp.Header.Get("request-id")

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", logPath),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", err)
			}

			attempt++

			continue
		}

		graphErr := &GraphError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", logPath),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, graphErr
	}
}

// tokenError marks a failure to obtain a bearer token inside doOnce.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return e.err.Error() }

// doOnce executes a single HTTP request (no retry). The returned cancel
// func releases the per-attempt timeout.
func (c *Client) doOnce(ctx context.Context, method, url string, authenticate bool) (*http.Response, context.CancelFunc, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.requestTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, http.NoBody)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	if authenticate {
		tok, tokErr := c.token.Token(ctx)
		if tokErr != nil {
			cancel()
			return nil, nil, &tokenError{err: tokErr}
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	return resp, cancel, nil
}

// cancelOnClose releases a per-attempt context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()

	return err
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
