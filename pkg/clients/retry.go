package clients

import (
	"context"
	"net/http"
	"time"
)

// RetryConfig configures retry behaviour for outbound HTTP requests.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// CircuitBreaker is optional; when set, requests are also run
	// through the breaker.
	CircuitBreaker *CircuitBreaker

	// ShouldRetry determines if a response should trigger a retry.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// DoWithRetry executes the request through the retry policy and optional
// circuit breaker. The request must have been built with a replayable body
// (http.NewRequest does this for common reader types).
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, cfg RetryConfig) (*http.Response, error) {
	executor := NewHTTPExecutor(HTTPExecutorConfig{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		CircuitBreaker: cfg.CircuitBreaker,
		ShouldRetry:    cfg.ShouldRetry,
	})

	return ExecuteHTTP(ctx, executor, func() (*http.Response, error) {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attempt.Body = body
		}
		return client.Do(attempt)
	})
}
