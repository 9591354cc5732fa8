// Package engine is the HTTP client for the distributed query execution
// engine (the querier tier).
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sextant/internal/search"
	"sextant/pkg/clients"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

// Client executes window sub-queries against the querier over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// Config represents the configuration for the engine client
type Config struct {
	BaseURL              string
	ServiceToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new query engine client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:      config.BaseURL,
		httpClient:   httpClient,
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
		retryConfig:  retryConfig,
	}
}

type engineError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Search dispatches one window sub-query. The trace id and caller identity
// are propagated so the engine can correlate the forward and backward
// phases of a single request.
func (c *Client) Search(ctx context.Context, traceID, org string, streamType models.StreamType, userID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, search.NewError(search.CodeInternal, "failed to encode search query", err)
	}

	endpoint := fmt.Sprintf("%s/api/%s/_search?type=%s", c.baseURL, url.PathEscape(org), url.QueryEscape(string(streamType)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, search.NewError(search.CodeInternal, "failed to create search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-Id", traceID)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, search.NewError(search.CodeInternal, "query engine unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, search.NewError(search.CodeInternal, "failed to read engine response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.translateStatus(resp.StatusCode, body)
	}

	var result models.SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, search.NewError(search.CodeInternal, "failed to parse engine response", err)
	}
	return &result, nil
}

// translateStatus maps engine HTTP failures onto the classified error
// taxonomy: 429 means the query was cancelled or the engine is overloaded,
// 400 means the SQL did not parse.
func (c *Client) translateStatus(status int, body []byte) error {
	message := string(body)
	var engErr engineError
	if err := json.Unmarshal(body, &engErr); err == nil && engErr.Message != "" {
		message = engErr.Message
	}

	switch status {
	case http.StatusTooManyRequests:
		return search.NewError(search.CodeCancelled, message, nil)
	case http.StatusBadRequest:
		return search.NewError(search.CodeSQLNotValid, message, nil)
	default:
		return search.NewError(search.CodeInternal, fmt.Sprintf("query engine returned status %d: %s", status, message), nil)
	}
}
