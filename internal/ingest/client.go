// Package ingest routes ingestion payloads to an ingester node.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"sextant/pkg/clients"
	"sextant/pkg/logging"
)

// Response is the ingester's per-batch acknowledgement.
type Response struct {
	Code   int    `json:"code"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client forwards ingest payloads to the ingester tier over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// Config represents the configuration for the ingest client
type Config struct {
	BaseURL              string
	ServiceToken         string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new ingestion forwarding client
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

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: clients.DefaultTransport(),
		},
		serviceToken: config.ServiceToken,
		logger:       config.Logger,
		retryConfig:  retryConfig,
	}
}

// IngestJSON forwards a JSON record batch to the ingester for the given
// stream.
func (c *Client) IngestJSON(ctx context.Context, org, stream string, payload []byte) (*Response, error) {
	endpoint := fmt.Sprintf("%s/api/%s/%s/_json", c.baseURL, url.PathEscape(org), url.PathEscape(stream))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("ingester unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingester response: %w", err)
	}

	var result Response
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse ingester response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		if result.Error != "" {
			return nil, fmt.Errorf("ingester returned error: %s", result.Error)
		}
		return nil, fmt.Errorf("ingester returned status %d", resp.StatusCode)
	}
	return &result, nil
}
