package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sextant/internal/search"
	"sextant/pkg/clients"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

func noRetry() *clients.RetryConfig {
	cfg := clients.DefaultRetryConfig()
	cfg.MaxRetries = 0
	return &cfg
}

func TestClientSearchSuccess(t *testing.T) {
	var gotPath, gotTrace, gotAuth string
	var gotQuery models.SearchQuery

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTrace = r.Header.Get("X-Trace-Id")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))

		resp := models.SearchResponse{
			Hits:        []json.RawMessage{json.RawMessage(`{"_timestamp":1}`)},
			Total:       1,
			ScanSize:    10,
			CachedRatio: 50,
			WorkGroup:   "short",
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:      server.URL,
		ServiceToken: "svc-token",
		Logger:       logging.NewLogger(),
		RetryConfig:  noRetry(),
	})

	query := &models.SearchQuery{SQL: `SELECT * FROM "app_logs"`, Size: 5}
	resp, err := client.Search(context.Background(), "trace-1", "default", models.StreamTypeLogs, "user-1", query)
	require.NoError(t, err)

	assert.Equal(t, "/api/default/_search", gotPath)
	assert.Equal(t, "trace-1", gotTrace)
	assert.Equal(t, "Bearer svc-token", gotAuth)
	assert.Equal(t, `SELECT * FROM "app_logs"`, gotQuery.SQL)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, "short", resp.WorkGroup)
}

func TestClientSearchTooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":429,"message":"query cancelled"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Logger: logging.NewLogger(), RetryConfig: noRetry()})
	_, err := client.Search(context.Background(), "trace-1", "default", models.StreamTypeLogs, "", &models.SearchQuery{})
	require.Error(t, err)
	assert.True(t, search.IsCancelled(err))

	se, ok := search.Classify(err)
	require.True(t, ok)
	assert.Equal(t, "query cancelled", se.Message)
}

func TestClientSearchBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"message":"sql not valid"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Logger: logging.NewLogger(), RetryConfig: noRetry()})
	_, err := client.Search(context.Background(), "trace-1", "default", models.StreamTypeLogs, "", &models.SearchQuery{})
	require.Error(t, err)

	se, ok := search.Classify(err)
	require.True(t, ok)
	assert.Equal(t, search.CodeSQLNotValid, se.Code)
}

func TestClientSearchInternalError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Logger: logging.NewLogger(), RetryConfig: noRetry()})
	_, err := client.Search(context.Background(), "trace-1", "default", models.StreamTypeLogs, "", &models.SearchQuery{})
	require.Error(t, err)

	se, ok := search.Classify(err)
	require.True(t, ok)
	assert.Equal(t, search.CodeInternal, se.Code)
	assert.False(t, search.IsCancelled(err))
}
