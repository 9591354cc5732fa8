package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sextant/internal/ingest"
	"sextant/internal/metrics"
	"sextant/internal/pipeline"
	"sextant/internal/search"
	"sextant/internal/usage"
	"sextant/pkg/api/common"
	"sextant/pkg/clients"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		SearchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "h_search_requests_total", Help: "requests"},
			[]string{"operation", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "h_search_duration_seconds", Help: "duration"},
			[]string{"operation"},
		),
		QueryPendingNums: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "h_query_pending_nums", Help: "pending"},
			[]string{"organization"},
		),
		UsageRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "h_usage_records_total", Help: "usage"},
			[]string{"status"},
		),
	}
}

type stubExecutor struct {
	queries   []*models.SearchQuery
	responses []*models.SearchResponse
	errs      []error
}

func (s *stubExecutor) Search(_ context.Context, _, _ string, _ models.StreamType, _ string, q *models.SearchQuery) (*models.SearchResponse, error) {
	idx := len(s.queries)
	s.queries = append(s.queries, q)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return &models.SearchResponse{}, nil
}

type captureReporter struct {
	records []usage.Record
}

func (r *captureReporter) Report(rec usage.Record) {
	r.records = append(r.records, rec)
}

func hit(ts int64) json.RawMessage {
	b, _ := json.Marshal(map[string]int64{"_timestamp": ts})
	return b
}

func setupAround(t *testing.T, engine *stubExecutor) (*gin.Engine, *captureReporter) {
	t.Helper()
	m := newTestMetrics()
	reporter := &captureReporter{}
	s := search.NewSearcher(engine, search.NewNoopAdmission(m.QueryPendingNums), m, logging.NewLogger())
	Init(logging.NewLogger(), m, s, reporter, nil, nil, []string{"host", "service"})

	r := gin.New()
	r.GET("/api/:org_id/:stream_name/_around", SearchAround)
	r.POST("/api/:org_id/:stream_name/_around", SearchAround)
	return r, reporter
}

func TestSearchAroundSuccess(t *testing.T) {
	engine := &stubExecutor{responses: []*models.SearchResponse{
		{Hits: []json.RawMessage{hit(1100), hit(1200)}, ScanSize: 10, CachedRatio: 40, WorkGroup: "long", Took: 5},
		{Hits: []json.RawMessage{hit(900), hit(800)}, ScanSize: 20, CachedRatio: 60, Took: 7},
	}}
	router, reporter := setupAround(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/default/app_logs/_around?key=1000000000&size=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.Total)
	assert.Equal(t, int64(10), resp.Size)
	assert.Equal(t, int64(30), resp.ScanSize)
	assert.Equal(t, int64(12), resp.Took)
	assert.Equal(t, int64(50), resp.CachedRatio)
	require.Len(t, resp.Hits, 4)

	// Forward dispatched first, ascending over the after-pivot half.
	require.Len(t, engine.queries, 2)
	assert.Equal(t, int64(1000000000), engine.queries[0].StartTime)
	assert.Equal(t, int64(1900000000), engine.queries[0].EndTime)
	assert.False(t, engine.queries[0].SortDesc)
	assert.Equal(t, int64(100000000), engine.queries[1].StartTime)
	assert.True(t, engine.queries[1].SortDesc)

	// Usage captured: backward SQL, fixed logs stream type.
	require.Len(t, reporter.records, 1)
	rec := reporter.records[0]
	assert.Equal(t, models.UsageTypeSearchAround, rec.UsageType)
	assert.Equal(t, models.StreamTypeLogs, rec.StreamType)
	assert.Contains(t, rec.Stats.RequestBody, "DESC")
	assert.Equal(t, int64(4), rec.Stats.Records)
	assert.Equal(t, float64(30), rec.Stats.Size, "usage size is the combined scan size")
	assert.False(t, rec.QueryFnUsed)
	require.NotNil(t, rec.Stats.WorkGroup)
	assert.Equal(t, "long", *rec.Stats.WorkGroup)
}

func TestSearchAroundPayloadFilter(t *testing.T) {
	engine := &stubExecutor{responses: []*models.SearchResponse{{}, {}}}
	router, _ := setupAround(t, engine)

	body := bytes.NewBufferString(`{"_timestamp":1234567890,"host":"h1","level":null}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/default/app_logs/_around?size=10", body)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.queries, 2)
	// Pivot re-anchored from the payload, filter merged into the SQL.
	assert.Equal(t, int64(1234567890), engine.queries[0].StartTime)
	assert.Contains(t, engine.queries[0].SQL, `host = 'h1'`)
	assert.NotContains(t, engine.queries[0].SQL, "level")
}

func TestSearchAroundCancelledIsTooManyRequests(t *testing.T) {
	engine := &stubExecutor{errs: []error{search.NewError(search.CodeCancelled, "query cancelled", nil)}}
	router, reporter := setupAround(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/default/app_logs/_around?key=1&size=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "query cancelled", body.Message)
	assert.NotEmpty(t, body.TraceID)

	// No partial response and no usage emitted.
	assert.Len(t, engine.queries, 1)
	assert.Empty(t, reporter.records)
}

func TestSearchAroundClassifiedInternalError(t *testing.T) {
	engine := &stubExecutor{errs: []error{nil, search.NewError(search.CodeInternal, "engine exploded", nil)}}
	router, reporter := setupAround(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/default/app_logs/_around?key=1&size=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "engine exploded", body.Message)
	assert.NotEmpty(t, body.TraceID)
	assert.Len(t, engine.queries, 2)
	assert.Empty(t, reporter.records)
}

func TestSearchAroundUnclassifiedError(t *testing.T) {
	engine := &stubExecutor{errs: []error{errors.New("connection reset")}}
	router, _ := setupAround(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/default/app_logs/_around", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body common.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "connection reset", body.Message)
	assert.Empty(t, body.TraceID)
}

func TestSearchAroundFilterMergeFailure(t *testing.T) {
	engine := &stubExecutor{}
	router, _ := setupAround(t, engine)

	// Base64 for a GROUP BY statement the filter merge refuses to touch.
	sql := "U0VMRUNUIGhvc3QsIGNvdW50KCopIEZST00gImFwcF9sb2dzIiBHUk9VUCBCWSBob3N0"
	body := bytes.NewBufferString(`{"host":"h1"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/default/app_logs/_around?sql="+sql, body)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, engine.queries)
}

func setupPipelines(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := pipeline.NewStore(db, logging.NewLogger(), nil)
	Init(logging.NewLogger(), newTestMetrics(), nil, nil, store, nil, nil)

	r := gin.New()
	r.GET("/api/:org_id/pipelines", ListPipelines)
	r.POST("/api/:org_id/pipelines", CreatePipeline)
	r.DELETE("/api/:org_id/pipelines/:pipeline_id", DeletePipeline)
	return r, mock
}

func TestListPipelinesEmpty(t *testing.T) {
	router, mock := setupPipelines(t)

	mock.ExpectQuery("SELECT id, version, enabled, name").
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "enabled", "name", "description", "org", "source_type",
			"stream_org", "stream_name", "stream_type", "derived_stream", "nodes", "edges"}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/default/pipelines", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"list":[]}`, w.Body.String())
}

func TestCreatePipeline(t *testing.T) {
	router, mock := setupPipelines(t)

	mock.ExpectExec("INSERT INTO pipelines").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := `{"name":"errors-to-alerts","source_type":"realtime"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/default/pipelines", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var p models.Pipeline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "default", p.Org)
	assert.NotEmpty(t, p.ID)
}

func TestCreatePipelineMissingName(t *testing.T) {
	router, _ := setupPipelines(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/default/pipelines", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePipelineNotFound(t *testing.T) {
	router, mock := setupPipelines(t)

	mock.ExpectExec("DELETE FROM pipelines").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/default/pipelines/missing", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestJSONForwards(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/default/app_logs/_json", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":200,"status":"ok"}`))
	}))
	defer backend.Close()

	retryCfg := clients.DefaultRetryConfig()
	retryCfg.MaxRetries = 0
	client := ingest.NewClient(ingest.Config{BaseURL: backend.URL, Logger: logging.NewLogger(), RetryConfig: &retryCfg})
	Init(logging.NewLogger(), newTestMetrics(), nil, nil, nil, client, nil)

	r := gin.New()
	r.POST("/api/:org_id/:stream_name/_json", IngestJSON)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/default/app_logs/_json", bytes.NewBufferString(`[{"msg":"hi"}]`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}
