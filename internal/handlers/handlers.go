package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sextant/internal/ingest"
	"sextant/internal/metrics"
	"sextant/internal/pipeline"
	"sextant/internal/search"
	"sextant/internal/usage"
	"sextant/pkg/api/common"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

var (
	logger         logging.Logger
	serviceMetrics *metrics.Metrics
	searcher       *search.Searcher
	usageReporter  usage.Reporter
	pipelineStore  *pipeline.Store
	ingestClient   *ingest.Client
	allowedFields  []string
)

// Init initializes the handlers package with its collaborators
func Init(log logging.Logger, m *metrics.Metrics, s *search.Searcher, rep usage.Reporter, store *pipeline.Store, ing *ingest.Client, filterFields []string) {
	logger = log
	serviceMetrics = m
	searcher = s
	usageReporter = rep
	pipelineStore = store
	ingestClient = ing
	allowedFields = filterFields
}

// SearchAround handles GET|POST /api/:org_id/:stream_name/_around.
// It fetches a chronologically ordered context window of records around a
// pivot timestamp.
func SearchAround(c *gin.Context) {
	start := time.Now()
	defer func() {
		if serviceMetrics != nil {
			serviceMetrics.SearchDuration.WithLabelValues("_around").Observe(time.Since(start).Seconds())
		}
	}()

	org := c.Param("org_id")
	stream := c.Param("stream_name")
	traceID := c.GetString("request_id")
	if traceID == "" {
		traceID = uuid.New().String()
	}

	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
	}

	req, err := search.BuildAroundRequest(search.RequestParams{
		OrgID:      org,
		StreamName: stream,
		StreamType: c.Query("type"),
		TraceID:    traceID,
		UserID:     c.GetString("user_id"),
		Key:        c.Query("key"),
		Size:       c.Query("size"),
		Timeout:    c.Query("timeout"),
		SQL:        c.Query("sql"),
		QueryFn:    c.Query("query_fn"),
		Regions:    c.Query("regions"),
		Clusters:   c.Query("clusters"),
		Body:       body,
	}, allowedFields)
	if err != nil {
		c.JSON(http.StatusBadRequest, common.NewMessage(http.StatusBadRequest, err.Error()))
		return
	}

	resp, report, err := searcher.Around(c.Request.Context(), req)
	if err != nil {
		translateSearchError(c, err, traceID)
		return
	}

	reportUsage(req, resp, report, start)
	c.JSON(http.StatusOK, resp)
}

// translateSearchError maps execution failures onto response codes:
// cancelled/overloaded queries are rate-limit responses, every other
// classified error is an internal error carrying the trace id, and
// unclassified errors get a generic body.
func translateSearchError(c *gin.Context, err error, traceID string) {
	if se, ok := search.Classify(err); ok {
		status := http.StatusInternalServerError
		if se.Code == search.CodeCancelled {
			status = http.StatusTooManyRequests
		}
		logger.WithError(err).WithFields(logging.Fields{
			"trace_id": traceID,
			"org_id":   c.Param("org_id"),
		}).Error("Context-window search failed")
		c.JSON(status, common.NewError(status, se.Message, traceID))
		return
	}

	logger.WithError(err).WithField("trace_id", traceID).Error("Context-window search failed")
	c.JSON(http.StatusInternalServerError, common.NewMessage(http.StatusInternalServerError, err.Error()))
}

// reportUsage emits the accounting record for a successful search. The
// stream type is fixed to logs for accounting purposes.
func reportUsage(req *search.AroundRequest, resp *models.SearchResponse, report *search.Report, start time.Time) {
	if usageReporter == nil {
		return
	}
	usageReporter.Report(usage.Record{
		Stats: models.RequestStats{
			Records:         int64(len(resp.Hits)),
			ResponseTime:    time.Since(start).Seconds(),
			Size:            float64(resp.ScanSize),
			RequestBody:     report.SQL,
			UserEmail:       req.UserID,
			MinTS:           report.MinTS,
			MaxTS:           report.MaxTS,
			CachedRatio:     resp.CachedRatio,
			TraceID:         req.TraceID,
			TookWaitInQueue: report.TookWaitInQueue,
			WorkGroup:       report.WorkGroup,
		},
		Org:         req.OrgID,
		StreamName:  req.StreamName,
		StreamType:  models.StreamTypeLogs,
		UsageType:   models.UsageTypeSearchAround,
		QueryFnUsed: req.QueryFn != "",
		StartedAt:   start,
	})
}

// ListPipelines handles GET /api/:org_id/pipelines
func ListPipelines(c *gin.Context) {
	org := c.Param("org_id")
	pipelines, err := pipelineStore.ListByOrg(c.Request.Context(), org)
	if err != nil {
		logger.WithError(err).WithField("org_id", org).Error("Failed to list pipelines")
		c.JSON(http.StatusInternalServerError, common.NewMessage(http.StatusInternalServerError, "failed to list pipelines"))
		return
	}
	if pipelines == nil {
		pipelines = []*models.Pipeline{}
	}
	c.JSON(http.StatusOK, gin.H{"list": pipelines})
}

// CreatePipeline handles POST /api/:org_id/pipelines
func CreatePipeline(c *gin.Context) {
	org := c.Param("org_id")

	var p models.Pipeline
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, common.NewMessage(http.StatusBadRequest, "invalid pipeline payload"))
		return
	}
	if p.Name == "" {
		c.JSON(http.StatusBadRequest, common.NewMessage(http.StatusBadRequest, "pipeline name is required"))
		return
	}
	p.Org = org
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SourceType == "" {
		p.SourceType = models.PipelineSourceRealtime
	}

	if err := pipelineStore.Put(c.Request.Context(), &p); err != nil {
		logger.WithError(err).WithField("org_id", org).Error("Failed to store pipeline")
		c.JSON(http.StatusInternalServerError, common.NewMessage(http.StatusInternalServerError, "failed to store pipeline"))
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePipeline handles DELETE /api/:org_id/pipelines/:pipeline_id
func DeletePipeline(c *gin.Context) {
	id := c.Param("pipeline_id")
	if err := pipelineStore.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			c.JSON(http.StatusNotFound, common.NewMessage(http.StatusNotFound, "pipeline not found"))
			return
		}
		logger.WithError(err).WithField("pipeline_id", id).Error("Failed to delete pipeline")
		c.JSON(http.StatusInternalServerError, common.NewMessage(http.StatusInternalServerError, "failed to delete pipeline"))
		return
	}
	c.JSON(http.StatusOK, common.SuccessResponse{Success: true, Message: "pipeline deleted"})
}

// IngestJSON handles POST /api/:org_id/:stream_name/_json by forwarding
// the record batch to an ingester node.
func IngestJSON(c *gin.Context) {
	org := c.Param("org_id")
	stream := c.Param("stream_name")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, common.NewMessage(http.StatusBadRequest, "empty ingest payload"))
		return
	}

	resp, err := ingestClient.IngestJSON(c.Request.Context(), org, stream, body)
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"org_id": org,
			"stream": stream,
		}).Error("Failed to forward ingest payload")
		c.JSON(http.StatusServiceUnavailable, common.NewMessage(http.StatusServiceUnavailable, "ingestion unavailable"))
		return
	}
	c.JSON(http.StatusOK, resp)
}
