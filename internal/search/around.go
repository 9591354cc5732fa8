package search

import (
	"context"
	"encoding/json"

	"sextant/internal/metrics"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

// Executor is the query execution engine boundary. It runs one window
// sub-query and returns its hit set or a classified error.
type Executor interface {
	Search(ctx context.Context, traceID, org string, streamType models.StreamType, userID string, query *models.SearchQuery) (*models.SearchResponse, error)
}

// Report carries the per-request details the usage emitter needs beyond
// the merged response itself.
type Report struct {
	SQL             string
	MinTS           int64
	MaxTS           int64
	TookWaitInQueue *int64
	WorkGroup       *string
}

// Searcher orchestrates the two-phase context-window search.
type Searcher struct {
	engine    Executor
	admission AdmissionPolicy
	metrics   *metrics.Metrics
	logger    logging.Logger
}

// NewSearcher wires the orchestrator to its collaborators.
func NewSearcher(engine Executor, admission AdmissionPolicy, m *metrics.Metrics, logger logging.Logger) *Searcher {
	return &Searcher{
		engine:    engine,
		admission: admission,
		metrics:   m,
		logger:    logger,
	}
}

// windowQuery derives one half-window sub-query from the request. Order-by
// injection failure is non-fatal; the input SQL is used unchanged.
func (s *Searcher) windowQuery(req *AroundRequest, start, end int64, descending bool) *models.SearchQuery {
	sql, err := EnsureOrderByTimestamp(req.SQL, descending)
	if err != nil {
		s.logger.WithError(err).WithFields(logging.Fields{
			"trace_id": req.TraceID,
			"org_id":   req.OrgID,
		}).Warn("Order-by injection failed, using original SQL")
		sql = req.SQL
	}
	return &models.SearchQuery{
		SQL:             sql,
		From:            0,
		Size:            req.Size / 2,
		StartTime:       start,
		EndTime:         end,
		SortDesc:        descending,
		QueryFn:         req.QueryFn,
		Regions:         req.Regions,
		Clusters:        req.Clusters,
		Timeout:         req.Timeout,
		SearchEventType: models.SearchEventTypeUI,
		UseCache:        false,
	}
}

// Around runs the context-window search: admission, the forward half
// window, the backward half window, then the merge. A failure in either
// phase aborts the request; no partial response is ever produced.
func (s *Searcher) Around(ctx context.Context, req *AroundRequest) (*models.SearchResponse, *Report, error) {
	release, wait, err := s.admission.Admit(ctx, req.OrgID)
	if err != nil {
		return nil, nil, NewError(CodeCancelled, "search request cancelled while waiting for admission", err)
	}
	defer release()

	if ms := wait.Milliseconds(); ms > 0 {
		s.logger.WithFields(logging.Fields{
			"trace_id": req.TraceID,
			"org_id":   req.OrgID,
			"took_ms":  ms,
		}).Info("Search admitted after queue wait")
	}

	startTime := req.Pivot - AroundWindowMicros
	endTime := req.Pivot + AroundWindowMicros

	forwardQuery := s.windowQuery(req, req.Pivot, endTime, false)
	forward, err := s.engine.Search(ctx, req.TraceID, req.OrgID, req.StreamType, req.UserID, forwardQuery)
	if err != nil {
		s.metrics.SearchRequests.WithLabelValues("_around", "error").Inc()
		return nil, nil, err
	}

	backwardQuery := s.windowQuery(req, startTime, req.Pivot, true)
	backward, err := s.engine.Search(ctx, req.TraceID, req.OrgID, req.StreamType, req.UserID, backwardQuery)
	if err != nil {
		s.metrics.SearchRequests.WithLabelValues("_around", "error").Inc()
		return nil, nil, err
	}

	resp := mergeWindows(forward, backward, req.Size)
	resp.TraceID = req.TraceID

	report := &Report{
		SQL:             backwardQuery.SQL,
		MinTS:           startTime,
		MaxTS:           endTime,
		TookWaitInQueue: sumQueueWait(forward, backward),
		WorkGroup:       PickWorkGroup(forward.WorkGroup, backward.WorkGroup),
	}

	s.metrics.SearchRequests.WithLabelValues("_around", "success").Inc()
	return resp, report, nil
}

// mergeWindows concatenates reverse(backward.hits) with forward.hits. With
// each phase individually ordered, the merged sequence is globally
// ascending. The merged length is never capped to the requested size.
func mergeWindows(forward, backward *models.SearchResponse, requestedSize int64) *models.SearchResponse {
	hits := make([]json.RawMessage, 0, len(forward.Hits)+len(backward.Hits))
	for i := len(backward.Hits) - 1; i >= 0; i-- {
		hits = append(hits, backward.Hits[i])
	}
	hits = append(hits, forward.Hits...)

	return &models.SearchResponse{
		Took:        forward.Took + backward.Took,
		Hits:        hits,
		Total:       int64(len(hits)),
		From:        0,
		Size:        requestedSize,
		ScanSize:    forward.ScanSize + backward.ScanSize,
		CachedRatio: (forward.CachedRatio + backward.CachedRatio) / 2,
	}
}

// sumQueueWait combines the two phases' queue-wait metrics: the sum when
// both are present, either one alone, or absent when neither reported one.
func sumQueueWait(forward, backward *models.SearchResponse) *int64 {
	var total int64
	found := false
	for _, resp := range []*models.SearchResponse{forward, backward} {
		if resp.TookDetail != nil {
			total += resp.TookDetail.WaitInQueue
			found = true
		}
	}
	if !found {
		return nil
	}
	return &total
}
