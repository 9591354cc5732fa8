package models

import "encoding/json"

// StreamType identifies the kind of data held by a stream.
type StreamType string

const (
	StreamTypeLogs    StreamType = "logs"
	StreamTypeMetrics StreamType = "metrics"
	StreamTypeTraces  StreamType = "traces"
)

// ParseStreamType maps a request parameter to a StreamType, defaulting to logs.
func ParseStreamType(s string) StreamType {
	switch s {
	case string(StreamTypeMetrics):
		return StreamTypeMetrics
	case string(StreamTypeTraces):
		return StreamTypeTraces
	default:
		return StreamTypeLogs
	}
}

// StreamParams identifies a stream within an organization.
type StreamParams struct {
	OrgID      string     `json:"org_id"`
	StreamName string     `json:"stream_name"`
	StreamType StreamType `json:"stream_type"`
}

// UsageType categorizes a usage record for accounting.
type UsageType string

const (
	UsageTypeSearchAround UsageType = "search_around"
	UsageTypeIngestJSON   UsageType = "ingest_json"
)

// SearchEventType tags the origin of a search request.
type SearchEventType string

const (
	SearchEventTypeUI SearchEventType = "ui"
)

// SearchQuery is one window sub-query sent to the execution engine.
type SearchQuery struct {
	SQL             string          `json:"sql"`
	From            int64           `json:"from"`
	Size            int64           `json:"size"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time"`
	SortDesc        bool            `json:"sort_desc"`
	QueryFn         string          `json:"query_fn,omitempty"`
	Regions         []string        `json:"regions,omitempty"`
	Clusters        []string        `json:"clusters,omitempty"`
	Timeout         int64           `json:"timeout,omitempty"`
	SearchEventType SearchEventType `json:"search_type"`
	UseCache        bool            `json:"use_cache"`
}

// TookDetail breaks down where time was spent inside the engine.
type TookDetail struct {
	Total           int64 `json:"total"`
	WaitInQueue     int64 `json:"wait_in_queue"`
	IdxTook         int64 `json:"idx_took"`
	FileListTook    int64 `json:"file_list_took"`
	ClusterWaitTook int64 `json:"cluster_total"`
}

// SearchResponse is the hit set returned by the execution engine for one
// window, and also the merged response returned to the caller.
type SearchResponse struct {
	Took        int64             `json:"took"`
	TookDetail  *TookDetail       `json:"took_detail,omitempty"`
	Hits        []json.RawMessage `json:"hits"`
	Total       int64             `json:"total"`
	From        int64             `json:"from"`
	Size        int64             `json:"size"`
	ScanSize    int64             `json:"scan_size"`
	CachedRatio int64             `json:"cached_ratio"`
	WorkGroup   string            `json:"work_group,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
}

// RequestStats is the accounting record emitted after a successful search.
type RequestStats struct {
	Records         int64   `json:"records"`
	ResponseTime    float64 `json:"response_time"`
	Size            float64 `json:"size"`
	RequestBody     string  `json:"request_body,omitempty"`
	UserEmail       string  `json:"user_email,omitempty"`
	MinTS           int64   `json:"min_ts"`
	MaxTS           int64   `json:"max_ts"`
	CachedRatio     int64   `json:"cached_ratio"`
	TraceID         string  `json:"trace_id,omitempty"`
	TookWaitInQueue *int64  `json:"took_wait_in_queue,omitempty"`
	WorkGroup       *string `json:"work_group,omitempty"`
}
