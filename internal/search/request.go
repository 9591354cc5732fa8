package search

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sextant/pkg/models"
)

const (
	// AroundWindowMicros is the half-window fetched on each side of the
	// pivot, in microseconds (15 minutes).
	AroundWindowMicros int64 = 15 * 60 * 1_000_000

	// DefaultSize is the window size used when the request omits one.
	DefaultSize int64 = 10
)

// AroundRequest is the decoded context-window search request.
type AroundRequest struct {
	OrgID      string
	StreamName string
	StreamType models.StreamType
	TraceID    string
	UserID     string

	Pivot   int64
	Size    int64
	Timeout int64

	SQL      string
	QueryFn  string
	Regions  []string
	Clusters []string

	Filters map[string]string
}

// Int64OrDefault parses raw as an int64, substituting def when raw is
// absent or unparsable. Parse failures are never surfaced.
func Int64OrDefault(raw string, def int64) int64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// DecodeBase64OrEmpty decodes a URL-safe base64 transport form, returning
// the empty string when raw is absent or undecodable.
func DecodeBase64OrEmpty(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// NormalizeTransform ensures a transform expression ends with the "."
// terminator the engine expects, appending one when missing.
func NormalizeTransform(fn string) string {
	if fn == "" {
		return ""
	}
	if strings.HasSuffix(strings.TrimSpace(fn), ".") {
		return fn
	}
	return fn + " \n ."
}

// SplitCommaList splits a comma-separated value, dropping empty tokens.
func SplitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequestParams carries the raw transport-level parameters of an around
// request before decoding.
type RequestParams struct {
	OrgID      string
	StreamName string
	StreamType string
	TraceID    string
	UserID     string

	Key      string
	Size     string
	Timeout  string
	SQL      string
	QueryFn  string
	Regions  string
	Clusters string

	Body []byte
}

// BuildAroundRequest decodes raw parameters into an AroundRequest. Every
// field defaults silently on decode failure; the only fatal path is the
// filter merge into the SQL WHERE clause.
func BuildAroundRequest(p RequestParams, allowedFields []string) (*AroundRequest, error) {
	req := &AroundRequest{
		OrgID:      p.OrgID,
		StreamName: p.StreamName,
		StreamType: models.ParseStreamType(p.StreamType),
		TraceID:    p.TraceID,
		UserID:     p.UserID,
		Pivot:      Int64OrDefault(p.Key, 0),
		Size:       Int64OrDefault(p.Size, DefaultSize),
		Timeout:    Int64OrDefault(p.Timeout, 0),
		QueryFn:    NormalizeTransform(DecodeBase64OrEmpty(p.QueryFn)),
		Regions:    SplitCommaList(p.Regions),
		Clusters:   SplitCommaList(p.Clusters),
	}

	req.SQL = DecodeBase64OrEmpty(p.SQL)
	if req.SQL == "" {
		req.SQL = DefaultSQL(p.StreamName)
	}

	req.Filters = extractFilters(p.Body, allowedFields, &req.Pivot)
	if len(req.Filters) > 0 {
		merged, err := AddFiltersWithAnd(req.SQL, req.Filters)
		if err != nil {
			return nil, err
		}
		req.SQL = merged
	}

	return req, nil
}

// extractFilters reads allow-listed fields from the optional request
// payload. The timestamp column overrides the pivot instead of becoming a
// filter; null-valued fields are skipped; a malformed payload yields an
// empty filter set.
func extractFilters(body []byte, allowedFields []string, pivot *int64) map[string]string {
	if len(body) == 0 {
		return nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	// A timestamp in the payload re-anchors the window instead of
	// filtering on the timestamp column.
	if raw, ok := payload[TimestampColumn]; ok && string(raw) != "null" {
		if ts, err := strconv.ParseInt(decodeScalar(raw), 10, 64); err == nil {
			*pivot = ts
		}
	}

	filters := make(map[string]string)
	for _, field := range allowedFields {
		if field == TimestampColumn {
			continue
		}
		raw, ok := payload[field]
		if !ok || string(raw) == "null" {
			continue
		}
		value := decodeScalar(raw)
		if value == "" {
			continue
		}
		filters[field] = value
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func decodeScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return fmt.Sprintf("%t", b)
	}
	return ""
}
