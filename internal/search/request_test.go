package search

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64OrDefault(t *testing.T) {
	assert.Equal(t, int64(42), Int64OrDefault("42", 10))
	assert.Equal(t, int64(10), Int64OrDefault("", 10))
	assert.Equal(t, int64(10), Int64OrDefault("not-a-number", 10))
	assert.Equal(t, int64(-5), Int64OrDefault("-5", 10))
}

func TestDecodeBase64OrEmpty(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(`SELECT * FROM "x"`))
	assert.Equal(t, `SELECT * FROM "x"`, DecodeBase64OrEmpty(encoded))
	assert.Equal(t, "", DecodeBase64OrEmpty(""))
	assert.Equal(t, "", DecodeBase64OrEmpty("%%%not-base64%%%"))
}

func TestNormalizeTransform(t *testing.T) {
	assert.Equal(t, "filter(.level==\"error\") \n .",
		NormalizeTransform(`filter(.level=="error")`))
	assert.Equal(t, ".", NormalizeTransform("."))
	assert.Equal(t, "", NormalizeTransform(""))
	// Already terminated expressions pass through unchanged.
	assert.Equal(t, "drop(.debug) \n .", NormalizeTransform("drop(.debug) \n ."))
}

func TestSplitCommaList(t *testing.T) {
	assert.Equal(t, []string{"us-east", "eu-west"}, SplitCommaList("us-east,eu-west"))
	assert.Equal(t, []string{"us-east"}, SplitCommaList("us-east,,"))
	assert.Nil(t, SplitCommaList(""))
}

func TestBuildAroundRequestDefaults(t *testing.T) {
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), req.Pivot)
	assert.Equal(t, DefaultSize, req.Size)
	assert.Equal(t, int64(0), req.Timeout)
	assert.Equal(t, `SELECT * FROM "app_logs" `, req.SQL)
	assert.Empty(t, req.QueryFn)
	assert.Nil(t, req.Filters)
}

func TestBuildAroundRequestDecodesSQLOverride(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(`SELECT * FROM "app_logs" WHERE level = 'error'`))
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		SQL:        encoded,
		Key:        "1000000000",
		Size:       "20",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `SELECT * FROM "app_logs" WHERE level = 'error'`, req.SQL)
	assert.Equal(t, int64(1000000000), req.Pivot)
	assert.Equal(t, int64(20), req.Size)
}

func TestBuildAroundRequestUndecodableSQLFallsBack(t *testing.T) {
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		SQL:        "***garbage***",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "app_logs" `, req.SQL)
}

func TestBuildAroundRequestPayloadFilters(t *testing.T) {
	body := []byte(`{"_timestamp":1234567890,"host":"h1","level":null}`)
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		Body:       body,
	}, []string{"host", "level"})
	require.NoError(t, err)

	// The timestamp overrides the pivot instead of becoming a filter;
	// the null field is dropped entirely.
	assert.Equal(t, int64(1234567890), req.Pivot)
	assert.Equal(t, map[string]string{"host": "h1"}, req.Filters)
	assert.Equal(t, `SELECT * FROM "app_logs" WHERE host = 'h1'`, req.SQL)
}

func TestBuildAroundRequestIgnoresUnlistedFields(t *testing.T) {
	body := []byte(`{"host":"h1","secret":"nope"}`)
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		Body:       body,
	}, []string{"host"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "h1"}, req.Filters)
}

func TestBuildAroundRequestMalformedPayloadTolerated(t *testing.T) {
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		Body:       []byte(`{not json`),
	}, []string{"host"})
	require.NoError(t, err)
	assert.Nil(t, req.Filters)
}

func TestBuildAroundRequestFilterMergeFailureIsFatal(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(`SELECT host, count(*) FROM "app_logs" GROUP BY host`))
	_, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		SQL:        encoded,
		Body:       []byte(`{"host":"h1"}`),
	}, []string{"host"})
	assert.Error(t, err)
}

func TestBuildAroundRequestTransformNormalized(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(`filter(.level=="error")`))
	req, err := BuildAroundRequest(RequestParams{
		OrgID:      "default",
		StreamName: "app_logs",
		QueryFn:    encoded,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "filter(.level==\"error\") \n .", req.QueryFn)
}
