package pipeline

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sextant/pkg/logging"
	"sextant/pkg/models"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logging.NewLogger(), nil), mock
}

func pipelineColumns() []string {
	return []string{"id", "version", "enabled", "name", "description", "org", "source_type",
		"stream_org", "stream_name", "stream_type", "derived_stream", "nodes", "edges"}
}

func TestStorePut(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("INSERT INTO pipelines").
		WithArgs("p1", int32(1), true, "errors-to-alerts", "route error logs", "default", "realtime",
			"default", "app_logs", "logs", nil, `[{"id":"n1"}]`, `[]`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Put(context.Background(), &models.Pipeline{
		ID:          "p1",
		Version:     1,
		Enabled:     true,
		Name:        "errors-to-alerts",
		Description: "route error logs",
		Org:         "default",
		SourceType:  models.PipelineSourceRealtime,
		Stream: &models.StreamParams{
			OrgID:      "default",
			StreamName: "app_logs",
			StreamType: models.StreamTypeLogs,
		},
		Nodes: []byte(`[{"id":"n1"}]`),
		Edges: []byte(`[]`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetByID(t *testing.T) {
	store, mock := newStore(t)

	rows := sqlmock.NewRows(pipelineColumns()).
		AddRow("p1", 1, true, "errors-to-alerts", "", "default", "realtime",
			"default", "app_logs", "logs", nil, `[{"id":"n1"}]`, `[]`)
	mock.ExpectQuery("SELECT id, version, enabled, name, description, org, source_type").
		WithArgs("p1").
		WillReturnRows(rows)

	p, err := store.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "errors-to-alerts", p.Name)
	require.NotNil(t, p.Stream)
	assert.Equal(t, "app_logs", p.Stream.StreamName)
	assert.Equal(t, models.StreamTypeLogs, p.Stream.StreamType)
	assert.JSONEq(t, `[{"id":"n1"}]`, string(p.Nodes))
}

func TestStoreGetByIDNotFound(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("SELECT id, version, enabled, name, description, org, source_type").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pipelineColumns()))

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListByOrg(t *testing.T) {
	store, mock := newStore(t)

	rows := sqlmock.NewRows(pipelineColumns()).
		AddRow("p1", 1, true, "a", "", "default", "realtime", nil, nil, nil, nil, nil, nil).
		AddRow("p2", 2, false, "b", "", "default", "scheduled", nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery("SELECT id, version, enabled, name, description, org, source_type").
		WithArgs("default").
		WillReturnRows(rows)

	pipelines, err := store.ListByOrg(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, pipelines, 2)
	assert.Equal(t, "p1", pipelines[0].ID)
	assert.Nil(t, pipelines[0].Stream)
	assert.Equal(t, models.PipelineSourceScheduled, pipelines[1].SourceType)
}

func TestStoreDelete(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("DELETE FROM pipelines").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteNotFound(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("DELETE FROM pipelines").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
