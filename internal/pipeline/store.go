// Package pipeline stores stream-processing pipeline definitions in
// Postgres.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sextant/internal/metrics"
	"sextant/pkg/database"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

// ErrNotFound is returned when no pipeline matches the lookup.
var ErrNotFound = errors.New("pipeline not found")

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS pipelines (
		id           VARCHAR(256) PRIMARY KEY,
		version      INT NOT NULL,
		enabled      BOOLEAN NOT NULL DEFAULT true,
		name         VARCHAR(256) NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		org          VARCHAR(100) NOT NULL,
		source_type  VARCHAR(50) NOT NULL,
		stream_org   VARCHAR(100),
		stream_name  VARCHAR(256),
		stream_type  VARCHAR(50),
		derived_stream TEXT,
		nodes        TEXT,
		edges        TEXT
	)`

const createOrgIndexSQL = `
	CREATE INDEX IF NOT EXISTS pipelines_org_idx ON pipelines (org)`

const createStreamIndexSQL = `
	CREATE UNIQUE INDEX IF NOT EXISTS pipelines_org_src_stream_idx
		ON pipelines (org, source_type, stream_org, stream_name, stream_type)`

// Store provides CRUD access to stored pipelines.
type Store struct {
	db      database.PostgresConn
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewStore creates a pipeline store on the given connection. Metrics may
// be nil.
func NewStore(db database.PostgresConn, logger logging.Logger, m *metrics.Metrics) *Store {
	return &Store{db: db, logger: logger, metrics: m}
}

func (s *Store) track(queryType string, start time.Time, err error) {
	if s.metrics == nil || s.metrics.PostgresQueries == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	s.metrics.PostgresQueries.WithLabelValues(queryType, status).Inc()
	s.metrics.DBDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}

// CreateTable initializes the schema and its indexes.
func (s *Store) CreateTable(ctx context.Context) error {
	for _, stmt := range []string{createTableSQL, createOrgIndexSQL, createStreamIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize pipelines schema: %w", err)
		}
	}
	return nil
}

// Put inserts a pipeline, replacing any previous definition with the same id.
func (s *Store) Put(ctx context.Context, p *models.Pipeline) (err error) {
	defer func(start time.Time) { s.track("put", start, err) }(time.Now())

	var streamOrg, streamName, streamType sql.NullString
	if p.Stream != nil {
		streamOrg = sql.NullString{String: p.Stream.OrgID, Valid: true}
		streamName = sql.NullString{String: p.Stream.StreamName, Valid: true}
		streamType = sql.NullString{String: string(p.Stream.StreamType), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, version, enabled, name, description, org, source_type,
			stream_org, stream_name, stream_type, derived_stream, nodes, edges)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			enabled = EXCLUDED.enabled,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			source_type = EXCLUDED.source_type,
			stream_org = EXCLUDED.stream_org,
			stream_name = EXCLUDED.stream_name,
			stream_type = EXCLUDED.stream_type,
			derived_stream = EXCLUDED.derived_stream,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges`,
		p.ID, p.Version, p.Enabled, p.Name, p.Description, p.Org, string(p.SourceType),
		streamOrg, streamName, streamType,
		nullableJSON(p.DerivedStream), nullableJSON(p.Nodes), nullableJSON(p.Edges),
	)
	if err != nil {
		return fmt.Errorf("failed to store pipeline %s: %w", p.ID, err)
	}
	return nil
}

// GetByID fetches one pipeline.
func (s *Store) GetByID(ctx context.Context, id string) (p *models.Pipeline, err error) {
	defer func(start time.Time) { s.track("get", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx, selectSQL+` WHERE id = $1`, id)
	return scanPipeline(row)
}

// GetByStream fetches the pipeline bound to a source stream, if any.
func (s *Store) GetByStream(ctx context.Context, stream models.StreamParams) (p *models.Pipeline, err error) {
	defer func(start time.Time) { s.track("get", start, err) }(time.Now())

	row := s.db.QueryRowContext(ctx,
		selectSQL+` WHERE stream_org = $1 AND stream_name = $2 AND stream_type = $3`,
		stream.OrgID, stream.StreamName, string(stream.StreamType))
	return scanPipeline(row)
}

// ListByOrg returns all pipelines in an organization.
func (s *Store) ListByOrg(ctx context.Context, org string) (pipelines []*models.Pipeline, err error) {
	defer func(start time.Time) { s.track("list", start, err) }(time.Now())

	rows, err := s.db.QueryContext(ctx, selectSQL+` WHERE org = $1 ORDER BY name`, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines for org %s: %w", org, err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// Delete removes a pipeline.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.track("delete", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectSQL = `
	SELECT id, version, enabled, name, description, org, source_type,
		stream_org, stream_name, stream_type, derived_stream, nodes, edges
	FROM pipelines`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPipeline(row rowScanner) (*models.Pipeline, error) {
	var p models.Pipeline
	var sourceType string
	var streamOrg, streamName, streamType, derivedStream, nodes, edges sql.NullString

	err := row.Scan(&p.ID, &p.Version, &p.Enabled, &p.Name, &p.Description, &p.Org, &sourceType,
		&streamOrg, &streamName, &streamType, &derivedStream, &nodes, &edges)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}

	p.SourceType = models.PipelineSourceType(sourceType)
	if streamOrg.Valid || streamName.Valid {
		p.Stream = &models.StreamParams{
			OrgID:      streamOrg.String,
			StreamName: streamName.String,
			StreamType: models.ParseStreamType(streamType.String),
		}
	}
	if derivedStream.Valid {
		p.DerivedStream = []byte(derivedStream.String)
	}
	if nodes.Valid {
		p.Nodes = []byte(nodes.String)
	}
	if edges.Valid {
		p.Edges = []byte(edges.String)
	}
	return &p, nil
}

func nullableJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
