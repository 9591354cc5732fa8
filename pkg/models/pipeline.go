package models

import "encoding/json"

// PipelineSourceType identifies where a pipeline reads from.
type PipelineSourceType string

const (
	PipelineSourceRealtime  PipelineSourceType = "realtime"
	PipelineSourceScheduled PipelineSourceType = "scheduled"
)

// Pipeline is a stored stream-processing pipeline definition. Nodes and
// edges are kept as opaque JSON documents; this service only routes and
// stores them.
type Pipeline struct {
	ID            string             `json:"pipeline_id"`
	Version       int32              `json:"version"`
	Enabled       bool               `json:"enabled"`
	Org           string             `json:"org"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	SourceType    PipelineSourceType `json:"source_type"`
	Stream        *StreamParams      `json:"stream,omitempty"`
	DerivedStream json.RawMessage    `json:"derived_stream,omitempty"`
	Nodes         json.RawMessage    `json:"nodes,omitempty"`
	Edges         json.RawMessage    `json:"edges,omitempty"`
}
