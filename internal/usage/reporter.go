// Package usage emits accounting records for successful searches.
package usage

import (
	"time"

	"sextant/internal/metrics"
	"sextant/pkg/database"
	"sextant/pkg/logging"
	"sextant/pkg/models"
)

// Record is one usage event queued for the accounting sink.
type Record struct {
	Stats       models.RequestStats
	Org         string
	StreamName  string
	StreamType  models.StreamType
	UsageType   models.UsageType
	QueryFnUsed bool
	StartedAt   time.Time
}

// Reporter is the fire-and-forget accounting sink. Report never blocks
// the request path.
type Reporter interface {
	Report(rec Record)
}

// NoopReporter discards every record.
type NoopReporter struct{}

func (NoopReporter) Report(Record) {}

const insertUsageStatsSQL = `
	INSERT INTO usage_stats (
		org, stream_name, stream_type, usage_type,
		records, response_time, size, request_body, user_email,
		min_ts, max_ts, cached_ratio, trace_id,
		took_wait_in_queue, work_group, query_fn_used, started_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ClickHouseReporter writes usage rows to the usage_stats table from a
// background worker. The submit channel is bounded; records are dropped
// when the sink cannot keep up.
type ClickHouseReporter struct {
	db      database.ClickHouseConn
	logger  logging.Logger
	metrics *metrics.Metrics
	records chan Record
	done    chan struct{}
}

// NewClickHouseReporter starts the reporter worker.
func NewClickHouseReporter(db database.ClickHouseConn, logger logging.Logger, m *metrics.Metrics, bufferSize int) *ClickHouseReporter {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &ClickHouseReporter{
		db:      db,
		logger:  logger,
		metrics: m,
		records: make(chan Record, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Report queues the record without blocking; a full buffer drops it.
func (r *ClickHouseReporter) Report(rec Record) {
	select {
	case r.records <- rec:
	default:
		r.metrics.UsageRecords.WithLabelValues("dropped").Inc()
		r.logger.WithFields(logging.Fields{
			"org_id":     rec.Org,
			"usage_type": string(rec.UsageType),
		}).Warn("Usage record dropped, buffer full")
	}
}

// Close stops the worker after draining queued records.
func (r *ClickHouseReporter) Close() {
	close(r.records)
	<-r.done
}

func (r *ClickHouseReporter) run() {
	defer close(r.done)
	for rec := range r.records {
		r.write(rec)
	}
}

func (r *ClickHouseReporter) write(rec Record) {
	var queueWait int64
	if rec.Stats.TookWaitInQueue != nil {
		queueWait = *rec.Stats.TookWaitInQueue
	}
	var workGroup string
	if rec.Stats.WorkGroup != nil {
		workGroup = *rec.Stats.WorkGroup
	}
	queryFnUsed := uint8(0)
	if rec.QueryFnUsed {
		queryFnUsed = 1
	}

	_, err := r.db.Exec(insertUsageStatsSQL,
		rec.Org, rec.StreamName, string(rec.StreamType), string(rec.UsageType),
		rec.Stats.Records, rec.Stats.ResponseTime, rec.Stats.Size, rec.Stats.RequestBody, rec.Stats.UserEmail,
		rec.Stats.MinTS, rec.Stats.MaxTS, rec.Stats.CachedRatio, rec.Stats.TraceID,
		queueWait, workGroup, queryFnUsed, rec.StartedAt,
	)
	if err != nil {
		r.metrics.UsageRecords.WithLabelValues("error").Inc()
		r.logger.WithError(err).WithFields(logging.Fields{
			"org_id":     rec.Org,
			"usage_type": string(rec.UsageType),
		}).Error("Failed to write usage record")
		return
	}
	r.metrics.UsageRecords.WithLabelValues("success").Inc()
}
