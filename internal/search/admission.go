package search

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReleaseFunc returns an admission slot. Safe to call more than once.
type ReleaseFunc func()

// AdmissionPolicy gates concurrent search submissions. The policy is
// selected once at process start.
type AdmissionPolicy interface {
	// Admit blocks until the request may proceed. The returned release
	// func must be called on every exit path. The returned duration is
	// the time spent waiting for admission.
	Admit(ctx context.Context, org string) (ReleaseFunc, time.Duration, error)
}

// NoopAdmission admits every request immediately. The pending gauge is
// still pulsed so the telemetry shape matches the queued policy.
type NoopAdmission struct {
	pending *prometheus.GaugeVec
}

// NewNoopAdmission creates the pass-through admission policy.
func NewNoopAdmission(pending *prometheus.GaugeVec) *NoopAdmission {
	return &NoopAdmission{pending: pending}
}

func (n *NoopAdmission) Admit(_ context.Context, org string) (ReleaseFunc, time.Duration, error) {
	gauge := n.pending.WithLabelValues(org)
	gauge.Inc()
	gauge.Dec()
	return func() {}, 0, nil
}

// QueueAdmission is a process-wide single-slot throttle. While one gated
// request executes, every other gated request in the process waits.
type QueueAdmission struct {
	slot    chan struct{}
	pending *prometheus.GaugeVec
}

// NewQueueAdmission creates a single-slot admission queue. The pending
// gauge is labelled by organization and tracks requests waiting for or
// acquiring the slot.
func NewQueueAdmission(pending *prometheus.GaugeVec) *QueueAdmission {
	return &QueueAdmission{
		slot:    make(chan struct{}, 1),
		pending: pending,
	}
}

func (q *QueueAdmission) Admit(ctx context.Context, org string) (ReleaseFunc, time.Duration, error) {
	gauge := q.pending.WithLabelValues(org)
	gauge.Inc()
	start := time.Now()

	select {
	case q.slot <- struct{}{}:
		gauge.Dec()
		var once sync.Once
		release := func() {
			once.Do(func() { <-q.slot })
		}
		return release, time.Since(start), nil
	case <-ctx.Done():
		gauge.Dec()
		return func() {}, time.Since(start), ctx.Err()
	}
}
