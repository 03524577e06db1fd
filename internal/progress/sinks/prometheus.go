package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sliver-archive/sliver/internal/progress"
)

// PrometheusSink exports capture progress via Prometheus. It owns the
// collectors for batch starts, per-job outcomes, and written screenshot
// bytes, so the capture workers themselves stay metrics-free.
type PrometheusSink struct {
	batchesStarted prometheus.Counter
	batchDuration  prometheus.Histogram
	jobsCompleted  *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	jobDuration    *prometheus.HistogramVec
	shotBytes      prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
// A nil registry falls back to the default registerer, which the proxy's
// /metrics endpoint serves.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sliver_capture_batches_total",
			Help: "Total capture batches started.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sliver_capture_batch_duration_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sliver_capture_jobs_total",
			Help: "Capture jobs driven to completion, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sliver_capture_jobs_running",
			Help: "Capture jobs currently in flight.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sliver_capture_job_duration_seconds",
			Help:    "Navigate-to-screenshot latency, partitioned by result.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"result"}),
		shotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sliver_capture_bytes_total",
			Help: "Total screenshot bytes written.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchDuration,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobDuration,
		s.shotBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
	case progress.StageBatchDone:
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageJobStart:
		if s.tracker.start(jobKey(evt)) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.completeJob(evt, "ok")
		if evt.Bytes > 0 {
			s.shotBytes.Add(float64(evt.Bytes))
		}
	case progress.StageJobError:
		s.completeJob(evt, "error")
	}
}

func (s *PrometheusSink) completeJob(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(jobKey(evt)) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobKey identifies one job within a batch for the running gauge.
func jobKey(evt progress.Event) string {
	return string(evt.BatchID[:]) + "\x00" + evt.URL
}

// jobTracker deduplicates start and completion events so the running gauge
// survives replays and out-of-order delivery.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *jobTracker) complete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
