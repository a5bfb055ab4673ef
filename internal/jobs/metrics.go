package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	cursor   *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddOutcomes adds per-outcome item counts produced by one job run, e.g.
// created, updated or failed records.
func (m *Metrics) AddOutcomes(job string, counts map[string]int) {
	if m == nil {
		return
	}
	for outcome, n := range counts {
		if n <= 0 {
			continue
		}
		m.items.WithLabelValues(job, outcome).Add(float64(n))
	}
}

// SetCheckpoint exposes the receipt checkpoint of a tenant as a unix
// timestamp, so ingestion lag can be alerted on.
func (m *Metrics) SetCheckpoint(profileID int64, at time.Time) {
	if m == nil || at.IsZero() {
		return
	}
	m.cursor.WithLabelValues(strconv.FormatInt(profileID, 10)).Set(float64(at.Unix()))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "possync_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_sync_items_total",
		Help: "Records processed by sync jobs grouped by outcome.",
	}, []string{"job", "outcome"})
	cursor := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "possync_receipt_checkpoint_timestamp_seconds",
		Help: "Date of the newest ingested receipt per tenant.",
	}, []string{"profile"})
	registerer.MustRegister(runs, failures, duration, items, cursor)
	return &Metrics{runs: runs, failures: failures, duration: duration, items: items, cursor: cursor}
}
