package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	BrowserAttempts prometheus.Counter
	RowsExtracted   prometheus.Counter
	RowsSkipped     *prometheus.CounterVec
	UpsertsTotal    *prometheus.CounterVec
	StageErrors     *prometheus.CounterVec
	VerifyResults   *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every metric with the given registerer. Passing a
// fresh prometheus.NewRegistry keeps tests isolated from the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_runs_total",
			Help: "The total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsync_run_duration_seconds",
			Help:    "End-to-end duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BrowserAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_browser_attempts_total",
			Help: "The total number of browser spans opened, retries included",
		}),
		RowsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridsync_rows_extracted_total",
			Help: "The total number of grid rows observed by the extractor",
		}),
		RowsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_rows_skipped_total",
			Help: "The total number of rows dropped before persistence",
		}, []string{"reason"}), // e.g. 'parse', 'window', 'status'
		UpsertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_upserts_total",
			Help: "Persisted rows by operation",
		}, []string{"op"}), // 'insert' or 'update'
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_stage_errors_total",
			Help: "Errors by pipeline stage",
		}, []string{"stage"}),
		VerifyResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_verify_results_total",
			Help: "Status verification checks by result",
		}, []string{"result"}), // 'updated', 'unchanged', 'failed'
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_http_requests_total",
			Help: "The total number of HTTP requests served",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) IncRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRunDuration(d time.Duration) {
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) IncBrowserAttempt() {
	m.BrowserAttempts.Inc()
}

func (m *Metrics) AddRowsExtracted(n int) {
	m.RowsExtracted.Add(float64(n))
}

func (m *Metrics) AddRowsSkipped(reason string, n int) {
	if n > 0 {
		m.RowsSkipped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) AddUpserts(inserted, updated int) {
	m.UpsertsTotal.WithLabelValues("insert").Add(float64(inserted))
	m.UpsertsTotal.WithLabelValues("update").Add(float64(updated))
}

func (m *Metrics) IncStageError(stage string) {
	m.StageErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncVerifyResult(result string) {
	m.VerifyResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}
