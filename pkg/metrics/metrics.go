package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	registry prometheus.Gatherer

	// Pipeline metrics
	RunsTotal             *prometheus.CounterVec
	RunDuration           *prometheus.HistogramVec
	MatrixRows            prometheus.Gauge
	MatrixPositiveRate    prometheus.Gauge
	RecordsInTotal        *prometheus.CounterVec
	RecordsDroppedTotal   *prometheus.CounterVec
	PredictorMissingTotal *prometheus.CounterVec
	PredictorStaleTotal   *prometheus.CounterVec

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Database metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
	DBRowsLoaded     prometheus.Counter
}

// NewCollector registers the collector with the default registry
func NewCollector(namespace string) *Collector {
	return newCollector(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWithRegistry registers the collector with reg, which keeps
// tests and embedded uses isolated from the default registry
func NewCollectorWithRegistry(namespace string, reg *prometheus.Registry) *Collector {
	return newCollector(namespace, reg, reg)
}

func newCollector(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		registry: gatherer,

		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by stage and status",
			},
			[]string{"stage", "status"},
		),

		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),

		MatrixRows: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matrix_rows",
				Help:      "Rows (anchors) in the last built feature matrix",
			},
		),

		MatrixPositiveRate: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "matrix_positive_rate",
				Help:      "Share of exceedance labels in the last built feature matrix",
			},
		),

		RecordsInTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_in_total",
				Help:      "Observation records read by stage",
			},
			[]string{"stage"},
		),

		RecordsDroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Observation records dropped by stage and reason",
			},
			[]string{"stage", "reason"},
		),

		PredictorMissingTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictor_missing_total",
				Help:      "Anchors without a predictor value inside the lookback",
			},
			[]string{"predictor"},
		),

		PredictorStaleTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictor_stale_total",
				Help:      "Anchors whose latest predictor value was older than the lookback",
			},
			[]string{"predictor"},
		),

		APIRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		DBQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		DBRowsLoaded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_rows_loaded_total",
				Help:      "Observation rows written to the database",
			},
		),
	}
}

// Gatherer exposes the registry the collector was registered with
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordRun counts a finished pipeline stage
func (c *Collector) RecordRun(stage string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.RunsTotal.WithLabelValues(stage, status).Inc()
}

// RecordDrops adds per-reason drop counts for a stage
func (c *Collector) RecordDrops(stage string, drops map[string]int) {
	for reason, n := range drops {
		if n > 0 {
			c.RecordsDroppedTotal.WithLabelValues(stage, reason).Add(float64(n))
		}
	}
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
