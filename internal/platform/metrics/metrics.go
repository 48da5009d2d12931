// Package metrics holds the Prometheus collectors for reconciliation runs and
// the HTTP surface. Each Recorder owns its registry so tests and one-shot runs
// never share global state.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "incremental_load"

// DefaultJob is the Pushgateway job name for one-shot runs.
const DefaultJob = "incremental_load"

// Recorder implements incrementalload.BatchObserver and the terminology API
// call observer.
type Recorder struct {
	registry *prometheus.Registry

	batches        *prometheus.CounterVec
	conceptsLoaded prometheus.Counter
	batchDuration  prometheus.Histogram
	remoteCalls    *prometheus.CounterVec

	httpActive   prometheus.Gauge
	httpDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with all collectors registered. Go runtime
// and process collectors are included when withRuntime is set.
func NewRecorder(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches processed, by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		conceptsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concepts_loaded_total",
			Help:      "Concepts added to terminologies, including those of failed batches.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch from Resolving to its final state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Terminology API calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	r.registry.MustRegister(r.batches, r.conceptsLoaded, r.batchDuration, r.remoteCalls, r.httpActive, r.httpDuration)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveBatch records one finished batch.
func (r *Recorder) ObserveBatch(outcome, kind string, conceptsLoaded int, duration time.Duration) {
	r.batches.WithLabelValues(outcome, kind).Inc()
	r.conceptsLoaded.Add(float64(conceptsLoaded))
	r.batchDuration.Observe(duration.Seconds())
}

// ObserveCall records one terminology API call.
func (r *Recorder) ObserveCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.remoteCalls.WithLabelValues(operation, outcome).Inc()
}

// Middleware records HTTP request latency and in-flight requests.
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r.httpActive.Inc()
			defer r.httpActive.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			r.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}

// Push sends the current values to a Pushgateway, replacing the job's group.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, instance string) error {
	p := push.New(gatewayURL, job).Gatherer(r.registry)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
