// Package metrics exposes evaluation, bus and HTTP metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ricesearch/rice-eval/internal/evaluation"
)

const namespace = "rice_eval"

// Recorder owns a Prometheus registry and the collectors registered on it.
// It observes evaluation snapshots and bus publishes.
type Recorder struct {
	registry *prometheus.Registry

	// Evaluation metrics
	Evaluations      prometheus.Counter
	Scenarios        prometheus.Counter
	Hits             *prometheus.CounterVec // labels: cutoff
	LastHitRate      *prometheus.GaugeVec   // labels: cutoff
	LastAverage      prometheus.Gauge
	ScenariosPerCall prometheus.Histogram

	// Bus metrics
	BusPublished *prometheus.CounterVec   // labels: topic, status
	BusLatency   *prometheus.HistogramVec // labels: topic
	BusDelivered *prometheus.CounterVec   // labels: topic, status

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates a recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total evaluation runs recorded in the ledger",
		}),
		Scenarios: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Total scenarios evaluated across all runs",
		}),
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Total scenario hits per cutoff across all runs",
		}, []string{"cutoff"}),
		LastHitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_hit_rate",
			Help:      "Hit rate per cutoff of the most recent run",
		}, []string{"cutoff"}),
		LastAverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_average_hit_rate",
			Help:      "Average of HR@1, HR@3 and HR@5 for the most recent run",
		}),
		ScenariosPerCall: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenarios_per_evaluation",
			Help:      "Number of scenarios per evaluation run",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),

		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Bus publish attempts by topic and outcome",
		}, []string{"topic", "status"}),
		BusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_latency_seconds",
			Help:      "Latency of bus publishes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
		BusDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_delivered_total",
			Help:      "Bus handler invocations by topic and outcome",
		}, []string{"topic", "status"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
	}

	r.registry.MustRegister(
		r.Evaluations,
		r.Scenarios,
		r.Hits,
		r.LastHitRate,
		r.LastAverage,
		r.ScenariosPerCall,
		r.BusPublished,
		r.BusLatency,
		r.BusDelivered,
		r.HTTPRequests,
		r.HTTPDuration,
		r.HTTPRequestsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler that serves the registry in the
// Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveSnapshot implements evaluation.Observer.
func (r *Recorder) ObserveSnapshot(_ context.Context, s evaluation.MetricSnapshot) {
	r.Evaluations.Inc()
	r.Scenarios.Add(float64(s.TotalScenarios))
	r.ScenariosPerCall.Observe(float64(s.TotalScenarios))
	r.LastAverage.Set(s.AverageHitRate)

	for _, c := range s.Cutoffs {
		label := strconv.Itoa(c.K)
		r.Hits.WithLabelValues(label).Add(float64(c.Hits))
		r.LastHitRate.WithLabelValues(label).Set(c.HitRate)
	}
}

// RecordBusPublish implements bus.MetricsRecorder.
func (r *Recorder) RecordBusPublish(topic string, latency time.Duration, err error) {
	r.BusPublished.WithLabelValues(topic, outcome(err)).Inc()
	r.BusLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

// RecordBusDelivery implements bus.MetricsRecorder.
func (r *Recorder) RecordBusDelivery(topic string, err error) {
	r.BusDelivered.WithLabelValues(topic, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
