// Prometheus metrics for the platform.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "http_requests_total",
		Help:      "HTTP requests processed, by method, route and status.",
	}, []string{"method", "route", "status"})

	// RequestDuration observes request latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sales_platform",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	// RecordsIngested counts sales records accepted by the ingestion pipeline.
	RecordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "sales_records_ingested_total",
		Help:      "Sales records accepted for persistence.",
	})

	// RecordsRejected counts records that failed validation.
	RecordsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "sales_records_rejected_total",
		Help:      "Sales records rejected by validation.",
	})

	// ModelsTrained counts completed model trainings by type.
	ModelsTrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "models_trained_total",
		Help:      "Models trained, by model type.",
	}, []string{"model_type"})

	// ForecastsServed counts forecast responses by resolved method.
	ForecastsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "forecasts_served_total",
		Help:      "Forecasts served, by method.",
	}, []string{"method"})

	// CacheHits and CacheMisses track forecast cache effectiveness.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "forecast_cache_hits_total",
		Help:      "Forecast cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "forecast_cache_misses_total",
		Help:      "Forecast cache misses.",
	})

	// AlertsRaised counts alerts by kind.
	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales_platform",
		Name:      "alerts_raised_total",
		Help:      "Alerts raised, by kind.",
	}, []string{"kind"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
