package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	cacheDuration     *prometheus.HistogramVec
	uploadBytes       *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	aggregateDuration *prometheus.HistogramVec
	requestDuration   *prometheus.HistogramVec
	signs             *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		cacheDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artcat_cache_aspect_duration_seconds",
				Help:    "Duration of aspect caching runs in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"aspect", "outcome"},
		),
		uploadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artcat_upload_bytes_total",
				Help: "Total number of archive bytes uploaded",
			},
			[]string{"aspect"},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artcat_uploads_total",
				Help: "Total number of archive uploads by status",
			},
			[]string{"aspect", "status"},
		),
		aggregateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artcat_aggregate_duration_seconds",
				Help:    "Duration of catalog aggregation in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"catalog", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artcat_http_request_duration_seconds",
				Help:    "Duration of catalog HTTP requests in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"route", "code"},
		),
		signs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artcat_signed_urls_total",
				Help: "Total number of signed URL exchanges by status",
			},
			[]string{"status"},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *PrometheusMetrics) ObserveCacheAspect(aspect, outcome string, duration time.Duration) {
	p.cacheDuration.WithLabelValues(aspect, outcome).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveUpload(aspect string, bytes int64, err error) {
	p.uploads.WithLabelValues(aspect, statusLabel(err)).Inc()
	if err == nil {
		p.uploadBytes.WithLabelValues(aspect).Add(float64(bytes))
	}
}

func (p *PrometheusMetrics) ObserveAggregate(catalog string, duration time.Duration, err error) {
	p.aggregateDuration.WithLabelValues(catalog, statusLabel(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	p.requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSign(err error) {
	p.signs.WithLabelValues(statusLabel(err)).Inc()
}

var _ Metrics = (*PrometheusMetrics)(nil)
