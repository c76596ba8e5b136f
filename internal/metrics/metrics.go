package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notezilla_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notezilla_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notezilla_video_upload_size_bytes",
			Help:    "Size of uploaded media in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 11), // 1MB to 1GB
		},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notezilla_pipeline_stage_duration_seconds",
			Help:    "Duration of each ingestion pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7 minutes
		},
		[]string{"stage"},
	)

	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notezilla_pipeline_failures_total",
			Help: "Total number of failed ingestion pipeline stages",
		},
		[]string{"stage"},
	)

	VideosProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notezilla_videos_processed_total",
			Help: "Total number of uploads that completed the pipeline",
		},
	)

	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notezilla_quota_rejections_total",
			Help: "Total number of requests rejected by the API call quota",
		},
	)

	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notezilla_event_publish_failures_total",
			Help: "Total number of domain events that could not be published",
		},
		[]string{"type"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one completed HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUploadSize records the size of an accepted upload.
func RecordUploadSize(bytes int64) {
	VideoUploadSizeBytes.Observe(float64(bytes))
}

// RecordPipelineStage records how long a pipeline stage ran and whether it failed.
func RecordPipelineStage(stage string, duration time.Duration, err error) {
	PipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		PipelineFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func RecordVideoProcessed() {
	VideosProcessedTotal.Inc()
}

func RecordQuotaRejection() {
	QuotaRejectionsTotal.Inc()
}

func RecordEventPublishFailure(eventType string) {
	EventPublishFailuresTotal.WithLabelValues(eventType).Inc()
}

// Middleware records request counts and latency by matched route. routeOf
// resolves the route label after the handler ran; requests without a route
// are labelled "unmatched".
func Middleware(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routeOf(r)
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			RecordHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}
