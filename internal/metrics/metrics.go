// Package metrics holds the Prometheus instruments for idolboard.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Library metrics
	Uploads     *prometheus.CounterVec
	UploadBytes prometheus.Histogram

	// Recognition metrics
	Recognitions *prometheus.CounterVec
	MatchScore   prometheus.Histogram

	// Conversion metrics
	Conversions        *prometheus.CounterVec
	ConversionDuration prometheus.Histogram

	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
}

// New creates all metrics on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idolboard_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idolboard_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idolboard_uploads_total",
			Help: "Audio uploads by source format and outcome",
		}, []string{"format", "outcome"}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idolboard_upload_size_bytes",
			Help:    "Size of uploaded audio clips",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to 16MB
		}),

		Recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idolboard_recognitions_total",
			Help: "Recognition requests by resulting action and input source",
		}, []string{"action", "source"}),
		MatchScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idolboard_match_score",
			Help:    "Similarity score of accepted matches",
			Buckets: prometheus.LinearBuckets(0.6, 0.05, 9),
		}),

		Conversions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idolboard_conversions_total",
			Help: "Background audio conversions by outcome",
		}, []string{"outcome"}),
		ConversionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idolboard_conversion_duration_seconds",
			Help:    "Time spent transcoding one clip",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idolboard_transcriptions_total",
			Help: "Speech-to-text requests by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idolboard_transcription_duration_seconds",
			Help:    "Duration of speech-to-text requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGauge adds a gauge whose value is read from fn at scrape time.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordUpload records an audio upload attempt.
func (m *Metrics) RecordUpload(format, outcome string, size int64) {
	m.Uploads.WithLabelValues(format, outcome).Inc()
	if outcome == "ok" {
		m.UploadBytes.Observe(float64(size))
	}
}

// RecordRecognition records a recognition result. Score is observed only
// for matches.
func (m *Metrics) RecordRecognition(action, source string, score float64) {
	m.Recognitions.WithLabelValues(action, source).Inc()
	if action == "play" {
		m.MatchScore.Observe(score)
	}
}

// RecordConversion records one background conversion.
func (m *Metrics) RecordConversion(err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Conversions.WithLabelValues(outcome).Inc()
	m.ConversionDuration.Observe(d.Seconds())
}

// RecordTranscription records one speech-to-text call.
func (m *Metrics) RecordTranscription(err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Transcriptions.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters don't explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
