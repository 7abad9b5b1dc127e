package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_horizons_requests_total",
			Help: "Horizons API requests by outcome (ok, error, too_large, or HTTP status).",
		},
		[]string{"outcome"},
	)

	upstreamDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orrery_horizons_request_duration_seconds",
			Help:    "Horizons API request duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_horizons_breaker_state",
			Help: "Horizons circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
	)

	ephemerisAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_ephemeris_age_seconds",
			Help: "Seconds since the applied ephemeris was fetched.",
		},
	)

	ephemerisFetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orrery_ephemeris_fetch_duration_seconds",
			Help:    "Time to fetch and parse every body for one range.",
			Buckets: []float64{0.05, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	ephemerisSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_ephemeris_superseded_total",
			Help: "Ephemeris fetches discarded because a newer range was selected.",
		},
	)

	bodyFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_body_fetch_total",
			Help: "Per-body fetch outcomes (ok, fetch_error, format_error).",
		},
		[]string{"body", "outcome"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_ephemeris_cache_hits_total",
			Help: "Vector tables served from the local cache.",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_ephemeris_cache_misses_total",
			Help: "Vector tables not found in the local cache.",
		},
	)

	rangeSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_range_selections_total",
			Help: "Range selections by outcome (applied, empty, superseded, error).",
		},
		[]string{"outcome"},
	)

	timelineFrames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_timeline_frames",
			Help: "Number of frames in the loaded timeline.",
		},
	)

	timelineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_timeline_running",
			Help: "1 if the timeline is advancing, 0 otherwise.",
		},
	)

	renderFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_render_frames_total",
			Help: "Frames drawn by the render loop.",
		},
	)

	renderDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orrery_render_duration_seconds",
			Help:    "Time spent in one render step.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	cameraInputTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_camera_input_total",
			Help: "Camera input messages by type.",
		},
		[]string{"type"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orrery_streams_active",
			Help: "Number of active SSE frame streams.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_stream_connections_total",
			Help: "Total SSE frame stream connections.",
		},
	)

	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_messages_total",
			Help: "SSE messages sent by type.",
		},
		[]string{"type"},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orrery_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_errors_total",
			Help: "SSE stream errors by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		upstreamRequestsTotal,
		upstreamDurationSeconds,
		breakerState,
		ephemerisAgeSeconds,
		ephemerisFetchSeconds,
		ephemerisSupersededTotal,
		bodyFetchTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		rangeSelectionsTotal,
		timelineFrames,
		timelineRunning,
		renderFramesTotal,
		renderDurationSeconds,
		cameraInputTotal,
		streamsActive,
		streamConnectionsTotal,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpstreamRequest counts one Horizons request and its latency.
func RecordUpstreamRequest(outcome string, d time.Duration) {
	upstreamRequestsTotal.WithLabelValues(outcome).Inc()
	upstreamDurationSeconds.Observe(d.Seconds())
}

// SetBreakerState records the numeric gobreaker state.
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}

func SetEphemerisAge(seconds float64) { ephemerisAgeSeconds.Set(seconds) }
func ObserveEphemerisFetch(d time.Duration) { ephemerisFetchSeconds.Observe(d.Seconds()) }
func IncEphemerisSuperseded() { ephemerisSupersededTotal.Inc() }
func IncBodyFetch(body, outcome string) { bodyFetchTotal.WithLabelValues(body, outcome).Inc() }
func IncCacheHits() { cacheHitsTotal.Inc() }
func IncCacheMisses() { cacheMissesTotal.Inc() }
func IncRangeSelection(outcome string) { rangeSelectionsTotal.WithLabelValues(outcome).Inc() }

// SetTimeline records the timeline length and whether it is advancing.
func SetTimeline(frames int, running bool) {
	timelineFrames.Set(float64(frames))
	if running {
		timelineRunning.Set(1)
	} else {
		timelineRunning.Set(0)
	}
}

// ObserveRender counts one drawn frame.
func ObserveRender(d time.Duration) {
	renderFramesTotal.Inc()
	renderDurationSeconds.Observe(d.Seconds())
}

func IncCameraInput(kind string) { cameraInputTotal.WithLabelValues(kind).Inc() }

func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }
func IncStreamConnections() { streamConnectionsTotal.Inc() }
func IncStreamMessages(t string) { streamMessagesTotal.WithLabelValues(t).Inc() }
func AddStreamBytes(n int) { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(kind string) { streamErrorsTotal.WithLabelValues(kind).Inc() }

// knownRoutes are served verbatim as path labels.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/index.html":              true,
	"/app.js":                  true,
	"/styles.css":              true,
	"/api/v1/bodies":           true,
	"/api/v1/timeline":         true,
	"/api/v1/timeline/play":    true,
	"/api/v1/timeline/pause":   true,
	"/api/v1/timeline/toggle":  true,
	"/api/v1/range":            true,
	"/api/v1/ephemeris/status": true,
	"/api/v1/camera":           true,
	"/api/v1/camera/ws":        true,
	"/api/v1/stream/frames":    true,
}

const bodyRoutePrefix = "/api/v1/bodies/"

// normalizeRoute bounds label cardinality: body lookups collapse to one
// label and unknown paths become "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, bodyRoutePrefix); ok && id != "" && !strings.Contains(id, "/") {
		return bodyRoutePrefix + "{id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streams keep working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
