package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds all Prometheus metrics for the session coordination server
type Metrics struct {
	// HTTP and RPC metrics
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	// WebSocket metrics
	activeConnections prometheus.Gauge
	wsConnections     *prometheus.CounterVec
	wsMessages        *prometheus.CounterVec

	// Coordinator metrics
	activeSessions   prometheus.Gauge
	sessionUpdates   *prometheus.CounterVec
	coordinatorEvents *prometheus.CounterVec

	// System metrics
	serverStartTime prometheus.Gauge
	healthChecks    *prometheus.CounterVec

	// Runtime performance metrics, sampled by the performance monitor
	memoryUsageBytes prometheus.Gauge
	goroutinesCount   prometheus.Gauge
	heapObjects       prometheus.Gauge
	stackInUseBytes   prometheus.Gauge
	gcDuration        prometheus.Histogram
	cpuTime           prometheus.Histogram

	// Registry for all metrics
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_http_requests_total",
				Help: "Total number of HTTP requests processed by method and status",
			},
			[]string{"method", "endpoint", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakesession_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakesession_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 100MB
			},
			[]string{"method", "endpoint"},
		),

		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stakesession_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 100MB
			},
			[]string{"method", "endpoint"},
		),

		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_websocket_connections_active",
				Help: "Number of active WebSocket connections",
			},
		),

		wsConnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_websocket_connections_total",
				Help: "Total number of WebSocket connections by type",
			},
			[]string{"type"}, // "connected", "disconnected", "failed"
		),

		wsMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_websocket_messages_total",
				Help: "Total number of WebSocket messages by direction and type",
			},
			[]string{"direction", "type"}, // direction: "inbound"/"outbound", type: event type
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_sessions_active",
				Help: "Number of sessions currently coordinated by this process",
			},
		),

		sessionUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_session_updates_total",
				Help: "Total number of session update messages by kind and outcome",
			},
			[]string{"kind", "status"}, // status: "success", "error"
		),

		coordinatorEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_coordinator_events_total",
				Help: "Total number of coordinator lifecycle events by kind",
			},
			[]string{"event_type"}, // join, leave, settle, checkpoint
		),

		serverStartTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_server_start_time_seconds",
				Help: "Unix timestamp when the server started",
			},
		),

		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stakesession_health_checks_total",
				Help: "Total number of health checks by name and status",
			},
			[]string{"check_name", "status"}, // status: "success", "failure"
		),

		memoryUsageBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_memory_usage_bytes",
				Help: "Current process heap allocation in bytes",
			},
		),

		goroutinesCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_goroutines",
				Help: "Current number of running goroutines",
			},
		),

		heapObjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_heap_objects",
				Help: "Current number of allocated heap objects",
			},
		),

		stackInUseBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stakesession_stack_in_use_bytes",
				Help: "Current bytes of stack in use",
			},
		),

		gcDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stakesession_gc_pause_seconds",
				Help:    "Observed garbage collection pause durations",
				Buckets: prometheus.DefBuckets,
			},
		),

		cpuTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stakesession_cpu_time_seconds",
				Help:    "Observed CPU time consumed by sampled operations",
				Buckets: prometheus.DefBuckets,
			},
		),

		registry: registry,
	}

	// Register all metrics with the registry
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.requestSize,
		m.responseSize,
		m.activeConnections,
		m.wsConnections,
		m.wsMessages,
		m.activeSessions,
		m.sessionUpdates,
		m.coordinatorEvents,
		m.serverStartTime,
		m.healthChecks,
		m.memoryUsageBytes,
		m.goroutinesCount,
		m.heapObjects,
		m.stackInUseBytes,
		m.gcDuration,
		m.cpuTime,
	)

	// Set server start time
	m.serverStartTime.SetToCurrentTime()

	return m
}

// GetHandler returns an HTTP handler for exposing metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration, requestSize, responseSize int64) {
	status := strconv.Itoa(statusCode)

	m.requestCount.WithLabelValues(method, endpoint, status).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())

	if requestSize > 0 {
		m.requestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		m.responseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordWebSocketConnection records WebSocket connection events
func (m *Metrics) RecordWebSocketConnection(connectionType string) {
	m.wsConnections.WithLabelValues(connectionType).Inc()

	if connectionType == "connected" {
		m.activeConnections.Inc()
	} else if connectionType == "disconnected" {
		m.activeConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message events
func (m *Metrics) RecordWebSocketMessage(direction, messageType string) {
	m.wsMessages.WithLabelValues(direction, messageType).Inc()
}

// RecordSessionUpdate records an inbound session update message by kind
// (affect, entities, pause, resume, status, end) and outcome.
func (m *Metrics) RecordSessionUpdate(kind, status string) {
	m.sessionUpdates.WithLabelValues(kind, status).Inc()
}

// RecordCoordinatorEvent records a coordinator lifecycle event (join, leave,
// settle, checkpoint).
func (m *Metrics) RecordCoordinatorEvent(eventType string) {
	m.coordinatorEvents.WithLabelValues(eventType).Inc()
}

// UpdateActiveSessions updates the active sessions gauge
func (m *Metrics) UpdateActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordHealthCheck records health check results
func (m *Metrics) RecordHealthCheck(checkName, status string) {
	m.healthChecks.WithLabelValues(checkName, status).Inc()
}

// UpdateMemoryUsage samples current heap allocation into the memory gauge.
func (m *Metrics) UpdateMemoryUsage() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.memoryUsageBytes.Set(float64(ms.HeapAlloc))
}

// UpdateGoroutinesCount samples the current goroutine count.
func (m *Metrics) UpdateGoroutinesCount() {
	m.goroutinesCount.Set(float64(runtime.NumGoroutine()))
}

// UpdateHeapObjects samples the current number of live heap objects.
func (m *Metrics) UpdateHeapObjects() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.heapObjects.Set(float64(ms.HeapObjects))
}

// UpdateStackInUse samples the current stack memory in use.
func (m *Metrics) UpdateStackInUse() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.stackInUseBytes.Set(float64(ms.StackInuse))
}

// RecordGCDuration observes a garbage collection pause duration.
func (m *Metrics) RecordGCDuration(d time.Duration) {
	m.gcDuration.Observe(d.Seconds())
}

// UpdateCPUUsage observes CPU time consumed by a sampled operation.
func (m *Metrics) UpdateCPUUsage(d time.Duration) {
	m.cpuTime.Observe(d.Seconds())
}

// MetricsMiddleware provides HTTP middleware for recording request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture response details
		recorder := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Get request size
		var requestSize int64
		if r.ContentLength > 0 {
			requestSize = r.ContentLength
		}

		// Process request
		next.ServeHTTP(recorder, r)

		// Record metrics
		duration := time.Since(start)
		endpoint := sanitizeEndpoint(r.URL.Path)

		m.RecordHTTPRequest(
			r.Method,
			endpoint,
			recorder.statusCode,
			duration,
			requestSize,
			recorder.responseSize,
		)

		// Log request for debugging
		logrus.WithFields(logrus.Fields{
			"method":        r.Method,
			"endpoint":      endpoint,
			"status":        recorder.statusCode,
			"duration_ms":   duration.Milliseconds(),
			"request_size":  requestSize,
			"response_size": recorder.responseSize,
			"user_agent":    r.UserAgent(),
		}).Debug("HTTP request processed")
	})
}

// responseRecorder wraps http.ResponseWriter to capture response details
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	size, err := r.ResponseWriter.Write(data)
	r.responseSize += int64(size)
	return size, err
}

// sanitizeEndpoint normalizes endpoint paths for metrics
func sanitizeEndpoint(path string) string {
	// Common endpoint patterns for this server
	switch path {
	case "/":
		return "root"
	case "/health":
		return "health"
	case "/ready":
		return "ready"
	case "/live":
		return "live"
	case "/metrics":
		return "metrics"
	case "/rpc":
		return "rpc"
	case "/ws":
		return "websocket"
	default:
		// For static files and other endpoints
		if len(path) > 20 {
			return "other"
		}
		return path
	}
}
