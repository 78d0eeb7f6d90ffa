// Package metrics holds the Prometheus collectors for the router and camera
// modules and the HTTP surface. Collectors register with the default
// registry, which the server exposes on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Router session metrics.
var (
	RouterAuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewatch_router_auth_attempts_total",
			Help: "Router login attempts by result.",
		},
		[]string{"result"},
	)
	RouterPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewatch_router_polls_total",
			Help: "Device list polls by result.",
		},
		[]string{"result"},
	)
	RouterClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homewatch_router_clients",
			Help: "Devices in the latest snapshot by activity.",
		},
		[]string{"active"},
	)
	RouterAuthFailed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "homewatch_router_auth_failed",
			Help: "1 while the router session is in permanent failure.",
		},
	)
)

// Camera stream metrics.
var (
	CameraFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "homewatch_camera_frames_total",
			Help: "Complete JPEG frames decoded from the camera stream.",
		},
	)
	CameraFramesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewatch_camera_frames_discarded_total",
			Help: "Partial or invalid frames dropped by reason.",
		},
		[]string{"reason"},
	)
	CameraStreamSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "homewatch_camera_stream_sessions_total",
			Help: "Camera stream sessions opened.",
		},
	)
	CameraStreamAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "homewatch_camera_stream_alive",
			Help: "1 while a camera stream session is open.",
		},
	)
	MotionProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewatch_motion_probes_total",
			Help: "Motion probe ticks by result.",
		},
		[]string{"result"},
	)
)

// HTTP surface metrics.
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "homewatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, long-lived streams excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPStreamsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homewatch_http_streams_open",
			Help: "Long-lived HTTP responses currently being served.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPRequestDuration,
		HTTPStreamsOpen,
		RouterAuthAttempts,
		RouterPolls,
		RouterClients,
		RouterAuthFailed,
		CameraFrames,
		CameraFramesDiscarded,
		CameraStreamSessions,
		CameraStreamAlive,
		MotionProbes,
	)
}

// BoolGauge returns 1 for true and 0 for false.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
