package prometheus

import (
	"strconv"
	"time"
)

// SyncMetrics holds the engine and transport metrics.
type SyncMetrics struct {
	// Engine
	EventsTotal          CounterVec
	BroadcastsTotal      CounterVec
	AuthorityTransitions CounterVec
	AuthorityHeld        GaugeVec
	InitRetriesTotal     CounterVec
	ModeTransitions      CounterVec
	AdapterErrorsTotal   CounterVec
	PanesActive          GaugeVec
	TaskQueueDepth       GaugeVec

	// Transport
	WSClients           GaugeVec
	WSMessagesTotal     CounterVec
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// Mirrors
	MirrorPublishTotal  CounterVec
	MirrorWriteDuration HistogramVec
}

// DefaultHTTPDurationBuckets are the request latency buckets.
var DefaultHTTPDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}

// NewSyncMetrics registers every metric on collector.
func NewSyncMetrics(collector MetricsCollector) *SyncMetrics {
	m := &SyncMetrics{}

	m.EventsTotal = collector.RegisterCounter("events_total", "Adapter events by kind and outcome", "pane", "kind", "outcome")
	m.BroadcastsTotal = collector.RegisterCounter("broadcasts_total", "Viewport deliveries by target pane and result", "pane", "result")
	m.AuthorityTransitions = collector.RegisterCounter("authority_transitions_total", "Authority grants and releases", "pane", "direction")
	m.AuthorityHeld = collector.RegisterGauge("authority_held", "1 while the pane holds authority", "pane")
	m.InitRetriesTotal = collector.RegisterCounter("init_retries_total", "Adapter initialisation retries while a provider loads", "pane", "provider")
	m.ModeTransitions = collector.RegisterCounter("mode_transitions_total", "Pane mode changes", "pane", "mode")
	m.AdapterErrorsTotal = collector.RegisterCounter("adapter_errors_total", "Adapter failures by error code", "pane", "code")
	m.PanesActive = collector.RegisterGauge("panes_active", "Initialised panes by provider", "provider")
	m.TaskQueueDepth = collector.RegisterGauge("task_queue_depth", "Pending engine loop tasks")

	m.WSClients = collector.RegisterGauge("ws_clients", "Connected websocket clients", "channel")
	m.WSMessagesTotal = collector.RegisterCounter("ws_messages_total", "Websocket messages", "channel", "direction", "type")
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")

	m.MirrorPublishTotal = collector.RegisterCounter("mirror_publish_total", "State mirror writes", "sink", "result")
	m.MirrorWriteDuration = collector.RegisterHistogram("mirror_write_duration_seconds", "State mirror write latency per batch", nil, "sink")
	return m
}

// NewNoopSyncMetrics returns metrics that record nothing.
func NewNoopSyncMetrics() *SyncMetrics {
	return NewSyncMetrics(NewNoopCollector())
}

// Helpers

func (m *SyncMetrics) RecordEvent(pane, kind, outcome string) {
	m.EventsTotal.WithLabelValues(pane, kind, outcome).Inc()
}

func (m *SyncMetrics) RecordBroadcast(pane, result string) {
	m.BroadcastsTotal.WithLabelValues(pane, result).Inc()
}

func (m *SyncMetrics) RecordAuthority(from, to string) {
	if from != "" {
		m.AuthorityTransitions.WithLabelValues(from, "release").Inc()
		m.AuthorityHeld.WithLabelValues(from).Set(0)
	}
	if to != "" {
		m.AuthorityTransitions.WithLabelValues(to, "grant").Inc()
		m.AuthorityHeld.WithLabelValues(to).Set(1)
	}
}

func (m *SyncMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// MirrorTimer starts timing one write to sink.
func (m *SyncMetrics) MirrorTimer(sink string) *Timer {
	return NewTimer(m.MirrorWriteDuration.WithLabelValues(sink))
}

func (m *SyncMetrics) RecordMirror(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.MirrorPublishTotal.WithLabelValues(sink, result).Inc()
}
