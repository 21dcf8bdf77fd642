// Package metrics exposes session counters through a Prometheus registry and
// an optional scrape endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionMetrics tracks one client process. Each instance owns its registry
// so tests can build as many as they need.
type SessionMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger
	server    *http.Server

	framesIn      prometheus.Counter
	framesOut     prometheus.Counter
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	autoResponses prometheus.Counter
	seqResets     prometheus.Counter

	connected     prometheus.Gauge
	authenticated prometheus.Gauge
	queueDepth    prometheus.Gauge

	inboundFrameSize prometheus.Histogram
}

func NewSessionMetrics(namespace string, logger log.Logger) *SessionMetrics {
	registry := prometheus.NewRegistry()

	m := &SessionMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames decoded off the wire",
		}),

		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames written to the transport",
		}),

		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the transport",
		}),

		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the transport",
		}),

		autoResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_responses_total",
			Help:      "Automatic responses produced by the state machine",
		}),

		seqResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_resets_total",
			Help:      "Times the outbound sequence restarted at 1",
		}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the transport is established",
		}),

		authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated",
			Help:      "1 after the logon handshake completes",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_depth",
			Help:      "Frames waiting for transmission",
		}),

		inboundFrameSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inbound_frame_bytes",
			Help:      "Size distribution of decoded inbound frames",
			Buckets:   []float64{32, 64, 96, 128, 192, 256, 512, 1024},
		}),
	}

	registry.MustRegister(
		m.framesIn,
		m.framesOut,
		m.bytesIn,
		m.bytesOut,
		m.autoResponses,
		m.seqResets,
		m.connected,
		m.authenticated,
		m.queueDepth,
		m.inboundFrameSize,
	)

	return m
}

// StartServer exposes /metrics and /health on the given port.
func (m *SessionMetrics) StartServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	m.server = &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		m.logger.Info("Metrics server started", "port", port, "endpoint", "/metrics")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the scrape endpoint if one was started.
func (m *SessionMetrics) Shutdown(ctx context.Context) {
	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("Metrics server shutdown", "error", err)
	}
}

// Registry exposes the underlying registry for tests.
func (m *SessionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *SessionMetrics) RecordFrameIn(size int) {
	m.framesIn.Inc()
	m.bytesIn.Add(float64(size))
	m.inboundFrameSize.Observe(float64(size))
}

func (m *SessionMetrics) RecordFrameOut(size int) {
	m.framesOut.Inc()
	m.bytesOut.Add(float64(size))
}

func (m *SessionMetrics) RecordAutoResponse() {
	m.autoResponses.Inc()
}

func (m *SessionMetrics) RecordSequenceReset() {
	m.seqResets.Inc()
}

func (m *SessionMetrics) SetConnected(up bool) {
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *SessionMetrics) SetAuthenticated(up bool) {
	if up {
		m.authenticated.Set(1)
	} else {
		m.authenticated.Set(0)
	}
}

func (m *SessionMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
