package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// Discard reasons.
const (
	ReasonMalformed       = "malformed_json"
	ReasonMissingPacketID = "missing_packet_id"
	ReasonUnknownPacketID = "unknown_packet_id"
	ReasonSchemaMerge     = "schema_merge"
	ReasonHandlerError    = "handler_error"
	ReasonReplyDropped    = "reply_dropped"
	ReasonOther           = "other"
)

var (
	registerOnce sync.Once

	wsFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modapi",
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Envelopes sent or received, by packet id.",
		},
		[]string{"direction", "packet_id"},
	)
	wsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modapi",
			Subsystem: "ws",
			Name:      "discarded_frames_total",
			Help:      "Inbound frames dropped without a reply.",
		},
		[]string{"reason"},
	)
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modapi",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Open WebSocket connections.",
		},
	)
	journalPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modapi",
			Subsystem: "journal",
			Name:      "pruned_frames_total",
			Help:      "Journaled frames removed by retention.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modapi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modapi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(wsFrames, wsDiscarded, wsConnections, journalPruned, httpRequests, httpDuration)
	})
}

// RecordFrame counts one envelope sent or received.
func RecordFrame(direction, packetID string) {
	RegisterMetrics()
	wsFrames.WithLabelValues(direction, packetID).Inc()
}

// RecordDiscard counts one dropped frame under reason.
func RecordDiscard(reason string) {
	RegisterMetrics()
	wsDiscarded.WithLabelValues(reason).Inc()
}

// ConnectionOpened and ConnectionClosed track the active connection gauge.
func ConnectionOpened() {
	RegisterMetrics()
	wsConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	wsConnections.Dec()
}

// RecordPrune counts journaled frames removed by retention.
func RecordPrune(frames int64) {
	RegisterMetrics()
	journalPruned.Add(float64(frames))
}

// RecordHTTPRequest counts one HTTP request and observes its duration.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// DiscardReason maps a decode error to its metric label.
func DiscardReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedJSON):
		return ReasonMalformed
	case errors.Is(err, protocol.ErrMissingPacketID):
		return ReasonMissingPacketID
	case errors.Is(err, protocol.ErrUnknownPacketID):
		return ReasonUnknownPacketID
	case errors.Is(err, protocol.ErrSchemaMerge):
		return ReasonSchemaMerge
	default:
		return ReasonOther
	}
}
