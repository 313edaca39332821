package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ClaimAccepted = "accepted"
	ClaimRejected = "rejected"

	KindBroadcast = "broadcast"
	KindWhisper   = "whisper"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chatrelay",
			Subsystem: "session",
			Name:      "active",
			Help:      "Open sessions by transport.",
		},
		[]string{"transport"},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "session",
			Name:      "opened_total",
			Help:      "Sessions opened by transport.",
		},
		[]string{"transport"},
	)
	acceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Failed accepts on the chat listener.",
		},
	)
	handleClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "registry",
			Name:      "claims_total",
			Help:      "Handle claim attempts by result.",
		},
		[]string{"result"},
	)
	messagesRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "router",
			Name:      "messages_total",
			Help:      "Messages routed by kind.",
		},
		[]string{"kind"},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "router",
			Name:      "deliveries_total",
			Help:      "Per-recipient deliveries by kind and outcome.",
		},
		[]string{"kind", "success"},
	)
	whispersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "router",
			Name:      "whispers_dropped_total",
			Help:      "Whispers addressed to an unregistered handle.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by surface, route, method, and status.",
		},
		[]string{"surface", "route", "method", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds. WebSocket sessions are excluded.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"surface", "route", "method", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsTotal,
			acceptErrors,
			handleClaims,
			messagesRouted,
			deliveries,
			whispersDropped,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSessionOpened(transport string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(transport).Inc()
	sessionsActive.WithLabelValues(transport).Inc()
}

func RecordSessionClosed(transport string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(transport).Dec()
}

func RecordAcceptError() {
	RegisterMetrics()
	acceptErrors.Inc()
}

func RecordClaim(accepted bool) {
	RegisterMetrics()
	result := ClaimRejected
	if accepted {
		result = ClaimAccepted
	}
	handleClaims.WithLabelValues(result).Inc()
}

func RecordMessage(kind string) {
	RegisterMetrics()
	messagesRouted.WithLabelValues(kind).Inc()
}

func RecordDelivery(kind string, success bool) {
	RegisterMetrics()
	deliveries.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordWhisperDropped() {
	RegisterMetrics()
	whispersDropped.Inc()
}

// RecordHTTPRequest counts one request. Upgraded WebSocket requests skip the
// duration histogram since their duration is a whole chat session.
func RecordHTTPRequest(surface, route, method string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(surface, route, method, statusLabel).Inc()
	if status == http.StatusSwitchingProtocols {
		return
	}
	httpDuration.WithLabelValues(surface, route, method, statusLabel).Observe(duration.Seconds())
}
