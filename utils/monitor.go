package utils

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_sessions_active",
		Help: "Number of running session supervisors",
	})
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_session_state_transitions_total",
		Help: "Session connection state transitions",
	}, []string{"state"})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_session_reconnects_total",
		Help: "Reconnections after a transient close",
	})
	pairingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_pairing_attempts_total",
		Help: "Pairing code requests by result",
	}, []string{"result"})
	archiveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wa_archive_duration_seconds",
		Help:    "Time taken to pack a session directory",
		Buckets: prometheus.DefBuckets,
	})
	archiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_archive_failures_total",
		Help: "Failed session archive attempts",
	})
	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_credential_persist_failures_total",
		Help: "Failed credential persist attempts",
	})
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
)

// Track running supervisors
func IncrementActiveSessions() {
	activeSessions.Inc()
}

func DecrementActiveSessions() {
	activeSessions.Dec()
}

func RecordTransition(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

func IncrementReconnects() {
	reconnects.Inc()
}

func RecordPairingAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	pairingAttempts.WithLabelValues(result).Inc()
}

// RecordArchive observes a pack attempt and counts it as failed if err is set
func RecordArchive(duration time.Duration, err error) {
	archiveDuration.Observe(duration.Seconds())
	if err != nil {
		archiveFailures.Inc()
	}
}

func IncrementPersistFailures() {
	persistFailures.Inc()
}

func RecordHTTPRequest(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
