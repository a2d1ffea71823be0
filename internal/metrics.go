package internal

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockdebug",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		},
		[]string{"type"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockdebug",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by type and outcome.",
		},
		[]string{"type", "success"},
	)
	ledgerMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockdebug",
			Subsystem: "ledger",
			Name:      "messages_total",
			Help:      "Ledger appends by origin and payload type.",
		},
		[]string{"from", "type"},
	)
	mockInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockdebug",
			Subsystem: "mock",
			Name:      "invocations_total",
			Help:      "Mock caller invocations by trigger.",
		},
		[]string{"trigger"},
	)
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sockdebug",
			Subsystem: "registry",
			Name:      "sessions",
			Help:      "Sessions currently held by the registry.",
		},
	)
)

// RegisterMetrics registers the engine collectors with the default registry
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, framesSent, ledgerMessages, mockInvocations, liveSessions)
	})
}

func recordFrameReceived(t FrameType) {
	framesReceived.WithLabelValues(string(t)).Inc()
}

func recordFrameSent(t FrameType, ok bool) {
	success := "false"
	if ok {
		success = "true"
	}
	framesSent.WithLabelValues(string(t), success).Inc()
}

func recordMessage(msg Message) {
	ledgerMessages.WithLabelValues(string(msg.From), string(msg.Type)).Inc()
}

func recordMockInvocation(trigger string) {
	mockInvocations.WithLabelValues(trigger).Inc()
}

func recordSessions(n int) {
	liveSessions.Set(float64(n))
}
