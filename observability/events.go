package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fporacle/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed program events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// EventEmitter counts every committed event and derives the lifecycle metrics
// that hang off specific event types.
type EventEmitter struct{}

// Emit implements events.Emitter.
func (EventEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	eventType := evt.EventType()
	Events().RecordEvent(eventType)
	switch eventType {
	case "oracle.claim.failed":
		Oracle().RecordClaimFailure()
	case "requester.request.created":
		Oracle().RecordRequestStep("created")
	case "requester.request.finalized":
		Oracle().RecordRequestStep("finalized")
	case "requester.stake.forwarded":
		Oracle().RecordRequestStep("staked")
	}
}
