package observability

import (
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fporacle",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a JSON-RPC call. code is the JSON-RPC error
// code, zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// OracleMetrics tracks program calls, settlement amounts and effect dispatch.
type OracleMetrics struct {
	calls          *prometheus.CounterVec
	callLatency    *prometheus.HistogramVec
	charged        *prometheus.CounterVec
	refunded       *prometheus.CounterVec
	effects        *prometheus.CounterVec
	effectLatency  *prometheus.HistogramVec
	storageUsage   *prometheus.GaugeVec
	claimFailures  prometheus.Counter
	requestsByStep *prometheus.CounterVec
}

// Oracle returns the singleton metrics registry for the oracle programs.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "program",
				Name:      "calls_total",
				Help:      "Program calls segmented by program, method and outcome.",
			}, []string{"program", "method", "outcome"}),
			callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fporacle",
				Subsystem: "program",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution of program calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"program", "method"}),
			charged: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "query",
				Name:      "fees_charged_total",
				Help:      "Query fees credited to providers, in base units.",
			}, []string{"method"}),
			refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "query",
				Name:      "refunds_total",
				Help:      "Unused query payments returned to callers, in base units.",
			}, []string{"method"}),
			effects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "effects",
				Name:      "dispatched_total",
				Help:      "Dispatched effects segmented by kind and status.",
			}, []string{"kind", "status"}),
			effectLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fporacle",
				Subsystem: "effects",
				Name:      "dispatch_duration_seconds",
				Help:      "Latency distribution of effect dispatch.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			storageUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fporacle",
				Subsystem: "program",
				Name:      "storage_bytes",
				Help:      "Committed storage usage per program.",
			}, []string{"program"}),
			claimFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "claims",
				Name:      "failed_total",
				Help:      "Earnings claims whose transfer failed after the debit was committed.",
			}),
			requestsByStep: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fporacle",
				Subsystem: "requester",
				Name:      "requests_total",
				Help:      "Data request lifecycle transitions.",
			}, []string{"step"}),
		}
		prometheus.MustRegister(
			oracleRegistry.calls,
			oracleRegistry.callLatency,
			oracleRegistry.charged,
			oracleRegistry.refunded,
			oracleRegistry.effects,
			oracleRegistry.effectLatency,
			oracleRegistry.storageUsage,
			oracleRegistry.claimFailures,
			oracleRegistry.requestsByStep,
		)
	})
	return oracleRegistry
}

// ObserveCall records a completed program call.
func (m *OracleMetrics) ObserveCall(program, method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "aborted"
	}
	m.calls.WithLabelValues(program, method, outcome).Inc()
	m.callLatency.WithLabelValues(program, method).Observe(d.Seconds())
}

// RecordSettlement records the fee and refund of a query.
func (m *OracleMetrics) RecordSettlement(method string, charged, refunded *big.Int) {
	if m == nil {
		return
	}
	m.charged.WithLabelValues(method).Add(bigToFloat(charged))
	m.refunded.WithLabelValues(method).Add(bigToFloat(refunded))
}

// ObserveEffect records the dispatch of an effect.
func (m *OracleMetrics) ObserveEffect(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.effects.WithLabelValues(kind, status).Inc()
	m.effectLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// SetStorageUsage publishes the committed storage of a program.
func (m *OracleMetrics) SetStorageUsage(program string, bytes uint64) {
	if m == nil {
		return
	}
	m.storageUsage.WithLabelValues(program).Set(float64(bytes))
}

// RecordClaimFailure counts a claim transfer that failed after the debit.
func (m *OracleMetrics) RecordClaimFailure() {
	if m == nil {
		return
	}
	m.claimFailures.Inc()
}

// RecordRequestStep counts a data request lifecycle transition.
func (m *OracleMetrics) RecordRequestStep(step string) {
	if m == nil {
		return
	}
	m.requestsByStep.WithLabelValues(step).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
