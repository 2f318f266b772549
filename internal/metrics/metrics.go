// Package metrics provides Prometheus instrumentation for every AMOSKYS
// process, grouped by concern the same way coreengine/observability
// groups pipeline/agent/grpc metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// BUS METRICS
// =============================================================================

var (
	envelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amoskys_bus_envelopes_total",
			Help: "Total envelopes processed by the bus, by ack kind",
		},
		[]string{"ack"}, // OK, RETRY, INVALID, ERROR
	)

	inflightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amoskys_bus_inflight",
			Help: "Current in-flight Publish RPCs",
		},
	)

	dedupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amoskys_bus_dedup_hits_total",
			Help: "Total Publish calls short-circuited by the dedup gate",
		},
	)

	busRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amoskys_bus_request_duration_seconds",
			Help:    "Publish RPC duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"ack"},
	)
)

// RecordBusRequest records one Publish call's outcome and latency.
func RecordBusRequest(ackKind string, durationSeconds float64) {
	envelopesTotal.WithLabelValues(ackKind).Inc()
	busRequestDurationSeconds.WithLabelValues(ackKind).Observe(durationSeconds)
}

// RecordDedupHit records a dedup-gate short circuit.
func RecordDedupHit() { dedupHitsTotal.Inc() }

// SetInflight reports the current in-flight Publish count.
func SetInflight(n int) { inflightGauge.Set(float64(n)) }

// =============================================================================
// LDQ METRICS
// =============================================================================

var (
	ldqDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amoskys_ldq_depth",
			Help: "Current LDQ row count",
		},
		[]string{"queue"}, // agent id or "bus-wal"
	)

	ldqDrainedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amoskys_ldq_drained_total",
			Help: "Total rows removed from an LDQ by drain",
		},
		[]string{"queue"},
	)

	ldqOversizeDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amoskys_ldq_oversize_dropped_total",
			Help: "Total envelopes rejected by the LDQ for exceeding max_env_bytes",
		},
		[]string{"queue"},
	)
)

// RecordLDQDepth reports the current depth of a named LDQ.
func RecordLDQDepth(queue string, depth int) {
	ldqDepthGauge.WithLabelValues(queue).Set(float64(depth))
}

// RecordLDQDrain records how many rows one drain call removed.
func RecordLDQDrain(queue string, removed int) {
	ldqDrainedTotal.WithLabelValues(queue).Add(float64(removed))
}

// RecordLDQOversizeDropped records one oversize rejection.
func RecordLDQOversizeDropped(queue string) {
	ldqOversizeDroppedTotal.WithLabelValues(queue).Inc()
}

// =============================================================================
// CIRCUIT BREAKER METRICS
// =============================================================================

var breakerStateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "amoskys_circuit_breaker_state",
		Help: "Circuit breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN",
	},
	[]string{"agent"},
)

// RecordBreakerState reports the current breaker state as an integer
// code (0=CLOSED, 1=OPEN, 2=HALF_OPEN).
func RecordBreakerState(agent string, stateCode int) {
	breakerStateGauge.WithLabelValues(agent).Set(float64(stateCode))
}

// =============================================================================
// AGENT METRICS
// =============================================================================

var (
	agentCycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amoskys_agent_cycle_duration_seconds",
			Help:    "Duration of one collect/validate/enrich/publish cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"agent"},
	)

	agentEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amoskys_agent_events_total",
			Help: "Total events processed per agent, by outcome",
		},
		[]string{"agent", "outcome"}, // collect_error, rejected, published, publish_error, queued
	)
)

// RecordAgentCycle records one collection cycle's duration.
func RecordAgentCycle(agent string, durationSeconds float64) {
	agentCycleDurationSeconds.WithLabelValues(agent).Observe(durationSeconds)
}

// RecordAgentEvent increments the named outcome counter for one agent.
func RecordAgentEvent(agent, outcome string) {
	agentEventsTotal.WithLabelValues(agent, outcome).Inc()
}

// =============================================================================
// FUSION METRICS
// =============================================================================

var (
	ruleFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amoskys_fusion_rule_fires_total",
			Help: "Total incidents produced, by rule name",
		},
		[]string{"rule"},
	)

	fusionEvalDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amoskys_fusion_eval_duration_seconds",
			Help:    "Duration of one device's rule-evaluation pass",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"device_id"},
	)

	deviceRiskGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amoskys_device_risk_score",
			Help: "Current device risk score [0,100]",
		},
		[]string{"device_id"},
	)
)

// RecordRuleFire increments the fire counter for a rule.
func RecordRuleFire(rule string) { ruleFiresTotal.WithLabelValues(rule).Inc() }

// RecordFusionEval records one device's evaluation latency.
func RecordFusionEval(deviceID string, durationSeconds float64) {
	fusionEvalDurationSeconds.WithLabelValues(deviceID).Observe(durationSeconds)
}

// SetDeviceRisk reports a device's current risk score.
func SetDeviceRisk(deviceID string, score int) {
	deviceRiskGauge.WithLabelValues(deviceID).Set(float64(score))
}

// =============================================================================
// INGESTOR METRICS
// =============================================================================

var ingestSeenTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amoskys_ingest_seen_total",
		Help: "Total rows observed by the ingestor per source",
	},
	[]string{"source"}, // agent-ldq, bus-wal
)

// RecordIngestSeen records one row consumed from a source.
func RecordIngestSeen(source string) { ingestSeenTotal.WithLabelValues(source).Inc() }
