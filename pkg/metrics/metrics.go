package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "hub"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Revoker = "revoker"
	ENS     = "ens"
	Kafka   = "kafka"
)

// Pass status label values.
const (
	PassCompleted = "completed"
	PassYielded   = "yielded"
	PassAborted   = "aborted"
	PassSkipped   = "skipped"
)

// Ownership lookup outcome label values.
const (
	OutcomeResolved      = "resolved"
	OutcomeNotFound      = "not_found"
	OutcomeIndeterminate = "indeterminate"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple hub instances.
type Labels struct {
	Network       string // Farcaster network (e.g., "mainnet", "testnet", "devnet")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Network != "" {
		labels["network"] = l.Network
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Pass metrics
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	passInFlight prometheus.Gauge

	// Checkpoint state
	checkpointLastFid   prometheus.Gauge
	checkpointWatermark prometheus.Gauge
	checkpointWrites    *prometheus.CounterVec

	// Per-fid metrics
	fidsVisited prometheus.Counter
	fidsSkipped prometheus.Counter
	fidsFailed  prometheus.Counter

	// Per-message metrics
	messagesChecked  prometheus.Counter
	messagesRevoked  *prometheus.CounterVec // by message type
	messagesDeferred prometheus.Counter
	deleteFailures   prometheus.Counter

	// Ownership lookups
	ownershipLookups        *prometheus.CounterVec   // by username type, outcome
	ownershipLookupDuration *prometheus.HistogramVec // by username type

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Revocation publishing
	revocationsPublished *prometheus.CounterVec // by status
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., network), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "passes_total",
			Help:      "Total reconciliation passes by status",
		}, []string{"status"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of a reconciliation pass",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		passInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "pass_in_flight",
			Help:      "1 while a reconciliation pass is running",
		}),
		checkpointLastFid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "checkpoint_last_fid",
			Help:      "Resume position of the persisted checkpoint (0 between sweeps)",
		}),
		checkpointWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "checkpoint_watermark",
			Help:      "Persisted last run timestamp in farcaster seconds",
		}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "checkpoint_writes_total",
			Help:      "Total checkpoint writes by status",
		}, []string{"status"}),
		fidsVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "fids_visited_total",
			Help:      "Total fids visited by reconciliation passes",
		}),
		fidsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "fids_skipped_total",
			Help:      "Total fids skipped because nothing changed since the watermark",
		}),
		fidsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "fids_failed_total",
			Help:      "Total fids whose check failed with a store error",
		}),
		messagesChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "messages_checked_total",
			Help:      "Total messages re-validated",
		}),
		messagesRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "messages_revoked_total",
			Help:      "Total messages deleted because they are no longer valid, by message type",
		}, []string{"type"}),
		messagesDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "messages_deferred_total",
			Help:      "Total messages kept because ownership was indeterminate",
		}),
		deleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "delete_failures_total",
			Help:      "Total invalid messages whose deletion failed",
		}),
		ownershipLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "ownership_lookups_total",
			Help:      "Total username ownership lookups by username type and outcome",
		}, []string{"username_type", "outcome"}),
		ownershipLookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Revoker,
			Name:      "ownership_lookup_duration_seconds",
			Help:      "Username ownership lookup duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"username_type"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ENS,
			Name:      "rpc_calls_total",
			Help:      "Total ENS RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: ENS,
			Name:      "rpc_duration_seconds",
			Help:      "ENS RPC call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: ENS,
			Name:      "rpc_in_flight",
			Help:      "Number of ENS RPC calls currently in progress",
		}),
		revocationsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Kafka,
			Name:      "revocations_published_total",
			Help:      "Total revocation notices published by status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.passes),
		reg.Register(m.passDuration),
		reg.Register(m.passInFlight),
		reg.Register(m.checkpointLastFid),
		reg.Register(m.checkpointWatermark),
		reg.Register(m.checkpointWrites),
		reg.Register(m.fidsVisited),
		reg.Register(m.fidsSkipped),
		reg.Register(m.fidsFailed),
		reg.Register(m.messagesChecked),
		reg.Register(m.messagesRevoked),
		reg.Register(m.messagesDeferred),
		reg.Register(m.deleteFailures),
		reg.Register(m.ownershipLookups),
		reg.Register(m.ownershipLookupDuration),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.revocationsPublished),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// PassStarted marks a pass as running.
func (m *Metrics) PassStarted() {
	if m == nil {
		return
	}
	m.passInFlight.Set(1)
}

// RecordPass records a finished pass with its status and duration.
func (m *Metrics) RecordPass(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.passInFlight.Set(0)
	m.passes.WithLabelValues(status).Inc()
	m.passDuration.Observe(durationSeconds)
}

// RecordSkippedTrigger records a trigger that found a pass already running.
func (m *Metrics) RecordSkippedTrigger() {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(PassSkipped).Inc()
}

// UpdateCheckpoint sets the checkpoint gauges to the persisted values.
func (m *Metrics) UpdateCheckpoint(lastFid uint64, watermark uint32) {
	if m == nil {
		return
	}
	m.checkpointLastFid.Set(float64(lastFid))
	m.checkpointWatermark.Set(float64(watermark))
}

// RecordCheckpointWrite records a checkpoint write outcome.
func (m *Metrics) RecordCheckpointWrite(err error) {
	if m == nil {
		return
	}
	m.checkpointWrites.WithLabelValues(statusOf(err)).Inc()
}

// RecordFid records a visited fid.
func (m *Metrics) RecordFid(skipped, failed bool) {
	if m == nil {
		return
	}
	m.fidsVisited.Inc()
	if skipped {
		m.fidsSkipped.Inc()
	}
	if failed {
		m.fidsFailed.Inc()
	}
}

// AddMessagesChecked records re-validated messages.
func (m *Metrics) AddMessagesChecked(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.messagesChecked.Add(float64(count))
}

// IncMessagesRevoked records a revoked message of the given type.
func (m *Metrics) IncMessagesRevoked(messageType string) {
	if m == nil {
		return
	}
	m.messagesRevoked.WithLabelValues(messageType).Inc()
}

// IncMessagesDeferred records a message kept because its ownership was indeterminate.
func (m *Metrics) IncMessagesDeferred() {
	if m == nil {
		return
	}
	m.messagesDeferred.Inc()
}

// IncDeleteFailure records a failed deletion of an invalid message.
func (m *Metrics) IncDeleteFailure() {
	if m == nil {
		return
	}
	m.deleteFailures.Inc()
}

// RecordOwnershipLookup records a username ownership lookup.
func (m *Metrics) RecordOwnershipLookup(usernameType, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ownershipLookups.WithLabelValues(usernameType, outcome).Inc()
	m.ownershipLookupDuration.WithLabelValues(usernameType).Observe(durationSeconds)
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, statusOf(err)).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordRevocationPublished records a revocation notice publish attempt.
func (m *Metrics) RecordRevocationPublished(err error) {
	if m == nil {
		return
	}
	m.revocationsPublished.WithLabelValues(statusOf(err)).Inc()
}
