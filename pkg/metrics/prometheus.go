// Package metrics provides Prometheus metrics for the safescore pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector used by the pipeline.
type Manager struct {
	namespace     string
	subsystem     string
	latencyBucket []float64
	registry      prometheus.Registerer

	// Endpoint manager
	rpcCalls     *prometheus.CounterVec
	rpcRetries   *prometheus.CounterVec
	rpcFailovers *prometheus.CounterVec
	rpcLatency   *prometheus.HistogramVec

	// Decoder
	blocksScanned prometheus.Counter
	blocksSkipped prometheus.Counter
	txDecoded     *prometheus.CounterVec
	txSkipped     *prometheus.CounterVec

	// Token metadata
	tokenCacheHits   prometheus.Counter
	tokenCacheMisses prometheus.Counter
	tokenDefaults    *prometheus.CounterVec

	// Rule engine
	ruleHits *prometheus.CounterVec
	scores   prometheus.Histogram

	// Run
	runDuration     prometheus.Histogram
	lastRunUnix     prometheus.Gauge
	lastRunRecords  prometheus.Gauge
	lastRunCritical prometheus.Gauge
	runFailures     prometheus.Counter

	// Collaborators
	sinkWrites *prometheus.CounterVec
	alerts     *prometheus.CounterVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:     "safescore",
		subsystem:     "pipeline",
		latencyBucket: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		registry:      prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.rpcCalls = m.counterVec("rpc_calls_total", "JSON-RPC calls by method and outcome", "method", "outcome")
	m.rpcRetries = m.counterVec("rpc_retries_total", "Per-endpoint retries after a retryable transport failure", "method")
	m.rpcFailovers = m.counterVec("rpc_failovers_total", "Times a call advanced to the next endpoint", "method")
	m.rpcLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rpc_latency_milliseconds",
		Help:      "Latency of a full failover call in milliseconds",
		Buckets:   m.latencyBucket,
	}, []string{"method"})

	m.blocksScanned = m.counter("blocks_scanned_total", "Blocks fetched and decoded")
	m.blocksSkipped = m.counter("blocks_skipped_total", "Blocks skipped because the fetch failed")
	m.txDecoded = m.counterVec("transactions_decoded_total", "Canonical transactions produced by method", "method")
	m.txSkipped = m.counterVec("transactions_skipped_total", "Raw transactions dropped by reason", "reason")

	m.tokenCacheHits = m.counter("token_cache_hits_total", "Token metadata served from cache")
	m.tokenCacheMisses = m.counter("token_cache_misses_total", "Token metadata resolved over RPC")
	m.tokenDefaults = m.counterVec("token_metadata_defaults_total", "Token metadata fields replaced by defaults", "field")

	m.ruleHits = m.counterVec("rule_hits_total", "Triggered detection rules", "rule")
	m.scores = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "score",
		Help:      "Distribution of transaction scores",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "run_duration_seconds",
		Help:      "Duration of a full pipeline run",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	m.lastRunUnix = m.gauge("last_run_unix", "Unix timestamp of the last finished run")
	m.lastRunRecords = m.gauge("last_run_records", "Scored records produced by the last run")
	m.lastRunCritical = m.gauge("last_run_critical", "Records below the alert threshold in the last run")
	m.runFailures = m.counter("run_decoder_failures_total", "Runs where the decoder could not reach any endpoint")

	m.sinkWrites = m.counterVec("sink_writes_total", "Record batches written per sink and outcome", "sink", "outcome")
	m.alerts = m.counterVec("alerts_total", "Alerts per channel and outcome", "channel", "outcome")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
}

// RecordRPCCall counts a finished failover call.
func RecordRPCCall(method, outcome string) {
	globalManager.rpcCalls.WithLabelValues(method, outcome).Inc()
}

// RecordRPCRetry counts one backoff retry against the same endpoint.
func RecordRPCRetry(method string) {
	globalManager.rpcRetries.WithLabelValues(method).Inc()
}

// RecordRPCFailover counts an advance to the next endpoint.
func RecordRPCFailover(method string) {
	globalManager.rpcFailovers.WithLabelValues(method).Inc()
}

// RecordRPCLatency observes the latency of a failover call.
func RecordRPCLatency(method string, latencyMs float64) {
	globalManager.rpcLatency.WithLabelValues(method).Observe(latencyMs)
}

// RecordBlockScanned counts a decoded block.
func RecordBlockScanned() {
	globalManager.blocksScanned.Inc()
}

// RecordBlockSkipped counts a block whose fetch failed.
func RecordBlockSkipped() {
	globalManager.blocksSkipped.Inc()
}

// RecordTxDecoded counts a produced canonical transaction.
func RecordTxDecoded(method string) {
	globalManager.txDecoded.WithLabelValues(method).Inc()
}

// RecordTxSkipped counts a dropped raw transaction.
func RecordTxSkipped(reason string) {
	globalManager.txSkipped.WithLabelValues(reason).Inc()
}

// RecordTokenCacheHit counts a metadata cache hit.
func RecordTokenCacheHit() {
	globalManager.tokenCacheHits.Inc()
}

// RecordTokenCacheMiss counts a metadata cache miss.
func RecordTokenCacheMiss() {
	globalManager.tokenCacheMisses.Inc()
}

// RecordTokenMetadataDefault counts a metadata field replaced by its default.
func RecordTokenMetadataDefault(field string) {
	globalManager.tokenDefaults.WithLabelValues(field).Inc()
}

// RecordRuleHit counts a triggered rule.
func RecordRuleHit(rule string) {
	globalManager.ruleHits.WithLabelValues(rule).Inc()
}

// RecordScore observes a final transaction score.
func RecordScore(score int) {
	globalManager.scores.Observe(float64(score))
}

// RecordRun records the outcome of a finished run.
func RecordRun(durationSeconds float64, finishedUnix int64, records, critical int) {
	globalManager.runDuration.Observe(durationSeconds)
	globalManager.lastRunUnix.Set(float64(finishedUnix))
	globalManager.lastRunRecords.Set(float64(records))
	globalManager.lastRunCritical.Set(float64(critical))
}

// RecordRunDecoderFailure counts a run whose decoder returned an error.
func RecordRunDecoderFailure() {
	globalManager.runFailures.Inc()
}

// RecordSinkWrite counts a sink write attempt.
func RecordSinkWrite(sink, outcome string) {
	globalManager.sinkWrites.WithLabelValues(sink, outcome).Inc()
}

// RecordAlert counts an alert delivery attempt.
func RecordAlert(channel, outcome string) {
	globalManager.alerts.WithLabelValues(channel, outcome).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile writes the registry in the text exposition format, suitable
// for the node-exporter textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return ErrNoPath
	}
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
