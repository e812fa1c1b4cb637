package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "safesite_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	broadcastFrames   *prometheus.CounterVec
	streamSubscribers *prometheus.GaugeVec

	flushRuns     *prometheus.CounterVec
	flushMigrated *prometheus.CounterVec
	flushSkipped  *prometheus.CounterVec

	rollupWrites *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	replayTotal *prometheus.CounterVec
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by event kind and result",
			},
			[]string{"kind", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		broadcastFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_frames_total",
				Help: "Total frames broadcast by stream",
			},
			[]string{"stream"},
		)
		streamSubscribers = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_subscribers",
				Help: "Currently registered subscribers by stream",
			},
			[]string{"stream"},
		)

		flushRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_runs_total",
				Help: "Total flush runs by event kind and result",
			},
			[]string{"kind", "result"},
		)
		flushMigrated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_migrated_total",
				Help: "Total buffered events migrated to durable storage",
			},
			[]string{"kind"},
		)
		flushSkipped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "flush_skipped_total",
				Help: "Total buffered events skipped during migration",
			},
			[]string{"kind"},
		)

		rollupWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollup_writes_total",
				Help: "Total rollup counter writes by scope and result",
			},
			[]string{"scope", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dashboard_export_total",
				Help: "Total dashboard exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dashboard_export_latency_seconds",
				Help:    "Dashboard export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		replayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stats_replay_total",
				Help: "Total rollup replay runs by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			broadcastFrames,
			streamSubscribers,
			flushRuns,
			flushMigrated,
			flushSkipped,
			rollupWrites,
			exportTotal,
			exportLatency,
			replayTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(kind, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncBroadcastFrame increments the per-stream frame counter.
func IncBroadcastFrame(stream string) {
	if stream == "" {
		stream = "unknown"
	}
	if broadcastFrames != nil {
		broadcastFrames.WithLabelValues(stream).Inc()
	}
}

// SetStreamSubscribers records the current subscriber count of a stream.
func SetStreamSubscribers(stream string, count int) {
	if stream == "" {
		stream = "unknown"
	}
	if count < 0 {
		count = 0
	}
	if streamSubscribers != nil {
		streamSubscribers.WithLabelValues(stream).Set(float64(count))
	}
}

// ObserveFlush records one flush run outcome.
func ObserveFlush(kind, result string, migrated, skipped int) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if flushRuns != nil {
		flushRuns.WithLabelValues(kind, result).Inc()
	}
	if migrated > 0 && flushMigrated != nil {
		flushMigrated.WithLabelValues(kind).Add(float64(migrated))
	}
	if skipped > 0 && flushSkipped != nil {
		flushSkipped.WithLabelValues(kind).Add(float64(skipped))
	}
}

// IncRollupWrite increments the rollup write counter.
func IncRollupWrite(scope, result string) {
	if scope == "" {
		scope = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if rollupWrites != nil {
		rollupWrites.WithLabelValues(scope, result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncReplay increments the replay counter.
func IncReplay(result string) {
	if result == "" {
		result = resultSuccess
	}
	if replayTotal != nil {
		replayTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
