package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "coldchain_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestFiles   *prometheus.CounterVec
	ingestRows    prometheus.Counter
	ingestLatency *prometheus.HistogramVec
	parseErrors   *prometheus.CounterVec

	lifecycleTransitions *prometheus.CounterVec

	syncDeliveries *prometheus.CounterVec

	webhookInbound *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestFiles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_files_total",
				Help: "Total ingested temperature-log files by result",
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Total temperature readings persisted",
			},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "End-of-collection ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		parseErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "parse_errors_total",
				Help: "Total log file parse failures by reason",
			},
			[]string{"reason"},
		)

		lifecycleTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lifecycle_transitions_total",
				Help: "Total collect request transitions by action and result",
			},
			[]string{"action", "result"},
		)

		syncDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_deliveries_total",
				Help: "Total outbound sync deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)

		webhookInbound = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_inbound_total",
				Help: "Total inbound webhook calls by route and result",
			},
			[]string{"route", "result"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total collection report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Collection report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestFiles,
			ingestRows,
			ingestLatency,
			parseErrors,
			lifecycleTransitions,
			syncDeliveries,
			webhookInbound,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records one end-of-collection ingest run.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestFiles != nil {
		ingestFiles.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddIngestRows counts persisted temperature readings.
func AddIngestRows(count int) {
	if count <= 0 {
		return
	}
	if ingestRows != nil {
		ingestRows.Add(float64(count))
	}
}

// IncParseError increments the parse failure counter.
func IncParseError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if parseErrors != nil {
		parseErrors.WithLabelValues(reason).Inc()
	}
}

// IncLifecycle counts one transition attempt.
func IncLifecycle(action, result string) {
	if action == "" {
		action = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if lifecycleTransitions != nil {
		lifecycleTransitions.WithLabelValues(action, result).Inc()
	}
}

// IncSyncDelivery counts one outbound delivery attempt.
func IncSyncDelivery(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if syncDeliveries != nil {
		syncDeliveries.WithLabelValues(channel, result).Inc()
	}
}

// IncWebhookInbound counts one inbound webhook call.
func IncWebhookInbound(route, result string) {
	if route == "" {
		route = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if webhookInbound != nil {
		webhookInbound.WithLabelValues(route, result).Inc()
	}
}

// ObserveReportExport records report export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
