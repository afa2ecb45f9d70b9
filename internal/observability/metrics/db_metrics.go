package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sync_outbox_pending",
			Help: "Sync outbox records awaiting delivery",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM sync_outbox WHERE status IN ('pending', 'failed')")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "sync_outbox_dead",
			Help: "Sync outbox records parked after exhausting retries",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM sync_outbox WHERE status = 'dead'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
