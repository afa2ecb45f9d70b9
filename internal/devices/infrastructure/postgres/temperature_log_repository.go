package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	devices "coldchain-collect/internal/devices/domain"
)

const defaultTemperatureLogsTable = "temperature_logs"

// TemperatureLogRepository is a Postgres implementation for the
// append-only temperature time series.
type TemperatureLogRepository struct {
	db    DBTX
	table string
}

// NewTemperatureLogRepository constructs a repository.
func NewTemperatureLogRepository(db DBTX, opts ...TemperatureLogOption) *TemperatureLogRepository {
	repo := &TemperatureLogRepository{db: db, table: defaultTemperatureLogsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// TemperatureLogOption configures the repository.
type TemperatureLogOption func(*TemperatureLogRepository)

// WithTemperatureLogTable overrides the default table name.
func WithTemperatureLogTable(table string) TemperatureLogOption {
	return func(repo *TemperatureLogRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertLogs appends readings for a device. Rows are immutable once
// written; callers run this inside the ingestion transaction so a later
// failure leaves no partial series behind.
func (r *TemperatureLogRepository) InsertLogs(ctx context.Context, logs []devices.TemperatureLog) error {
	if r == nil || r.db == nil {
		return errors.New("temperature log repo: nil db")
	}
	if len(logs) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, device_id, value, ts)
VALUES ($1, $2, $3, $4)`, r.table)

	for _, entry := range logs {
		if entry.ID == "" || entry.DeviceID == "" || entry.Timestamp.IsZero() {
			return errors.New("temperature log repo: invalid log entry")
		}
		if _, err := r.db.ExecContext(ctx, query, entry.ID, entry.DeviceID, entry.Value, entry.Timestamp.UTC()); err != nil {
			return err
		}
	}
	return nil
}

// QueryRange returns readings for device within [start, end], timestamp
// ascending. This is the time-window join correlating a collection's
// window with its device's series.
func (r *TemperatureLogRepository) QueryRange(ctx context.Context, deviceID string, start, end time.Time) ([]devices.TemperatureLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("temperature log repo: nil db")
	}
	if deviceID == "" || start.IsZero() || end.IsZero() {
		return nil, errors.New("temperature log repo: invalid range arguments")
	}

	query := fmt.Sprintf(`
SELECT id, device_id, value, ts
FROM %s
WHERE device_id = $1
	AND ts >= $2
	AND ts <= $3
ORDER BY ts ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.TemperatureLog
	for rows.Next() {
		var entry devices.TemperatureLog
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Value, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Timestamp = entry.Timestamp.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
