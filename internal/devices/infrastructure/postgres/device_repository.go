package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "coldchain-collect/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DBTX is the subset of database/sql satisfied by *sql.DB and *sql.Tx,
// so repositories participate in the caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// GetOrCreateByMAC returns the device with the given canonical MAC,
// creating it lazily the first time a file reveals a new identifier.
func (r *DeviceRepository) GetOrCreateByMAC(ctx context.Context, id, mac string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if mac == "" {
		return nil, errors.New("device repo: empty mac")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, mac, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (mac)
DO UPDATE SET mac = EXCLUDED.mac
RETURNING id, mac, created_at`, r.table)

	var device devices.Device
	if err := r.db.QueryRowContext(ctx, query, id, mac, time.Now().UTC()).Scan(
		&device.ID,
		&device.MAC,
		&device.CreatedAt,
	); err != nil {
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	return &device, nil
}

// GetByMAC loads a device by canonical MAC, returning nil when absent.
func (r *DeviceRepository) GetByMAC(ctx context.Context, mac string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, mac, created_at
FROM %s
WHERE mac = $1
LIMIT 1`, r.table)

	var device devices.Device
	if err := r.db.QueryRowContext(ctx, query, mac).Scan(&device.ID, &device.MAC, &device.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	return &device, nil
}
