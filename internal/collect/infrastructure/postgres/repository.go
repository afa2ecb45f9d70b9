package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	collect "coldchain-collect/internal/collect/domain"
)

const defaultCollectRequestsTable = "collect_requests"

// DBTX is the subset of database/sql satisfied by *sql.DB and *sql.Tx,
// so the repository participates in the ingestion transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListFilter narrows the operator's assigned-request listing.
type ListFilter struct {
	DateFrom   *time.Time
	DateTo     *time.Time
	ReferrerID string
	// Progress filters on the audit timestamps:
	// not_started, in_progress, completed.
	Progress string
	Page     int
	PerPage  int
}

// CollectRequestRepository is a Postgres implementation for collect requests.
type CollectRequestRepository struct {
	db    DBTX
	table string
}

// NewCollectRequestRepository constructs a repository.
func NewCollectRequestRepository(db DBTX, opts ...Option) *CollectRequestRepository {
	repo := &CollectRequestRepository{db: db, table: defaultCollectRequestsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Option configures the repository.
type Option func(*CollectRequestRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *CollectRequestRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const requestColumns = `id, user_id, referrer_id, server_id, device_id, status, started_at, ended_at, barcodes, extra_information, created_at, updated_at`

// Get loads one collect request by id, returning ErrNotFound when absent.
func (r *CollectRequestRepository) Get(ctx context.Context, id string) (*collect.CollectRequest, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("collect repo: nil db")
	}
	if id == "" {
		return nil, collect.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 LIMIT 1`, requestColumns, r.table)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByServerID loads one collect request by its external correlation id.
func (r *CollectRequestRepository) GetByServerID(ctx context.Context, serverID string) (*collect.CollectRequest, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("collect repo: nil db")
	}
	if serverID == "" {
		return nil, collect.ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE server_id = $1 LIMIT 1`, requestColumns, r.table)
	return r.scanOne(r.db.QueryRowContext(ctx, query, serverID))
}

// Create inserts a new collect request.
func (r *CollectRequestRepository) Create(ctx context.Context, req *collect.CollectRequest) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	if req == nil || req.ID == "" || req.UserID == "" {
		return errors.New("collect repo: invalid request")
	}
	barcodes, extra, err := encodeJSONFields(req)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, r.table, requestColumns)
	_, err = r.db.ExecContext(ctx, query,
		req.ID,
		req.UserID,
		nullString(req.ReferrerID),
		nullString(req.ServerID),
		nullString(req.DeviceID),
		string(req.Status),
		nullTime(req.StartedAt),
		nullTime(req.EndedAt),
		barcodes,
		extra,
		now,
		now,
	)
	return err
}

// Assign moves a request to another operator and resets it to pending.
func (r *CollectRequestRepository) Assign(ctx context.Context, id, operatorID string) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET user_id = $1, updated_at = $2
WHERE id = $3`, r.table)
	result, err := r.db.ExecContext(ctx, query, operatorID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// FindActiveByOperator returns the operator's en-route request, if any,
// excluding excludeID. This backs the one-active-collection invariant.
func (r *CollectRequestRepository) FindActiveByOperator(ctx context.Context, operatorID, excludeID string) (*collect.CollectRequest, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("collect repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE user_id = $1
	AND status = $2
	AND id != $3
LIMIT 1`, requestColumns, r.table)
	req, err := r.scanOne(r.db.QueryRowContext(ctx, query, operatorID, string(collect.StatusOnTheWay), excludeID))
	if errors.Is(err, collect.ErrNotFound) {
		return nil, nil
	}
	return req, err
}

// MarkSelected applies the select transition, guarded in SQL on a
// still-selectable status.
func (r *CollectRequestRepository) MarkSelected(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, updated_at = $2
WHERE id = $3 AND status IN ($4, $5)`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		string(collect.StatusOnTheWay),
		time.Now().UTC(),
		id,
		string(collect.StatusPending),
		string(collect.StatusWaitingForAssign),
	)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		// Status guard hit: the row exists but a concurrent select or
		// start already moved it on.
		return collect.ErrStateConflict
	}
	return nil
}

// MarkStarted applies the start transition: merged barcodes, starting
// location, started_at set exactly once.
func (r *CollectRequestRepository) MarkStarted(ctx context.Context, req *collect.CollectRequest) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	barcodes, extra, err := encodeJSONFields(req)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, started_at = $2, barcodes = $3, extra_information = $4, updated_at = $5
WHERE id = $6 AND started_at IS NULL`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		string(req.Status),
		nullTime(req.StartedAt),
		barcodes,
		extra,
		time.Now().UTC(),
		req.ID,
	)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		// started_at guard hit: the row exists but was already started.
		return collect.ErrAlreadyStarted
	}
	return nil
}

// MarkEnded applies the end transition for one request of a batch.
func (r *CollectRequestRepository) MarkEnded(ctx context.Context, req *collect.CollectRequest) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	barcodes, extra, err := encodeJSONFields(req)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, device_id = $2, ended_at = $3, barcodes = $4, extra_information = $5, updated_at = $6
WHERE id = $7`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		string(req.Status),
		nullString(req.DeviceID),
		nullTime(req.EndedAt),
		barcodes,
		extra,
		time.Now().UTC(),
		req.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateFromServer applies a status-update pushed by the external system.
func (r *CollectRequestRepository) UpdateFromServer(ctx context.Context, req *collect.CollectRequest) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	barcodes, extra, err := encodeJSONFields(req)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, device_id = $2, started_at = $3, ended_at = $4, barcodes = $5, extra_information = $6, updated_at = $7
WHERE id = $8`, r.table)
	result, err := r.db.ExecContext(ctx, query,
		string(req.Status),
		nullString(req.DeviceID),
		nullTime(req.StartedAt),
		nullTime(req.EndedAt),
		barcodes,
		extra,
		time.Now().UTC(),
		req.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// Delete removes a collect request. Administrative action, not used by
// the lifecycle itself.
func (r *CollectRequestRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("collect repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListByOperator returns the operator's requests, newest first.
func (r *CollectRequestRepository) ListByOperator(ctx context.Context, operatorID string, filter ListFilter) ([]collect.CollectRequest, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("collect repo: nil db")
	}
	if operatorID == "" {
		return nil, errors.New("collect repo: empty operator id")
	}

	var conditions []string
	args := []any{operatorID}
	conditions = append(conditions, "user_id = $1")
	if filter.DateFrom != nil {
		args = append(args, filter.DateFrom.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, filter.DateTo.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.ReferrerID != "" {
		args = append(args, filter.ReferrerID)
		conditions = append(conditions, fmt.Sprintf("referrer_id = $%d", len(args)))
	}
	switch filter.Progress {
	case "not_started":
		conditions = append(conditions, "started_at IS NULL")
	case "in_progress":
		conditions = append(conditions, "started_at IS NOT NULL AND ended_at IS NULL")
	case "completed":
		conditions = append(conditions, "ended_at IS NOT NULL")
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 15
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)

	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE %s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`, requestColumns, r.table, strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []collect.CollectRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CollectRequestRepository) scanOne(row *sql.Row) (*collect.CollectRequest, error) {
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collect.ErrNotFound
	}
	return req, err
}

func scanRequest(scanner rowScanner) (*collect.CollectRequest, error) {
	var (
		req        collect.CollectRequest
		referrerID sql.NullString
		serverID   sql.NullString
		deviceID   sql.NullString
		status     string
		startedAt  sql.NullTime
		endedAt    sql.NullTime
		barcodes   []byte
		extra      []byte
	)
	if err := scanner.Scan(
		&req.ID,
		&req.UserID,
		&referrerID,
		&serverID,
		&deviceID,
		&status,
		&startedAt,
		&endedAt,
		&barcodes,
		&extra,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.ReferrerID = referrerID.String
	req.ServerID = serverID.String
	req.DeviceID = deviceID.String
	req.Status = collect.Status(status)
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		req.StartedAt = &ts
	}
	if endedAt.Valid {
		ts := endedAt.Time.UTC()
		req.EndedAt = &ts
	}
	if len(barcodes) > 0 {
		if err := json.Unmarshal(barcodes, &req.Barcodes); err != nil {
			return nil, err
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &req.Extra); err != nil {
			return nil, err
		}
	}
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}

func encodeJSONFields(req *collect.CollectRequest) ([]byte, []byte, error) {
	codes := req.Barcodes
	if codes == nil {
		codes = []string{}
	}
	barcodes, err := json.Marshal(codes)
	if err != nil {
		return nil, nil, err
	}
	extra, err := json.Marshal(req.Extra)
	if err != nil {
		return nil, nil, err
	}
	return barcodes, extra, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return collect.ErrNotFound
	}
	return nil
}
