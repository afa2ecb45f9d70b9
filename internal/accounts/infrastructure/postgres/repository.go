package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	accounts "coldchain-collect/internal/accounts/domain"
)

const (
	defaultUsersTable     = "users"
	defaultReferrersTable = "referrers"
)

// DBTX is the subset of database/sql satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository is a Postgres implementation for users.
type UserRepository struct {
	db    DBTX
	table string
}

// NewUserRepository constructs a repository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, table: defaultUsersTable}
}

// Get loads a user by id. Absent rows yield accounts.ErrNotFound.
func (r *UserRepository) Get(ctx context.Context, id string) (*accounts.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, server_id, name, email, role, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByServerID loads a user by external correlation id. Absent rows
// yield accounts.ErrNotFound.
func (r *UserRepository) GetByServerID(ctx context.Context, serverID string) (*accounts.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, server_id, name, email, role, created_at
FROM %s
WHERE server_id = $1
LIMIT 1`, r.table)
	return scanUser(r.db.QueryRowContext(ctx, query, serverID))
}

// UpsertByServerID creates or updates a user pushed by the external system.
func (r *UserRepository) UpsertByServerID(ctx context.Context, user *accounts.User) (*accounts.User, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("user repo: nil db")
	}
	if user == nil || user.ServerID == "" {
		return nil, false, errors.New("user repo: missing server id")
	}
	role := user.Role
	if role == "" {
		role = accounts.RoleOperator
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, server_id, name, email, role, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (server_id)
DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
RETURNING id, server_id, name, email, role, created_at, (xmax = 0) AS inserted`, r.table)

	var (
		stored   accounts.User
		inserted bool
	)
	if err := r.db.QueryRowContext(ctx, query, user.ID, user.ServerID, user.Name, user.Email, role, time.Now().UTC()).Scan(
		&stored.ID,
		&stored.ServerID,
		&stored.Name,
		&stored.Email,
		&stored.Role,
		&stored.CreatedAt,
		&inserted,
	); err != nil {
		return nil, false, err
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return &stored, inserted, nil
}

// ListOperators returns all users with the operator role.
func (r *UserRepository) ListOperators(ctx context.Context) ([]accounts.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, server_id, name, email, role, created_at
FROM %s
WHERE role = $1
ORDER BY name ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, accounts.RoleOperator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []accounts.User
	for rows.Next() {
		var user accounts.User
		var serverID sql.NullString
		if err := rows.Scan(&user.ID, &serverID, &user.Name, &user.Email, &user.Role, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.ServerID = serverID.String
		user.CreatedAt = user.CreatedAt.UTC()
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanUser(row *sql.Row) (*accounts.User, error) {
	var user accounts.User
	var serverID sql.NullString
	if err := row.Scan(&user.ID, &serverID, &user.Name, &user.Email, &user.Role, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrNotFound
		}
		return nil, err
	}
	user.ServerID = serverID.String
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// ReferrerRepository is a Postgres implementation for referrers.
type ReferrerRepository struct {
	db    DBTX
	table string
}

// NewReferrerRepository constructs a repository.
func NewReferrerRepository(db DBTX) *ReferrerRepository {
	return &ReferrerRepository{db: db, table: defaultReferrersTable}
}

// Get loads a referrer by id. Absent rows yield accounts.ErrNotFound.
func (r *ReferrerRepository) Get(ctx context.Context, id string) (*accounts.Referrer, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("referrer repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, server_id, name, address, latitude, longitude, created_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)
	return scanReferrer(r.db.QueryRowContext(ctx, query, id))
}

// GetByServerID loads a referrer by external correlation id. Absent rows
// yield accounts.ErrNotFound.
func (r *ReferrerRepository) GetByServerID(ctx context.Context, serverID string) (*accounts.Referrer, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("referrer repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, server_id, name, address, latitude, longitude, created_at
FROM %s
WHERE server_id = $1
LIMIT 1`, r.table)
	return scanReferrer(r.db.QueryRowContext(ctx, query, serverID))
}

// UpsertByServerID creates or updates a referrer pushed by the external system.
func (r *ReferrerRepository) UpsertByServerID(ctx context.Context, ref *accounts.Referrer) (*accounts.Referrer, bool, error) {
	if r == nil || r.db == nil {
		return nil, false, errors.New("referrer repo: nil db")
	}
	if ref == nil || ref.ServerID == "" {
		return nil, false, errors.New("referrer repo: missing server id")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, server_id, name, address, latitude, longitude, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (server_id)
DO UPDATE SET name = EXCLUDED.name, address = EXCLUDED.address, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude
RETURNING id, server_id, name, address, latitude, longitude, created_at, (xmax = 0) AS inserted`, r.table)

	var (
		stored    accounts.Referrer
		serverID  sql.NullString
		address   sql.NullString
		latitude  sql.NullFloat64
		longitude sql.NullFloat64
		inserted  bool
	)
	if err := r.db.QueryRowContext(ctx, query,
		ref.ID, ref.ServerID, ref.Name, nullableString(ref.Address), nullableFloat(ref.Latitude), nullableFloat(ref.Longitude), time.Now().UTC(),
	).Scan(&stored.ID, &serverID, &stored.Name, &address, &latitude, &longitude, &stored.CreatedAt, &inserted); err != nil {
		return nil, false, err
	}
	stored.ServerID = serverID.String
	stored.Address = address.String
	if latitude.Valid {
		v := latitude.Float64
		stored.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		stored.Longitude = &v
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return &stored, inserted, nil
}

func scanReferrer(row *sql.Row) (*accounts.Referrer, error) {
	var (
		ref       accounts.Referrer
		serverID  sql.NullString
		address   sql.NullString
		latitude  sql.NullFloat64
		longitude sql.NullFloat64
	)
	if err := row.Scan(&ref.ID, &serverID, &ref.Name, &address, &latitude, &longitude, &ref.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accounts.ErrNotFound
		}
		return nil, err
	}
	ref.ServerID = serverID.String
	ref.Address = address.String
	if latitude.Valid {
		v := latitude.Float64
		ref.Latitude = &v
	}
	if longitude.Valid {
		v := longitude.Float64
		ref.Longitude = &v
	}
	ref.CreatedAt = ref.CreatedAt.UTC()
	return &ref, nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
