package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// TenantRepository implements domain.TenantRepository using SQLite.
type TenantRepository struct {
	db *sql.DB
}

var _ domain.TenantRepository = (*TenantRepository)(nil)

const tenantColumns = `id, user_id, username, account_name, company_name, subdomain,
	database_name, status, storage_used, storage_limit, user_limit, phone_number,
	address, billing_email, metadata, created_at, updated_at, last_login, version`

func (r *TenantRepository) Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	meta, err := encodeJSON(metadataOrEmpty(t.Metadata))
	if err != nil {
		return domain.Tenant{}, err
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (user_id, username, account_name, company_name, subdomain,
			database_name, status, storage_used, storage_limit, user_limit, phone_number,
			address, billing_email, metadata, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		t.UserID, t.Username, t.AccountName, t.CompanyName, t.Subdomain,
		t.DatabaseName, string(t.Status), t.StorageUsed, t.StorageLimit, t.UserLimit, t.PhoneNumber,
		t.Address, t.BillingEmail, meta,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Tenant{}, tenantConflict(err, t)
		}
		return domain.Tenant{}, fmt.Errorf("inserting tenant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("reading tenant id: %w", err)
	}
	t.ID = id
	t.Version = 1
	return t, nil
}

func (r *TenantRepository) Get(ctx context.Context, id int64) (domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id))
}

func (r *TenantRepository) GetByUsername(ctx context.Context, username string) (domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE username = ?`, username))
}

func (r *TenantRepository) GetBySubdomain(ctx context.Context, subdomain string) (domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE subdomain = ?`, subdomain))
}

func (r *TenantRepository) GetByOwner(ctx context.Context, userID int64) (domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE user_id = ? ORDER BY id LIMIT 1`, userID))
}

func (r *TenantRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	where, args := tenantWhere(filter)
	query := `SELECT ` + tenantColumns + ` FROM tenants` + where

	sortBy := filter.SortBy
	if !slices.Contains(domain.TenantSortFields, sortBy) {
		sortBy = "created_at"
	}
	dir := "DESC"
	if filter.Asc {
		dir = "ASC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s, id %s`, sortBy, dir, dir)

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

func (r *TenantRepository) Count(ctx context.Context, filter domain.ListFilter) (int, error) {
	where, args := tenantWhere(filter)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tenants: %w", err)
	}
	return n, nil
}

// Update writes every mutable column except last_login when the stored
// version still matches t.Version, and returns t with the bumped version.
func (r *TenantRepository) Update(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	meta, err := encodeJSON(metadataOrEmpty(t.Metadata))
	if err != nil {
		return domain.Tenant{}, err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET account_name = ?, company_name = ?, subdomain = ?, database_name = ?,
			status = ?, storage_used = ?, storage_limit = ?, user_limit = ?, phone_number = ?,
			address = ?, billing_email = ?, metadata = ?, updated_at = ?,
			version = version + 1
		 WHERE id = ? AND version = ?`,
		t.AccountName, t.CompanyName, t.Subdomain, t.DatabaseName,
		string(t.Status), t.StorageUsed, t.StorageLimit, t.UserLimit, t.PhoneNumber,
		t.Address, t.BillingEmail, meta, formatTime(t.UpdatedAt),
		t.ID, t.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Tenant{}, tenantConflict(err, t)
		}
		return domain.Tenant{}, fmt.Errorf("updating tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, t.ID); err != nil {
			return domain.Tenant{}, err
		}
		return domain.Tenant{}, domain.ErrVersionConflict
	}

	t.Version++
	return t, nil
}

func (r *TenantRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET last_login = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("recording tenant login: %w", err)
	}
	return requireRow(result, domain.ErrTenantNotFound)
}

func (r *TenantRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	return requireRow(result, domain.ErrTenantNotFound)
}

func tenantWhere(filter domain.ListFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Status != nil {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(*filter.Status))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		clauses = append(clauses,
			`(username LIKE ? OR account_name LIKE ? OR company_name LIKE ? OR billing_email LIKE ?)`)
		args = append(args, like, like, like, like)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

func scanTenant(row scanner) (domain.Tenant, error) {
	var t domain.Tenant
	var status, meta, createdAt, updatedAt string
	var lastLogin sql.NullString

	err := row.Scan(&t.ID, &t.UserID, &t.Username, &t.AccountName, &t.CompanyName, &t.Subdomain,
		&t.DatabaseName, &status, &t.StorageUsed, &t.StorageLimit, &t.UserLimit, &t.PhoneNumber,
		&t.Address, &t.BillingEmail, &meta, &createdAt, &updatedAt, &lastLogin, &t.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tenant{}, domain.ErrTenantNotFound
		}
		return domain.Tenant{}, fmt.Errorf("scanning tenant: %w", err)
	}

	t.Status = domain.TenantStatus(status)
	if err := decodeJSON(meta, &t.Metadata); err != nil {
		return domain.Tenant{}, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.LastLogin = parseTimePtr(lastLogin)

	return t, nil
}

func tenantConflict(err error, t domain.Tenant) *domain.ConflictError {
	switch uniqueColumn(err) {
	case "subdomain":
		return &domain.ConflictError{Field: "subdomain", Value: t.Subdomain}
	case "database_name":
		return &domain.ConflictError{Field: "database_name", Value: t.DatabaseName}
	default:
		return &domain.ConflictError{Field: "username", Value: t.Username}
	}
}

func metadataOrEmpty(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}

// requireRow returns notFound when result touched no rows.
func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
