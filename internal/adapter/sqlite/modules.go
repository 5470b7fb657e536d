package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// ModuleRepository implements domain.ModuleRepository.
type ModuleRepository struct {
	db *sql.DB
}

var _ domain.ModuleRepository = (*ModuleRepository)(nil)

const moduleColumns = `id, name, slug, path, product_ref, description, version, requires, status, created_at, updated_at`

// Upsert inserts the module or overwrites the one with the same slug,
// keeping its id and created_at.
func (r *ModuleRepository) Upsert(ctx context.Context, m domain.Module) (domain.Module, error) {
	requires := m.Requires
	if requires == nil {
		requires = []string{}
	}
	reqJSON, err := encodeJSON(requires)
	if err != nil {
		return domain.Module{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO modules (name, slug, path, product_ref, description, version, requires, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
			name = excluded.name, path = excluded.path, product_ref = excluded.product_ref,
			description = excluded.description, version = excluded.version,
			requires = excluded.requires, status = excluded.status, updated_at = excluded.updated_at`,
		m.Name, m.Slug, m.Path, m.ProductRef, m.Description, m.Version, reqJSON, string(m.Status),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return domain.Module{}, fmt.Errorf("upserting module: %w", err)
	}
	return r.GetBySlug(ctx, m.Slug)
}

func (r *ModuleRepository) Get(ctx context.Context, id int64) (domain.Module, error) {
	return scanModule(r.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id))
}

func (r *ModuleRepository) GetBySlug(ctx context.Context, slug string) (domain.Module, error) {
	return scanModule(r.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE slug = ?`, slug))
}

func (r *ModuleRepository) List(ctx context.Context, status *domain.ModuleStatus) ([]domain.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var modules []domain.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (r *ModuleRepository) MapProduct(ctx context.Context, productRef, slug string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO product_modules (product_ref, module_slug) VALUES (?, ?)
		 ON CONFLICT (product_ref) DO UPDATE SET module_slug = excluded.module_slug`,
		productRef, slug)
	if err != nil {
		return fmt.Errorf("mapping product: %w", err)
	}
	return nil
}

func (r *ModuleRepository) ModuleSlugForProduct(ctx context.Context, productRef string) (string, error) {
	var slug string
	err := r.db.QueryRowContext(ctx,
		`SELECT module_slug FROM product_modules WHERE product_ref = ?`, productRef).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrModuleNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading product mapping: %w", err)
	}
	return slug, nil
}

func scanModule(row scanner) (domain.Module, error) {
	var m domain.Module
	var requires, status, createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.Path, &m.ProductRef, &m.Description, &m.Version,
		&requires, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Module{}, domain.ErrModuleNotFound
		}
		return domain.Module{}, fmt.Errorf("scanning module: %w", err)
	}
	if err := decodeJSON(requires, &m.Requires); err != nil {
		return domain.Module{}, err
	}
	m.Status = domain.ModuleStatus(status)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

// EntitlementRepository implements domain.EntitlementRepository on
// tenant_modules.
type EntitlementRepository struct {
	db *sql.DB
}

var _ domain.EntitlementRepository = (*EntitlementRepository)(nil)

const entitlementColumns = `tm.id, tm.tenant_id, tm.module_id, tm.subscription_ref, tm.status,
	tm.activated_at, tm.expires_at, tm.grace_period_ends, tm.last_checked, tm.version`

func (r *EntitlementRepository) Get(ctx context.Context, tenantID, moduleID int64) (domain.Entitlement, error) {
	return scanEntitlement(r.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM tenant_modules tm WHERE tm.tenant_id = ? AND tm.module_id = ?`,
		tenantID, moduleID))
}

// Upsert writes the row for (TenantID, ModuleID), bumping the version of an
// existing row.
func (r *EntitlementRepository) Upsert(ctx context.Context, e domain.Entitlement) (domain.Entitlement, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenant_modules (tenant_id, module_id, subscription_ref, status, activated_at,
			expires_at, grace_period_ends, last_checked, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT (tenant_id, module_id) DO UPDATE SET
			subscription_ref = excluded.subscription_ref, status = excluded.status,
			activated_at = excluded.activated_at, expires_at = excluded.expires_at,
			grace_period_ends = excluded.grace_period_ends, last_checked = excluded.last_checked,
			version = tenant_modules.version + 1`,
		e.TenantID, e.ModuleID, e.SubscriptionRef, string(e.Status), formatTime(e.ActivatedAt),
		formatTimePtr(e.ExpiresAt), formatTimePtr(e.GracePeriodEnds), formatTimePtr(e.LastChecked),
	)
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("upserting entitlement: %w", err)
	}
	return r.Get(ctx, e.TenantID, e.ModuleID)
}

// Update is compare-and-set on Version.
func (r *EntitlementRepository) Update(ctx context.Context, e domain.Entitlement) (domain.Entitlement, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tenant_modules SET subscription_ref = ?, status = ?, activated_at = ?, expires_at = ?,
			grace_period_ends = ?, last_checked = ?, version = version + 1
		 WHERE tenant_id = ? AND module_id = ? AND version = ?`,
		e.SubscriptionRef, string(e.Status), formatTime(e.ActivatedAt), formatTimePtr(e.ExpiresAt),
		formatTimePtr(e.GracePeriodEnds), formatTimePtr(e.LastChecked),
		e.TenantID, e.ModuleID, e.Version,
	)
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("updating entitlement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, e.TenantID, e.ModuleID); err != nil {
			return domain.Entitlement{}, err
		}
		return domain.Entitlement{}, domain.ErrVersionConflict
	}
	e.Version++
	return e, nil
}

func (r *EntitlementRepository) ListByTenant(ctx context.Context, tenantID int64) ([]domain.ModuleEntitlement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entitlementColumns+`, m.id, m.name, m.slug, m.path, m.product_ref, m.description,
			m.version, m.requires, m.status, m.created_at, m.updated_at
		 FROM tenant_modules tm JOIN modules m ON m.id = tm.module_id
		 WHERE tm.tenant_id = ?
		 ORDER BY m.name, tm.id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing tenant entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.ModuleEntitlement
	for rows.Next() {
		var me domain.ModuleEntitlement
		var e entitlementRow
		var requires, mStatus, mCreated, mUpdated string
		err := rows.Scan(append(e.dest(),
			&me.Module.ID, &me.Module.Name, &me.Module.Slug, &me.Module.Path, &me.Module.ProductRef,
			&me.Module.Description, &me.Module.Version, &requires, &mStatus, &mCreated, &mUpdated)...)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant entitlement: %w", err)
		}
		me.Entitlement = e.entitlement()
		if err := decodeJSON(requires, &me.Module.Requires); err != nil {
			return nil, err
		}
		me.Module.Status = domain.ModuleStatus(mStatus)
		me.Module.CreatedAt = parseTime(mCreated)
		me.Module.UpdatedAt = parseTime(mUpdated)
		out = append(out, me)
	}
	return out, rows.Err()
}

func (r *EntitlementRepository) ListBySubscription(ctx context.Context, ref string) ([]domain.Entitlement, error) {
	return r.list(ctx,
		`SELECT `+entitlementColumns+` FROM tenant_modules tm WHERE tm.subscription_ref = ? ORDER BY tm.id`, ref)
}

// ListDue returns the rows whose stored status may be stale at now: active
// past expiry, and every expired row.
func (r *EntitlementRepository) ListDue(ctx context.Context, now time.Time) ([]domain.Entitlement, error) {
	return r.list(ctx,
		`SELECT `+entitlementColumns+` FROM tenant_modules tm
		 WHERE (tm.status = 'active' AND tm.expires_at IS NOT NULL AND tm.expires_at < ?)
			OR tm.status = 'expired'
		 ORDER BY tm.id`, formatTime(now))
}

func (r *EntitlementRepository) Stats(ctx context.Context) (domain.EntitlementStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tenant_modules GROUP BY status`)
	if err != nil {
		return domain.EntitlementStats{}, fmt.Errorf("counting entitlements: %w", err)
	}
	defer rows.Close()

	stats := domain.EntitlementStats{ByStatus: make(map[domain.EntitlementStatus]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.EntitlementStats{}, fmt.Errorf("scanning entitlement stats: %w", err)
		}
		stats.ByStatus[domain.EntitlementStatus(status)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

func (r *EntitlementRepository) list(ctx context.Context, query string, args ...any) ([]domain.Entitlement, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// entitlementRow holds the raw columns of a tenant_modules row.
type entitlementRow struct {
	e               domain.Entitlement
	status          string
	activatedAt     string
	expiresAt       sql.NullString
	gracePeriodEnds sql.NullString
	lastChecked     sql.NullString
}

func (r *entitlementRow) dest() []any {
	return []any{&r.e.ID, &r.e.TenantID, &r.e.ModuleID, &r.e.SubscriptionRef, &r.status,
		&r.activatedAt, &r.expiresAt, &r.gracePeriodEnds, &r.lastChecked, &r.e.Version}
}

func (r *entitlementRow) entitlement() domain.Entitlement {
	e := r.e
	e.Status = domain.EntitlementStatus(r.status)
	e.ActivatedAt = parseTime(r.activatedAt)
	e.ExpiresAt = parseTimePtr(r.expiresAt)
	e.GracePeriodEnds = parseTimePtr(r.gracePeriodEnds)
	e.LastChecked = parseTimePtr(r.lastChecked)
	return e
}

func scanEntitlement(row scanner) (domain.Entitlement, error) {
	var r entitlementRow
	if err := row.Scan(r.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entitlement{}, domain.ErrEntitlementNotFound
		}
		return domain.Entitlement{}, fmt.Errorf("scanning entitlement: %w", err)
	}
	return r.entitlement(), nil
}
