package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// AuditLog implements domain.AuditLog on audit_logs. Entries outlive the
// tenant they describe.
type AuditLog struct {
	db *sql.DB
}

var _ domain.AuditLog = (*AuditLog)(nil)

func (a *AuditLog) Record(ctx context.Context, e domain.AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := encodeJSON(details)
	if err != nil {
		return err
	}

	var tenantID sql.NullInt64
	if e.TenantID != nil {
		tenantID = sql.NullInt64{Int64: *e.TenantID, Valid: true}
	}

	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_logs (tenant_id, actor_id, action, entity_type, entity_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tenantID, e.ActorID, e.Action, e.EntityType, e.EntityID, detailsJSON, formatTime(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries of the tenant first.
func (a *AuditLog) List(ctx context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, tenant_id, actor_id, action, entity_type, entity_id, details, created_at
		 FROM audit_logs WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var tid sql.NullInt64
		var details, createdAt string
		if err := rows.Scan(&e.ID, &tid, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if tid.Valid {
			e.TenantID = &tid.Int64
		}
		if err := decodeJSON(details, &e.Details); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// OrderLedger implements domain.OrderLedger on processed_orders.
type OrderLedger struct {
	db *sql.DB
}

var _ domain.OrderLedger = (*OrderLedger)(nil)

func (l *OrderLedger) IsProcessed(ctx context.Context, orderRef string) (bool, error) {
	var ok bool
	if err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_orders WHERE order_ref = ?)`, orderRef).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking processed order: %w", err)
	}
	return ok, nil
}

// MarkProcessed records the order; marking it twice keeps the first record.
func (l *OrderLedger) MarkProcessed(ctx context.Context, o domain.ProcessedOrder) error {
	modules := o.ModulesActivated
	if modules == nil {
		modules = []string{}
	}
	modulesJSON, err := encodeJSON(modules)
	if err != nil {
		return err
	}
	at := o.ProcessedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO processed_orders (order_ref, tenant_id, modules_activated, processed_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (order_ref) DO NOTHING`,
		o.OrderRef, o.TenantID, modulesJSON, formatTime(at),
	); err != nil {
		return fmt.Errorf("marking order processed: %w", err)
	}
	return nil
}
