package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// QueueRepository implements domain.QueueRepository. The autoincrement seq
// column preserves insertion order among items of equal priority.
type QueueRepository struct {
	db *sql.DB
}

var _ domain.QueueRepository = (*QueueRepository)(nil)

const queueColumns = `seq, tenant_id, priority, added_at, attempts, status, last_error`

func (r *QueueRepository) Add(ctx context.Context, item domain.QueueItem) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO provisioning_queue (tenant_id, priority, added_at, attempts, status, last_error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO NOTHING`,
		item.TenantID, item.Priority, formatTime(item.AddedAt), item.Attempts,
		string(item.Status), item.LastError,
	)
	if err != nil {
		return false, fmt.Errorf("enqueuing tenant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *QueueRepository) Get(ctx context.Context, tenantID int64) (domain.QueueItem, error) {
	return scanQueueItem(r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM provisioning_queue WHERE tenant_id = ?`, tenantID))
}

// List returns every item in processing order: priority, then insertion.
func (r *QueueRepository) List(ctx context.Context) ([]domain.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM provisioning_queue ORDER BY priority, seq`)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *QueueRepository) Save(ctx context.Context, item domain.QueueItem) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE provisioning_queue SET priority = ?, attempts = ?, status = ?, last_error = ?
		 WHERE tenant_id = ?`,
		item.Priority, item.Attempts, string(item.Status), item.LastError, item.TenantID,
	)
	if err != nil {
		return fmt.Errorf("saving queue item: %w", err)
	}
	return requireRow(result, domain.ErrQueueItemNotFound)
}

func (r *QueueRepository) Remove(ctx context.Context, tenantID int64) (bool, error) {
	n, err := r.delete(ctx, `DELETE FROM provisioning_queue WHERE tenant_id = ?`, tenantID)
	return n > 0, err
}

func (r *QueueRepository) RemoveFailed(ctx context.Context) (int, error) {
	return r.delete(ctx, `DELETE FROM provisioning_queue WHERE status = ?`, string(domain.QueueFailed))
}

// RemoveOlderThan drops stale items added before the cutoff. Failed items
// are kept; only RemoveFailed and Clear take them out.
func (r *QueueRepository) RemoveOlderThan(ctx context.Context, before time.Time) (int, error) {
	return r.delete(ctx, `DELETE FROM provisioning_queue WHERE added_at < ? AND status <> ?`,
		formatTime(before), string(domain.QueueFailed))
}

func (r *QueueRepository) Clear(ctx context.Context) (int, error) {
	return r.delete(ctx, `DELETE FROM provisioning_queue`)
}

func (r *QueueRepository) delete(ctx context.Context, query string, args ...any) (int, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("removing queue items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

func scanQueueItem(row scanner) (domain.QueueItem, error) {
	var it domain.QueueItem
	var addedAt, status string
	err := row.Scan(&it.Sequence, &it.TenantID, &it.Priority, &addedAt, &it.Attempts, &status, &it.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueueItem{}, domain.ErrQueueItemNotFound
		}
		return domain.QueueItem{}, fmt.Errorf("scanning queue item: %w", err)
	}
	it.AddedAt = parseTime(addedAt)
	it.Status = domain.QueueStatus(status)
	return it, nil
}

// LeaseStore implements domain.LeaseStore on the leases table.
type LeaseStore struct {
	db *sql.DB
}

var _ domain.LeaseStore = (*LeaseStore)(nil)

// Acquire inserts the lease or takes over one that has expired. The
// conditional upsert is a single statement, so two processes racing for
// the same lease cannot both win.
func (s *LeaseStore) Acquire(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE leases.expires_at <= ?`,
		name, owner, formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease only if owner still holds it.
func (s *LeaseStore) Release(ctx context.Context, name, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner); err != nil {
		return fmt.Errorf("releasing lease %s: %w", name, err)
	}
	return nil
}

func (s *LeaseStore) Current(ctx context.Context, name string, now time.Time) (domain.Lease, bool, error) {
	var l domain.Lease
	var expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, owner, expires_at FROM leases WHERE name = ? AND expires_at > ?`,
		name, formatTime(now),
	).Scan(&l.Name, &l.Owner, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lease{}, false, nil
	}
	if err != nil {
		return domain.Lease{}, false, fmt.Errorf("reading lease %s: %w", name, err)
	}
	l.ExpiresAt = parseTime(expiresAt)
	return l, true, nil
}
