package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// QueueSettings bounds the provisioning queue.
type QueueSettings struct {
	MaxRetries int
	BatchSize  int
	LeaseTTL   time.Duration
}

// DefaultQueueSettings returns the standard queue bounds.
func DefaultQueueSettings() QueueSettings {
	return QueueSettings{MaxRetries: 3, BatchSize: 5, LeaseTTL: 30 * time.Minute}
}

// TenantProvisioner is what the queue needs from the provisioning service.
type TenantProvisioner interface {
	Provision(ctx context.Context, id int64) (domain.Tenant, bool, error)
	MarkFailed(ctx context.Context, id int64, cause error) (domain.Tenant, error)
}

// PassResult summarises one processing pass.
type PassResult struct {
	Skipped   bool
	Processed int
	Failed    int
}

// ProvisioningQueue is a durable, retrying, single-flight work list that
// provisions pending tenants. Passes are serialised by a lease.
type ProvisioningQueue struct {
	base
	items       domain.QueueRepository
	leases      domain.LeaseStore
	provisioner TenantProvisioner
	notifier    domain.Notifier
	trigger     domain.PassTrigger
	settings    QueueSettings
}

// NewProvisioningQueue creates the queue. trigger may be nil, in which
// case passes only run when scheduled.
func NewProvisioningQueue(
	items domain.QueueRepository,
	leases domain.LeaseStore,
	provisioner TenantProvisioner,
	notifier domain.Notifier,
	trigger domain.PassTrigger,
	settings QueueSettings,
	opts ...Option,
) *ProvisioningQueue {
	return &ProvisioningQueue{
		base:        newBase(opts),
		items:       items,
		leases:      leases,
		provisioner: provisioner,
		notifier:    notifier,
		trigger:     trigger,
		settings:    settings,
	}
}

// Enqueue adds the tenant to the queue. Enqueuing a tenant that is
// already queued is a no-op and reports false.
func (q *ProvisioningQueue) Enqueue(ctx context.Context, tenantID int64, priority int) (bool, error) {
	added, err := q.items.Add(ctx, domain.QueueItem{
		TenantID: tenantID,
		Priority: priority,
		AddedAt:  q.now(),
		Status:   domain.QueuePending,
	})
	if err != nil {
		return false, fmt.Errorf("enqueuing tenant %d: %w", tenantID, err)
	}
	if !added {
		q.logger.Debug("tenant already queued", zap.Int64("tenant_id", tenantID))
		return false, nil
	}

	q.logger.Info("tenant queued for provisioning",
		zap.Int64("tenant_id", tenantID),
		zap.Int("priority", priority),
	)
	q.kick(ctx)
	return true, nil
}

// Remove drops the tenant's item, reporting whether one existed.
func (q *ProvisioningQueue) Remove(ctx context.Context, tenantID int64) (bool, error) {
	return q.items.Remove(ctx, tenantID)
}

// Items returns the queue in processing order.
func (q *ProvisioningQueue) Items(ctx context.Context) ([]domain.QueueItem, error) {
	return q.items.List(ctx)
}

// Item returns the queue item of a tenant.
func (q *ProvisioningQueue) Item(ctx context.Context, tenantID int64) (domain.QueueItem, error) {
	return q.items.Get(ctx, tenantID)
}

// Retry resets a queued item to pending with no attempts.
func (q *ProvisioningQueue) Retry(ctx context.Context, tenantID int64) (domain.QueueItem, error) {
	item, err := q.items.Get(ctx, tenantID)
	if err != nil {
		return domain.QueueItem{}, err
	}

	item.Attempts = 0
	item.Status = domain.QueuePending
	item.LastError = ""
	if err := q.items.Save(ctx, item); err != nil {
		return domain.QueueItem{}, fmt.Errorf("resetting queue item: %w", err)
	}

	q.logger.Info("queue item reset", zap.Int64("tenant_id", tenantID))
	q.kick(ctx)
	return item, nil
}

// ClearFailed removes every failed item.
func (q *ProvisioningQueue) ClearFailed(ctx context.Context) (int, error) {
	return q.items.RemoveFailed(ctx)
}

// Clear empties the queue.
func (q *ProvisioningQueue) Clear(ctx context.Context) (int, error) {
	n, err := q.items.Clear(ctx)
	if err == nil {
		q.logger.Warn("provisioning queue cleared", zap.Int("removed", n))
	}
	return n, err
}

// CleanupOlderThan removes pending and retrying items enqueued more than
// age ago. Failed items stay until an operator clears them.
func (q *ProvisioningQueue) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	return q.items.RemoveOlderThan(ctx, q.now().Add(-age))
}

// IsProcessing reports whether a pass currently holds the lease.
func (q *ProvisioningQueue) IsProcessing(ctx context.Context) (bool, error) {
	_, held, err := q.leases.Current(ctx, domain.ProvisioningLease, q.now())
	return held, err
}

// Stats summarises the queue.
func (q *ProvisioningQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	items, err := q.items.List(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}

	stats := domain.QueueStats{Total: len(items)}
	now := q.now()
	for _, it := range items {
		switch it.Status {
		case domain.QueuePending:
			stats.Pending++
		case domain.QueueRetrying:
			stats.Retrying++
		case domain.QueueFailed:
			stats.Failed++
		}
		if age := now.Sub(it.AddedAt); age > stats.OldestAge {
			stats.OldestAge = age
		}
	}

	stats.IsProcessing, err = q.IsProcessing(ctx)
	return stats, err
}

// RunPass processes up to BatchSize items in priority order. When another
// pass holds the lease the call returns immediately with Skipped set. The
// lease is released however the pass ends.
func (q *ProvisioningQueue) RunPass(ctx context.Context) (result PassResult, err error) {
	owner := uuid.NewString()
	acquired, err := q.leases.Acquire(ctx, domain.ProvisioningLease, owner, q.now(), q.settings.LeaseTTL)
	if err != nil {
		return PassResult{}, fmt.Errorf("acquiring provisioning lease: %w", err)
	}
	if !acquired {
		q.logger.Debug("provisioning pass already running")
		q.metrics.QueuePass("skipped")
		return PassResult{Skipped: true}, nil
	}
	defer func() {
		if relErr := q.leases.Release(context.WithoutCancel(ctx), domain.ProvisioningLease, owner); relErr != nil {
			q.logger.Error("releasing provisioning lease", zap.Error(relErr))
		}
	}()

	items, err := q.items.List(ctx)
	if err != nil {
		q.metrics.QueuePass("error")
		return PassResult{}, fmt.Errorf("loading queue: %w", err)
	}
	q.metrics.QueueDepth(len(items))

	for _, item := range items {
		if result.Processed+result.Failed >= q.settings.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if item.Status == domain.QueueFailed {
			continue
		}
		if item.Attempts >= q.settings.MaxRetries {
			q.markFailed(ctx, item, errors.New(lastErrorOr(item, "maximum retries exceeded")))
			continue
		}

		if q.attempt(ctx, item) {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	q.metrics.QueuePass("completed")
	q.logger.Info("provisioning pass finished",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// attempt provisions one item and reports whether it succeeded.
func (q *ProvisioningQueue) attempt(ctx context.Context, item domain.QueueItem) bool {
	tenant, provisioned, err := q.provisioner.Provision(ctx, item.TenantID)
	if err == nil {
		q.metrics.ProvisioningAttempt("success")
		if _, err := q.items.Remove(ctx, item.TenantID); err != nil {
			q.logger.Error("removing provisioned item", zap.Int64("tenant_id", item.TenantID), zap.Error(err))
		}
		if provisioned && tenant.BillingEmail != "" {
			q.notifier.Send(ctx, domain.NotifyActivation, tenant.BillingEmail, map[string]any{
				"tenant_id":    tenant.ID,
				"username":     tenant.Username,
				"subdomain":    tenant.Subdomain,
				"account_name": tenant.AccountName,
			})
		}
		return true
	}

	q.metrics.ProvisioningAttempt("failure")
	item.Attempts++
	item.LastError = err.Error()
	item.Status = domain.QueueRetrying
	if item.Attempts >= q.settings.MaxRetries {
		q.markFailed(ctx, item, err)
		return false
	}

	if saveErr := q.items.Save(ctx, item); saveErr != nil {
		q.logger.Error("saving queue item", zap.Int64("tenant_id", item.TenantID), zap.Error(saveErr))
	}
	q.logger.Warn("provisioning attempt failed",
		zap.Int64("tenant_id", item.TenantID),
		zap.Int("attempt", item.Attempts),
		zap.Error(err),
	)
	return false
}

// markFailed moves the item to its terminal state and suspends the tenant.
func (q *ProvisioningQueue) markFailed(ctx context.Context, item domain.QueueItem, cause error) {
	item.Status = domain.QueueFailed
	item.LastError = cause.Error()
	if err := q.items.Save(ctx, item); err != nil {
		q.logger.Error("saving failed queue item", zap.Int64("tenant_id", item.TenantID), zap.Error(err))
	}
	if _, err := q.provisioner.MarkFailed(ctx, item.TenantID, cause); err != nil {
		q.logger.Error("suspending tenant after provisioning failure",
			zap.Int64("tenant_id", item.TenantID),
			zap.Error(err),
		)
	}
}

func (q *ProvisioningQueue) kick(ctx context.Context) {
	if q.trigger == nil {
		return
	}
	if err := q.trigger.TriggerPass(ctx); err != nil {
		q.logger.Warn("triggering provisioning pass", zap.Error(err))
	}
}

func lastErrorOr(item domain.QueueItem, fallback string) string {
	if item.LastError != "" {
		return item.LastError
	}
	return fallback
}
