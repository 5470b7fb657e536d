package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

const maxWriteAttempts = 3

// lifecycle performs compare-and-set writes on tenant rows and records
// audit entries. It is shared by Registry and Provisioning.
type lifecycle struct {
	base
	tenants     domain.TenantRepository
	transitions domain.TenantTransitionValidator
	audit       domain.AuditLog
}

// mutate re-reads the tenant and applies fn until the versioned write
// succeeds. fn reports whether it changed anything; unchanged tenants are
// not written.
func (l *lifecycle) mutate(ctx context.Context, id int64, fn func(t *domain.Tenant) (bool, error)) (before, after domain.Tenant, err error) {
	for attempt := 1; ; attempt++ {
		current, err := l.tenants.Get(ctx, id)
		if err != nil {
			return domain.Tenant{}, domain.Tenant{}, err
		}

		next := current
		next.Metadata = current.Metadata.Merge(nil)
		changed, err := fn(&next)
		if err != nil {
			return current, current, err
		}
		if !changed {
			return current, current, nil
		}

		next.UpdatedAt = l.now()
		saved, err := l.tenants.Update(ctx, next)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < maxWriteAttempts {
			l.logger.Debug("tenant version conflict, retrying",
				zap.Int64("tenant_id", id),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return current, current, fmt.Errorf("updating tenant: %w", err)
		}
		return current, saved, nil
	}
}

// moveTo changes the tenant status to target through the transition table
// and merges meta into its metadata. Moving to the current status only
// writes the metadata.
func (l *lifecycle) moveTo(ctx context.Context, id int64, target domain.TenantStatus, meta map[string]any) (before, after domain.Tenant, err error) {
	return l.mutate(ctx, id, func(t *domain.Tenant) (bool, error) {
		changed := false
		if t.Status != target {
			event, ok := domain.EventFor(domain.TenantTransitions, t.Status, target)
			if !ok {
				return false, &domain.TransitionError{Event: "set " + string(target), Current: string(t.Status)}
			}
			dst, err := l.transitions.Apply(ctx, t.Status, event)
			if err != nil {
				return false, err
			}
			t.Status = dst
			changed = true
		}
		if len(meta) > 0 {
			t.Metadata = t.Metadata.Merge(meta)
			changed = true
		}
		return changed, nil
	})
}

// record writes an audit entry. Failures are logged, never returned.
func (l *lifecycle) record(ctx context.Context, action string, tenantID int64, details map[string]any) {
	entry := domain.AuditEntry{
		ActorID:    actorFrom(ctx),
		Action:     action,
		EntityType: "tenant",
		EntityID:   tenantID,
		Details:    details,
		CreatedAt:  l.now(),
	}
	if tenantID != 0 {
		entry.TenantID = &tenantID
	}
	if err := l.audit.Record(ctx, entry); err != nil {
		l.logger.Warn("writing audit entry",
			zap.String("action", action),
			zap.Int64("tenant_id", tenantID),
			zap.Error(err),
		)
	}
}
