package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// ModuleInput registers or updates a module.
type ModuleInput struct {
	Name        string
	Slug        string
	Path        string
	ProductRef  string
	Description string
	Version     string
	Requires    []string
	Status      domain.ModuleStatus
}

// ModuleAccess is a module with the tenant's live access decision.
type ModuleAccess struct {
	Module      domain.Module
	Entitlement *domain.Entitlement
	HasAccess   bool
}

// EntitlementManager tracks which tenants hold which modules, with expiry
// and grace-period semantics.
type EntitlementManager struct {
	base
	modules      domain.ModuleRepository
	entitlements domain.EntitlementRepository
	tenants      domain.TenantRepository
	transitions  domain.EntitlementTransitionValidator
	audit        domain.AuditLog
	graceDays    int
}

// NewEntitlementManager creates the manager. graceDays is added to every
// expiry to compute the end of the grace window.
func NewEntitlementManager(
	modules domain.ModuleRepository,
	entitlements domain.EntitlementRepository,
	tenants domain.TenantRepository,
	transitions domain.EntitlementTransitionValidator,
	audit domain.AuditLog,
	graceDays int,
	opts ...Option,
) *EntitlementManager {
	return &EntitlementManager{
		base:         newBase(opts),
		modules:      modules,
		entitlements: entitlements,
		tenants:      tenants,
		transitions:  transitions,
		audit:        audit,
		graceDays:    graceDays,
	}
}

// RegisterModule inserts the module or updates the one with the same slug.
func (m *EntitlementManager) RegisterModule(ctx context.Context, in ModuleInput) (domain.Module, error) {
	slug := domain.Slugify(in.Slug)
	if slug == "" {
		slug = domain.Slugify(in.Name)
	}

	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "module name is required")
	}
	if slug == "" {
		problems = append(problems, "module slug is required")
	}
	status := in.Status
	switch status {
	case "":
		status = domain.ModuleActive
	case domain.ModuleActive, domain.ModuleInactive, domain.ModuleDeprecated:
	default:
		problems = append(problems, fmt.Sprintf("unknown module status %q", status))
	}
	if len(problems) > 0 {
		return domain.Module{}, &domain.ValidationError{Errors: problems}
	}

	version := in.Version
	if version == "" {
		version = "1.0.0"
	}

	now := m.now()
	module, err := m.modules.Upsert(ctx, domain.Module{
		Name:        strings.TrimSpace(in.Name),
		Slug:        slug,
		Path:        in.Path,
		ProductRef:  in.ProductRef,
		Description: in.Description,
		Version:     version,
		Requires:    in.Requires,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Module{}, fmt.Errorf("registering module %q: %w", slug, err)
	}

	if in.ProductRef != "" {
		if err := m.modules.MapProduct(ctx, in.ProductRef, slug); err != nil {
			return module, fmt.Errorf("mapping product %q: %w", in.ProductRef, err)
		}
	}

	m.logger.Info("module registered", zap.String("slug", slug), zap.Int64("module_id", module.ID))
	return module, nil
}

// Module returns a module by id.
func (m *EntitlementManager) Module(ctx context.Context, id int64) (domain.Module, error) {
	return m.modules.Get(ctx, id)
}

// ModuleBySlug returns a module by slug.
func (m *EntitlementManager) ModuleBySlug(ctx context.Context, slug string) (domain.Module, error) {
	return m.modules.GetBySlug(ctx, slug)
}

// Modules lists modules, optionally restricted to one status.
func (m *EntitlementManager) Modules(ctx context.Context, status *domain.ModuleStatus) ([]domain.Module, error) {
	return m.modules.List(ctx, status)
}

// MapProduct routes purchases of productRef to the module with slug.
func (m *EntitlementManager) MapProduct(ctx context.Context, productRef, slug string) error {
	if _, err := m.modules.GetBySlug(ctx, slug); err != nil {
		return err
	}
	return m.modules.MapProduct(ctx, productRef, slug)
}

// ModuleForProduct resolves the module a product grants.
func (m *EntitlementManager) ModuleForProduct(ctx context.Context, productRef string) (domain.Module, error) {
	slug, err := m.modules.ModuleSlugForProduct(ctx, productRef)
	if err != nil {
		return domain.Module{}, err
	}
	return m.modules.GetBySlug(ctx, slug)
}

// Activate grants the module to the tenant. An existing entitlement for
// the pair is overwritten in place. The grace window is recomputed from
// expiresAt on every call.
func (m *EntitlementManager) Activate(ctx context.Context, tenantID, moduleID int64, subscriptionRef string, expiresAt *time.Time) (domain.Entitlement, error) {
	if _, err := m.tenants.Get(ctx, tenantID); err != nil {
		return domain.Entitlement{}, err
	}
	module, err := m.modules.Get(ctx, moduleID)
	if err != nil {
		return domain.Entitlement{}, err
	}

	existing, err := m.entitlements.Get(ctx, tenantID, moduleID)
	switch {
	case err == nil:
		if existing.Status != domain.EntitlementActive {
			if _, err := m.transitions.Apply(ctx, existing.Status, domain.EntitlementEventActivate); err != nil {
				return domain.Entitlement{}, err
			}
		}
	case errors.Is(err, domain.ErrEntitlementNotFound):
	default:
		return domain.Entitlement{}, err
	}

	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}
	saved, err := m.entitlements.Upsert(ctx, domain.Entitlement{
		TenantID:        tenantID,
		ModuleID:        moduleID,
		SubscriptionRef: subscriptionRef,
		Status:          domain.EntitlementActive,
		ActivatedAt:     m.now(),
		ExpiresAt:       expiresAt,
		GracePeriodEnds: domain.GraceEnd(expiresAt, m.graceDays),
	})
	if err != nil {
		return domain.Entitlement{}, fmt.Errorf("activating module %q: %w", module.Slug, err)
	}

	m.metrics.EntitlementTransition(domain.EntitlementActive)
	m.record(ctx, "module_activated", tenantID, map[string]any{
		"module":       module.Slug,
		"subscription": subscriptionRef,
	})
	m.logger.Info("module activated",
		zap.Int64("tenant_id", tenantID),
		zap.String("module", module.Slug),
	)
	return saved, nil
}

// Deactivate removes access to the module. Deactivating an inactive or
// cancelled entitlement is a no-op.
func (m *EntitlementManager) Deactivate(ctx context.Context, tenantID, moduleID int64) (domain.Entitlement, error) {
	e, err := m.change(ctx, tenantID, moduleID, func(e domain.Entitlement) (domain.EntitlementStatus, bool) {
		switch e.Status {
		case domain.EntitlementInactive, domain.EntitlementCancelled:
			return e.Status, false
		}
		return domain.EntitlementInactive, true
	})
	if err != nil {
		return domain.Entitlement{}, err
	}
	m.record(ctx, "module_deactivated", tenantID, map[string]any{"module_id": moduleID})
	return e, nil
}

// HasAccess decides whether the tenant may use the module now. When the
// stored status lags behind the clock it is reconciled the same way
// CheckExpired would.
func (m *EntitlementManager) HasAccess(ctx context.Context, tenantID, moduleID int64) (bool, error) {
	e, err := m.entitlements.Get(ctx, tenantID, moduleID)
	if errors.Is(err, domain.ErrEntitlementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := m.now()
	allowed := e.AccessAt(now)
	if target := e.Reconcile(now); target != e.Status {
		if _, err := m.move(ctx, e, target); err != nil {
			m.logger.Warn("reconciling entitlement on read",
				zap.Int64("tenant_id", tenantID),
				zap.Int64("module_id", moduleID),
				zap.Error(err),
			)
		}
	}
	return allowed, nil
}

// CheckExpired moves lapsed entitlements to expired and entitlements past
// their grace window to inactive. It returns the number of rows changed.
func (m *EntitlementManager) CheckExpired(ctx context.Context) (int, error) {
	now := m.now()
	due, err := m.entitlements.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing due entitlements: %w", err)
	}

	changed := 0
	for _, e := range due {
		target := e.Reconcile(now)
		if target == e.Status {
			continue
		}
		if _, err := m.move(ctx, e, target); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				m.logger.Debug("entitlement changed during sweep", zap.Int64("entitlement_id", e.ID))
				continue
			}
			return changed, err
		}
		changed++
	}

	if changed > 0 {
		m.logger.Info("entitlement sweep finished", zap.Int("changed", changed))
	}
	return changed, nil
}

// ActiveModules returns the entitlements that currently grant access,
// joined with their modules.
func (m *EntitlementManager) ActiveModules(ctx context.Context, tenantID int64) ([]domain.ModuleEntitlement, error) {
	all, err := m.entitlements.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]domain.ModuleEntitlement, 0, len(all))
	for _, me := range all {
		if me.AccessAt(now) {
			out = append(out, me)
		}
	}
	return out, nil
}

// ModuleStatuses returns every catalogue module with the tenant's live
// access decision.
func (m *EntitlementManager) ModuleStatuses(ctx context.Context, tenantID int64) ([]ModuleAccess, error) {
	modules, err := m.modules.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	held, err := m.entitlements.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byModule := make(map[int64]domain.Entitlement, len(held))
	for _, me := range held {
		byModule[me.ModuleID] = me.Entitlement
	}

	now := m.now()
	out := make([]ModuleAccess, 0, len(modules))
	for _, mod := range modules {
		access := ModuleAccess{Module: mod}
		if e, ok := byModule[mod.ID]; ok {
			access.Entitlement = &e
			access.HasAccess = e.AccessAt(now)
		}
		out = append(out, access)
	}
	return out, nil
}

// EntitlementBySlug returns the tenant's entitlement for the module slug.
func (m *EntitlementManager) EntitlementBySlug(ctx context.Context, tenantID int64, slug string) (domain.ModuleEntitlement, error) {
	module, err := m.modules.GetBySlug(ctx, slug)
	if err != nil {
		return domain.ModuleEntitlement{}, err
	}
	e, err := m.entitlements.Get(ctx, tenantID, module.ID)
	if err != nil {
		return domain.ModuleEntitlement{}, err
	}
	return domain.ModuleEntitlement{Entitlement: e, Module: module}, nil
}

// BySubscription lists the entitlements tied to a subscription.
func (m *EntitlementManager) BySubscription(ctx context.Context, ref string) ([]domain.Entitlement, error) {
	return m.entitlements.ListBySubscription(ctx, ref)
}

// ExpireSubscription marks every active entitlement of the subscription
// expired. Entitlements without a past expiry get one at now, which opens
// the grace window.
func (m *EntitlementManager) ExpireSubscription(ctx context.Context, ref string) (int, error) {
	now := m.now()
	return m.eachOfSubscription(ctx, ref, func(e domain.Entitlement) (domain.Entitlement, bool) {
		if e.Status != domain.EntitlementActive {
			return e, false
		}
		if e.ExpiresAt == nil || e.ExpiresAt.After(now) {
			e.ExpiresAt = &now
			e.GracePeriodEnds = domain.GraceEnd(&now, m.graceDays)
		}
		e.Status = domain.EntitlementExpired
		return e, true
	})
}

// CancelSubscription revokes every entitlement of the subscription
// immediately, bypassing grace.
func (m *EntitlementManager) CancelSubscription(ctx context.Context, ref string) (int, error) {
	return m.eachOfSubscription(ctx, ref, func(e domain.Entitlement) (domain.Entitlement, bool) {
		if e.Status == domain.EntitlementCancelled {
			return e, false
		}
		e.Status = domain.EntitlementCancelled
		return e, true
	})
}

// RenewSubscription extends every entitlement of the subscription to
// nextPayment and restores it to active.
func (m *EntitlementManager) RenewSubscription(ctx context.Context, ref string, nextPayment *time.Time) (int, error) {
	if nextPayment != nil {
		utc := nextPayment.UTC()
		nextPayment = &utc
	}
	return m.eachOfSubscription(ctx, ref, func(e domain.Entitlement) (domain.Entitlement, bool) {
		e.ExpiresAt = nextPayment
		e.GracePeriodEnds = domain.GraceEnd(nextPayment, m.graceDays)
		e.Status = domain.EntitlementActive
		return e, true
	})
}

// Stats counts entitlements by status.
func (m *EntitlementManager) Stats(ctx context.Context) (domain.EntitlementStats, error) {
	return m.entitlements.Stats(ctx)
}

// eachOfSubscription applies fn to every entitlement of the subscription
// and writes the ones it changed through the transition table. A row that
// fails does not stop the others; the failures are returned joined.
func (m *EntitlementManager) eachOfSubscription(ctx context.Context, ref string, fn func(domain.Entitlement) (domain.Entitlement, bool)) (int, error) {
	if ref == "" {
		return 0, &domain.ValidationError{Errors: []string{"subscription reference is required"}}
	}
	list, err := m.entitlements.ListBySubscription(ctx, ref)
	if err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for _, e := range list {
		target, ok, err := m.applyToRow(ctx, e, ref, fn)
		if err != nil {
			errs = append(errs, fmt.Errorf("updating entitlement %d: %w", e.ID, err))
			continue
		}
		if !ok {
			continue
		}
		m.record(ctx, "subscription_"+string(target), e.TenantID, map[string]any{
			"module_id":    e.ModuleID,
			"subscription": ref,
		})
		changed++
	}
	return changed, errors.Join(errs...)
}

// applyToRow writes fn's change to one entitlement. On a version conflict
// the row is re-read and fn applied again to the fresh copy.
func (m *EntitlementManager) applyToRow(ctx context.Context, e domain.Entitlement, ref string, fn func(domain.Entitlement) (domain.Entitlement, bool)) (domain.EntitlementStatus, bool, error) {
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			fresh, err := m.entitlements.Get(ctx, e.TenantID, e.ModuleID)
			if err != nil {
				return "", false, err
			}
			if fresh.SubscriptionRef != ref {
				return "", false, nil
			}
			e = fresh
		}
		next, ok := fn(e)
		if !ok {
			return "", false, nil
		}
		target := next.Status
		next.Status = e.Status
		_, err := m.move(ctx, next, target)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < maxWriteAttempts {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return target, true, nil
	}
}

// change re-reads the entitlement and moves it to the status pick returns,
// retrying on version conflicts.
func (m *EntitlementManager) change(ctx context.Context, tenantID, moduleID int64, pick func(domain.Entitlement) (domain.EntitlementStatus, bool)) (domain.Entitlement, error) {
	for attempt := 1; ; attempt++ {
		e, err := m.entitlements.Get(ctx, tenantID, moduleID)
		if err != nil {
			return domain.Entitlement{}, err
		}
		target, ok := pick(e)
		if !ok {
			return e, nil
		}
		saved, err := m.move(ctx, e, target)
		if errors.Is(err, domain.ErrVersionConflict) && attempt < maxWriteAttempts {
			continue
		}
		return saved, err
	}
}

// move writes e with status target, validating the change against the
// entitlement transition table. Other fields of e are written as given.
func (m *EntitlementManager) move(ctx context.Context, e domain.Entitlement, target domain.EntitlementStatus) (domain.Entitlement, error) {
	if e.Status != target {
		event, ok := domain.EventFor(domain.EntitlementTransitions, e.Status, target)
		if !ok {
			return domain.Entitlement{}, &domain.TransitionError{Event: "set " + string(target), Current: string(e.Status)}
		}
		dst, err := m.transitions.Apply(ctx, e.Status, event)
		if err != nil {
			return domain.Entitlement{}, err
		}
		e.Status = dst
		m.metrics.EntitlementTransition(dst)
	}
	now := m.now()
	e.LastChecked = &now
	return m.entitlements.Update(ctx, e)
}

func (m *EntitlementManager) record(ctx context.Context, action string, tenantID int64, details map[string]any) {
	entry := domain.AuditEntry{
		TenantID:   &tenantID,
		ActorID:    actorFrom(ctx),
		Action:     action,
		EntityType: "entitlement",
		EntityID:   tenantID,
		Details:    details,
		CreatedAt:  m.now(),
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.logger.Warn("writing audit entry", zap.String("action", action), zap.Error(err))
	}
}
