package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/tenantgate/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

func mustModule(t *testing.T, repo *sqlite.ModuleRepository, slug, name string) domain.Module {
	t.Helper()
	m, err := repo.Upsert(context.Background(), domain.Module{
		Name:      name,
		Slug:      slug,
		Version:   "1.0.0",
		Requires:  []string{"core"},
		Status:    domain.ModuleActive,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("Upsert module failed: %v", err)
	}
	return m
}

func TestModules_UpsertBySlug(t *testing.T) {
	repo := newTestStore(t).Modules()
	ctx := context.Background()

	first := mustModule(t, repo, "crm", "CRM")
	if first.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	if len(first.Requires) != 1 || first.Requires[0] != "core" {
		t.Errorf("Requires = %v, want [core]", first.Requires)
	}

	second, err := repo.Upsert(ctx, domain.Module{
		Name:      "CRM Pro",
		Slug:      "crm",
		Version:   "2.0.0",
		Status:    domain.ModuleDeprecated,
		CreatedAt: epoch.Add(time.Hour),
		UpdatedAt: epoch.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("ID = %d, want %d", second.ID, first.ID)
	}
	if second.Name != "CRM Pro" || second.Version != "2.0.0" {
		t.Errorf("module not overwritten: %+v", second)
	}
	if !second.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want original %v", second.CreatedAt, epoch)
	}

	byID, err := repo.Get(ctx, first.ID)
	if err != nil || byID.Slug != "crm" {
		t.Errorf("Get = %+v, %v", byID, err)
	}
	if _, err := repo.GetBySlug(ctx, "missing"); !errors.Is(err, domain.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestModules_ListByStatus(t *testing.T) {
	repo := newTestStore(t).Modules()
	ctx := context.Background()

	mustModule(t, repo, "crm", "CRM")
	mustModule(t, repo, "billing", "Billing")
	if _, err := repo.Upsert(ctx, domain.Module{Name: "Legacy", Slug: "legacy", Status: domain.ModuleDeprecated}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	all, err := repo.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].Slug != "billing" {
		t.Errorf("List(nil) = %d modules starting %q, want 3 starting billing", len(all), all[0].Slug)
	}

	active := domain.ModuleActive
	onlyActive, _ := repo.List(ctx, &active)
	if len(onlyActive) != 2 {
		t.Errorf("List(active) = %d modules, want 2", len(onlyActive))
	}
}

func TestModules_ProductMapping(t *testing.T) {
	repo := newTestStore(t).Modules()
	ctx := context.Background()

	if _, err := repo.ModuleSlugForProduct(ctx, "prod-1"); !errors.Is(err, domain.ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	if err := repo.MapProduct(ctx, "prod-1", "crm"); err != nil {
		t.Fatalf("MapProduct failed: %v", err)
	}
	if err := repo.MapProduct(ctx, "prod-1", "billing"); err != nil {
		t.Fatalf("remap failed: %v", err)
	}
	slug, err := repo.ModuleSlugForProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("ModuleSlugForProduct failed: %v", err)
	}
	if slug != "billing" {
		t.Errorf("slug = %q, want billing", slug)
	}
}

func entitlementFixture(t *testing.T) (*sqlite.Store, domain.Tenant, domain.Module) {
	t.Helper()
	store := newTestStore(t)
	tenant := mustCreate(t, store.Tenants(), newTenant("ada"))
	module := mustModule(t, store.Modules(), "crm", "CRM")
	return store, tenant, module
}

func TestEntitlements_UpsertAndUpdate(t *testing.T) {
	store, tenant, module := entitlementFixture(t)
	repo := store.Entitlements()
	ctx := context.Background()

	expires := epoch.AddDate(0, 1, 0)
	grace := domain.GraceEnd(&expires, 7)
	e, err := repo.Upsert(ctx, domain.Entitlement{
		TenantID:        tenant.ID,
		ModuleID:        module.ID,
		SubscriptionRef: "sub-1",
		Status:          domain.EntitlementActive,
		ActivatedAt:     epoch,
		ExpiresAt:       &expires,
		GracePeriodEnds: grace,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if e.Version != 1 {
		t.Errorf("Version = %d, want 1", e.Version)
	}
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", e.ExpiresAt, expires)
	}
	if e.GracePeriodEnds == nil || !e.GracePeriodEnds.Equal(*grace) {
		t.Errorf("GracePeriodEnds = %v, want %v", e.GracePeriodEnds, grace)
	}

	again, err := repo.Upsert(ctx, domain.Entitlement{
		TenantID: tenant.ID, ModuleID: module.ID, Status: domain.EntitlementActive, ActivatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if again.ID != e.ID || again.Version != 2 {
		t.Errorf("second Upsert = id %d version %d, want id %d version 2", again.ID, again.Version, e.ID)
	}
	if again.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil after perpetual activation", again.ExpiresAt)
	}

	again.Status = domain.EntitlementInactive
	updated, err := repo.Update(ctx, again)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 3 {
		t.Errorf("Version = %d, want 3", updated.Version)
	}
	if _, err := repo.Update(ctx, again); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("stale Update: expected ErrVersionConflict, got %v", err)
	}

	if _, err := repo.Get(ctx, tenant.ID, 999); !errors.Is(err, domain.ErrEntitlementNotFound) {
		t.Errorf("expected ErrEntitlementNotFound, got %v", err)
	}
}

func TestEntitlements_Queries(t *testing.T) {
	store, tenant, crm := entitlementFixture(t)
	repo := store.Entitlements()
	ctx := context.Background()
	billing := mustModule(t, store.Modules(), "billing", "Billing")
	wiki := mustModule(t, store.Modules(), "wiki", "Wiki")

	past := epoch.Add(-time.Hour)
	future := epoch.Add(time.Hour)
	graceEnd := epoch.AddDate(0, 0, 7)

	rows := []domain.Entitlement{
		{TenantID: tenant.ID, ModuleID: crm.ID, SubscriptionRef: "sub-1", Status: domain.EntitlementActive,
			ActivatedAt: epoch, ExpiresAt: &past, GracePeriodEnds: &graceEnd},
		{TenantID: tenant.ID, ModuleID: billing.ID, SubscriptionRef: "sub-1", Status: domain.EntitlementActive,
			ActivatedAt: epoch, ExpiresAt: &future},
		{TenantID: tenant.ID, ModuleID: wiki.ID, Status: domain.EntitlementExpired,
			ActivatedAt: epoch, ExpiresAt: &past, GracePeriodEnds: &graceEnd},
	}
	for _, e := range rows {
		if _, err := repo.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	joined, err := repo.ListByTenant(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListByTenant failed: %v", err)
	}
	if len(joined) != 3 {
		t.Fatalf("ListByTenant = %d rows, want 3", len(joined))
	}
	if joined[0].Module.Slug != "billing" || joined[0].ModuleID != billing.ID {
		t.Errorf("first row = %q/%d, want billing/%d", joined[0].Module.Slug, joined[0].ModuleID, billing.ID)
	}

	bySub, _ := repo.ListBySubscription(ctx, "sub-1")
	if len(bySub) != 2 {
		t.Errorf("ListBySubscription = %d rows, want 2", len(bySub))
	}

	due, err := repo.ListDue(ctx, epoch)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("ListDue = %d rows, want 2", len(due))
	}
	for _, e := range due {
		if e.ModuleID == billing.ID {
			t.Error("unexpired entitlement listed as due")
		}
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[domain.EntitlementActive] != 2 || stats.ByStatus[domain.EntitlementExpired] != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestEntitlements_CascadeOnTenantDelete(t *testing.T) {
	store, tenant, module := entitlementFixture(t)
	ctx := context.Background()

	if _, err := store.Entitlements().Upsert(ctx, domain.Entitlement{
		TenantID: tenant.ID, ModuleID: module.ID, Status: domain.EntitlementActive, ActivatedAt: epoch,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Tenants().Delete(ctx, tenant.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Entitlements().Get(ctx, tenant.ID, module.ID); !errors.Is(err, domain.ErrEntitlementNotFound) {
		t.Errorf("expected ErrEntitlementNotFound after tenant delete, got %v", err)
	}
}
