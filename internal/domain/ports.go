package domain

import (
	"context"
	"time"
)

// TenantRepository defines persistence operations for tenants.
// Update is compare-and-set on Version and returns ErrVersionConflict when
// the stored row moved on.
type TenantRepository interface {
	Create(ctx context.Context, tenant Tenant) (Tenant, error)
	Get(ctx context.Context, id int64) (Tenant, error)
	GetByUsername(ctx context.Context, username string) (Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (Tenant, error)
	GetByOwner(ctx context.Context, userID int64) (Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]Tenant, error)
	Count(ctx context.Context, filter ListFilter) (int, error)
	Update(ctx context.Context, tenant Tenant) (Tenant, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// IdentityStore is the user directory that owns logins and passwords.
type IdentityStore interface {
	CreateUser(ctx context.Context, user NewUser) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByLogin(ctx context.Context, login string) (User, error)
	DeleteUser(ctx context.Context, id int64) error
	LoginExists(ctx context.Context, login string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	VerifyPassword(ctx context.Context, login, password string) (User, error)
}

// QueueRepository persists provisioning queue items. Add reports false when
// an item for the tenant already exists.
type QueueRepository interface {
	Add(ctx context.Context, item QueueItem) (bool, error)
	Get(ctx context.Context, tenantID int64) (QueueItem, error)
	List(ctx context.Context) ([]QueueItem, error)
	Save(ctx context.Context, item QueueItem) error
	Remove(ctx context.Context, tenantID int64) (bool, error)
	RemoveFailed(ctx context.Context) (int, error)
	// RemoveOlderThan never removes failed items.
	RemoveOlderThan(ctx context.Context, before time.Time) (int, error)
	Clear(ctx context.Context) (int, error)
}

// LeaseStore grants named, expiring, exclusive leases. Acquire succeeds only
// when no unexpired lease with that name is held by someone else.
type LeaseStore interface {
	Acquire(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
	Current(ctx context.Context, name string, now time.Time) (Lease, bool, error)
}

// ModuleRepository persists the module catalogue and the product mapping.
type ModuleRepository interface {
	Upsert(ctx context.Context, module Module) (Module, error)
	Get(ctx context.Context, id int64) (Module, error)
	GetBySlug(ctx context.Context, slug string) (Module, error)
	List(ctx context.Context, status *ModuleStatus) ([]Module, error)
	MapProduct(ctx context.Context, productRef, slug string) error
	ModuleSlugForProduct(ctx context.Context, productRef string) (string, error)
}

// EntitlementRepository persists tenant module entitlements. Upsert inserts
// or overwrites the row for (TenantID, ModuleID); Update is compare-and-set
// on Version.
type EntitlementRepository interface {
	Get(ctx context.Context, tenantID, moduleID int64) (Entitlement, error)
	Upsert(ctx context.Context, e Entitlement) (Entitlement, error)
	Update(ctx context.Context, e Entitlement) (Entitlement, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]ModuleEntitlement, error)
	ListBySubscription(ctx context.Context, ref string) ([]Entitlement, error)
	ListDue(ctx context.Context, now time.Time) ([]Entitlement, error)
	Stats(ctx context.Context) (EntitlementStats, error)
}

// APIKeyRepository persists API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key APIKey) (APIKey, error)
	GetByKey(ctx context.Context, key string) (APIKey, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]APIKey, error)
	Revoke(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// AuditLog records and lists audit entries.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, tenantID int64, limit int) ([]AuditEntry, error)
}

// OrderLedger remembers which orders have been applied.
type OrderLedger interface {
	IsProcessed(ctx context.Context, orderRef string) (bool, error)
	MarkProcessed(ctx context.Context, order ProcessedOrder) error
}

// CredentialStore keeps tenant database credentials.
type CredentialStore interface {
	Put(ctx context.Context, tenantID int64, creds DatabaseCredentials) error
	Get(ctx context.Context, tenantID int64) (DatabaseCredentials, error)
	Delete(ctx context.Context, tenantID int64) error
}

// DatabaseProvisioner allocates and tears down isolated tenant databases.
// An empty username lets the provisioner derive one from the name.
type DatabaseProvisioner interface {
	CreateDatabase(ctx context.Context, name, username string) (DatabaseCredentials, error)
	DestroyDatabase(ctx context.Context, name, username string) error
	Backup(ctx context.Context, name string) (string, error)
	Size(ctx context.Context, name string) (int64, error)
}

// Notifier sends fire-and-forget notifications. It reports whether the
// message was accepted for delivery.
type Notifier interface {
	Send(ctx context.Context, event NotificationEvent, recipient string, data map[string]any) bool
}

// PassTrigger asks for a provisioning queue pass to run soon.
type PassTrigger interface {
	TriggerPass(ctx context.Context) error
}

// CommerceGateway reads orders and subscriptions from the commerce platform.
type CommerceGateway interface {
	Order(ctx context.Context, ref string) (Order, error)
	Subscription(ctx context.Context, ref string) (Subscription, error)
}

// TokenCodec signs and verifies session tokens.
type TokenCodec interface {
	Issue(claims SessionClaims) (string, error)
	Parse(token string) (SessionClaims, error)
}

// RateLimiter counts requests per key over a rolling window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// TransitionValidator checks whether an event is valid from the current
// state and returns the destination state.
type TransitionValidator[S ~string, E ~string] interface {
	Apply(ctx context.Context, current S, event E) (S, error)
}

// TenantTransitionValidator validates tenant lifecycle events.
type TenantTransitionValidator = TransitionValidator[TenantStatus, TenantEvent]

// EntitlementTransitionValidator validates entitlement lifecycle events.
type EntitlementTransitionValidator = TransitionValidator[EntitlementStatus, EntitlementEvent]
