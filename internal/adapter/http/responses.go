package http

import (
	"time"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

// TenantResponse is the API representation of a tenant.
type TenantResponse struct {
	ID           int64          `json:"id" doc:"Unique identifier"`
	UserID       int64          `json:"user_id" doc:"Owning identity user"`
	Username     string         `json:"username" doc:"Immutable account login"`
	AccountName  string         `json:"account_name"`
	CompanyName  string         `json:"company_name,omitempty"`
	Subdomain    string         `json:"subdomain"`
	DatabaseName string         `json:"database_name"`
	Status       string         `json:"status" doc:"Lifecycle state" enum:"pending,active,suspended,cancelled"`
	StorageUsed  int64          `json:"storage_used" doc:"Bytes used by the tenant database"`
	StorageLimit int64          `json:"storage_limit"`
	UserLimit    int            `json:"user_limit"`
	PhoneNumber  string         `json:"phone_number,omitempty"`
	Address      string         `json:"address,omitempty"`
	BillingEmail string         `json:"billing_email,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastLogin    *time.Time     `json:"last_login,omitempty"`
	Version      int            `json:"version"`
}

func toTenantResponse(t domain.Tenant) TenantResponse {
	metadata := map[string]any(t.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return TenantResponse{
		ID:           t.ID,
		UserID:       t.UserID,
		Username:     t.Username,
		AccountName:  t.AccountName,
		CompanyName:  t.CompanyName,
		Subdomain:    t.Subdomain,
		DatabaseName: t.DatabaseName,
		Status:       string(t.Status),
		StorageUsed:  t.StorageUsed,
		StorageLimit: t.StorageLimit,
		UserLimit:    t.UserLimit,
		PhoneNumber:  t.PhoneNumber,
		Address:      t.Address,
		BillingEmail: t.BillingEmail,
		Metadata:     metadata,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		LastLogin:    t.LastLogin,
		Version:      t.Version,
	}
}

// TenantSummary is the short tenant form returned to dashboards.
type TenantSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AccountName string `json:"account_name"`
	Subdomain   string `json:"subdomain"`
	Status      string `json:"status"`
}

func toTenantSummary(t domain.Tenant) TenantSummary {
	return TenantSummary{
		ID:          t.ID,
		Username:    t.Username,
		AccountName: t.AccountName,
		Subdomain:   t.Subdomain,
		Status:      string(t.Status),
	}
}

// UserSummary is the public view of an identity user.
type UserSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func toUserSummary(u domain.User) UserSummary {
	return UserSummary{ID: u.ID, Username: u.Login, Email: u.Email, DisplayName: u.DisplayName}
}

// ModuleResponse is the API representation of a catalogue module.
type ModuleResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Path        string    `json:"path,omitempty"`
	ProductRef  string    `json:"product_ref,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version,omitempty"`
	Requires    []string  `json:"requires"`
	Status      string    `json:"status" enum:"active,inactive,deprecated"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toModuleResponse(m domain.Module) ModuleResponse {
	requires := m.Requires
	if requires == nil {
		requires = []string{}
	}
	return ModuleResponse{
		ID:          m.ID,
		Name:        m.Name,
		Slug:        m.Slug,
		Path:        m.Path,
		ProductRef:  m.ProductRef,
		Description: m.Description,
		Version:     m.Version,
		Requires:    requires,
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// EntitlementResponse is a tenant's hold on a module.
type EntitlementResponse struct {
	ID              int64      `json:"id"`
	TenantID        int64      `json:"tenant_id"`
	ModuleID        int64      `json:"module_id"`
	SubscriptionRef string     `json:"subscription_ref,omitempty"`
	Status          string     `json:"status" enum:"active,inactive,expired,cancelled"`
	ActivatedAt     time.Time  `json:"activated_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" doc:"Null for lifetime access"`
	GracePeriodEnds *time.Time `json:"grace_period_ends,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
}

func toEntitlementResponse(e domain.Entitlement) EntitlementResponse {
	return EntitlementResponse{
		ID:              e.ID,
		TenantID:        e.TenantID,
		ModuleID:        e.ModuleID,
		SubscriptionRef: e.SubscriptionRef,
		Status:          string(e.Status),
		ActivatedAt:     e.ActivatedAt,
		ExpiresAt:       e.ExpiresAt,
		GracePeriodEnds: e.GracePeriodEnds,
		LastChecked:     e.LastChecked,
	}
}

// ModuleStatusResponse is one catalogue module with the tenant's live access.
type ModuleStatusResponse struct {
	Slug            string     `json:"slug"`
	Name            string     `json:"name"`
	Status          string     `json:"status" doc:"Entitlement status, or none when the tenant never held the module"`
	HasAccess       bool       `json:"has_access"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	GracePeriodEnds *time.Time `json:"grace_period_ends,omitempty"`
}

func toModuleStatus(a app.ModuleAccess) ModuleStatusResponse {
	out := ModuleStatusResponse{
		Slug:      a.Module.Slug,
		Name:      a.Module.Name,
		Status:    "none",
		HasAccess: a.HasAccess,
	}
	if e := a.Entitlement; e != nil {
		activated := e.ActivatedAt
		out.Status = string(e.Status)
		out.ActivatedAt = &activated
		out.ExpiresAt = e.ExpiresAt
		out.GracePeriodEnds = e.GracePeriodEnds
	}
	return out
}

// QueueItemResponse is one provisioning queue entry.
type QueueItemResponse struct {
	TenantID  int64     `json:"tenant_id"`
	Priority  int       `json:"priority"`
	AddedAt   time.Time `json:"added_at"`
	Attempts  int       `json:"attempts"`
	Status    string    `json:"status" enum:"pending,retrying,failed"`
	LastError string    `json:"last_error,omitempty"`
}

func toQueueItemResponse(item domain.QueueItem) QueueItemResponse {
	return QueueItemResponse{
		TenantID:  item.TenantID,
		Priority:  item.Priority,
		AddedAt:   item.AddedAt,
		Attempts:  item.Attempts,
		Status:    string(item.Status),
		LastError: item.LastError,
	}
}

// APIKeyResponse never carries the secret.
type APIKeyResponse struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Key         string     `json:"key"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit" doc:"Requests per hour"`
	Status      string     `json:"status" enum:"active,revoked"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toAPIKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		TenantID:    k.TenantID,
		Key:         k.Key,
		Permissions: k.Permissions,
		RateLimit:   k.RateLimit,
		Status:      string(k.Status),
		LastUsed:    k.LastUsed,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
	}
}

// AuditEntryResponse is one audit record.
type AuditEntryResponse struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

func toAuditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
		CreatedAt:  e.CreatedAt,
	}
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
