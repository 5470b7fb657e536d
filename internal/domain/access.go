package domain

import (
	"slices"
	"time"
)

// User is an identity from the user directory.
type User struct {
	ID           int64
	Login        string
	Email        string
	DisplayName  string
	FirstName    string
	LastName     string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// NewUser carries the fields needed to register an identity.
type NewUser struct {
	Login       string
	Email       string
	Password    string
	DisplayName string
	FirstName   string
	LastName    string
	Role        string
}

// APIKeyStatus is the state of an API key.
type APIKeyStatus string

const (
	APIKeyActive  APIKeyStatus = "active"
	APIKeyRevoked APIKeyStatus = "revoked"
)

// Permissions granted to API keys.
const (
	PermCheckLicense   = "check_license"
	PermTenantInfo     = "get_tenant_info"
	PermModuleStatus   = "get_module_status"
	PermVerifyAccess   = "verify_access"
	PermUpdateActivity = "update_activity"
)

// DefaultAPIKeyPermissions are granted when a key is generated without an
// explicit permission set.
var DefaultAPIKeyPermissions = []string{
	PermCheckLicense,
	PermTenantInfo,
	PermModuleStatus,
	PermVerifyAccess,
	PermUpdateActivity,
}

// APIKey is a tenant-scoped programmatic credential. The raw secret is
// only available at generation time.
type APIKey struct {
	ID          int64
	TenantID    int64
	Key         string
	SecretHash  string
	Permissions []string
	RateLimit   int
	LastUsed    *time.Time
	ExpiresAt   *time.Time
	Status      APIKeyStatus
	CreatedAt   time.Time
}

// SessionClaims are carried by a signed session token.
type SessionClaims struct {
	UserID    int64
	TenantID  int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal is the authenticated caller of an API operation.
type Principal struct {
	UserID      int64
	TenantID    int64
	APIKeyID    int64
	Permissions []string
}

// Can reports whether p holds perm. Session principals hold every permission.
func (p Principal) Can(perm string) bool {
	if p.APIKeyID == 0 {
		return true
	}
	return slices.Contains(p.Permissions, perm)
}

// CanAccessTenant reports whether p may act on tenantID. Principals not
// bound to a tenant may act on none.
func (p Principal) CanAccessTenant(tenantID int64) bool {
	return p.TenantID != 0 && p.TenantID == tenantID
}
