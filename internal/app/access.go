package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// AccessSettings configures session tokens and API keys.
type AccessSettings struct {
	SessionTTL   time.Duration
	KeyRateLimit int
	RateWindow   time.Duration
}

// DefaultAccessSettings returns a day-long session and an hourly budget of
// 1000 requests per API key.
func DefaultAccessSettings() AccessSettings {
	return AccessSettings{SessionTTL: 24 * time.Hour, KeyRateLimit: 1000, RateWindow: time.Hour}
}

// TenantDirectory is the tenant lookup the access service needs.
type TenantDirectory interface {
	Get(ctx context.Context, id int64) (domain.Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (domain.Tenant, error)
	GetByOwner(ctx context.Context, userID int64) (domain.Tenant, error)
	TouchLastLogin(ctx context.Context, id int64) error
}

// Session is an authenticated dashboard session.
type Session struct {
	Token  string
	Claims domain.SessionClaims
	User   domain.User
	Tenant domain.Tenant
}

// GeneratedKey is a freshly created API key. Secret is only ever returned
// here.
type GeneratedKey struct {
	domain.APIKey
	Secret string
}

// AccessService authenticates dashboard callers by session token or API key.
type AccessService struct {
	base
	tokens   domain.TokenCodec
	keys     domain.APIKeyRepository
	identity domain.IdentityStore
	tenants  TenantDirectory
	limiter  domain.RateLimiter
	settings AccessSettings
}

// NewAccessService creates the access service.
func NewAccessService(
	tokens domain.TokenCodec,
	keys domain.APIKeyRepository,
	identity domain.IdentityStore,
	tenants TenantDirectory,
	limiter domain.RateLimiter,
	settings AccessSettings,
	opts ...Option,
) *AccessService {
	return &AccessService{
		base:     newBase(opts),
		tokens:   tokens,
		keys:     keys,
		identity: identity,
		tenants:  tenants,
		limiter:  limiter,
		settings: settings,
	}
}

// IssueToken signs a session token for the user and tenant.
func (a *AccessService) IssueToken(userID, tenantID int64) (string, domain.SessionClaims, error) {
	now := a.now()
	claims := domain.SessionClaims{
		UserID:    userID,
		TenantID:  tenantID,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.settings.SessionTTL),
	}
	token, err := a.tokens.Issue(claims)
	if err != nil {
		return "", domain.SessionClaims{}, fmt.Errorf("issuing session token: %w", err)
	}
	return token, claims, nil
}

// Login verifies a username and password and opens a session bound to the
// user's tenant. Users who own no tenant are refused.
func (a *AccessService) Login(ctx context.Context, login, password string) (Session, error) {
	user, err := a.identity.VerifyPassword(ctx, login, password)
	if err != nil {
		var authErr *domain.AuthError
		if errors.Is(err, domain.ErrUserNotFound) || errors.As(err, &authErr) {
			a.metrics.AuthFailure("password")
			return Session{}, &domain.AuthError{Reason: "invalid username or password"}
		}
		return Session{}, err
	}

	tenant, err := a.tenants.GetByOwner(ctx, user.ID)
	if errors.Is(err, domain.ErrTenantNotFound) {
		a.metrics.AuthFailure("password")
		return Session{}, &domain.AuthError{Reason: "user has no tenant", Forbidden: true}
	}
	if err != nil {
		return Session{}, err
	}

	token, claims, err := a.IssueToken(user.ID, tenant.ID)
	if err != nil {
		return Session{}, err
	}
	a.logger.Info("session opened", zap.Int64("user_id", user.ID), zap.Int64("tenant_id", tenant.ID))
	return Session{Token: token, Claims: claims, User: user, Tenant: tenant}, nil
}

// ValidateSession checks a session token against its user and tenant. The
// tenant is the one named by subdomain when given, otherwise the one in the
// token, otherwise the one the user owns. On success the tenant's last
// login is updated.
func (a *AccessService) ValidateSession(ctx context.Context, token, subdomain string) (Session, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		a.metrics.AuthFailure("bearer")
		return Session{}, &domain.AuthError{Reason: "invalid or expired session token"}
	}

	user, err := a.identity.GetUser(ctx, claims.UserID)
	if err != nil {
		return Session{}, err
	}

	var tenant domain.Tenant
	switch {
	case subdomain != "":
		tenant, err = a.tenants.GetBySubdomain(ctx, subdomain)
	case claims.TenantID != 0:
		tenant, err = a.tenants.Get(ctx, claims.TenantID)
	default:
		tenant, err = a.tenants.GetByOwner(ctx, user.ID)
	}
	if err != nil {
		return Session{}, err
	}

	if tenant.UserID != user.ID {
		return Session{}, &domain.AuthError{Reason: "user is not a member of this tenant", Forbidden: true}
	}
	if tenant.Status != domain.TenantActive {
		return Session{}, &domain.AuthError{Reason: fmt.Sprintf("tenant is %s", tenant.Status), Forbidden: true}
	}

	if err := a.tenants.TouchLastLogin(ctx, tenant.ID); err != nil {
		a.logger.Warn("recording tenant login", zap.Int64("tenant_id", tenant.ID), zap.Error(err))
	}
	return Session{Token: token, Claims: claims, User: user, Tenant: tenant}, nil
}

// Authenticate resolves an Authorization header value of the form
// "Bearer <token>" or "ApiKey <key>[:<secret>]" to a principal.
func (a *AccessService) Authenticate(ctx context.Context, header string) (domain.Principal, error) {
	scheme, credential, _ := strings.Cut(strings.TrimSpace(header), " ")
	credential = strings.TrimSpace(credential)
	if credential == "" {
		a.metrics.AuthFailure("none")
		return domain.Principal{}, &domain.AuthError{Reason: "authorization required"}
	}

	switch strings.ToLower(scheme) {
	case "bearer":
		claims, err := a.tokens.Parse(credential)
		if err != nil {
			a.metrics.AuthFailure("bearer")
			return domain.Principal{}, &domain.AuthError{Reason: "invalid or expired session token"}
		}
		return domain.Principal{UserID: claims.UserID, TenantID: claims.TenantID}, nil
	case "apikey":
		p, err := a.authenticateKey(ctx, credential)
		if err != nil {
			a.metrics.AuthFailure("apikey")
		}
		return p, err
	default:
		a.metrics.AuthFailure("none")
		return domain.Principal{}, &domain.AuthError{Reason: fmt.Sprintf("unsupported authorization scheme %q", scheme)}
	}
}

func (a *AccessService) authenticateKey(ctx context.Context, credential string) (domain.Principal, error) {
	raw, secret, _ := strings.Cut(credential, ":")

	key, err := a.keys.GetByKey(ctx, raw)
	if errors.Is(err, domain.ErrAPIKeyNotFound) {
		return domain.Principal{}, &domain.AuthError{Reason: "invalid API key"}
	}
	if err != nil {
		return domain.Principal{}, err
	}

	if key.Status != domain.APIKeyActive {
		return domain.Principal{}, &domain.AuthError{Reason: "API key has been revoked"}
	}
	now := a.now()
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		if err := a.keys.Revoke(ctx, key.ID); err != nil {
			a.logger.Warn("revoking expired API key", zap.Int64("key_id", key.ID), zap.Error(err))
		}
		return domain.Principal{}, &domain.AuthError{Reason: "API key has expired"}
	}
	if secret != "" && bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return domain.Principal{}, &domain.AuthError{Reason: "invalid API key"}
	}

	limit := key.RateLimit
	if limit <= 0 {
		limit = a.settings.KeyRateLimit
	}
	allowed, err := a.limiter.Allow(ctx, "apikey:"+strconv.FormatInt(key.ID, 10), limit, a.settings.RateWindow)
	if err != nil {
		a.logger.Warn("rate limiter unavailable, allowing request", zap.Int64("key_id", key.ID), zap.Error(err))
		allowed = true
	}
	if !allowed {
		a.logger.Warn("API key rate limit exceeded", zap.Int64("key_id", key.ID), zap.Int("limit", limit))
		return domain.Principal{}, &domain.RateLimitError{Limit: limit, Window: a.settings.RateWindow}
	}

	if err := a.keys.TouchLastUsed(ctx, key.ID, now); err != nil {
		a.logger.Warn("recording API key use", zap.Int64("key_id", key.ID), zap.Error(err))
	}
	return domain.Principal{TenantID: key.TenantID, APIKeyID: key.ID, Permissions: key.Permissions}, nil
}

// Authorize checks that p may perform perm on tenantID.
func (a *AccessService) Authorize(p domain.Principal, tenantID int64, perm string) error {
	if !p.Can(perm) {
		return &domain.AuthError{Reason: fmt.Sprintf("missing permission %q", perm), Forbidden: true}
	}
	if !p.CanAccessTenant(tenantID) {
		return &domain.AuthError{Reason: fmt.Sprintf("not allowed to access tenant %d", tenantID), Forbidden: true}
	}
	return nil
}

// GenerateAPIKey creates a key for the tenant. An empty permission list
// grants the defaults and expiresIn of zero never expires.
func (a *AccessService) GenerateAPIKey(ctx context.Context, tenantID int64, permissions []string, expiresIn time.Duration) (GeneratedKey, error) {
	if _, err := a.tenants.Get(ctx, tenantID); err != nil {
		return GeneratedKey{}, err
	}
	if len(permissions) == 0 {
		permissions = domain.DefaultAPIKeyPermissions
	}
	for _, perm := range permissions {
		if !slices.Contains(domain.DefaultAPIKeyPermissions, perm) {
			return GeneratedKey{}, &domain.ValidationError{Errors: []string{fmt.Sprintf("unknown permission %q", perm)}}
		}
	}

	raw, err := generateToken("tg_", 20)
	if err != nil {
		return GeneratedKey{}, err
	}
	secret, err := generateToken("", 32)
	if err != nil {
		return GeneratedKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("hashing API key secret: %w", err)
	}

	now := a.now()
	key := domain.APIKey{
		TenantID:    tenantID,
		Key:         raw,
		SecretHash:  string(hash),
		Permissions: permissions,
		RateLimit:   a.settings.KeyRateLimit,
		Status:      domain.APIKeyActive,
		CreatedAt:   now,
	}
	if expiresIn > 0 {
		at := now.Add(expiresIn)
		key.ExpiresAt = &at
	}

	key, err = a.keys.Create(ctx, key)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("storing API key: %w", err)
	}
	a.logger.Info("API key generated", zap.Int64("tenant_id", tenantID), zap.Int64("key_id", key.ID))
	return GeneratedKey{APIKey: key, Secret: secret}, nil
}

// APIKeys lists the tenant's keys, newest first.
func (a *AccessService) APIKeys(ctx context.Context, tenantID int64) ([]domain.APIKey, error) {
	return a.keys.ListByTenant(ctx, tenantID)
}

// RevokeAPIKey revokes a key by id.
func (a *AccessService) RevokeAPIKey(ctx context.Context, id int64) error {
	if err := a.keys.Revoke(ctx, id); err != nil {
		return err
	}
	a.logger.Info("API key revoked", zap.Int64("key_id", id))
	return nil
}
