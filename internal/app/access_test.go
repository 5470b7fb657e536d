package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

func activeTenant(t *testing.T, e *env, username string) domain.Tenant {
	t.Helper()
	tenant := createTenants(t, e, username)[0]
	tenant, err := e.registry.Provision(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	return tenant
}

func TestLoginAndValidateSession(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")

	session, err := e.access.Login(ctx, "ada", validInput("ada").Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Tenant.ID != tenant.ID {
		t.Errorf("session tenant = %d, want %d", session.Tenant.ID, tenant.ID)
	}

	for _, subdomain := range []string{"", "ada", "ada.example.com"} {
		got, err := e.access.ValidateSession(ctx, session.Token, subdomain)
		if err != nil {
			t.Errorf("ValidateSession(%q): %v", subdomain, err)
			continue
		}
		if got.User.Login != "ada" {
			t.Errorf("user = %q, want %q", got.User.Login, "ada")
		}
	}

	stored, _ := e.registry.Get(ctx, tenant.ID)
	if stored.LastLogin == nil {
		t.Error("LastLogin not recorded")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	e := newEnv(t, envConfig{})
	activeTenant(t, e, "ada")

	for _, login := range []string{"ada", "nobody"} {
		_, err := e.access.Login(context.Background(), login, "not-the-password")
		var authErr *domain.AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("Login(%q) = %v, want AuthError", login, err)
		}
	}
}

func TestLogin_UserWithoutTenant(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	victim := activeTenant(t, e, "ada")
	user, err := e.identity.CreateUser(ctx, domain.NewUser{Login: "drifter", Email: "drifter@example.com", Password: "Sup3r$ecurePass!"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err = e.access.Login(ctx, "drifter", "Sup3r$ecurePass!")
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || !authErr.Forbidden {
		t.Fatalf("Login = %v, want forbidden AuthError", err)
	}

	// A token minted without a tenant reaches no tenant.
	token, _, err := e.access.IssueToken(user.ID, 0)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	p, err := e.access.Authenticate(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := e.access.Authorize(p, victim.ID, domain.PermTenantInfo); !errors.As(err, &authErr) || !authErr.Forbidden {
		t.Errorf("Authorize(tenantless, %d) = %v, want forbidden AuthError", victim.ID, err)
	}
}

func TestValidateSession_Failures(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	ada := activeTenant(t, e, "ada")
	grace := activeTenant(t, e, "grace")
	session, _ := e.access.Login(ctx, "ada", validInput("ada").Password)

	var authErr *domain.AuthError

	_, err := e.access.ValidateSession(ctx, "forged", "")
	if !errors.As(err, &authErr) || authErr.Forbidden {
		t.Errorf("forged token: %v, want 401 AuthError", err)
	}

	_, err = e.access.ValidateSession(ctx, session.Token, "missing")
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("unknown subdomain: %v, want ErrTenantNotFound", err)
	}

	_, err = e.access.ValidateSession(ctx, session.Token, grace.Subdomain)
	if !errors.As(err, &authErr) || !authErr.Forbidden {
		t.Errorf("foreign tenant: %v, want forbidden", err)
	}

	if _, err := e.registry.SetStatus(ctx, ada.ID, domain.TenantSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err = e.access.ValidateSession(ctx, session.Token, "")
	if !errors.As(err, &authErr) || !authErr.Forbidden {
		t.Errorf("suspended tenant: %v, want forbidden", err)
	}

	e.clock.Advance(25 * time.Hour)
	_, err = e.access.ValidateSession(ctx, session.Token, "")
	if !errors.As(err, &authErr) || authErr.Forbidden {
		t.Errorf("expired token: %v, want 401 AuthError", err)
	}
}

func TestAuthenticate_Bearer(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")
	session, _ := e.access.Login(ctx, "ada", validInput("ada").Password)

	p, err := e.access.Authenticate(ctx, "Bearer "+session.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TenantID != tenant.ID || p.APIKeyID != 0 {
		t.Errorf("principal = %+v", p)
	}
	if err := e.access.Authorize(p, tenant.ID, domain.PermCheckLicense); err != nil {
		t.Errorf("Authorize own tenant: %v", err)
	}
	if err := e.access.Authorize(p, tenant.ID+1, domain.PermCheckLicense); err == nil {
		t.Error("session principal authorized for another tenant")
	}

	for _, header := range []string{"", "Bearer", "Basic dXNlcjpwdw==", "Bearer nope"} {
		if _, err := e.access.Authenticate(ctx, header); err == nil {
			t.Errorf("Authenticate(%q) accepted", header)
		}
	}
}

func TestAPIKeys(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")

	key, err := e.access.GenerateAPIKey(ctx, tenant.ID, []string{domain.PermCheckLicense}, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if key.Secret == "" || key.SecretHash == "" || key.SecretHash == key.Secret {
		t.Error("secret not generated and hashed")
	}

	p, err := e.access.Authenticate(ctx, "ApiKey "+key.Key+":"+key.Secret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.TenantID != tenant.ID || p.APIKeyID != key.ID {
		t.Errorf("principal = %+v", p)
	}
	if err := e.access.Authorize(p, tenant.ID, domain.PermCheckLicense); err != nil {
		t.Errorf("Authorize check_license: %v", err)
	}
	if err := e.access.Authorize(p, tenant.ID, domain.PermTenantInfo); err == nil {
		t.Error("key authorized without permission")
	}

	stored, _ := e.keys.GetByKey(ctx, key.Key)
	if stored.LastUsed == nil {
		t.Error("LastUsed not recorded")
	}

	if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key+":wrong"); err == nil {
		t.Error("wrong secret accepted")
	}

	if err := e.access.RevokeAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key); err == nil {
		t.Error("revoked key accepted")
	}

	if _, err := e.access.GenerateAPIKey(ctx, tenant.ID, []string{"delete_everything"}, 0); err == nil {
		t.Error("unknown permission accepted")
	}
}

func TestAPIKey_Expiry(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")
	key, _ := e.access.GenerateAPIKey(ctx, tenant.ID, nil, time.Hour)

	if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key); err != nil {
		t.Fatalf("fresh key rejected: %v", err)
	}
	e.clock.Advance(2 * time.Hour)
	if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key); err == nil {
		t.Error("expired key accepted")
	}
	stored, _ := e.keys.GetByKey(ctx, key.Key)
	if stored.Status != domain.APIKeyRevoked {
		t.Errorf("Status = %q, want %q", stored.Status, domain.APIKeyRevoked)
	}
}

func TestAPIKey_RateLimit(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")
	key, _ := e.access.GenerateAPIKey(ctx, tenant.ID, nil, 0)
	stored := e.keys.keys[key.ID]
	stored.RateLimit = 2
	e.keys.keys[key.ID] = stored

	for i := range 2 {
		if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	_, err := e.access.Authenticate(ctx, "ApiKey "+key.Key)
	var rlErr *domain.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("third request = %v, want RateLimitError", err)
	}
	if rlErr.Limit != 2 {
		t.Errorf("Limit = %d, want 2", rlErr.Limit)
	}
}

func TestAPIKey_LimiterOutageFailsOpen(t *testing.T) {
	e := newEnv(t, envConfig{})
	ctx := context.Background()
	tenant := activeTenant(t, e, "ada")
	key, _ := e.access.GenerateAPIKey(ctx, tenant.ID, nil, 0)
	e.limiter.err = errors.New("redis: connection refused")

	if _, err := e.access.Authenticate(ctx, "ApiKey "+key.Key); err != nil {
		t.Errorf("limiter outage rejected request: %v", err)
	}
}

func TestIssueToken(t *testing.T) {
	e := newEnv(t, envConfig{})

	_, claims, err := e.access.IssueToken(7, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := epoch.Add(app.DefaultAccessSettings().SessionTTL); !claims.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, want)
	}
}
