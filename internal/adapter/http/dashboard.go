package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

// dashboard serves the API consumed by tenant dashboards and programmatic
// clients.
type dashboard struct {
	access       *app.AccessService
	registry     *app.Registry
	entitlements *app.EntitlementManager
	identity     domain.IdentityStore
	logger       *zap.Logger
	now          func() time.Time
}

// authenticate resolves the Authorization header and checks perm against
// tenantID. The returned context carries the caller for audit entries.
func (d *dashboard) authenticate(ctx context.Context, header string, tenantID int64, perm string) (context.Context, error) {
	principal, err := d.access.Authenticate(ctx, header)
	if err != nil {
		return ctx, toHumaError(err)
	}
	if err := d.access.Authorize(principal, tenantID, perm); err != nil {
		return ctx, toHumaError(err)
	}
	return app.WithActor(ctx, principal.UserID), nil
}

// --- Validate session ---

type ValidateSessionInput struct {
	Body struct {
		Token     string `json:"token" minLength:"1" doc:"Session token"`
		Subdomain string `json:"subdomain,omitempty" doc:"Tenant to validate against; defaults to the token's tenant"`
	}
}

type ValidateSessionOutput struct {
	Body struct {
		Valid  bool          `json:"valid"`
		User   UserSummary   `json:"user"`
		Tenant TenantSummary `json:"tenant"`
	}
}

// --- Check license ---

type CheckLicenseInput struct {
	Authorization string `header:"Authorization" doc:"Bearer <token> or ApiKey <key>"`
	Body          struct {
		TenantID   int64  `json:"tenant_id" minimum:"1"`
		ModuleSlug string `json:"module_slug" minLength:"1"`
	}
}

type LicenseDetail struct {
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Version     string     `json:"version,omitempty"`
	Status      string     `json:"status"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type CheckLicenseOutput struct {
	Body struct {
		Valid  bool          `json:"valid"`
		Module LicenseDetail `json:"module"`
	}
}

// --- Tenant info ---

type TenantInfoInput struct {
	Authorization string `header:"Authorization"`
	TenantID      int64  `query:"tenant_id" doc:"Tenant id; either this or subdomain is required"`
	Subdomain     string `query:"subdomain"`
}

type ActiveModule struct {
	Slug      string     `json:"slug"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type TenantInfoOutput struct {
	Body struct {
		Tenant  TenantResponse `json:"tenant"`
		User    *UserSummary   `json:"user,omitempty"`
		Modules []ActiveModule `json:"modules"`
	}
}

// --- Module status ---

type ModuleStatusInput struct {
	Authorization string `header:"Authorization"`
	TenantID      int64  `query:"tenant_id" required:"true" minimum:"1"`
}

type ModuleStatusOutput struct {
	Body struct {
		TenantID  int64                  `json:"tenant_id"`
		Modules   []ModuleStatusResponse `json:"modules"`
		CheckedAt time.Time              `json:"checked_at"`
	}
}

// --- Verify access ---

type VerifyAccessInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		TenantID int64 `json:"tenant_id" minimum:"1"`
		UserID   int64 `json:"user_id" minimum:"1"`
	}
}

type VerifyAccessOutput struct {
	Body struct {
		Access   bool   `json:"access"`
		TenantID int64  `json:"tenant_id"`
		Status   string `json:"status"`
		Message  string `json:"message,omitempty"`
	}
}

// --- Activity ---

type ActivityInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		TenantID int64          `json:"tenant_id" minimum:"1"`
		Type     string         `json:"type,omitempty" doc:"Activity kind, logged when present"`
		Data     map[string]any `json:"data,omitempty"`
	}
}

type ActivityOutput struct {
	Body struct {
		Success   bool      `json:"success"`
		Timestamp time.Time `json:"timestamp"`
	}
}

func registerDashboard(api huma.API, d *dashboard) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-session",
		Method:      http.MethodPost,
		Path:        "/api/v1/validate-session",
		Summary:     "Validate a dashboard session token",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *ValidateSessionInput) (*ValidateSessionOutput, error) {
		session, err := d.access.ValidateSession(ctx, input.Body.Token, input.Body.Subdomain)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &ValidateSessionOutput{}
		out.Body.Valid = true
		out.Body.User = toUserSummary(session.User)
		out.Body.Tenant = toTenantSummary(session.Tenant)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-license",
		Method:      http.MethodPost,
		Path:        "/api/v1/check-license",
		Summary:     "Check a tenant's license for a module",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *CheckLicenseInput) (*CheckLicenseOutput, error) {
		ctx, err := d.authenticate(ctx, input.Authorization, input.Body.TenantID, domain.PermCheckLicense)
		if err != nil {
			return nil, err
		}

		module, err := d.entitlements.ModuleBySlug(ctx, input.Body.ModuleSlug)
		if err != nil {
			return nil, toHumaError(err)
		}
		ok, err := d.entitlements.HasAccess(ctx, input.Body.TenantID, module.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		if !ok {
			return nil, huma.Error403Forbidden("no active license for module " + module.Slug)
		}
		held, err := d.entitlements.EntitlementBySlug(ctx, input.Body.TenantID, module.Slug)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &CheckLicenseOutput{}
		out.Body.Valid = true
		out.Body.Module = LicenseDetail{
			Slug:        module.Slug,
			Name:        module.Name,
			Version:     module.Version,
			Status:      string(held.Status),
			ActivatedAt: held.ActivatedAt,
			ExpiresAt:   held.ExpiresAt,
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-info",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenant-info",
		Summary:     "Get a tenant with its active modules",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *TenantInfoInput) (*TenantInfoOutput, error) {
		var tenant domain.Tenant
		var err error
		switch {
		case input.TenantID > 0:
			tenant, err = d.registry.Get(ctx, input.TenantID)
		case input.Subdomain != "":
			tenant, err = d.registry.GetBySubdomain(ctx, input.Subdomain)
		default:
			return nil, huma.Error400BadRequest("tenant_id or subdomain is required")
		}
		// Authenticate before revealing whether the tenant exists.
		authCtx, authErr := d.authenticate(ctx, input.Authorization, tenant.ID, domain.PermTenantInfo)
		if authErr != nil {
			return nil, authErr
		}
		if err != nil {
			return nil, toHumaError(err)
		}

		active, err := d.entitlements.ActiveModules(authCtx, tenant.ID)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &TenantInfoOutput{}
		out.Body.Tenant = toTenantResponse(tenant)
		if user, err := d.identity.GetUser(authCtx, tenant.UserID); err == nil {
			summary := toUserSummary(user)
			out.Body.User = &summary
		}
		out.Body.Modules = mapSlice(active, func(me domain.ModuleEntitlement) ActiveModule {
			return ActiveModule{
				Slug:      me.Module.Slug,
				Name:      me.Module.Name,
				Status:    string(me.Status),
				ExpiresAt: me.ExpiresAt,
			}
		})
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "module-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/module-status",
		Summary:     "List every module with the tenant's live access",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *ModuleStatusInput) (*ModuleStatusOutput, error) {
		ctx, err := d.authenticate(ctx, input.Authorization, input.TenantID, domain.PermModuleStatus)
		if err != nil {
			return nil, err
		}
		if _, err := d.registry.Get(ctx, input.TenantID); err != nil {
			return nil, toHumaError(err)
		}
		statuses, err := d.entitlements.ModuleStatuses(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &ModuleStatusOutput{}
		out.Body.TenantID = input.TenantID
		out.Body.Modules = mapSlice(statuses, toModuleStatus)
		out.Body.CheckedAt = d.now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-access",
		Method:      http.MethodPost,
		Path:        "/api/v1/verify-access",
		Summary:     "Check whether a user may open the tenant dashboard",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *VerifyAccessInput) (*VerifyAccessOutput, error) {
		ctx, err := d.authenticate(ctx, input.Authorization, input.Body.TenantID, domain.PermVerifyAccess)
		if err != nil {
			return nil, err
		}
		tenant, err := d.registry.Get(ctx, input.Body.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &VerifyAccessOutput{}
		out.Body.TenantID = tenant.ID
		out.Body.Status = string(tenant.Status)
		switch {
		case tenant.UserID != input.Body.UserID:
			out.Body.Message = "user does not belong to this tenant"
		case tenant.Status != domain.TenantActive:
			out.Body.Message = "tenant account is " + string(tenant.Status)
		default:
			out.Body.Access = true
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-activity",
		Method:      http.MethodPost,
		Path:        "/api/v1/activity",
		Summary:     "Record tenant activity",
		Tags:        []string{"Dashboard"},
	}, func(ctx context.Context, input *ActivityInput) (*ActivityOutput, error) {
		ctx, err := d.authenticate(ctx, input.Authorization, input.Body.TenantID, domain.PermUpdateActivity)
		if err != nil {
			return nil, err
		}
		if err := d.registry.TouchLastLogin(ctx, input.Body.TenantID); err != nil {
			d.logger.Warn("recording tenant activity", zap.Int64("tenant_id", input.Body.TenantID), zap.Error(err))
		}
		if input.Body.Type != "" {
			d.logger.Info("tenant activity",
				zap.Int64("tenant_id", input.Body.TenantID),
				zap.String("type", input.Body.Type),
				zap.Any("data", input.Body.Data),
			)
		}

		out := &ActivityOutput{}
		out.Body.Success = true
		out.Body.Timestamp = d.now().UTC()
		return out, nil
	})
}
