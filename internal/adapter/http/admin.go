package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

// AdminTokenHeader authenticates operator requests.
const AdminTokenHeader = "X-Admin-Token"

// adminAuth rejects requests without the configured operator token. An
// empty token disables the admin API entirely.
func adminAuth(api huma.API, token string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		got := ctx.Header(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "admin token required")
			return
		}
		next(ctx)
	}
}

// admin serves the operator API.
type admin struct {
	registry     *app.Registry
	queue        *app.ProvisioningQueue
	entitlements *app.EntitlementManager
	access       *app.AccessService
}

// --- Tenants ---

type TenantIDPath struct {
	ID int64 `path:"id" minimum:"1" doc:"Tenant ID"`
}

type CreateTenantInput struct {
	Body struct {
		Username    string `json:"username" doc:"Account login, also the default subdomain"`
		Password    string `json:"password" doc:"At least 12 characters"`
		Email       string `json:"email" format:"email"`
		FullName    string `json:"full_name,omitempty"`
		FirstName   string `json:"first_name,omitempty"`
		LastName    string `json:"last_name,omitempty"`
		AccountName string `json:"account_name,omitempty"`
		CompanyName string `json:"company_name,omitempty"`
		Phone       string `json:"phone,omitempty"`
		Address     string `json:"address,omitempty"`
		Subdomain   string `json:"subdomain,omitempty" doc:"Defaults to the slugified username"`
	}
}

type TenantOutput struct {
	Body TenantResponse
}

type ListTenantsInput struct {
	Status string `query:"status" enum:"pending,active,suspended,cancelled" doc:"Filter by status"`
	Search string `query:"search" doc:"Matches username, account name, company, subdomain or billing email"`
	SortBy string `query:"sort_by" default:"created_at"`
	Order  string `query:"order" enum:"asc,desc" default:"desc"`
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
	Offset int    `query:"offset" default:"0" minimum:"0"`
}

type ListTenantsOutput struct {
	Body struct {
		Tenants []TenantResponse `json:"tenants"`
		Total   int              `json:"total"`
	}
}

type UpdateTenantInput struct {
	TenantIDPath
	Body map[string]any `doc:"Partial update; unknown and immutable fields are ignored"`
}

type SetStatusInput struct {
	TenantIDPath
	Body struct {
		Status string `json:"status" enum:"pending,active,suspended,cancelled"`
	}
}

type DeleteTenantInput struct {
	TenantIDPath
	Hard bool `query:"hard" doc:"Back up, then permanently remove the tenant and its database"`
}

type DeleteTenantOutput struct {
	Body struct {
		Deleted    bool   `json:"deleted"`
		Hard       bool   `json:"hard"`
		BackupPath string `json:"backup_path,omitempty"`
	}
}

type AuditInput struct {
	TenantIDPath
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

type AuditOutput struct {
	Body []AuditEntryResponse
}

func registerAdminTenants(api huma.API, a *admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-tenant",
		Method:        http.MethodPost,
		Path:          "/tenants",
		Summary:       "Create a tenant and its owner account",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateTenantInput) (*TenantOutput, error) {
		b := input.Body
		tenant, err := a.registry.Create(ctx, app.TenantInput{
			FullName:    b.FullName,
			FirstName:   b.FirstName,
			LastName:    b.LastName,
			Email:       b.Email,
			Username:    b.Username,
			Password:    b.Password,
			AccountName: b.AccountName,
			CompanyName: b.CompanyName,
			Phone:       b.Phone,
			Address:     b.Address,
			Subdomain:   b.Subdomain,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "List tenants",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *ListTenantsInput) (*ListTenantsOutput, error) {
		filter := domain.ListFilter{
			Search: strings.TrimSpace(input.Search),
			SortBy: input.SortBy,
			Asc:    input.Order == "asc",
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.TenantStatus(input.Status)
			filter.Status = &s
		}

		tenants, err := a.registry.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}
		total, err := a.registry.Count(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &ListTenantsOutput{}
		out.Body.Tenants = mapSlice(tenants, toTenantResponse)
		out.Body.Total = total
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tenant",
		Method:      http.MethodGet,
		Path:        "/tenants/{id}",
		Summary:     "Get a tenant by ID",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDPath) (*TenantOutput, error) {
		tenant, err := a.registry.Get(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-tenant",
		Method:      http.MethodPatch,
		Path:        "/tenants/{id}",
		Summary:     "Update tenant profile, limits or metadata",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *UpdateTenantInput) (*TenantOutput, error) {
		tenant, err := a.registry.Update(ctx, input.ID, input.Body)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tenant-status",
		Method:      http.MethodPut,
		Path:        "/tenants/{id}/status",
		Summary:     "Move a tenant to another status",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *SetStatusInput) (*TenantOutput, error) {
		tenant, err := a.registry.SetStatus(ctx, input.ID, domain.TenantStatus(input.Body.Status))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-tenant",
		Method:      http.MethodDelete,
		Path:        "/tenants/{id}",
		Summary:     "Cancel a tenant, or remove it for good with hard=true",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *DeleteTenantInput) (*DeleteTenantOutput, error) {
		result, err := a.registry.Delete(ctx, input.ID, input.Hard)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &DeleteTenantOutput{}
		out.Body.Deleted = true
		out.Body.Hard = result.Hard
		out.Body.BackupPath = result.BackupPath
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "provision-tenant",
		Method:      http.MethodPost,
		Path:        "/tenants/{id}/provision",
		Summary:     "Provision the tenant database now, bypassing the queue",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDPath) (*TenantOutput, error) {
		tenant, err := a.registry.Provision(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-tenant-storage",
		Method:      http.MethodPost,
		Path:        "/tenants/{id}/storage",
		Summary:     "Recompute storage used from the tenant database",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantIDPath) (*TenantOutput, error) {
		tenant, err := a.registry.RefreshStorage(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantOutput{Body: toTenantResponse(tenant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-audit",
		Method:      http.MethodGet,
		Path:        "/tenants/{id}/audit",
		Summary:     "List the tenant's latest audit entries",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *AuditInput) (*AuditOutput, error) {
		entries, err := a.registry.AuditTrail(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AuditOutput{Body: mapSlice(entries, toAuditEntryResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-username",
		Method:      http.MethodGet,
		Path:        "/usernames/{username}",
		Summary:     "Check whether a username is available",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *UsernameInput) (*UsernameOutput, error) {
		res, err := a.registry.CheckUsername(ctx, input.Username)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &UsernameOutput{}
		out.Body.Available = res.Available
		out.Body.Subdomain = res.Subdomain
		out.Body.Errors = res.Errors
		out.Body.Suggestions = res.Suggestions
		return out, nil
	})
}

type UsernameInput struct {
	Username string `path:"username" maxLength:"60"`
}

type UsernameOutput struct {
	Body struct {
		Available   bool     `json:"available"`
		Subdomain   string   `json:"subdomain"`
		Errors      []string `json:"errors,omitempty"`
		Suggestions []string `json:"suggestions,omitempty"`
	}
}
