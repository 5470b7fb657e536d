package http

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

// --- Queue ---

type QueueListOutput struct {
	Body []QueueItemResponse
}

type QueueStatsOutput struct {
	Body struct {
		Total         int     `json:"total"`
		Pending       int     `json:"pending"`
		Retrying      int     `json:"retrying"`
		Failed        int     `json:"failed"`
		OldestSeconds float64 `json:"oldest_seconds"`
		IsProcessing  bool    `json:"is_processing"`
	}
}

type QueuePassOutput struct {
	Body struct {
		Skipped   bool `json:"skipped" doc:"Another pass held the lease"`
		Processed int  `json:"processed"`
		Failed    int  `json:"failed"`
	}
}

type QueueTenantPath struct {
	TenantID int64 `path:"tenant_id" minimum:"1"`
}

type EnqueueInput struct {
	QueueTenantPath
	Body struct {
		Priority int `json:"priority" default:"10" doc:"Lower runs first"`
	}
}

type EnqueueOutput struct {
	Body struct {
		Added bool `json:"added" doc:"False when the tenant was already queued"`
	}
}

type QueueItemOutput struct {
	Body QueueItemResponse
}

type ClearQueueInput struct {
	FailedOnly     bool `query:"failed_only"`
	OlderThanHours int  `query:"older_than_hours" minimum:"0" doc:"Only drop pending and retrying items queued this long ago"`
}

type RemovedOutput struct {
	Body struct {
		Removed int `json:"removed"`
	}
}

func registerAdminQueue(api huma.API, a *admin) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "List the provisioning queue in processing order",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, _ *struct{}) (*QueueListOutput, error) {
		items, err := a.queue.Items(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &QueueListOutput{Body: mapSlice(items, toQueueItemResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-stats",
		Method:      http.MethodGet,
		Path:        "/queue/stats",
		Summary:     "Summarise the provisioning queue",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, _ *struct{}) (*QueueStatsOutput, error) {
		stats, err := a.queue.Stats(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &QueueStatsOutput{}
		out.Body.Total = stats.Total
		out.Body.Pending = stats.Pending
		out.Body.Retrying = stats.Retrying
		out.Body.Failed = stats.Failed
		out.Body.OldestSeconds = stats.OldestAge.Seconds()
		out.Body.IsProcessing = stats.IsProcessing
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-queue",
		Method:      http.MethodPost,
		Path:        "/queue/run",
		Summary:     "Run a provisioning pass now",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, _ *struct{}) (*QueuePassOutput, error) {
		result, err := a.queue.RunPass(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &QueuePassOutput{}
		out.Body.Skipped = result.Skipped
		out.Body.Processed = result.Processed
		out.Body.Failed = result.Failed
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enqueue-tenant",
		Method:      http.MethodPost,
		Path:        "/queue/{tenant_id}",
		Summary:     "Queue a tenant for provisioning",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, input *EnqueueInput) (*EnqueueOutput, error) {
		if _, err := a.registry.Get(ctx, input.TenantID); err != nil {
			return nil, toHumaError(err)
		}
		added, err := a.queue.Enqueue(ctx, input.TenantID, input.Body.Priority)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &EnqueueOutput{}
		out.Body.Added = added
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-queue-item",
		Method:      http.MethodPost,
		Path:        "/queue/{tenant_id}/retry",
		Summary:     "Reset a queue item to pending with no attempts",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, input *QueueTenantPath) (*QueueItemOutput, error) {
		item, err := a.queue.Retry(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &QueueItemOutput{Body: toQueueItemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-queue-item",
		Method:        http.MethodDelete,
		Path:          "/queue/{tenant_id}",
		Summary:       "Remove a tenant from the queue",
		Tags:          []string{"Queue"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *QueueTenantPath) (*struct{}, error) {
		removed, err := a.queue.Remove(ctx, input.TenantID)
		if err != nil {
			return nil, toHumaError(err)
		}
		if !removed {
			return nil, toHumaError(domain.ErrQueueItemNotFound)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-queue",
		Method:      http.MethodDelete,
		Path:        "/queue",
		Summary:     "Clear the queue, only its failed items, or only stale items",
		Tags:        []string{"Queue"},
	}, func(ctx context.Context, input *ClearQueueInput) (*RemovedOutput, error) {
		var n int
		var err error
		switch {
		case input.FailedOnly:
			n, err = a.queue.ClearFailed(ctx)
		case input.OlderThanHours > 0:
			n, err = a.queue.CleanupOlderThan(ctx, time.Duration(input.OlderThanHours)*time.Hour)
		default:
			n, err = a.queue.Clear(ctx)
		}
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &RemovedOutput{}
		out.Body.Removed = n
		return out, nil
	})
}

// --- Modules and entitlements ---

type RegisterModuleInput struct {
	Body struct {
		Name        string   `json:"name" minLength:"1"`
		Slug        string   `json:"slug,omitempty" doc:"Defaults to the slugified name"`
		Path        string   `json:"path,omitempty" doc:"Integration path on the content platform"`
		ProductRef  string   `json:"product_ref,omitempty" doc:"Commerce product that grants this module"`
		Description string   `json:"description,omitempty"`
		Version     string   `json:"version,omitempty"`
		Requires    []string `json:"requires,omitempty"`
		Status      string   `json:"status,omitempty" enum:"active,inactive,deprecated"`
	}
}

type ModuleOutput struct {
	Body ModuleResponse
}

type ListModulesInput struct {
	Status string `query:"status" enum:"active,inactive,deprecated"`
}

type ListModulesOutput struct {
	Body []ModuleResponse
}

type MapProductInput struct {
	ProductRef string `path:"product_ref"`
	Body       struct {
		ModuleSlug string `json:"module_slug" minLength:"1"`
	}
}

type TenantModulePath struct {
	TenantID int64 `path:"id" minimum:"1"`
	ModuleID int64 `path:"module_id" minimum:"1"`
}

type ActivateInput struct {
	TenantModulePath
	Body struct {
		SubscriptionRef string     `json:"subscription_ref,omitempty"`
		ExpiresAt       *time.Time `json:"expires_at,omitempty" doc:"Omit for lifetime access"`
	}
}

type EntitlementOutput struct {
	Body EntitlementResponse
}

type TenantModulesOutput struct {
	Body []ModuleStatusResponse
}

type EntitlementStatsOutput struct {
	Body struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
}

type SweepOutput struct {
	Body struct {
		Changed int `json:"changed"`
	}
}

func registerAdminModules(api huma.API, a *admin) {
	huma.Register(api, huma.Operation{
		OperationID: "register-module",
		Method:      http.MethodPost,
		Path:        "/modules",
		Summary:     "Register a module or update the one with the same slug",
		Tags:        []string{"Modules"},
	}, func(ctx context.Context, input *RegisterModuleInput) (*ModuleOutput, error) {
		b := input.Body
		module, err := a.entitlements.RegisterModule(ctx, app.ModuleInput{
			Name:        b.Name,
			Slug:        b.Slug,
			Path:        b.Path,
			ProductRef:  b.ProductRef,
			Description: b.Description,
			Version:     b.Version,
			Requires:    b.Requires,
			Status:      domain.ModuleStatus(b.Status),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ModuleOutput{Body: toModuleResponse(module)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/modules",
		Summary:     "List the module catalogue",
		Tags:        []string{"Modules"},
	}, func(ctx context.Context, input *ListModulesInput) (*ListModulesOutput, error) {
		var status *domain.ModuleStatus
		if input.Status != "" {
			s := domain.ModuleStatus(input.Status)
			status = &s
		}
		modules, err := a.entitlements.Modules(ctx, status)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ListModulesOutput{Body: mapSlice(modules, toModuleResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "map-product",
		Method:        http.MethodPut,
		Path:          "/products/{product_ref}/module",
		Summary:       "Map a commerce product to the module it grants",
		Tags:          []string{"Modules"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *MapProductInput) (*struct{}, error) {
		if err := a.entitlements.MapProduct(ctx, input.ProductRef, input.Body.ModuleSlug); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tenant-modules",
		Method:      http.MethodGet,
		Path:        "/tenants/{id}/modules",
		Summary:     "List every module with the tenant's live access",
		Tags:        []string{"Entitlements"},
	}, func(ctx context.Context, input *TenantIDPath) (*TenantModulesOutput, error) {
		if _, err := a.registry.Get(ctx, input.ID); err != nil {
			return nil, toHumaError(err)
		}
		statuses, err := a.entitlements.ModuleStatuses(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TenantModulesOutput{Body: mapSlice(statuses, toModuleStatus)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-module",
		Method:      http.MethodPost,
		Path:        "/tenants/{id}/modules/{module_id}/activate",
		Summary:     "Grant a module to a tenant",
		Tags:        []string{"Entitlements"},
	}, func(ctx context.Context, input *ActivateInput) (*EntitlementOutput, error) {
		e, err := a.entitlements.Activate(ctx, input.TenantID, input.ModuleID, input.Body.SubscriptionRef, input.Body.ExpiresAt)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &EntitlementOutput{Body: toEntitlementResponse(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-module",
		Method:      http.MethodPost,
		Path:        "/tenants/{id}/modules/{module_id}/deactivate",
		Summary:     "Revoke a tenant's access to a module",
		Tags:        []string{"Entitlements"},
	}, func(ctx context.Context, input *TenantModulePath) (*EntitlementOutput, error) {
		e, err := a.entitlements.Deactivate(ctx, input.TenantID, input.ModuleID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &EntitlementOutput{Body: toEntitlementResponse(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "entitlement-stats",
		Method:      http.MethodGet,
		Path:        "/entitlements/stats",
		Summary:     "Count entitlements by status",
		Tags:        []string{"Entitlements"},
	}, func(ctx context.Context, _ *struct{}) (*EntitlementStatsOutput, error) {
		stats, err := a.entitlements.Stats(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &EntitlementStatsOutput{}
		out.Body.Total = stats.Total
		out.Body.ByStatus = make(map[string]int, len(stats.ByStatus))
		for status, n := range stats.ByStatus {
			out.Body.ByStatus[string(status)] = n
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-entitlements",
		Method:      http.MethodPost,
		Path:        "/entitlements/sweep",
		Summary:     "Expire lapsed entitlements now",
		Tags:        []string{"Entitlements"},
	}, func(ctx context.Context, _ *struct{}) (*SweepOutput, error) {
		n, err := a.entitlements.CheckExpired(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &SweepOutput{}
		out.Body.Changed = n
		return out, nil
	})
}

// --- API keys ---

type GenerateKeyInput struct {
	TenantIDPath
	Body struct {
		Permissions   []string `json:"permissions,omitempty" doc:"Defaults to every dashboard permission"`
		ExpiresInDays int      `json:"expires_in_days,omitempty" minimum:"0" doc:"0 never expires"`
	}
}

type GenerateKeyOutput struct {
	Body struct {
		APIKeyResponse
		Secret string `json:"secret" doc:"Shown once; send as ApiKey <key>:<secret>"`
	}
}

type ListKeysOutput struct {
	Body []APIKeyResponse
}

type KeyIDPath struct {
	KeyID int64 `path:"key_id" minimum:"1"`
}

func registerAdminKeys(api huma.API, a *admin) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-api-key",
		Method:        http.MethodPost,
		Path:          "/tenants/{id}/api-keys",
		Summary:       "Generate an API key for a tenant",
		Tags:          []string{"API keys"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *GenerateKeyInput) (*GenerateKeyOutput, error) {
		expiresIn := time.Duration(input.Body.ExpiresInDays) * 24 * time.Hour
		key, err := a.access.GenerateAPIKey(ctx, input.ID, input.Body.Permissions, expiresIn)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &GenerateKeyOutput{}
		out.Body.APIKeyResponse = toAPIKeyResponse(key.APIKey)
		out.Body.Secret = key.Secret
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/tenants/{id}/api-keys",
		Summary:     "List a tenant's API keys",
		Tags:        []string{"API keys"},
	}, func(ctx context.Context, input *TenantIDPath) (*ListKeysOutput, error) {
		keys, err := a.access.APIKeys(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ListKeysOutput{Body: mapSlice(keys, toAPIKeyResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		Tags:          []string{"API keys"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *KeyIDPath) (*struct{}, error) {
		if err := a.access.RevokeAPIKey(ctx, input.KeyID); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})
}
