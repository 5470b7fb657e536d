package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Provisioning turns pending tenants into active ones by allocating their
// database, and tears databases down again.
type Provisioning struct {
	base
	life        *lifecycle
	tenants     domain.TenantRepository
	databases   domain.DatabaseProvisioner
	credentials domain.CredentialStore
	notifier    domain.Notifier
}

// NewProvisioning creates the provisioning service.
func NewProvisioning(
	tenants domain.TenantRepository,
	transitions domain.TenantTransitionValidator,
	databases domain.DatabaseProvisioner,
	credentials domain.CredentialStore,
	audit domain.AuditLog,
	notifier domain.Notifier,
	opts ...Option,
) *Provisioning {
	b := newBase(opts)
	return &Provisioning{
		base:        b,
		life:        &lifecycle{base: b, tenants: tenants, transitions: transitions, audit: audit},
		tenants:     tenants,
		databases:   databases,
		credentials: credentials,
		notifier:    notifier,
	}
}

// Provision allocates the tenant database, stores its credentials and
// marks the tenant active. A tenant that is already active is left alone
// and provisioned is false. Any failing step undoes the earlier ones.
func (p *Provisioning) Provision(ctx context.Context, id int64) (tenant domain.Tenant, provisioned bool, err error) {
	tenant, err = p.tenants.Get(ctx, id)
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("loading tenant %d: %w", id, err)
	}
	if tenant.Status == domain.TenantActive {
		return tenant, false, nil
	}
	if _, err := p.life.transitions.Apply(ctx, tenant.Status, domain.TenantEventProvisionComplete); err != nil {
		return tenant, false, err
	}

	var creds domain.DatabaseCredentials
	err = newSaga(p.logger).
		then("create database",
			func(ctx context.Context) error {
				c, err := p.databases.CreateDatabase(ctx, tenant.DatabaseName, "")
				if err != nil {
					return &domain.ProvisioningError{Op: "create database", Err: err}
				}
				creds = c
				return nil
			},
			func(ctx context.Context) error {
				return p.databases.DestroyDatabase(ctx, creds.Database, creds.Username)
			}).
		then("store credentials",
			func(ctx context.Context) error {
				if err := p.credentials.Put(ctx, id, creds); err != nil {
					return &domain.ProvisioningError{Op: "store credentials", Err: err}
				}
				return nil
			},
			func(ctx context.Context) error {
				return p.credentials.Delete(ctx, id)
			}).
		then("activate tenant",
			func(ctx context.Context) error {
				_, after, err := p.life.mutate(ctx, id, func(t *domain.Tenant) (bool, error) {
					dst, err := p.life.transitions.Apply(ctx, t.Status, domain.TenantEventProvisionComplete)
					if err != nil {
						return false, err
					}
					t.Status = dst
					delete(t.Metadata, domain.MetaProvisioningError)
					delete(t.Metadata, domain.MetaProvisioningFailedAt)
					t.Metadata[domain.MetaProvisionedAt] = p.now().Format(time.RFC3339)
					return true, nil
				})
				tenant = after
				return err
			}, nil).
		execute(ctx)
	if err != nil {
		// The provisioning error already names the step.
		var perr *domain.ProvisioningError
		if errors.As(err, &perr) {
			return tenant, false, perr
		}
		return tenant, false, err
	}

	p.life.record(ctx, "tenant_provisioned", id, map[string]any{"database": creds.Database})
	p.logger.Info("tenant provisioned",
		zap.Int64("tenant_id", id),
		zap.String("database", creds.Database),
	)
	return tenant, true, nil
}

// MarkFailed suspends the tenant and records cause in its metadata so the
// failure is visible on the tenant itself.
func (p *Provisioning) MarkFailed(ctx context.Context, id int64, cause error) (domain.Tenant, error) {
	meta := map[string]any{
		domain.MetaProvisioningError:    cause.Error(),
		domain.MetaProvisioningFailedAt: p.now().Format(time.RFC3339),
	}
	_, after, err := p.life.moveTo(ctx, id, domain.TenantSuspended, meta)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("suspending tenant %d: %w", id, err)
	}

	p.life.record(ctx, "tenant_provisioning_failed", id, map[string]any{"error": cause.Error()})
	p.logger.Error("tenant provisioning failed",
		zap.Int64("tenant_id", id),
		zap.Error(cause),
	)
	if after.BillingEmail != "" {
		p.notifier.Send(ctx, domain.NotifyProvisioningFailed, after.BillingEmail, map[string]any{
			"tenant_id": after.ID,
			"username":  after.Username,
		})
	}
	return after, nil
}

// ProvisionNow provisions synchronously. On failure the tenant is
// suspended with the error recorded, and the error is returned.
func (p *Provisioning) ProvisionNow(ctx context.Context, id int64) (domain.Tenant, error) {
	tenant, _, err := p.Provision(ctx, id)
	if err == nil {
		return tenant, nil
	}

	var trErr *domain.TransitionError
	if errors.Is(err, domain.ErrTenantNotFound) || errors.As(err, &trErr) {
		return tenant, err
	}
	if _, markErr := p.MarkFailed(ctx, id, err); markErr != nil {
		p.logger.Error("recording provisioning failure", zap.Int64("tenant_id", id), zap.Error(markErr))
	}
	return tenant, err
}

// Backup dumps the tenant database and returns the backup path.
// Returns domain.ErrDatabaseNotFound when the tenant was never provisioned.
func (p *Provisioning) Backup(ctx context.Context, tenant domain.Tenant) (string, error) {
	path, err := p.databases.Backup(ctx, tenant.DatabaseName)
	if err != nil {
		return "", err
	}
	p.logger.Info("tenant database backed up",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("path", path),
	)
	return path, nil
}

// Teardown drops the tenant database with its credential and forgets the
// stored credentials.
func (p *Provisioning) Teardown(ctx context.Context, tenant domain.Tenant, dropDatabase bool) error {
	if dropDatabase {
		username := ""
		if creds, err := p.credentials.Get(ctx, tenant.ID); err == nil {
			username = creds.Username
		}
		if err := p.databases.DestroyDatabase(ctx, tenant.DatabaseName, username); err != nil {
			return &domain.ProvisioningError{Op: "destroy database", Err: err}
		}
	}
	if err := p.credentials.Delete(ctx, tenant.ID); err != nil && !errors.Is(err, domain.ErrCredentialsNotFound) {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// RefreshStorage records the current database size as storage used.
func (p *Provisioning) RefreshStorage(ctx context.Context, id int64) (domain.Tenant, error) {
	tenant, err := p.tenants.Get(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	size, err := p.databases.Size(ctx, tenant.DatabaseName)
	if err != nil {
		return domain.Tenant{}, &domain.ProvisioningError{Op: "measure database", Err: err}
	}
	_, after, err := p.life.mutate(ctx, id, func(t *domain.Tenant) (bool, error) {
		if t.StorageUsed == size {
			return false, nil
		}
		t.StorageUsed = size
		return true, nil
	})
	return after, err
}
