package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// TenantSettings is the configuration the registry reads when creating tenants.
type TenantSettings struct {
	SubdomainSuffix string
	DatabasePrefix  string
	StorageLimit    int64
	UserLimit       int
	AutoProvision   bool
	DefaultPriority int
}

// Enqueuer is what the registry needs from the provisioning queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID int64, priority int) (bool, error)
	Remove(ctx context.Context, tenantID int64) (bool, error)
}

// RegistryDeps are the collaborators of a Registry.
type RegistryDeps struct {
	Tenants      domain.TenantRepository
	Identity     domain.IdentityStore
	Validator    *Validator
	Transitions  domain.TenantTransitionValidator
	Provisioning *Provisioning
	Queue        Enqueuer
	Audit        domain.AuditLog
	Notifier     domain.Notifier
}

// Registry owns tenant records: creation, profile updates, status changes
// and deletion.
type Registry struct {
	base
	life         *lifecycle
	tenants      domain.TenantRepository
	identity     domain.IdentityStore
	validator    *Validator
	provisioning *Provisioning
	queue        Enqueuer
	notifier     domain.Notifier
	settings     TenantSettings
}

// NewRegistry creates a registry.
func NewRegistry(deps RegistryDeps, settings TenantSettings, opts ...Option) *Registry {
	b := newBase(opts)
	return &Registry{
		base:         b,
		life:         &lifecycle{base: b, tenants: deps.Tenants, transitions: deps.Transitions, audit: deps.Audit},
		tenants:      deps.Tenants,
		identity:     deps.Identity,
		validator:    deps.Validator,
		provisioning: deps.Provisioning,
		queue:        deps.Queue,
		notifier:     deps.Notifier,
		settings:     settings,
	}
}

// Create validates input, then creates the identity user and the tenant
// row as one saga: if the row insert fails the user is deleted again.
func (r *Registry) Create(ctx context.Context, in TenantInput) (domain.Tenant, error) {
	result, err := r.validator.Validate(ctx, in)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("validating tenant: %w", err)
	}
	if err := result.Err(); err != nil {
		return domain.Tenant{}, err
	}
	return r.create(ctx, in, nil)
}

// CreateForUser opens a tenant for an identity that already exists. The
// username is the identity's login.
func (r *Registry) CreateForUser(ctx context.Context, owner domain.User, in TenantInput) (domain.Tenant, error) {
	in.Username = owner.Login
	if in.Email == "" {
		in.Email = owner.Email
	}
	result, err := r.validator.ValidateForOwner(ctx, owner.Login, in)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("validating tenant: %w", err)
	}
	if err := result.Err(); err != nil {
		return domain.Tenant{}, err
	}
	return r.create(ctx, in, &owner)
}

func (r *Registry) create(ctx context.Context, in TenantInput, owner *domain.User) (domain.Tenant, error) {
	now := r.now()
	slug := domain.Slugify(in.Username)
	tenant := domain.Tenant{
		Username:     in.Username,
		AccountName:  accountName(in),
		CompanyName:  strings.TrimSpace(in.CompanyName),
		Subdomain:    r.validator.subdomainFor(in.Username, in.Subdomain) + r.settings.SubdomainSuffix,
		DatabaseName: domain.SanitizeDatabaseName(r.settings.DatabasePrefix + slug),
		Status:       domain.TenantPending,
		StorageLimit: r.settings.StorageLimit,
		UserLimit:    r.settings.UserLimit,
		PhoneNumber:  in.Phone,
		Address:      in.Address,
		BillingEmail: in.Email,
		Metadata:     domain.Metadata{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var user domain.User
	s := newSaga(r.logger)
	if owner == nil {
		s.then("create user",
			func(ctx context.Context) error {
				u, err := r.identity.CreateUser(ctx, domain.NewUser{
					Login:       in.Username,
					Email:       in.Email,
					Password:    in.Password,
					DisplayName: tenant.AccountName,
					FirstName:   in.FirstName,
					LastName:    in.LastName,
					Role:        "tenant_owner",
				})
				user = u
				return err
			},
			func(ctx context.Context) error {
				return r.identity.DeleteUser(ctx, user.ID)
			})
	} else {
		user = *owner
	}
	s.then("create tenant row", func(ctx context.Context) error {
		tenant.UserID = user.ID
		created, err := r.tenants.Create(ctx, tenant)
		if err != nil {
			return err
		}
		tenant = created
		return nil
	}, nil)

	if err := s.execute(ctx); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return domain.Tenant{}, conflict
		}
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			return domain.Tenant{}, &domain.TransactionError{Step: stepErr.Step, Err: stepErr.Err}
		}
		return domain.Tenant{}, err
	}

	r.life.record(ctx, "tenant_created", tenant.ID, map[string]any{
		"username":  tenant.Username,
		"subdomain": tenant.Subdomain,
		"user_id":   tenant.UserID,
	})
	r.logger.Info("tenant created",
		zap.Int64("tenant_id", tenant.ID),
		zap.String("username", tenant.Username),
		zap.String("subdomain", tenant.Subdomain),
	)

	if r.settings.AutoProvision {
		if _, err := r.queue.Enqueue(ctx, tenant.ID, r.settings.DefaultPriority); err != nil {
			r.logger.Error("queueing new tenant for provisioning", zap.Int64("tenant_id", tenant.ID), zap.Error(err))
		}
	}

	if in.Email != "" {
		if !r.notifier.Send(ctx, domain.NotifyWelcome, in.Email, map[string]any{
			"username":     tenant.Username,
			"account_name": tenant.AccountName,
			"subdomain":    tenant.Subdomain,
		}) {
			r.logger.Warn("welcome notification not sent", zap.Int64("tenant_id", tenant.ID))
		}
	}

	return tenant, nil
}

func accountName(in TenantInput) string {
	for _, candidate := range []string{
		in.AccountName,
		in.FullName,
		strings.TrimSpace(in.FirstName + " " + in.LastName),
	} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return in.Username
}

// Get returns a tenant by id.
func (r *Registry) Get(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.tenants.Get(ctx, id)
}

// GetByUsername returns a tenant by its username.
func (r *Registry) GetByUsername(ctx context.Context, username string) (domain.Tenant, error) {
	return r.tenants.GetByUsername(ctx, username)
}

// GetBySubdomain accepts either the full subdomain or its label without
// the configured suffix.
func (r *Registry) GetBySubdomain(ctx context.Context, subdomain string) (domain.Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if r.settings.SubdomainSuffix != "" && !strings.HasSuffix(subdomain, r.settings.SubdomainSuffix) {
		subdomain += r.settings.SubdomainSuffix
	}
	return r.tenants.GetBySubdomain(ctx, subdomain)
}

// GetByOwner returns the tenant owned by an identity user.
func (r *Registry) GetByOwner(ctx context.Context, userID int64) (domain.Tenant, error) {
	return r.tenants.GetByOwner(ctx, userID)
}

// List returns tenants matching filter. Unknown sort fields fall back to
// created_at.
func (r *Registry) List(ctx context.Context, filter domain.ListFilter) ([]domain.Tenant, error) {
	if !slices.Contains(domain.TenantSortFields, filter.SortBy) {
		filter.SortBy = "created_at"
	}
	return r.tenants.List(ctx, filter)
}

// Count returns the number of tenants matching filter.
func (r *Registry) Count(ctx context.Context, filter domain.ListFilter) (int, error) {
	return r.tenants.Count(ctx, filter)
}

// Update applies a partial update. Only whitelisted fields are applied;
// anything else, including id, user_id and created_at, is dropped.
// Metadata is merged into the stored metadata.
func (r *Registry) Update(ctx context.Context, id int64, fields map[string]any) (domain.Tenant, error) {
	patch, err := parseTenantPatch(fields)
	if err != nil {
		return domain.Tenant{}, err
	}
	for _, key := range patch.dropped {
		r.logger.Debug("ignoring non-updatable tenant field", zap.String("field", key))
	}

	result, err := r.validator.ValidateProfile(ctx, patch.CompanyName, patch.PhoneNumber, patch.BillingEmail)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := result.Err(); err != nil {
		return domain.Tenant{}, err
	}

	_, after, err := r.life.mutate(ctx, id, func(t *domain.Tenant) (bool, error) {
		return patch.apply(t), nil
	})
	if err != nil {
		return domain.Tenant{}, err
	}

	if len(patch.applied) > 0 {
		r.life.record(ctx, "tenant_updated", id, map[string]any{"fields": patch.applied})
	}
	return after, nil
}

// SetStatus moves the tenant to status through the transition table.
// Setting the current status is a no-op.
func (r *Registry) SetStatus(ctx context.Context, id int64, status domain.TenantStatus) (domain.Tenant, error) {
	if !status.Valid() {
		return domain.Tenant{}, &domain.ValidationError{Errors: []string{fmt.Sprintf("unknown status %q", status)}}
	}

	before, after, err := r.life.moveTo(ctx, id, status, nil)
	if err != nil {
		return domain.Tenant{}, err
	}
	if before.Status == after.Status {
		return after, nil
	}

	r.life.record(ctx, "tenant_status_changed", id, map[string]any{
		"old_status": string(before.Status),
		"new_status": string(after.Status),
	})
	r.logger.Info("tenant status changed",
		zap.Int64("tenant_id", id),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
	)
	if after.Status == domain.TenantSuspended && after.BillingEmail != "" {
		r.notifier.Send(ctx, domain.NotifySuspension, after.BillingEmail, map[string]any{
			"tenant_id": after.ID,
			"username":  after.Username,
		})
	}
	return after, nil
}

// Provision provisions the tenant synchronously; see Provisioning.ProvisionNow.
func (r *Registry) Provision(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.provisioning.ProvisionNow(ctx, id)
}

// RefreshStorage updates storage_used from the tenant database size.
func (r *Registry) RefreshStorage(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.provisioning.RefreshStorage(ctx, id)
}

// UsernameAvailability is the answer to a username lookup.
type UsernameAvailability struct {
	UsernameCheck
	Suggestions []string
}

// CheckUsername reports whether username is free. When it is not, up to
// three numbered alternatives that are free are suggested.
func (r *Registry) CheckUsername(ctx context.Context, username string) (UsernameAvailability, error) {
	check, err := r.validator.CheckUsername(ctx, username)
	if err != nil {
		return UsernameAvailability{}, err
	}
	out := UsernameAvailability{UsernameCheck: check}
	if !check.Available {
		if out.Suggestions, err = r.validator.SuggestUsernames(ctx, username, 3); err != nil {
			return UsernameAvailability{}, err
		}
	}
	return out, nil
}

// TouchLastLogin records a login or activity for the tenant.
func (r *Registry) TouchLastLogin(ctx context.Context, id int64) error {
	return r.tenants.TouchLastLogin(ctx, id, r.now())
}

// AuditTrail returns the latest audit entries of a tenant.
func (r *Registry) AuditTrail(ctx context.Context, id int64, limit int) ([]domain.AuditEntry, error) {
	if _, err := r.tenants.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.life.audit.List(ctx, id, limit)
}

// DeleteResult describes a completed delete.
type DeleteResult struct {
	Hard       bool
	BackupPath string
}

// Delete cancels the tenant, or with hard removes it for good.
//
// A hard delete first backs up the tenant database and aborts if that
// fails. It then drops the database and credential, removes the queue
// item, deletes the identity user and finally the tenant row. These stores
// do not share a transaction, so a failure after the backup leaves the
// completed steps in place and is reported as a HardDeleteError carrying
// the backup path.
func (r *Registry) Delete(ctx context.Context, id int64, hard bool) (DeleteResult, error) {
	if !hard {
		if _, err := r.SetStatus(ctx, id, domain.TenantCancelled); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{}, nil
	}

	tenant, err := r.tenants.Get(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}

	provisioned := true
	backupPath, err := r.provisioning.Backup(ctx, tenant)
	switch {
	case errors.Is(err, domain.ErrDatabaseNotFound):
		provisioned = false
		r.logger.Info("tenant has no database, skipping backup", zap.Int64("tenant_id", id))
	case err != nil:
		return DeleteResult{}, &domain.ProvisioningError{Op: "backup before delete", Err: err}
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"destroy database", func() error { return r.provisioning.Teardown(ctx, tenant, provisioned) }},
		{"remove queue item", func() error {
			_, err := r.queue.Remove(ctx, id)
			return err
		}},
		{"delete user", func() error {
			if err := r.identity.DeleteUser(ctx, tenant.UserID); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
				return err
			}
			return nil
		}},
		{"delete tenant row", func() error { return r.tenants.Delete(ctx, id) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			r.logger.Error("hard delete incomplete",
				zap.Int64("tenant_id", id),
				zap.String("step", step.name),
				zap.String("backup", backupPath),
				zap.Error(err),
			)
			return DeleteResult{Hard: true, BackupPath: backupPath}, &domain.HardDeleteError{
				Step:       step.name,
				BackupPath: backupPath,
				Err:        err,
			}
		}
	}

	r.life.record(ctx, "tenant_deleted", id, map[string]any{
		"username": tenant.Username,
		"backup":   backupPath,
	})
	r.logger.Info("tenant deleted", zap.Int64("tenant_id", id), zap.String("backup", backupPath))
	return DeleteResult{Hard: true, BackupPath: backupPath}, nil
}
