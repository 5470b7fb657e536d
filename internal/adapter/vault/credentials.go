// Package vault keeps tenant database credentials in a Vault KV v2 engine.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	vault "github.com/hashicorp/vault/api"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Config locates the KV v2 mount and the path prefix for tenant secrets.
type Config struct {
	Address string
	Token   string
	Mount   string
	Prefix  string
}

// CredentialStore implements domain.CredentialStore with one secret per
// tenant at <mount>/data/<prefix>/<tenant id>.
type CredentialStore struct {
	kv     *vault.KVv2
	prefix string
}

var _ domain.CredentialStore = (*CredentialStore)(nil)

// New builds a client from the VAULT_* environment, overridden by cfg.
func New(cfg Config) (*CredentialStore, error) {
	vcfg := vault.DefaultConfig()
	if err := vcfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("reading vault environment: %w", err)
	}
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewWithClient(client, cfg.Mount, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *vault.Client, mount, prefix string) *CredentialStore {
	if mount == "" {
		mount = "secret"
	}
	if prefix == "" {
		prefix = "tenants"
	}
	return &CredentialStore{kv: client.KVv2(mount), prefix: prefix}
}

func (s *CredentialStore) path(tenantID int64) string {
	return s.prefix + "/" + strconv.FormatInt(tenantID, 10)
}

func (s *CredentialStore) Put(ctx context.Context, tenantID int64, creds domain.DatabaseCredentials) error {
	_, err := s.kv.Put(ctx, s.path(tenantID), map[string]any{
		"database": creds.Database,
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return fmt.Errorf("writing credentials of tenant %d: %w", tenantID, err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, tenantID int64) (domain.DatabaseCredentials, error) {
	secret, err := s.kv.Get(ctx, s.path(tenantID))
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return domain.DatabaseCredentials{}, domain.ErrCredentialsNotFound
		}
		return domain.DatabaseCredentials{}, fmt.Errorf("reading credentials of tenant %d: %w", tenantID, err)
	}

	var creds domain.DatabaseCredentials
	for key, dst := range map[string]*string{
		"database": &creds.Database,
		"username": &creds.Username,
		"password": &creds.Password,
	} {
		v, ok := secret.Data[key].(string)
		if !ok {
			return domain.DatabaseCredentials{}, fmt.Errorf("credentials of tenant %d: %q is missing", tenantID, key)
		}
		*dst = v
	}
	return creds, nil
}

// Delete removes every version of the tenant secret.
func (s *CredentialStore) Delete(ctx context.Context, tenantID int64) error {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return err
	}
	if err := s.kv.DeleteMetadata(ctx, s.path(tenantID)); err != nil {
		return fmt.Errorf("deleting credentials of tenant %d: %w", tenantID, err)
	}
	return nil
}
