package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// Sealer encrypts credential blobs before they reach the database.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// CredentialStore implements domain.CredentialStore on tenant_credentials.
// Rows hold only sealed JSON.
type CredentialStore struct {
	db     *sql.DB
	sealer Sealer
}

var _ domain.CredentialStore = (*CredentialStore)(nil)

func (s *CredentialStore) Put(ctx context.Context, tenantID int64, creds domain.DatabaseCredentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_credentials (tenant_id, sealed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		tenantID, sealed, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, tenantID int64) (domain.DatabaseCredentials, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM tenant_credentials WHERE tenant_id = ?`, tenantID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DatabaseCredentials{}, domain.ErrCredentialsNotFound
	}
	if err != nil {
		return domain.DatabaseCredentials{}, fmt.Errorf("reading credentials: %w", err)
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return domain.DatabaseCredentials{}, fmt.Errorf("opening credentials: %w", err)
	}
	var creds domain.DatabaseCredentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return domain.DatabaseCredentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return creds, nil
}

func (s *CredentialStore) Delete(ctx context.Context, tenantID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tenant_credentials WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return requireRow(result, domain.ErrCredentialsNotFound)
}
