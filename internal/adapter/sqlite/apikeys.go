package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// APIKeyRepository implements domain.APIKeyRepository.
type APIKeyRepository struct {
	db *sql.DB
}

var _ domain.APIKeyRepository = (*APIKeyRepository)(nil)

const apiKeyColumns = `id, tenant_id, key, secret_hash, permissions, rate_limit, last_used, expires_at, status, created_at`

func (r *APIKeyRepository) Create(ctx context.Context, k domain.APIKey) (domain.APIKey, error) {
	perms, err := encodeJSON(k.Permissions)
	if err != nil {
		return domain.APIKey{}, err
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (tenant_id, key, secret_hash, permissions, rate_limit, expires_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.TenantID, k.Key, k.SecretHash, perms, k.RateLimit, formatTimePtr(k.ExpiresAt),
		string(k.Status), formatTime(k.CreatedAt),
	)
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("inserting api key: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("reading api key id: %w", err)
	}
	k.ID = id
	return k, nil
}

func (r *APIKeyRepository) GetByKey(ctx context.Context, key string) (domain.APIKey, error) {
	return scanAPIKey(r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key = ?`, key))
}

func (r *APIKeyRepository) ListByTenant(ctx context.Context, tenantID int64) ([]domain.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = ? ORDER BY id DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET status = ? WHERE id = ?`, string(domain.APIKeyRevoked), id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return requireRow(result, domain.ErrAPIKeyNotFound)
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("recording api key use: %w", err)
	}
	return requireRow(result, domain.ErrAPIKeyNotFound)
}

func scanAPIKey(row scanner) (domain.APIKey, error) {
	var k domain.APIKey
	var perms, status, createdAt string
	var lastUsed, expiresAt sql.NullString
	err := row.Scan(&k.ID, &k.TenantID, &k.Key, &k.SecretHash, &perms, &k.RateLimit,
		&lastUsed, &expiresAt, &status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return domain.APIKey{}, fmt.Errorf("scanning api key: %w", err)
	}
	if err := decodeJSON(perms, &k.Permissions); err != nil {
		return domain.APIKey{}, err
	}
	k.LastUsed = parseTimePtr(lastUsed)
	k.ExpiresAt = parseTimePtr(expiresAt)
	k.Status = domain.APIKeyStatus(status)
	k.CreatedAt = parseTime(createdAt)
	return k, nil
}
