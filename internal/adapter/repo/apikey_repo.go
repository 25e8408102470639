package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"iconforge/internal/domain"
)

// APIKeyRepositoryPG implements domain.APIKeyRepository.
type APIKeyRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository creates a credential pool repository backed by PostgreSQL.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepositoryPG {
	return &APIKeyRepositoryPG{pool: pool}
}

// ListActive returns active credentials for a provider ordered by id,
// which fixes the round-robin traversal order.
func (r *APIKeyRepositoryPG) ListActive(ctx context.Context, provider string) ([]domain.APIKey, error) {
	query := `
SELECT id, provider, api_key, status, created_at
FROM third_party_api_keys
WHERE provider = $1 AND status = $2
ORDER BY id ASC;
`
	rows, err := r.pool.Query(ctx, query, provider, domain.APIKeyStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.Provider, &k.Key, &k.Status, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetStatus flips a credential's status.
func (r *APIKeyRepositoryPG) SetStatus(ctx context.Context, id int64, status domain.APIKeyStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE third_party_api_keys SET status = $2 WHERE id = $1;`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Insert adds a new active credential to the pool.
func (r *APIKeyRepositoryPG) Insert(ctx context.Context, key *domain.APIKey) error {
	query := `
INSERT INTO third_party_api_keys (provider, api_key, status, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id;
`
	return r.pool.QueryRow(ctx, query, key.Provider, key.Key, key.Status, key.CreatedAt).Scan(&key.ID)
}
