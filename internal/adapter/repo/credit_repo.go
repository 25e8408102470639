package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"iconforge/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a ledger repository backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// Insert appends one ledger entry. A trans_no uniqueness violation is
// reported as domain.ErrDuplicateTransNo so the ledger can retry with a
// fresh number.
func (r *CreditRepositoryPG) Insert(ctx context.Context, entry *domain.CreditEntry) error {
	query := `
INSERT INTO credits (trans_no, owner_id, trans_type, credits, order_no, expired_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		entry.TransNo,
		entry.OwnerID,
		entry.TransType,
		entry.Credits,
		entry.OrderNo,
		entry.ExpiredAt,
		entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateTransNo
		}
		return err
	}
	return nil
}

// ListValid returns the owner's non-expired entries oldest-first.
func (r *CreditRepositoryPG) ListValid(ctx context.Context, ownerID string) ([]domain.CreditEntry, error) {
	query := `
SELECT id, trans_no, owner_id, trans_type, credits, order_no, expired_at, created_at
FROM credits
WHERE owner_id = $1 AND (expired_at IS NULL OR expired_at >= NOW())
ORDER BY created_at ASC, id ASC;
`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.CreditEntry
	for rows.Next() {
		var e domain.CreditEntry
		var orderNo *string
		if err := rows.Scan(&e.ID, &e.TransNo, &e.OwnerID, &e.TransType, &e.Credits, &orderNo, &e.ExpiredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if orderNo != nil {
			e.OrderNo = *orderNo
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindByOrderNo fetches the first entry referencing an order number.
func (r *CreditRepositoryPG) FindByOrderNo(ctx context.Context, orderNo string) (*domain.CreditEntry, error) {
	query := `
SELECT id, trans_no, owner_id, trans_type, credits, order_no, expired_at, created_at
FROM credits
WHERE order_no = $1
ORDER BY id ASC
LIMIT 1;
`
	var e domain.CreditEntry
	var ref *string
	err := r.pool.QueryRow(ctx, query, orderNo).Scan(&e.ID, &e.TransNo, &e.OwnerID, &e.TransType, &e.Credits, &ref, &e.ExpiredAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if ref != nil {
		e.OrderNo = *ref
	}
	return &e, nil
}
