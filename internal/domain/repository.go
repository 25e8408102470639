package domain

import "context"

// GenerationRepository defines persistence for generation records.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	FindByID(ctx context.Context, id string) (*Generation, error)
	FindByTaskID(ctx context.Context, taskID string) (*Generation, error)
	FindByOwnerAndID(ctx context.Context, ownerID, id string) (*Generation, error)
	BatchFindByOwner(ctx context.Context, ownerID string, ids []string) ([]Generation, error)
	Update(ctx context.Context, id string, update GenerationUpdate) error
	DeleteByID(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string, page, limit int, status *GenerationStatus) ([]Generation, int, error)
	StatsByOwner(ctx context.Context, ownerID string) (*GenerationStats, error)
}

// CreditRepository defines persistence for ledger entries.
type CreditRepository interface {
	// Insert appends one entry. A transaction-number uniqueness
	// collision is reported as ErrDuplicateTransNo.
	Insert(ctx context.Context, entry *CreditEntry) error
	// ListValid returns the owner's non-expired entries oldest-first.
	ListValid(ctx context.Context, ownerID string) ([]CreditEntry, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*CreditEntry, error)
}

// APIKeyRepository defines persistence for the provider credential pool.
type APIKeyRepository interface {
	// ListActive returns active credentials for a provider ordered by id.
	ListActive(ctx context.Context, provider string) ([]APIKey, error)
	SetStatus(ctx context.Context, id int64, status APIKeyStatus) error
	Insert(ctx context.Context, key *APIKey) error
}
