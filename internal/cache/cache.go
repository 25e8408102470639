// Package cache mirrors generation records into a best-effort
// key/value store so status polling stays off the durable store. Every
// operation degrades to a miss or a reported failure when the backend
// is unreachable; callers always keep a database fallback path.
package cache

import (
	"context"
	"time"

	"iconforge/internal/domain"
)

// Expiration is chosen by job status, not a fixed TTL: states expected
// to change soon are cached briefly, immutable results for a long time.
const (
	ttlPending    = 30 * time.Second
	ttlGenerating = 60 * time.Second
	ttlCompleted  = time.Hour
	ttlFailed     = 5 * time.Minute
	ttlDefault    = 5 * time.Minute
)

// TTLForStatus maps a generation status to its cache expiration.
func TTLForStatus(status domain.GenerationStatus) time.Duration {
	switch status {
	case domain.GenerationStatusPending:
		return ttlPending
	case domain.GenerationStatusGenerating:
		return ttlGenerating
	case domain.GenerationStatusCompleted:
		return ttlCompleted
	case domain.GenerationStatusFailed:
		return ttlFailed
	default:
		return ttlDefault
	}
}

// GenerationCache is the cache-aside contract. Implementations report
// failure through return values; they never surface transport errors.
// A false/empty result simply sends the caller to the database.
type GenerationCache interface {
	// Get returns the cached record or nil on miss.
	Get(ctx context.Context, id string) *domain.Generation
	// BatchGet returns the subset of ids present in the cache.
	BatchGet(ctx context.Context, ids []string) map[string]domain.Generation
	// Set stores a full record with status-dependent expiration.
	Set(ctx context.Context, gen domain.Generation) bool
	// BatchSet stores several full records in one round trip.
	BatchSet(ctx context.Context, gens []domain.Generation) bool
	// Update merges the partial update into an existing entry. Without
	// a prior entry the update must carry a complete record (non-empty
	// full record supplied via base); a partial update alone cannot
	// materialize an entry.
	Update(ctx context.Context, id string, update domain.GenerationUpdate, base *domain.Generation) bool
	// Delete removes an entry.
	Delete(ctx context.Context, id string) bool
	// BatchDelete removes several entries in one round trip.
	BatchDelete(ctx context.Context, ids []string) bool
}

// mergeUpdate resolves the record a partial update applies to: the
// existing cached entry when present, otherwise the full record the
// caller supplied. It reports false when neither source is available
// or the merge lacks identity fields; a partial update alone cannot
// materialize an entry.
func mergeUpdate(update domain.GenerationUpdate, existing, base *domain.Generation) (domain.Generation, bool) {
	var merged domain.Generation
	switch {
	case existing != nil:
		merged = update.Apply(*existing)
	case base != nil:
		merged = update.Apply(*base)
	default:
		return domain.Generation{}, false
	}
	if merged.ID == "" || merged.OwnerID == "" {
		return domain.Generation{}, false
	}
	return merged, true
}
