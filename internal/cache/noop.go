package cache

import (
	"context"

	"iconforge/internal/domain"
)

// Noop is the backend used when no cache is configured. Reads miss,
// writes report failure, and callers proceed straight to the database.
// The dispatcher and webhook processor never know caching is off.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Get(ctx context.Context, id string) *domain.Generation { return nil }

func (Noop) BatchGet(ctx context.Context, ids []string) map[string]domain.Generation {
	return map[string]domain.Generation{}
}

func (Noop) Set(ctx context.Context, gen domain.Generation) bool { return false }

func (Noop) BatchSet(ctx context.Context, gens []domain.Generation) bool { return false }

func (Noop) Update(ctx context.Context, id string, update domain.GenerationUpdate, base *domain.Generation) bool {
	return false
}

func (Noop) Delete(ctx context.Context, id string) bool { return false }

func (Noop) BatchDelete(ctx context.Context, ids []string) bool { return false }

var _ GenerationCache = Noop{}
