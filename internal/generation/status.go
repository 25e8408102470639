package generation

import (
	"context"
	"errors"

	"iconforge/internal/domain"
)

// MaxBatchStatusIDs caps one batch status request.
const MaxBatchStatusIDs = 20

// Status returns one job for its owner, reading through the cache with
// a database fallback and reaping the job inline if it has sat in
// generating past the deadline. A completed cache entry fully
// substitutes for the durable record.
func (s *Service) Status(ctx context.Context, ownerID, id string) (*domain.Generation, error) {
	var gen *domain.Generation
	if cached := s.cache.Get(ctx, id); cached != nil {
		if cached.OwnerID != ownerID {
			return nil, domain.ErrNotFound
		}
		gen = cached
	} else {
		found, err := s.gens.FindByOwnerAndID(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		gen = found
		if !s.cache.Set(ctx, *gen) {
			s.logger.Debug().Str("generation_id", id).Msg("status: cache write-back skipped")
		}
	}

	if after := CheckTimeout(*gen, s.now()); after.Status != gen.Status {
		reaped := s.reap(ctx, *gen)
		return &reaped, nil
	}
	return gen, nil
}

// BatchStatus resolves up to MaxBatchStatusIDs jobs for one owner with
// the hybrid cache/database strategy. Jobs not found (or not owned) are
// simply absent from the result; member failures never abort the batch.
func (s *Service) BatchStatus(ctx context.Context, ownerID string, ids []string) ([]domain.Generation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchStatusIDs {
		return nil, errors.Join(domain.ErrInvalidRequest, errors.New("too many ids"))
	}

	cached := s.cache.BatchGet(ctx, ids)

	var uncached []string
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			uncached = append(uncached, id)
		}
	}

	var results []domain.Generation
	for _, id := range ids {
		if gen, ok := cached[id]; ok && gen.OwnerID == ownerID {
			results = append(results, gen)
		}
	}

	if len(uncached) > 0 {
		fromDB, err := s.gens.BatchFindByOwner(ctx, ownerID, uncached)
		if err != nil {
			return nil, err
		}
		if len(fromDB) > 0 {
			if !s.cache.BatchSet(ctx, fromDB) {
				s.logger.Debug().Msg("batch status: cache write-back skipped")
			}
			results = append(results, fromDB...)
		}
	}

	processed, updates := BatchCheckTimeouts(results, s.now())
	if len(updates) == 0 {
		return processed, nil
	}
	byID := make(map[string]domain.Generation, len(results))
	for _, gen := range results {
		byID[gen.ID] = gen
	}
	// Reap each timed-out member independently so a persistence or
	// payment failure for one job cannot block the refund of another.
	// The reap re-verifies against the durable row, so its outcome
	// replaces the optimistic transformation in the result.
	reaped := make(map[string]domain.Generation, len(updates))
	for _, u := range updates {
		before, ok := byID[u.ID]
		if !ok {
			continue
		}
		reaped[u.ID] = s.reap(ctx, before)
	}
	for i := range processed {
		if g, ok := reaped[processed[i].ID]; ok {
			processed[i] = g
		}
	}
	return processed, nil
}

// Delete removes an owner's job. The durable delete is authoritative;
// cache invalidation is best-effort.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.gens.FindByOwnerAndID(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.gens.DeleteByID(ctx, id); err != nil {
		return err
	}
	if !s.cache.Delete(ctx, id) {
		s.logger.Debug().Str("generation_id", id).Msg("delete: cache invalidation skipped")
	}
	return nil
}

// DeleteResult reports one member of a batch delete.
type DeleteResult struct {
	ID      string
	Success bool
	Error   string
}

// BatchDelete removes several jobs, isolating member failures.
func (s *Service) BatchDelete(ctx context.Context, ownerID string, ids []string) (int, []DeleteResult) {
	deleted := 0
	results := make([]DeleteResult, 0, len(ids))
	var removed []string
	for _, id := range ids {
		err := func() error {
			if _, err := s.gens.FindByOwnerAndID(ctx, ownerID, id); err != nil {
				return err
			}
			return s.gens.DeleteByID(ctx, id)
		}()
		if err != nil {
			msg := "Not found or access denied"
			if !errors.Is(err, domain.ErrNotFound) {
				msg = err.Error()
			}
			results = append(results, DeleteResult{ID: id, Success: false, Error: msg})
			continue
		}
		deleted++
		removed = append(removed, id)
		results = append(results, DeleteResult{ID: id, Success: true})
	}
	if len(removed) > 0 && !s.cache.BatchDelete(ctx, removed) {
		s.logger.Debug().Msg("batch delete: cache invalidation skipped")
	}
	return deleted, results
}

// History returns one page of the owner's jobs plus per-status stats.
func (s *Service) History(ctx context.Context, ownerID string, page, limit int, status *domain.GenerationStatus) ([]domain.Generation, int, *domain.GenerationStats, error) {
	gens, total, err := s.gens.ListByOwner(ctx, ownerID, page, limit, status)
	if err != nil {
		return nil, 0, nil, err
	}
	stats, err := s.gens.StatsByOwner(ctx, ownerID)
	if err != nil {
		return nil, 0, nil, err
	}
	return gens, total, stats, nil
}
