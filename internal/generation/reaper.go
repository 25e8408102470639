package generation

import (
	"context"
	"time"

	"iconforge/internal/domain"
)

// GenerationTimeout is how long a job may sit in generating before a
// status read force-fails it. There is no background scheduler; the
// check runs inline wherever a generating job is read.
const GenerationTimeout = 100 * time.Second

// timeoutMessage is the fixed user-facing text for reaped jobs.
const timeoutMessage = "Generation failed and your credits were refunded. Please try again."

// CheckTimeout is pure: given a job and the current time it returns the
// record transformed to failed when the deadline has passed, or the
// record unchanged. Persisting the transformation is the caller's job.
func CheckTimeout(gen domain.Generation, now time.Time) domain.Generation {
	if gen.Status != domain.GenerationStatusGenerating || gen.StartedAt == nil {
		return gen
	}
	if now.Sub(*gen.StartedAt) <= GenerationTimeout {
		return gen
	}
	completed := now
	gen.Status = domain.GenerationStatusFailed
	gen.ErrorMessage = timeoutMessage
	gen.CompletedAt = &completed
	return gen
}

// TimeoutUpdate pairs a reaped job id with the fields to persist.
type TimeoutUpdate struct {
	ID     string
	Update domain.GenerationUpdate
}

// BatchCheckTimeouts applies CheckTimeout to each record and collects
// the updates that must be written back.
func BatchCheckTimeouts(gens []domain.Generation, now time.Time) ([]domain.Generation, []TimeoutUpdate) {
	processed := make([]domain.Generation, 0, len(gens))
	var updates []TimeoutUpdate
	for _, gen := range gens {
		after := CheckTimeout(gen, now)
		processed = append(processed, after)
		if after.Status != gen.Status {
			status := after.Status
			msg := after.ErrorMessage
			updates = append(updates, TimeoutUpdate{
				ID: gen.ID,
				Update: domain.GenerationUpdate{
					Status:       &status,
					ErrorMessage: &msg,
					CompletedAt:  after.CompletedAt,
				},
			})
		}
	}
	return processed, updates
}

// reap force-fails a timed-out job: persist the transformation, refund
// the owner, propagate to the cache. The record that triggered the
// reap may be a stale cache entry, so the durable row is re-read and
// re-checked first; a job the webhook already resolved is returned
// as-is with its cache entry refreshed instead of being reaped. The
// three effects are attempted independently: a failure in one is
// logged and does not stop the others, and in the batch path one job's
// failure never blocks the refund of another.
func (s *Service) reap(ctx context.Context, stale domain.Generation) domain.Generation {
	current, err := s.gens.FindByID(ctx, stale.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("generation_id", stale.ID).Msg("reaper: durable read failed")
		return stale
	}
	after := CheckTimeout(*current, s.now())
	if after.Status == current.Status {
		if !s.cache.Set(ctx, *current) {
			s.logger.Debug().Str("generation_id", current.ID).Msg("reaper: cache refresh skipped")
		}
		return *current
	}
	status := after.Status
	msg := after.ErrorMessage
	update := domain.GenerationUpdate{
		Status:       &status,
		ErrorMessage: &msg,
		CompletedAt:  after.CompletedAt,
	}
	if err := s.gens.Update(ctx, current.ID, update); err != nil {
		s.logger.Error().Err(err).Str("generation_id", current.ID).Msg("reaper: durable update failed")
	}
	s.refund(ctx, current)
	if !s.cache.Update(ctx, current.ID, update, &after) {
		s.logger.Debug().Str("generation_id", current.ID).Msg("reaper: cache update skipped")
	}
	s.logger.Warn().
		Str("generation_id", current.ID).
		Msg("reaper: generation timed out, marked failed")
	return after
}
