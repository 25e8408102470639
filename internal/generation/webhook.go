package generation

import (
	"context"
	"fmt"

	"iconforge/internal/domain"
	"iconforge/internal/provider/freepik"
	"iconforge/internal/render"
)

// HandleWebhook applies one provider callback to the matching record.
// Resolution prefers the provider task id and falls back to the job id
// carried in the callback URL; completed records are a sink, so a
// replayed callback for one is a no-op. The webhook transport may
// deliver duplicates or nothing at all; every transition here is
// written to tolerate both.
func (s *Service) HandleWebhook(ctx context.Context, jobID string, event *freepik.WebhookEvent) error {
	gen, err := s.resolveRecord(ctx, jobID, event.TaskID)
	if err != nil {
		return err
	}

	// Status protection: once completed, no webhook may mutate core
	// fields. Replays ack successfully so the provider stops retrying.
	if gen.Status == domain.GenerationStatusCompleted {
		s.logger.Info().
			Str("generation_id", gen.ID).
			Str("webhook_status", webhookStatusName(event.Kind)).
			Msg("webhook: record already completed, skipped")
		return nil
	}

	switch event.Kind {
	case freepik.EventInProgress:
		status := domain.GenerationStatusGenerating
		s.applyUpdate(ctx, gen, domain.GenerationUpdate{Status: &status})
		return nil

	case freepik.EventCompleted:
		if !event.HasArtifacts() {
			s.logger.Warn().Str("generation_id", gen.ID).Msg("webhook: completed without artifacts, ignored")
			return nil
		}
		if err := s.completeGeneration(ctx, gen, event.Generated[0]); err != nil {
			// Post-processing failed after the provider succeeded. The
			// job is terminal failed with the processing error; credits
			// are not refunded on this path.
			status := domain.GenerationStatusFailed
			msg := fmt.Sprintf("Processing failed: %v", err)
			completed := s.now()
			s.applyUpdate(ctx, gen, domain.GenerationUpdate{
				Status:       &status,
				ErrorMessage: &msg,
				CompletedAt:  &completed,
			})
			s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("webhook: artifact processing failed")
		}
		return nil

	case freepik.EventFailed:
		if event.HasArtifacts() {
			// The provider reported failure but still produced output;
			// its partial-failure signal is not trusted as fatal. Keep
			// the current status and record the warning.
			msg := fmt.Sprintf("Provider warning: %s", event.Error)
			s.applyUpdate(ctx, gen, domain.GenerationUpdate{ErrorMessage: &msg})
			return nil
		}
		alreadyFailed := gen.Status == domain.GenerationStatusFailed
		status := domain.GenerationStatusFailed
		msg := event.Error
		if msg == "" {
			msg = "Generation failed"
		}
		completed := s.now()
		s.applyUpdate(ctx, gen, domain.GenerationUpdate{
			Status:       &status,
			ErrorMessage: &msg,
			CompletedAt:  &completed,
		})
		// Refund only on the transition into failed, so a replayed
		// failure callback cannot refund twice.
		if !alreadyFailed {
			s.refund(ctx, gen)
		}
		return nil
	}
	return nil
}

// completeGeneration downloads the artifact, stores it under
// deterministic keys, derives the raster copy for vector requests, and
// marks the record completed.
func (s *Service) completeGeneration(ctx context.Context, gen *domain.Generation, artifactURL string) error {
	svgKey := fmt.Sprintf("icons/%s.svg", gen.ID)
	pngKey := fmt.Sprintf("icons/%s.png", gen.ID)

	update := domain.GenerationUpdate{OriginalURL: &artifactURL}

	if gen.Format == domain.IconFormatSVG {
		svgURL, svgSize, err := s.store.DownloadAndUpload(ctx, artifactURL, svgKey, "image/svg+xml")
		if err != nil {
			return fmt.Errorf("store svg artifact: %w", err)
		}
		svgData, err := s.store.Open(ctx, svgKey)
		if err != nil {
			return fmt.Errorf("read back svg artifact: %w", err)
		}
		pngData, err := s.renderer.RenderPNG(ctx, svgData, render.DefaultWidth, render.DefaultHeight)
		if err != nil {
			return fmt.Errorf("render png artifact: %w", err)
		}
		pngURL, err := s.store.Upload(ctx, pngKey, pngData, "image/png")
		if err != nil {
			return fmt.Errorf("store png artifact: %w", err)
		}
		pngSize := int64(len(pngData))
		update.SVGKey, update.SVGURL, update.SVGFileSize = &svgKey, &svgURL, &svgSize
		update.PNGKey, update.PNGURL, update.PNGFileSize = &pngKey, &pngURL, &pngSize
		update.LegacyKey, update.LegacyURL, update.LegacySize = &svgKey, &svgURL, &svgSize
	} else {
		pngURL, pngSize, err := s.store.DownloadAndUpload(ctx, artifactURL, pngKey, "image/png")
		if err != nil {
			return fmt.Errorf("store png artifact: %w", err)
		}
		update.PNGKey, update.PNGURL, update.PNGFileSize = &pngKey, &pngURL, &pngSize
		update.LegacyKey, update.LegacyURL, update.LegacySize = &pngKey, &pngURL, &pngSize
	}

	completed := s.now()
	status := domain.GenerationStatusCompleted
	update.Status = &status
	update.CompletedAt = &completed
	if gen.StartedAt != nil {
		elapsed := int(completed.Sub(*gen.StartedAt).Seconds())
		if elapsed < 0 {
			elapsed = 0
		}
		update.GenerationTime = &elapsed
	}

	s.applyUpdate(ctx, gen, update)
	s.logger.Info().
		Str("generation_id", gen.ID).
		Str("format", string(gen.Format)).
		Msg("webhook: generation completed")
	return nil
}

// resolveRecord looks up the record for a callback, preferring the
// provider task id and falling back to the job id from the URL.
func (s *Service) resolveRecord(ctx context.Context, jobID, taskID string) (*domain.Generation, error) {
	if taskID != "" {
		if gen, err := s.gens.FindByTaskID(ctx, taskID); err == nil {
			return gen, nil
		}
	}
	if jobID != "" {
		if gen, err := s.gens.FindByID(ctx, jobID); err == nil {
			return gen, nil
		}
	}
	return nil, fmt.Errorf("%w: generation for task %q / job %q", domain.ErrNotFound, taskID, jobID)
}

// applyUpdate writes the update to the durable store and mirrors it
// into the cache. The cache write carries the merged full record so an
// empty cache can still be populated; its failure never propagates.
func (s *Service) applyUpdate(ctx context.Context, gen *domain.Generation, update domain.GenerationUpdate) {
	if err := s.gens.Update(ctx, gen.ID, update); err != nil {
		s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("webhook: durable update failed")
		return
	}
	full := update.Apply(*gen)
	if !s.cache.Update(ctx, gen.ID, update, &full) {
		s.logger.Debug().Str("generation_id", gen.ID).Msg("cache update skipped")
	}
	*gen = full
}

// refund returns a job's cost to its owner, tagged with a per-job order
// reference so the consumption and its reversal stay linked.
func (s *Service) refund(ctx context.Context, gen *domain.Generation) {
	orderNo := "refund_" + gen.ID
	err := s.ledger.Credit(ctx, gen.OwnerID, domain.CreditTransSystemAdd, gen.CreditsCost, orderNo, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("refund failed")
		return
	}
	s.logger.Info().Str("generation_id", gen.ID).Int("credits", gen.CreditsCost).Msg("credits refunded")
}

func webhookStatusName(kind freepik.WebhookEventKind) string {
	switch kind {
	case freepik.EventInProgress:
		return freepik.StatusInProgress
	case freepik.EventCompleted:
		return freepik.StatusCompleted
	case freepik.EventFailed:
		return freepik.StatusFailed
	}
	return "unknown"
}
