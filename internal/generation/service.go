// Package generation owns the asynchronous icon generation job
// lifecycle: dispatch to the upstream provider, webhook-driven state
// transitions, cache-aside status reads, and timeout reaping. The
// durable store is authoritative; the cache is a best-effort mirror and
// every cache write here is fire-and-forget relative to the caller's
// response.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"iconforge/internal/cache"
	"iconforge/internal/credits"
	"iconforge/internal/domain"
	"iconforge/internal/keypool"
	"iconforge/internal/provider/freepik"
	"iconforge/internal/render"
	"iconforge/internal/storage"
)

const (
	// CreditsPerGeneration is the fixed cost of one job.
	CreditsPerGeneration = 1
	// MinCreditsRequired is the admission guard. It is deliberately
	// larger than one job's cost so a burst of near-simultaneous
	// submissions from the same user cannot push the balance far
	// negative; the race itself is accepted, the guard only bounds it.
	MinCreditsRequired = 4
	// EstimatedWaitSeconds is the wait estimate returned on dispatch
	// and the total used when deriving remaining time for polls.
	EstimatedWaitSeconds = 30
)

// Dispatcher is the upstream provider call used by Submit.
type Dispatcher interface {
	Dispatch(ctx context.Context, apiKey string, req freepik.DispatchRequest) (taskID string, err error)
}

// Service coordinates the generation job lifecycle.
type Service struct {
	gens     domain.GenerationRepository
	ledger   *credits.Ledger
	keys     *keypool.Pool
	cache    cache.GenerationCache
	provider Dispatcher
	store    storage.BlobStore
	renderer render.Renderer
	logger   zerolog.Logger

	webhookBase string
	now         func() time.Time
}

// Config wires a Service.
type Config struct {
	Generations domain.GenerationRepository
	Ledger      *credits.Ledger
	Keys        *keypool.Pool
	Cache       cache.GenerationCache
	Provider    Dispatcher
	Store       storage.BlobStore
	Renderer    render.Renderer
	Logger      zerolog.Logger
	// WebhookBase is the public base URL the provider calls back on.
	WebhookBase string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewService constructs the job lifecycle service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := cfg.Cache
	if c == nil {
		c = cache.NewNoop()
	}
	return &Service{
		gens:        cfg.Generations,
		ledger:      cfg.Ledger,
		keys:        cfg.Keys,
		cache:       c,
		provider:    cfg.Provider,
		store:       cfg.Store,
		renderer:    cfg.Renderer,
		logger:      cfg.Logger,
		webhookBase: strings.TrimRight(cfg.WebhookBase, "/"),
		now:         now,
	}
}

// SubmitRequest carries a validated-at-the-edge dispatch request.
type SubmitRequest struct {
	Prompt            string
	Style             domain.IconStyle
	Format            domain.IconFormat
	NumInferenceSteps int
	GuidanceScale     int
}

// SubmitResult is returned on successful dispatch.
type SubmitResult struct {
	ID                   string
	TaskID               string
	Status               domain.GenerationStatus
	EstimatedWaitSeconds int
}

// Submit validates the request, funds it, and dispatches it upstream.
// Side effects are strictly ordered: the balance pre-check and
// credential acquisition mutate nothing, the record insert precedes the
// provider call, and the ledger debit happens only after the provider
// has accepted the task. A dispatch failure deletes the just-inserted
// record; no debit has occurred at that point, so nothing is refunded.
func (s *Service) Submit(ctx context.Context, ownerID string, req SubmitRequest) (*SubmitResult, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance < MinCreditsRequired {
		return nil, &domain.InsufficientCreditsError{Current: balance, Required: MinCreditsRequired}
	}

	key, err := s.keys.Acquire(ctx, freepik.ProviderName)
	if err != nil {
		return nil, err
	}

	gen := &domain.Generation{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Provider:          freepik.ProviderName,
		Prompt:            strings.TrimSpace(req.Prompt),
		Style:             req.Style,
		Format:            req.Format,
		NumInferenceSteps: req.NumInferenceSteps,
		GuidanceScale:     req.GuidanceScale,
		Status:            domain.GenerationStatusPending,
		CreditsCost:       CreditsPerGeneration,
		CreatedAt:         s.now(),
	}
	gen.WebhookURL = fmt.Sprintf("%s/api/icon/webhook?uuid=%s", s.webhookBase, gen.ID)

	if err := s.gens.Create(ctx, gen); err != nil {
		return nil, err
	}
	if !s.cache.Set(ctx, *gen) {
		s.logger.Debug().Str("generation_id", gen.ID).Msg("submit: cache preset skipped")
	}

	taskID, err := s.provider.Dispatch(ctx, key.Key, freepik.DispatchRequest{
		Prompt:            gen.Prompt,
		WebhookURL:        gen.WebhookURL,
		Format:            string(gen.Format),
		Style:             string(gen.Style),
		NumInferenceSteps: gen.NumInferenceSteps,
		GuidanceScale:     gen.GuidanceScale,
	})
	if err != nil {
		// No partial job is left behind, and no refund is needed
		// because the debit has not happened yet.
		if derr := s.gens.DeleteByID(ctx, gen.ID); derr != nil {
			s.logger.Error().Err(derr).Str("generation_id", gen.ID).Msg("submit: cleanup after dispatch failure")
		}
		s.cache.Delete(ctx, gen.ID)
		if isAuthError(err) {
			if derr := s.keys.Disable(ctx, key.ID); derr != nil {
				s.logger.Error().Err(derr).Int64("key_id", key.ID).Msg("submit: disable credential")
			}
		}
		s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("submit: provider dispatch failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}

	started := s.now()
	status := domain.GenerationStatusGenerating
	update := domain.GenerationUpdate{
		ProviderTaskID: &taskID,
		Status:         &status,
		StartedAt:      &started,
	}
	if err := s.gens.Update(ctx, gen.ID, update); err != nil {
		return nil, err
	}

	if err := s.ledger.Debit(ctx, ownerID, domain.CreditTransIconGeneration, gen.CreditsCost); err != nil {
		// The task is already running upstream; surfacing the debit
		// failure here would orphan it. Log and continue.
		s.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("submit: debit failed after dispatch")
	}

	full := update.Apply(*gen)
	s.cache.Update(ctx, gen.ID, update, &full)

	return &SubmitResult{
		ID:                   gen.ID,
		TaskID:               taskID,
		Status:               status,
		EstimatedWaitSeconds: EstimatedWaitSeconds,
	}, nil
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrInvalidRequest)
	}
	if !domain.ValidIconStyle(req.Style) {
		return fmt.Errorf("%w: unknown style %q", domain.ErrInvalidRequest, req.Style)
	}
	if req.Format != domain.IconFormatSVG && req.Format != domain.IconFormatPNG {
		return fmt.Errorf("%w: format must be svg or png", domain.ErrInvalidRequest)
	}
	if req.NumInferenceSteps < 10 || req.NumInferenceSteps > 50 {
		return fmt.Errorf("%w: num_inference_steps must be between 10 and 50", domain.ErrInvalidRequest)
	}
	if req.GuidanceScale < 0 || req.GuidanceScale > 10 {
		return fmt.Errorf("%w: guidance_scale must be between 0 and 10", domain.ErrInvalidRequest)
	}
	return nil
}

func isAuthError(err error) bool {
	var se *keypool.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 401 || se.StatusCode == 403
	}
	return false
}
