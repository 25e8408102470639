// Package keypool selects upstream provider credentials round-robin and
// retires them when the provider signals quota exhaustion.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"iconforge/internal/domain"
)

const defaultMaxRetries = 3

// Pool rotates over the active credentials of each provider. The
// per-provider cursor is instance state guarded by a mutex, so rotation
// fairness is scoped to one process.
type Pool struct {
	repo   domain.APIKeyRepository
	logger zerolog.Logger

	mu      sync.Mutex
	cursors map[string]int
}

// NewPool constructs a credential pool over the given repository.
func NewPool(repo domain.APIKeyRepository, logger zerolog.Logger) *Pool {
	return &Pool{repo: repo, logger: logger, cursors: make(map[string]int)}
}

// Acquire returns the next active credential for the provider,
// skipping any ids in exclude. The cursor advances on every acquisition
// regardless of what the caller does with the credential. Returns
// domain.ErrNoActiveCredential when nothing usable remains.
func (p *Pool) Acquire(ctx context.Context, provider string, exclude ...int64) (*domain.APIKey, error) {
	keys, err := p.repo.ListActive(ctx, provider)
	if err != nil {
		return nil, err
	}
	valid := keys[:0]
	for _, k := range keys {
		if !contains(exclude, k.ID) {
			valid = append(valid, k)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: provider %s", domain.ErrNoActiveCredential, provider)
	}

	p.mu.Lock()
	idx := p.cursors[provider] % len(valid)
	p.cursors[provider] = (p.cursors[provider] + 1) % len(valid)
	p.mu.Unlock()

	key := valid[idx]
	return &key, nil
}

// Disable retires a credential. Disabling is one-directional in the hot
// path; re-enabling is an administrative action.
func (p *Pool) Disable(ctx context.Context, id int64) error {
	return p.repo.SetStatus(ctx, id, domain.APIKeyStatusDisabled)
}

// ExecuteWithRetry runs call with rotated credentials. On a
// quota-classified failure the offending credential is disabled and
// excluded, and the call retried with the next one, up to maxRetries
// attempts. The last error is surfaced on exhaustion.
func (p *Pool) ExecuteWithRetry(ctx context.Context, provider string, call func(key *domain.APIKey) error, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	var exclude []int64
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		key, err := p.Acquire(ctx, provider, exclude...)
		if err != nil {
			if lastErr != nil && errors.Is(err, domain.ErrNoActiveCredential) {
				return lastErr
			}
			return err
		}
		err = call(key)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsQuotaError(err) {
			exclude = append(exclude, key.ID)
			if derr := p.Disable(ctx, key.ID); derr != nil {
				p.logger.Error().Err(derr).Int64("key_id", key.ID).Msg("keypool: disable failed")
			} else {
				p.logger.Warn().Int64("key_id", key.ID).Str("provider", provider).Msg("keypool: credential disabled on quota error")
			}
		}
	}
	return lastErr
}

// IsQuotaError classifies provider errors that should retire the
// credential they were issued with: HTTP 429 or quota/rate-limit
// wording in the error text.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"quota", "rate limit", "exceeded", "daily limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// StatusError is a provider call failure carrying the upstream HTTP
// status so callers can classify it without string matching.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
