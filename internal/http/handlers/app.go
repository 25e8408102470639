package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"iconforge/internal/credits"
	"iconforge/internal/domain"
	"iconforge/internal/generation"
	"iconforge/internal/infra"
	"iconforge/internal/middleware"
	"iconforge/internal/storage"
)

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Config      *infra.Config
	Logger      zerolog.Logger
	Generations *generation.Service
	Ledger      *credits.Ledger
	Store       storage.BlobStore
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, gens *generation.Service, ledger *credits.Ledger, store storage.BlobStore) *App {
	return &App{
		Config:      cfg,
		Logger:      logger,
		Generations: gens,
		Ledger:      ledger,
		Store:       store,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

// currentUserID pulls the authenticated user from the request context.
func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// domainError maps a service error onto an HTTP response.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"error":            "insufficient_credits",
			"message":          "Not enough credits, please top up",
			"credits_required": insufficient.Required,
			"current_credits":  insufficient.Current,
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
	case errors.Is(err, domain.ErrNoActiveCredential):
		a.error(w, http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusInternalServerError, "provider_failure", "icon generation failed, please retry")
	default:
		a.Logger.Error().Err(err).Msg("unhandled error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
