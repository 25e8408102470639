package handlers

import (
	"errors"
	"io"
	"net/http"

	"iconforge/internal/domain"
	"iconforge/internal/provider/freepik"
)

// Webhook receives provider callbacks. The job id travels as a query
// parameter set at dispatch time; the body carries the provider's own
// task id as a fallback correlator.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("uuid")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	event, err := freepik.ParseWebhook(body)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("webhook: rejected payload")
		a.error(w, http.StatusBadRequest, "bad_request", "invalid webhook payload")
		return
	}

	if err := a.Generations.HandleWebhook(r.Context(), jobID, event); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("webhook: processing failed")
		a.error(w, http.StatusInternalServerError, "internal_error", "webhook processing failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}
