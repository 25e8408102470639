package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"iconforge/internal/domain"
	"iconforge/internal/generation"
	"iconforge/pkg/zip"
)

var validate = validator.New()

type generateRequest struct {
	Prompt            string `json:"prompt" validate:"required"`
	Style             string `json:"style" validate:"omitempty,oneof=solid outline color flat sticker"`
	Format            string `json:"format" validate:"omitempty,oneof=svg png"`
	NumInferenceSteps int    `json:"num_inference_steps" validate:"omitempty,gte=10,lte=50"`
	GuidanceScale     *int   `json:"guidance_scale" validate:"omitempty,gte=0,lte=10"`
}

type generateResponse struct {
	Success       bool   `json:"success"`
	UUID          string `json:"uuid"`
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	EstimatedTime int    `json:"estimated_time_seconds"`
}

// Generate accepts a text prompt and dispatches an asynchronous icon
// generation job.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Style == "" {
		req.Style = string(domain.IconStyleSolid)
	}
	if req.Format == "" {
		req.Format = string(domain.IconFormatSVG)
	}
	if req.NumInferenceSteps == 0 {
		req.NumInferenceSteps = 20
	}
	guidance := 7
	if req.GuidanceScale != nil {
		guidance = *req.GuidanceScale
	}
	if err := validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result, err := a.Generations.Submit(r.Context(), ownerID, generation.SubmitRequest{
		Prompt:            req.Prompt,
		Style:             domain.IconStyle(req.Style),
		Format:            domain.IconFormat(req.Format),
		NumInferenceSteps: req.NumInferenceSteps,
		GuidanceScale:     guidance,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, generateResponse{
		Success:       true,
		UUID:          result.ID,
		TaskID:        result.TaskID,
		Status:        string(result.Status),
		EstimatedTime: result.EstimatedWaitSeconds,
	})
}

// Status returns one job's state with status-dependent fields.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "uuid")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "uuid required")
		return
	}
	gen, err := a.Generations.Status(r.Context(), ownerID, id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, statusPayload(*gen, time.Now()))
}

type batchStatusRequest struct {
	UUIDs []string `json:"uuids"`
}

// BatchStatus resolves up to 20 jobs in one call. Unknown ids are
// reported with a not_found status rather than omitted.
func (a *App) BatchStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req batchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.UUIDs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "uuids array is required and cannot be empty")
		return
	}
	if len(req.UUIDs) > generation.MaxBatchStatusIDs {
		a.error(w, http.StatusBadRequest, "bad_request",
			fmt.Sprintf("maximum %d uuids allowed per request", generation.MaxBatchStatusIDs))
		return
	}

	gens, err := a.Generations.BatchStatus(r.Context(), ownerID, req.UUIDs)
	if err != nil {
		a.domainError(w, err)
		return
	}

	now := time.Now()
	response := make(map[string]any, len(req.UUIDs))
	for _, gen := range gens {
		response[gen.ID] = statusPayload(gen, now)
	}
	for _, id := range req.UUIDs {
		if _, ok := response[id]; !ok {
			response[id] = map[string]any{
				"uuid":   id,
				"status": "not_found",
				"error":  "Generation not found",
			}
		}
	}
	a.json(w, http.StatusOK, response)
}

// Delete removes one job owned by the caller.
func (a *App) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "uuid")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "uuid required")
		return
	}
	if err := a.Generations.Delete(r.Context(), ownerID, id); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Icon deleted successfully",
	})
}

type batchDeleteRequest struct {
	UUIDs []string `json:"uuids"`
}

// BatchDelete removes several jobs, reporting per-id outcomes.
func (a *App) BatchDelete(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UUIDs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid uuids array")
		return
	}
	deleted, results := a.Generations.BatchDelete(r.Context(), ownerID, req.UUIDs)
	items := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{"uuid": res.ID, "success": res.Success}
		if res.Error != "" {
			item["error"] = res.Error
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_count": deleted,
		"results":       items,
	})
}

// History lists the caller's jobs, newest first, with per-status stats.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 50 {
		limit = 50
	}
	var status *domain.GenerationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch s := domain.GenerationStatus(raw); s {
		case domain.GenerationStatusPending, domain.GenerationStatusGenerating,
			domain.GenerationStatusCompleted, domain.GenerationStatusFailed:
			status = &s
		}
	}

	gens, total, stats, err := a.Generations.History(r.Context(), ownerID, page, limit, status)
	if err != nil {
		a.domainError(w, err)
		return
	}
	now := time.Now()
	icons := make([]map[string]any, 0, len(gens))
	for _, gen := range gens {
		icons = append(icons, statusPayload(gen, now))
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"icons": icons,
			"pagination": map[string]any{
				"page":     page,
				"limit":    limit,
				"total":    total,
				"has_more": (page-1)*limit+limit < total,
			},
			"stats": map[string]any{
				"total":      stats.Total,
				"completed":  stats.Completed,
				"failed":     stats.Failed,
				"generating": stats.Generating,
				"pending":    stats.Pending,
			},
		},
	})
}

// Download streams a completed artifact back in the requested format.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "uuid")
	gen, err := a.Generations.Status(r.Context(), ownerID, id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if gen.Status != domain.GenerationStatusCompleted || gen.LegacyKey == "" {
		a.error(w, http.StatusNotFound, "not_found", "icon not found or not completed")
		return
	}
	data, err := a.Store.Open(r.Context(), gen.LegacyKey)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "download not available")
		return
	}
	contentType := "image/png"
	if gen.Format == domain.IconFormatSVG {
		contentType = "image/svg+xml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("icon-%s.%s", gen.ID, gen.Format)))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Export bundles every stored artifact of a completed job into a zip.
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentUserID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	id := chi.URLParam(r, "uuid")
	gen, err := a.Generations.Status(r.Context(), ownerID, id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if gen.Status != domain.GenerationStatusCompleted {
		a.error(w, http.StatusNotFound, "not_found", "icon not found or not completed")
		return
	}

	var entries []zip.Entry
	for _, artifact := range []struct {
		key  string
		name string
	}{
		{gen.SVGKey, fmt.Sprintf("icon-%s.svg", gen.ID)},
		{gen.PNGKey, fmt.Sprintf("icon-%s.png", gen.ID)},
	} {
		if artifact.key == "" {
			continue
		}
		data, err := a.Store.Open(r.Context(), artifact.key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", artifact.key).Msg("export: artifact unreadable")
			continue
		}
		entries = append(entries, zip.Entry{Name: artifact.name, Data: data})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no artifacts available")
		return
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("icon-%s.zip", gen.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// statusPayload builds the status-dependent response body for one job.
func statusPayload(gen domain.Generation, now time.Time) map[string]any {
	payload := map[string]any{
		"uuid":         gen.ID,
		"status":       string(gen.Status),
		"prompt":       gen.Prompt,
		"style":        string(gen.Style),
		"format":       string(gen.Format),
		"credits_cost": gen.CreditsCost,
		"created_at":   gen.CreatedAt,
		"started_at":   gen.StartedAt,
		"completed_at": gen.CompletedAt,
	}
	switch gen.Status {
	case domain.GenerationStatusCompleted:
		payload["image_url"] = gen.LegacyURL
		payload["svg_url"] = gen.SVGURL
		payload["png_url"] = gen.PNGURL
		payload["file_size"] = gen.LegacySize
		payload["svg_file_size"] = gen.SVGFileSize
		payload["png_file_size"] = gen.PNGFileSize
		payload["generation_time"] = gen.GenerationTime
	case domain.GenerationStatusFailed:
		payload["error_message"] = gen.ErrorMessage
	case domain.GenerationStatusGenerating:
		elapsed := 0
		if gen.StartedAt != nil {
			elapsed = int(now.Sub(*gen.StartedAt).Seconds())
		}
		remaining := generation.EstimatedWaitSeconds - elapsed
		if remaining < 0 {
			remaining = 0
		}
		payload["estimated_remaining"] = remaining
	}
	return payload
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
