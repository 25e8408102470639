package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"iconforge/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

const generationColumns = `
id, owner_id, provider_task_id, provider, prompt, style, format,
num_inference_steps, guidance_scale, webhook_url, status,
svg_key, svg_url, svg_file_size, png_key, png_url, png_file_size,
legacy_key, legacy_url, legacy_size, original_url,
credits_cost, generation_time, error_message,
created_at, started_at, completed_at`

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	query := `
INSERT INTO icon_generations
  (id, owner_id, provider, prompt, style, format, num_inference_steps,
   guidance_scale, webhook_url, status, credits_cost, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err := r.pool.Exec(ctx, query,
		gen.ID,
		gen.OwnerID,
		gen.Provider,
		gen.Prompt,
		gen.Style,
		gen.Format,
		gen.NumInferenceSteps,
		gen.GuidanceScale,
		gen.WebhookURL,
		gen.Status,
		gen.CreditsCost,
		gen.CreatedAt,
	)
	return err
}

// FindByID fetches a generation by its caller-visible identifier.
func (r *GenerationRepositoryPG) FindByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM icon_generations WHERE id = $1;`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// FindByTaskID fetches a generation by the provider-assigned task id.
func (r *GenerationRepositoryPG) FindByTaskID(ctx context.Context, taskID string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM icon_generations WHERE provider_task_id = $1;`
	return r.scanOne(r.pool.QueryRow(ctx, query, taskID))
}

// FindByOwnerAndID fetches a generation only if it belongs to the owner.
func (r *GenerationRepositoryPG) FindByOwnerAndID(ctx context.Context, ownerID, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM icon_generations WHERE id = $1 AND owner_id = $2;`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, ownerID))
}

// BatchFindByOwner fetches the owner's generations among the given ids.
// Unknown or foreign ids are simply absent from the result.
func (r *GenerationRepositoryPG) BatchFindByOwner(ctx context.Context, ownerID string, ids []string) ([]domain.Generation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + generationColumns + ` FROM icon_generations WHERE owner_id = $1 AND id = ANY($2);`
	rows, err := r.pool.Query(ctx, query, ownerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGenerations(rows)
}

// Update applies a partial update; nil fields keep their stored value.
func (r *GenerationRepositoryPG) Update(ctx context.Context, id string, update domain.GenerationUpdate) error {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.ProviderTaskID != nil {
		add("provider_task_id", *update.ProviderTaskID)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.SVGKey != nil {
		add("svg_key", *update.SVGKey)
	}
	if update.SVGURL != nil {
		add("svg_url", *update.SVGURL)
	}
	if update.SVGFileSize != nil {
		add("svg_file_size", *update.SVGFileSize)
	}
	if update.PNGKey != nil {
		add("png_key", *update.PNGKey)
	}
	if update.PNGURL != nil {
		add("png_url", *update.PNGURL)
	}
	if update.PNGFileSize != nil {
		add("png_file_size", *update.PNGFileSize)
	}
	if update.LegacyKey != nil {
		add("legacy_key", *update.LegacyKey)
	}
	if update.LegacyURL != nil {
		add("legacy_url", *update.LegacyURL)
	}
	if update.LegacySize != nil {
		add("legacy_size", *update.LegacySize)
	}
	if update.OriginalURL != nil {
		add("original_url", *update.OriginalURL)
	}
	if update.GenerationTime != nil {
		add("generation_time", *update.GenerationTime)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}
	if update.StartedAt != nil {
		add("started_at", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE icon_generations SET %s WHERE id = $1;`, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteByID removes a generation record.
func (r *GenerationRepositoryPG) DeleteByID(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM icon_generations WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOwner returns one page of the owner's generations, newest first,
// optionally filtered by status, along with the filtered total.
func (r *GenerationRepositoryPG) ListByOwner(ctx context.Context, ownerID string, page, limit int, status *domain.GenerationStatus) ([]domain.Generation, int, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	where := `owner_id = $1`
	args := []any{ownerID}
	if status != nil {
		args = append(args, *status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM icon_generations WHERE ` + where + `;`
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM icon_generations WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d;`,
		generationColumns, where, len(args)-1, len(args),
	)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	gens, err := scanGenerations(rows)
	if err != nil {
		return nil, 0, err
	}
	return gens, total, nil
}

// StatsByOwner aggregates per-status counts for the owner.
func (r *GenerationRepositoryPG) StatsByOwner(ctx context.Context, ownerID string) (*domain.GenerationStats, error) {
	query := `SELECT status, COUNT(*) FROM icon_generations WHERE owner_id = $1 GROUP BY status;`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &domain.GenerationStats{}
	for rows.Next() {
		var status domain.GenerationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case domain.GenerationStatusCompleted:
			stats.Completed = count
		case domain.GenerationStatusFailed:
			stats.Failed = count
		case domain.GenerationStatusGenerating:
			stats.Generating = count
		case domain.GenerationStatusPending:
			stats.Pending = count
		}
	}
	return stats, rows.Err()
}

func (r *GenerationRepositoryPG) scanOne(row pgx.Row) (*domain.Generation, error) {
	gen, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return gen, nil
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	var taskID, svgKey, svgURL, pngKey, pngURL *string
	var legacyKey, legacyURL, originalURL, errMsg *string
	var svgSize, pngSize, legacySize *int64
	var genTime *int
	if err := row.Scan(
		&gen.ID,
		&gen.OwnerID,
		&taskID,
		&gen.Provider,
		&gen.Prompt,
		&gen.Style,
		&gen.Format,
		&gen.NumInferenceSteps,
		&gen.GuidanceScale,
		&gen.WebhookURL,
		&gen.Status,
		&svgKey,
		&svgURL,
		&svgSize,
		&pngKey,
		&pngURL,
		&pngSize,
		&legacyKey,
		&legacyURL,
		&legacySize,
		&originalURL,
		&gen.CreditsCost,
		&genTime,
		&errMsg,
		&gen.CreatedAt,
		&gen.StartedAt,
		&gen.CompletedAt,
	); err != nil {
		return nil, err
	}
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&gen.ProviderTaskID, taskID)
	setString(&gen.SVGKey, svgKey)
	setString(&gen.SVGURL, svgURL)
	setString(&gen.PNGKey, pngKey)
	setString(&gen.PNGURL, pngURL)
	setString(&gen.LegacyKey, legacyKey)
	setString(&gen.LegacyURL, legacyURL)
	setString(&gen.OriginalURL, originalURL)
	setString(&gen.ErrorMessage, errMsg)
	if svgSize != nil {
		gen.SVGFileSize = *svgSize
	}
	if pngSize != nil {
		gen.PNGFileSize = *pngSize
	}
	if legacySize != nil {
		gen.LegacySize = *legacySize
	}
	if genTime != nil {
		gen.GenerationTime = *genTime
	}
	return &gen, nil
}

func scanGenerations(rows pgx.Rows) ([]domain.Generation, error) {
	var gens []domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		gens = append(gens, *gen)
	}
	return gens, rows.Err()
}
