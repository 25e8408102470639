package cache

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"iconforge/internal/domain"
)

const keyPrefix = "icon:"

// Redis is the go-redis backed cache. All failures are logged at warn
// level and reported as miss/false so callers fall back to the
// database.
type Redis struct {
	client *goredis.Client
	logger zerolog.Logger
}

// NewRedis wraps an established client.
func NewRedis(client *goredis.Client, logger zerolog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func cacheKey(id string) string { return keyPrefix + id }

func (c *Redis) Get(ctx context.Context, id string) *domain.Generation {
	raw, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn().Err(err).Str("generation_id", id).Msg("cache: get failed")
		}
		return nil
	}
	var gen domain.Generation
	if err := json.Unmarshal(raw, &gen); err != nil {
		c.logger.Warn().Err(err).Str("generation_id", id).Msg("cache: corrupt entry")
		return nil
	}
	return &gen
}

func (c *Redis) BatchGet(ctx context.Context, ids []string) map[string]domain.Generation {
	result := make(map[string]domain.Generation, len(ids))
	if len(ids) == 0 {
		return result
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache: batch get failed")
		return result
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var gen domain.Generation
		if err := json.Unmarshal([]byte(s), &gen); err != nil {
			c.logger.Warn().Str("generation_id", ids[i]).Msg("cache: corrupt entry in batch")
			continue
		}
		result[ids[i]] = gen
	}
	return result
}

func (c *Redis) Set(ctx context.Context, gen domain.Generation) bool {
	raw, err := json.Marshal(gen)
	if err != nil {
		c.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("cache: marshal failed")
		return false
	}
	if err := c.client.SetEx(ctx, cacheKey(gen.ID), raw, TTLForStatus(gen.Status)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("cache: set failed")
		return false
	}
	return true
}

func (c *Redis) BatchSet(ctx context.Context, gens []domain.Generation) bool {
	if len(gens) == 0 {
		return true
	}
	pipe := c.client.Pipeline()
	for _, gen := range gens {
		raw, err := json.Marshal(gen)
		if err != nil {
			c.logger.Warn().Err(err).Str("generation_id", gen.ID).Msg("cache: marshal failed")
			continue
		}
		pipe.SetEx(ctx, cacheKey(gen.ID), raw, TTLForStatus(gen.Status))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("cache: batch set failed")
		return false
	}
	return true
}

func (c *Redis) Update(ctx context.Context, id string, update domain.GenerationUpdate, base *domain.Generation) bool {
	merged, ok := mergeUpdate(update, c.Get(ctx, id), base)
	if !ok {
		c.logger.Warn().Str("generation_id", id).Msg("cache: update without prior entry or full record")
		return false
	}
	return c.Set(ctx, merged)
}

func (c *Redis) Delete(ctx context.Context, id string) bool {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("generation_id", id).Msg("cache: delete failed")
		return false
	}
	return true
}

func (c *Redis) BatchDelete(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		return true
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache: batch delete failed")
		return false
	}
	return true
}

var _ GenerationCache = (*Redis)(nil)
