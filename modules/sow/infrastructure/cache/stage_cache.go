package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sowflow/sowflow/modules/sow/domain/stage"
)

const activeStagesKey = "sow:stages:active"

// KV is the subset of *redis.Client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// StageRepository caches the active stage list in Redis. Redis failures
// degrade to reading the wrapped repository.
type StageRepository struct {
	inner  stage.Repository
	kv     KV
	ttl    time.Duration
	logger *logrus.Logger
}

func NewStageRepository(inner stage.Repository, kv KV, ttl time.Duration, logger *logrus.Logger) *StageRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StageRepository{inner: inner, kv: kv, ttl: ttl, logger: logger}
}

func (r *StageRepository) ListActive(ctx context.Context) ([]stage.Stage, error) {
	raw, err := r.kv.Get(ctx, activeStagesKey).Bytes()
	switch {
	case err == nil:
		var stages []stage.Stage
		if jsonErr := json.Unmarshal(raw, &stages); jsonErr == nil {
			return stages, nil
		}
		r.logger.WithField("key", activeStagesKey).Warn("stage cache: dropping undecodable entry")
	case errors.Is(err, redis.Nil):
	default:
		r.logger.WithError(err).Warn("stage cache: read failed, using database")
	}

	stages, err := r.inner.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(stages); err == nil {
		if err := r.kv.Set(ctx, activeStagesKey, payload, r.ttl).Err(); err != nil {
			r.logger.WithError(err).Warn("stage cache: write failed")
		}
	}
	return stages, nil
}

func (r *StageRepository) ListAll(ctx context.Context) ([]stage.Stage, error) {
	return r.inner.ListAll(ctx)
}

func (r *StageRepository) UpsertByName(ctx context.Context, s *stage.Stage) (*stage.Stage, error) {
	out, err := r.inner.UpsertByName(ctx, s)
	if err != nil {
		return nil, err
	}
	r.Invalidate(ctx)
	return out, nil
}

func (r *StageRepository) Invalidate(ctx context.Context) {
	if err := r.kv.Del(ctx, activeStagesKey).Err(); err != nil {
		r.logger.WithError(err).Warn("stage cache: invalidate failed")
	}
}
