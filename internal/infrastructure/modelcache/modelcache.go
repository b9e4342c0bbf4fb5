// Package modelcache decorates a Repository with a Redis read-through cache
// for the latest model, so high-volume inference does not hit the relational
// store for every run. Cache failures degrade to the wrapped repository.
package modelcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

const latestModelKey = "zentry:model:latest"

// Repository wraps another repository; only the model operations are cached.
type Repository struct {
	next   ports.Repository
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ ports.Repository = (*Repository)(nil)

// Wrap builds the caching decorator. TTL <= 0 caches without expiry.
func Wrap(next ports.Repository, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Repository {
	return &Repository{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// FetchRaw delegates; raw readings are not cached.
func (r *Repository) FetchRaw(ctx context.Context, sel ports.Selector) ([]domain.RawReading, error) {
	return r.next.FetchRaw(ctx, sel)
}

// SaveModel writes through: persist first, then refresh the cache.
func (r *Repository) SaveModel(ctx context.Context, model domain.ClusterModel) (string, error) {
	version, err := r.next.SaveModel(ctx, model)
	if err != nil {
		return "", err
	}
	r.store(ctx, model)
	return version, nil
}

// LoadLatestModel serves from Redis when possible, falling back to the
// wrapped repository and repopulating on a miss.
func (r *Repository) LoadLatestModel(ctx context.Context) (domain.ClusterModel, error) {
	raw, err := r.rdb.Get(ctx, latestModelKey).Bytes()
	if err == nil {
		var model domain.ClusterModel
		if uErr := json.Unmarshal(raw, &model); uErr == nil {
			return model, nil
		}
		r.warn("cached model is unreadable, falling back", "key", latestModelKey)
	} else if err != redis.Nil {
		r.warn("model cache read failed, falling back", "error", err)
	}

	model, err := r.next.LoadLatestModel(ctx)
	if err != nil {
		return domain.ClusterModel{}, err
	}
	r.store(ctx, model)
	return model, nil
}

// SaveVerdicts delegates unchanged.
func (r *Repository) SaveVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) (int, error) {
	return r.next.SaveVerdicts(ctx, verdicts)
}

func (r *Repository) store(ctx context.Context, model domain.ClusterModel) {
	raw, err := json.Marshal(model)
	if err != nil {
		r.warn("cannot encode model for cache", "error", err)
		return
	}
	if err := r.rdb.Set(ctx, latestModelKey, raw, r.ttl).Err(); err != nil {
		r.warn("model cache write failed", "error", err)
	}
}

func (r *Repository) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
