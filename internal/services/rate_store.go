package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/config"
	"github.com/atabank/backend/internal/models"
)

// RateSnapshotStore keeps the last good rate set outside the process so a
// restart without network access still has something to show.
type RateSnapshotStore interface {
	Save(ctx context.Context, base string, snap StoredRates) error
	Load(ctx context.Context, base string) (*StoredRates, error)
}

type StoredRates struct {
	FetchedAt time.Time             `json:"fetched_at"`
	Rates     []models.ExchangeRate `json:"rates"`
}

type RedisRateStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRateStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisRateStore {
	return &RedisRateStore{client: client, ttl: ttl, logger: logger}
}

// NewRateSnapshotStore returns a nil store when there is no Redis client.
// Snapshots live for redis.rates_ttl, well past the in-memory freshness window.
func NewRateSnapshotStore(client *redis.Client, cfg config.RedisConfig, logger *zap.Logger) RateSnapshotStore {
	if client == nil {
		return nil
	}
	return NewRedisRateStore(client, cfg.RatesTTL, logger)
}

func rateKey(base string) string {
	return fmt.Sprintf("atabank:rates:%s", base)
}

func (r *RedisRateStore) Save(ctx context.Context, base string, snap StoredRates) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode rate snapshot: %w", err)
	}
	if err := r.client.Set(ctx, rateKey(base), string(data), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store rate snapshot: %w", err)
	}
	return nil
}

// Load returns nil, nil when nothing is stored for base.
func (r *RedisRateStore) Load(ctx context.Context, base string) (*StoredRates, error) {
	val, err := r.client.Get(ctx, rateKey(base)).Result()
	if errors.Is(err, redis.Nil) {
		r.logger.Debug("Rate snapshot miss", zap.String("base", base))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rate snapshot: %w", err)
	}

	var snap StoredRates
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode rate snapshot: %w", err)
	}
	return &snap, nil
}
