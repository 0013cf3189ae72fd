package rates

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "escrow:rate:snapshot"

type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore stores the snapshot under a key suffixed with the coin id.
func NewRedisStore(rdb *redis.Client, coinID string) *RedisStore {
	return &RedisStore{rdb: rdb, key: snapshotKey + ":" + coinID}
}

func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load rate snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode rate snapshot: %w", err)
	}
	return snap, nil
}
