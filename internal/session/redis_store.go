package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-agent/internal/models"
)

// RedisStore keeps session state in Redis, keyed per driver, so a driver
// switching devices mid-shift restores the same in-flight ride.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password, driverID string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, prefix: "driver:session:" + driverID}
}

func (r *RedisStore) snapshotKey() string       { return r.prefix + ":rideState" }
func (r *RedisStore) flagKey(key string) string { return r.prefix + ":flag:" + key }

func (r *RedisStore) SaveSnapshot(ctx context.Context, snap *models.RideSnapshot) error {
	snap.SavedAt = time.Now()
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.snapshotKey(), b, 0).Err()
}

func (r *RedisStore) LoadSnapshot(ctx context.Context) (*models.RideSnapshot, error) {
	b, err := r.client.Get(ctx, r.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.RideSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *RedisStore) ClearSnapshot(ctx context.Context) error {
	return r.client.Del(ctx, r.snapshotKey()).Err()
}

func (r *RedisStore) SetFlag(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.flagKey(key), value, 0).Err()
}

func (r *RedisStore) GetFlag(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.flagKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *RedisStore) ClearAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
