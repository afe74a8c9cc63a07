package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gridsync/internal/domain"
)

const (
	runLockKey = "gridsync:run-lock"
	lastRunKey = "gridsync:last-run"
)

// RedisStore handles interactions with Redis for cross-process run
// coordination: the run lock and the last-run document.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AcquireRunLock takes the run lock with a TTL guarding against a crashed
// holder. The returned token marks this run as the lock's owner; release
// needs it back. ok is false when another run already holds the lock.
func (s *RedisStore) AcquireRunLock(ctx context.Context, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, runLockKey, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// releaseRunLock deletes the lock only while the caller's token still owns
// it. A run that outlived the lock TTL must not delete the lock a newer run
// has since acquired.
var releaseRunLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// ReleaseRunLock gives the lock back. Releasing a lock that expired or moved
// to another owner is a no-op.
func (s *RedisStore) ReleaseRunLock(ctx context.Context, token string) error {
	if err := releaseRunLock.Run(ctx, s.client, []string{runLockKey}, token).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// RunActive reports whether some process currently holds the run lock.
func (s *RedisStore) RunActive(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, runLockKey).Result()
	if err != nil {
		return false, fmt.Errorf("check run lock: %w", err)
	}
	return n == 1, nil
}

// SaveLastRun records the outcome of the most recent run.
func (s *RedisStore) SaveLastRun(ctx context.Context, result domain.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	return s.client.Set(ctx, lastRunKey, payload, 0).Err()
}

// LastRun returns the most recently recorded run result, or nil when no run
// has been recorded yet.
func (s *RedisStore) LastRun(ctx context.Context) (*domain.RunResult, error) {
	payload, err := s.client.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last run: %w", err)
	}

	var result domain.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode last run: %w", err)
	}
	return &result, nil
}
