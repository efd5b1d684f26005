package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imghost/abuseguard/internal/models"
)

// RedisStore wraps a redis client and context for operations. It backs the
// rate window counters and the failed-attempt records.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// windowScript increments a fixed-window counter only while it is below the
// quota. The TTL is set when the counter is created.
// KEYS[1] = counter key
// ARGV[1] = max requests
// ARGV[2] = ttl in milliseconds
// Returns: {count, allowed (1/0)}
var windowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local max = tonumber(ARGV[1])
if current >= max then
	return {current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {current, 1}
`)

// IncrementWindow atomically creates or increments the counter at key unless
// it has already reached maxRequests.
func (r *RedisStore) IncrementWindow(ctx context.Context, key string, maxRequests int64, ttl time.Duration) (int64, bool, error) {
	if r == nil || r.Client == nil {
		return 0, false, errors.New("redis store is nil")
	}
	vals, err := windowScript.Run(ctx, r.Client, []string{key}, maxRequests, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("window script: %w", err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("window script: unexpected reply length %d", len(vals))
	}
	return vals[0], vals[1] == 1, nil
}

// GetWindowCount returns the current count for key, or zero when absent.
func (r *RedisStore) GetWindowCount(ctx context.Context, key string) (int64, error) {
	n, err := r.Client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// PurgeCounters deletes counters whose window started before the horizon.
// Counters also carry a TTL, so this only catches keys that outlived it.
func (r *RedisStore) PurgeCounters(ctx context.Context, before time.Time) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := r.Client.Scan(ctx, cursor, models.CounterKeyPrefix+"*", 500).Result()
		if err != nil {
			return removed, fmt.Errorf("scan counters: %w", err)
		}
		var stale []string
		for _, k := range keys {
			if start, ok := models.ParseCounterWindowStart(k); ok && start.Before(before) {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			n, err := r.Client.Del(ctx, stale...).Result()
			if err != nil {
				return removed, fmt.Errorf("delete counters: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

const maxAttemptTxRetries = 10

func attemptKey(identifier, attemptType string) string {
	return fmt.Sprintf("lockout:%s:%s", attemptType, identifier)
}

func decodeAttempt(identifier, attemptType string, h map[string]string) (*models.FailedAttemptRecord, error) {
	if len(h) == 0 {
		return nil, nil
	}
	count, err := strconv.Atoi(h["count"])
	if err != nil {
		return nil, fmt.Errorf("decode attempt count: %w", err)
	}
	last, err := strconv.ParseInt(h["last"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode last attempt: %w", err)
	}
	rec := &models.FailedAttemptRecord{
		Identifier:    identifier,
		AttemptType:   attemptType,
		AttemptCount:  count,
		LastAttemptAt: time.UnixMilli(last).UTC(),
	}
	if v := h["locked"]; v != "" && v != "0" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode locked until: %w", err)
		}
		t := time.UnixMilli(ms).UTC()
		rec.LockedUntil = &t
	}
	return rec, nil
}

func encodeAttempt(rec *models.FailedAttemptRecord) map[string]interface{} {
	locked := int64(0)
	if rec.LockedUntil != nil {
		locked = rec.LockedUntil.UnixMilli()
	}
	return map[string]interface{}{
		"count":  rec.AttemptCount,
		"last":   rec.LastAttemptAt.UnixMilli(),
		"locked": locked,
	}
}

// GetAttempt returns the failed-attempt record, or nil when none exists.
func (r *RedisStore) GetAttempt(ctx context.Context, identifier, attemptType string) (*models.FailedAttemptRecord, error) {
	h, err := r.Client.HGetAll(ctx, attemptKey(identifier, attemptType)).Result()
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return decodeAttempt(identifier, attemptType, h)
}

// UpdateAttempt applies mutate to the current record inside an optimistic
// WATCH/MULTI transaction, retrying when another writer got there first.
// mutate receives nil when no record exists; returning nil leaves the stored
// record untouched.
func (r *RedisStore) UpdateAttempt(ctx context.Context, identifier, attemptType string, ttl time.Duration, mutate func(*models.FailedAttemptRecord) *models.FailedAttemptRecord) (*models.FailedAttemptRecord, error) {
	key := attemptKey(identifier, attemptType)
	var result *models.FailedAttemptRecord

	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		cur, err := decodeAttempt(identifier, attemptType, h)
		if err != nil {
			return err
		}
		next := mutate(cur)
		if next == nil {
			result = cur
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeAttempt(next))
			pipe.PExpire(ctx, key, ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for i := 0; i < maxAttemptTxRetries; i++ {
		err := r.Client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	return nil, fmt.Errorf("update attempt: %w", redis.TxFailedErr)
}

// DeleteAttempt removes the failed-attempt record.
func (r *RedisStore) DeleteAttempt(ctx context.Context, identifier, attemptType string) error {
	if err := r.Client.Del(ctx, attemptKey(identifier, attemptType)).Err(); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
