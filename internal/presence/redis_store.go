package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// RedisStore keeps last-seen timestamps in Redis so multiple API instances
// share one view of presence. Each record carries a TTL equal to the offline
// threshold, so Redis itself evicts stale entries and Sweep is a no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the given Redis URL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// Get implements Store. A missing or expired key means offline.
func (s *RedisStore) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get presence: %w", err)
	}
	seen, err := parseLastSeen(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return seen, true, nil
}

// GetBatch implements Store via a single MGET round trip.
func (s *RedisStore) GetBatch(ctx context.Context, userIDs []string) (map[string]time.Time, error) {
	if len(userIDs) == 0 {
		return map[string]time.Time{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = presenceKey(userID)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch get presence: %w", err)
	}

	result := make(map[string]time.Time, len(userIDs))
	for i, value := range values {
		if value == nil {
			continue
		}
		raw, ok := value.(string)
		if !ok {
			continue
		}
		seen, err := parseLastSeen(raw)
		if err != nil {
			// A malformed record reads as offline rather than failing the batch.
			continue
		}
		result[userIDs[i]] = seen
	}
	return result, nil
}

// Set implements Store, refreshing the record TTL on every heartbeat.
func (s *RedisStore) Set(ctx context.Context, userID string, lastSeen time.Time) error {
	value := strconv.FormatInt(lastSeen.UnixMilli(), 10)
	if err := s.client.Set(ctx, presenceKey(userID), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

// Sweep implements Store. Key TTLs already bound memory, so there is
// nothing to do.
func (s *RedisStore) Sweep(_ context.Context, _ time.Time) error {
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseLastSeen(raw string) (time.Time, error) {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse presence record: %w", err)
	}
	return time.UnixMilli(millis).UTC(), nil
}
