package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/polymolt/relay/internal/models"
)

const (
	messageTTL   = 24 * time.Hour
	rateLimitTTL = time.Minute
)

// RedisLog is a MessageLog backed by Redis sorted sets, one per market.
// Members are scored by an INCR-allocated arrival sequence rather than by
// timestamp, so concurrent senders keep a stable canonical order even
// under clock skew. It also carries the fixed-window rate limit counters.
type RedisLog struct {
	client *redis.Client
}

// NewRedisLog connects to Redis and verifies the connection.
func NewRedisLog(ctx context.Context, redisURL string) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisLog{client: client}, nil
}

// Close closes the Redis connection.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

// Ping checks the Redis connection.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limit middleware.
func (l *RedisLog) Client() *redis.Client {
	return l.client
}

// marketMessagesKey returns the key for a market's message sorted set.
func marketMessagesKey(marketID string) string {
	return fmt.Sprintf("market:%s:messages", marketID)
}

// seqKey is the global arrival sequence counter.
const seqKey = "relay:messages:seq"

// Append stores a message in the market's sorted set.
func (l *RedisLog) Append(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	seq, err := l.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return err
	}
	msg.Seq = uint64(seq)

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := marketMessagesKey(msg.MarketID)

	err = l.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(seq),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	l.client.Expire(ctx, key, messageTTL)
	return nil
}

// Tail returns the most recent limit messages, oldest first.
func (l *RedisLog) Tail(ctx context.Context, marketID string, limit int) ([]models.Message, error) {
	results, err := l.client.ZRevRange(ctx, marketMessagesKey(marketID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	// ZRevRange is newest first; reverse into chronological order.
	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Recent returns up to limit messages, most recent first.
func (l *RedisLog) Recent(ctx context.Context, marketID string, limit int) ([]models.Message, error) {
	results, err := l.client.ZRevRange(ctx, marketMessagesKey(marketID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// rateLimitKey returns the key for a fixed-window rate limit counter.
func rateLimitKey(scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, id)
}

// Allow increments the counter for (scope, id) and reports whether the
// caller is within limit for the window. Errors fail open: a broken Redis
// never blocks the relay.
func (l *RedisLog) Allow(ctx context.Context, scope, id string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if window <= 0 {
		window = rateLimitTTL
	}

	key := rateLimitKey(scope, id)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	return incr.Val() <= int64(limit)
}
