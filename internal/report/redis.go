package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "sitetrust:report:"

// RedisStore keeps reports in Redis, one JSON value per hostname under
// "<prefix>host:" plus a set at "<prefix>index" listing every reported
// hostname. The two never collide whatever the hostname.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the Redis server at redisURL.
func OpenRedis(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(hostname string) string {
	return s.prefix + "host:" + hostname
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, hostname string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.key(hostname)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &e, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, e Entry) error {
	if e.Hostname == "" {
		return fmt.Errorf("report hostname is empty")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(e.Hostname), data, 0)
	pipe.SAdd(ctx, s.indexKey(), e.Hostname)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, hostname string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.key(hostname))
	pipe.SRem(ctx, s.indexKey(), hostname)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove report: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	hosts, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	out := make([]Entry, 0, len(hosts))
	for _, h := range hosts {
		e, err := s.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Hostname < out[j].Hostname
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
