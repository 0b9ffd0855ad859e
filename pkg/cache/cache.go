package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
}

// Dial connects to redisURL and pings it.
func Dial(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 3

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func New(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Client exposes the underlying connection pool so pub/sub can share it.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Get retrieves JSON-encoded value from cache
func (r *Redis) Get(ctx context.Context, key string, dest interface{}) bool {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			glog.V(1).Infof("[CACHE] get %s: %v", key, err)
		}
		return false
	}
	return json.Unmarshal(val, dest) == nil
}

// Set stores JSON-encoded value in cache
func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		glog.V(1).Infof("[CACHE] set %s: %v", key, err)
	}
}

func (r *Redis) Del(ctx context.Context, keys ...string) {
	r.client.Del(ctx, keys...)
}

// DelPattern deletes every key matching pattern, pipelined in batches.
func (r *Redis) DelPattern(ctx context.Context, pattern string) {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	const batchSize = 100

	pipe := r.client.Pipeline()
	count := 0

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++

		if count >= batchSize {
			pipe.Exec(ctx)
			count = 0
		}
	}

	if count > 0 {
		pipe.Exec(ctx)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
