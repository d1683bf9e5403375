package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain string keys, optionally namespaced.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. prefix is prepended verbatim, e.g.
// "pawmart:user:42:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
