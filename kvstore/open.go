package kvstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Open picks a backend from target:
//
//	memory:
//	file:/path/to/state.json
//	redis://[:password@]host:port/db   (keys prefixed "pawmart:")
//	mongodb://host:port                (collection pawmart.kv)
//
// The returned close func releases the backend's connection.
func Open(ctx context.Context, target string) (Store, func() error, error) {
	noop := func() error { return nil }
	scheme, rest, _ := strings.Cut(target, ":")
	switch scheme {
	case "memory":
		return NewMemory(), noop, nil
	case "file":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return nil, nil, fmt.Errorf("kvstore: file target needs a path")
		}
		f, err := NewFile(path)
		if err != nil {
			return nil, nil, err
		}
		return f, noop, nil
	case "redis", "rediss":
		opt, err := redis.ParseURL(target)
		if err != nil {
			return nil, nil, fmt.Errorf("kvstore: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("kvstore: ping redis: %w", err)
		}
		return NewRedis(client, "pawmart:"), client.Close, nil
	case "mongodb", "mongodb+srv":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(target))
		if err != nil {
			return nil, nil, fmt.Errorf("kvstore: connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("kvstore: ping mongo: %w", err)
		}
		closeFn := func() error { return client.Disconnect(context.Background()) }
		return NewMongo(client.Database("pawmart").Collection("kv")), closeFn, nil
	}
	return nil, nil, fmt.Errorf("kvstore: unknown target %q", target)
}
