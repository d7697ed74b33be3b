package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// setAccessScript only touches the access key while a refresh token exists.
var setAccessScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps the session under <prefix>access and <prefix>refresh.
type RedisStore struct {
	client     redis.UniversalClient
	accessKey  string
	refreshKey string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:     client,
		accessKey:  prefix + KeyAccess,
		refreshKey: prefix + KeyRefresh,
	}
}

func (s *RedisStore) Get(ctx context.Context) (Pair, bool, error) {
	vals, err := s.client.MGet(ctx, s.accessKey, s.refreshKey).Result()
	if err != nil {
		return Pair{}, false, fmt.Errorf("redis mget session: %w", err)
	}

	var (
		pair  Pair
		found bool
	)
	if v, ok := vals[0].(string); ok {
		pair.Access, found = v, true
	}
	if v, ok := vals[1].(string); ok {
		pair.Refresh, found = v, true
	}
	return pair, found, nil
}

func (s *RedisStore) Set(ctx context.Context, pair Pair) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey, pair.Access, 0)
		pipe.Set(ctx, s.refreshKey, pair.Refresh, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) SetAccess(ctx context.Context, access string) error {
	n, err := setAccessScript.Run(ctx, s.client, []string{s.accessKey, s.refreshKey}, access).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis set access token: %w", err)
	}
	if n == 0 {
		return ErrNoSession
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.accessKey, s.refreshKey).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}
