package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to Key.String() to form the redis key.
const DefaultRedisPrefix = "fordpass:token:"

// RedisStore keeps each record as a single JSON string value.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.String()
}

func (s *RedisStore) Load(ctx context.Context, key Key) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting token record: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Save(ctx context.Context, key Key, rec *Record) error {
	if rec == nil {
		return errors.New("nil credential record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("saving token record: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}
