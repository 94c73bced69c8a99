package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

const scanCount = 200

// KVStore implements domain.KVStore with plain string keys under "kv:".
type KVStore struct {
	c *Client
}

// NewKVStore creates a KVStore backed by the given Client.
func NewKVStore(c *Client) *KVStore {
	return &KVStore{c: c}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.rdb.Get(ctx, s.c.key("kv", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: kv get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := s.c.rdb.Set(ctx, s.c.key("kv", key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: kv set %s: %w", key, err)
	}
	return nil
}

// Keys scans for keys starting with prefix and returns them without the
// namespace, sorted.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ns := s.c.key("kv", "")
	iter := s.c.rdb.Scan(ctx, 0, ns+prefix+"*", scanCount).Iterator()
	var out []string
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), ns))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: kv keys %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

var _ domain.KVStore = (*KVStore)(nil)
