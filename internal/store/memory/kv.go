// Package memory provides a process-local KVStore for tests and for running
// without Redis.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// KV is a mutex-guarded map implementing domain.KVStore.
type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ domain.KVStore = (*KV)(nil)

// NewKV returns an empty store.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (s *KV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *KV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

// Keys returns every key with the prefix, sorted.
func (s *KV) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
