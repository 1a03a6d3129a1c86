package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Registry maps keys to lazily created values. Keys are spread over
// independently locked shards, so lookups for different keys rarely
// contend. Creation runs under the shard lock and must not block on I/O.
type Registry[V any] struct {
	shards []registryShard[V]
}

type registryShard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// NewRegistry creates a registry with n shards; n < 1 means one.
func NewRegistry[V any](n int) *Registry[V] {
	if n < 1 {
		n = 1
	}
	r := &Registry[V]{shards: make([]registryShard[V], n)}
	for i := range r.shards {
		r.shards[i].m = make(map[string]V)
	}
	return r
}

func (r *Registry[V]) shard(key string) *registryShard[V] {
	return &r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// GetOrCreate returns the value for key, calling create exactly once per
// key across all goroutines. A create error stores nothing.
func (r *Registry[V]) GetOrCreate(key string, create func() (V, error)) (V, bool, error) {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.m[key]; ok {
		return v, false, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	s.m[key] = v
	return v, true, nil
}

// Get returns the value for key if present.
func (r *Registry[V]) Get(key string) (V, bool) {
	s := r.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Len returns the number of stored values.
func (r *Registry[V]) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}
