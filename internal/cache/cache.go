// Package cache holds expensive per-configuration results, such as logical
// error rate estimates and completed build steps, so they are computed once
// per key. The cache is an explicit object passed to its users.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache maps string keys to float64 values.
type Cache interface {
	Get(ctx context.Context, key string) (value float64, ok bool, err error)
	Put(ctx context.Context, key string, value float64) error
}

// EstimateKey returns the key for a code distance and physical error rate,
// e.g. "9_0.001".
func EstimateKey(d int, p float64) string {
	return strconv.Itoa(d) + "_" + strconv.FormatFloat(p, 'g', -1, 64)
}

// BuildKey returns the key recording that the named build step completed.
func BuildKey(name string) string {
	return "build:" + name
}

// Memory is an in-process Cache.
type Memory struct {
	mu     sync.RWMutex
	values map[string]float64
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]float64)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Loader computes the cached value on a miss with compute, at most once per
// key at a time even when called concurrently.
type Loader struct {
	cache Cache
	group singleflight.Group
}

// NewLoader wraps c.
func NewLoader(c Cache) *Loader {
	return &Loader{cache: c}
}

// Cache returns the underlying cache.
func (l *Loader) Cache() Cache {
	return l.cache
}

// Load returns the cached value for key, computing and storing it on a
// miss. hit reports whether compute was skipped.
func (l *Loader) Load(ctx context.Context, key string, compute func(context.Context) (float64, error)) (value float64, hit bool, err error) {
	if v, ok, err := l.cache.Get(ctx, key); err != nil {
		return 0, false, fmt.Errorf("cache get %s: %w", key, err)
	} else if ok {
		return v, true, nil
	}

	res, err, _ := l.group.Do(key, func() (interface{}, error) {
		// a concurrent caller may have stored it meanwhile
		if v, ok, err := l.cache.Get(ctx, key); err == nil && ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return 0.0, err
		}
		if err := l.cache.Put(ctx, key, v); err != nil {
			return 0.0, fmt.Errorf("cache put %s: %w", key, err)
		}
		return v, nil
	})
	if err != nil {
		return 0, false, err
	}
	return res.(float64), false, nil
}
