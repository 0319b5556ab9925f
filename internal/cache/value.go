// Package cache provides a loader-backed value cache with a fixed TTL.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces a fresh value.
type LoadFunc[T any] func(ctx context.Context) (T, error)

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Loaded bool  `json:"loaded"`
}

// Value caches the result of a LoadFunc for ttl. Concurrent misses share a
// single load. Failed loads are not cached.
type Value[T any] struct {
	load LoadFunc[T]
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	val      T
	loadedAt time.Time
	valid    bool
	// gen is bumped by Invalidate so a load started before it is not kept.
	gen uint64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewValue creates a Value. A non-positive ttl caches until Invalidate.
func NewValue[T any](ttl time.Duration, load LoadFunc[T]) *Value[T] {
	return &Value[T]{load: load, ttl: ttl, now: time.Now}
}

// Get returns the cached value, loading it when absent or expired.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	v.mu.RLock()
	if v.fresh() {
		val := v.val
		v.mu.RUnlock()
		v.hits.Add(1)
		return val, nil
	}
	v.mu.RUnlock()
	v.misses.Add(1)

	res, err, _ := v.group.Do("value", func() (any, error) {
		v.mu.RLock()
		gen := v.gen
		v.mu.RUnlock()

		val, err := v.load(ctx)
		if err != nil {
			return val, err
		}
		v.mu.Lock()
		if v.gen == gen {
			v.val, v.loadedAt, v.valid = val, v.now(), true
		}
		v.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Invalidate drops the cached value so the next Get reloads.
func (v *Value[T]) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	var zero T
	v.val, v.valid = zero, false
	v.gen++
}

// Stats returns hit and miss counts.
func (v *Value[T]) Stats() Stats {
	v.mu.RLock()
	loaded := v.fresh()
	v.mu.RUnlock()
	return Stats{Hits: v.hits.Load(), Misses: v.misses.Load(), Loaded: loaded}
}

// fresh must be called with mu held.
func (v *Value[T]) fresh() bool {
	if !v.valid {
		return false
	}
	return v.ttl <= 0 || v.now().Sub(v.loadedAt) < v.ttl
}
