// Package pool provides typed object pooling for the row-oriented output
// paths. Encoding a feature to Avro or GeoJSON builds one small
// map[string]interface{} per row; recycling those maps keeps the per-row
// allocation count flat regardless of dataset size.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed wrapper around sync.Pool with usage counters. The zero
// value is not usable; construct with New.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a pool. The new function builds fresh objects when the pool
// is empty; the optional reset function cleans objects up on Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool, resetting it first.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats reports how many objects the pool has allocated in total and how
// many are currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

var (
	// MapPool recycles the per-row property maps built by the sinks.
	MapPool = New(
		func() map[string]interface{} {
			return make(map[string]interface{}, 16)
		},
		func(m map[string]interface{}) {
			for k := range m {
				delete(m, k)
			}
		},
	)

	// ByteSlicePool recycles scratch byte slices used to assemble output
	// rows before they hit the writer.
	ByteSlicePool = New(
		func() []byte {
			return make([]byte, 0, 1024)
		},
		nil,
	)
)

// GetMap retrieves an empty map from the global map pool.
func GetMap() map[string]interface{} {
	return MapPool.Get()
}

// PutMap returns a map to the global pool. Nil maps are ignored.
func PutMap(m map[string]interface{}) {
	if m != nil {
		MapPool.Put(m)
	}
}

// GetByteSlice retrieves a zero-length scratch slice. Appending beyond its
// capacity grows it; the grown slice is what returns to the pool, so hot
// paths converge on right-sized buffers.
func GetByteSlice() []byte {
	return ByteSlicePool.Get()[:0]
}

// PutByteSlice returns a scratch slice to the global pool. Nil slices are
// ignored.
func PutByteSlice(b []byte) {
	if b != nil {
		ByteSlicePool.Put(b)
	}
}
