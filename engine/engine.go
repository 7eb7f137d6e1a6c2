// Package engine defines the single-node storage contract consumed by the
// replication layer. An Engine holds one replica's full data set as versioned
// entries; the coordinator in the root package never stores state itself.
//
// Versioning: every entry carries an int64 version. A conditional write
// (no Override) computes the next version — caller-supplied, or derived from
// the previous entry by the engine's Versioner — and rejects it with
// ErrVersionConflict when it does not advance past the current one. An
// override write accepts value and version unconditionally; it is used when
// the pair already won on another node and is being propagated as fact.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrVersionConflict is returned by conditional writes whose version
	// does not advance past the stored one. Never returned for overrides.
	ErrVersionConflict = errors.New("engine: version conflict")

	// ErrNotCounter is returned by UpdateCounter when the engine's value
	// type has no integer interpretation.
	ErrNotCounter = errors.New("engine: value type does not support counters")
)

// Entry is one stored (value, version) pair.
type Entry[V any] struct {
	Value   V
	Version int64
}

// Versioner derives the next version from the previous entry.
// prev == nil means first write.
type Versioner[V any] func(prev *Entry[V]) int64

// Monotonic is the default policy: 1 on first write, previous+1 after.
func Monotonic[V any]() Versioner[V] {
	return func(prev *Entry[V]) int64 {
		if prev == nil {
			return 1
		}
		return prev.Version + 1
	}
}

// WriteOptions tune a single mutating call.
type WriteOptions struct {
	// Version, when set, replaces the Versioner's output for this write.
	Version *int64
	// Override accepts value and version unconditionally, bypassing the
	// conflict check.
	Override bool
}

// NextVersion applies the conditional-write rule shared by engine
// implementations: the next version is the caller's explicit one when set,
// the Versioner's output otherwise. Without Override, a version that does not
// advance past the stored one is a conflict.
func NextVersion[V any](prev *Entry[V], v Versioner[V], opts WriteOptions) (int64, error) {
	var next int64
	if opts.Version != nil {
		next = *opts.Version
	} else {
		next = v(prev)
	}
	if opts.Override {
		return next, nil
	}
	if prev != nil && next <= prev.Version {
		return 0, ErrVersionConflict
	}
	return next, nil
}

// ReduceFunc folds entries into an accumulator. Iteration order is
// unspecified.
type ReduceFunc[V any] func(acc any, key string, e Entry[V]) any

// UpdateFunc transforms the current value into the next one.
type UpdateFunc[V any] func(cur V) V

// GetAndUpdateFunc receives the current value (nil if absent) and returns
// the value to store.
type GetAndUpdateFunc[V any] func(cur *V) V

// Engine is the narrow operation set the replication layer needs from a
// single-node store. Implementations must be safe for concurrent use and
// must serialize conflicting mutations of the same key.
//
// Mutators return the resulting Entry so the coordinator can broadcast the
// exact winning (value, version) pair to peers.
type Engine[V any] interface {
	Get(ctx context.Context, key string) (Entry[V], bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int, error)
	Reduce(ctx context.Context, init any, fn ReduceFunc[V]) (any, error)
	ToMap(ctx context.Context) (map[string]V, error)

	// Take removes and returns the entry for key.
	Take(ctx context.Context, key string) (Entry[V], bool, error)

	Put(ctx context.Context, key string, value V, opts WriteOptions) (Entry[V], error)

	// Update stores init when key is absent, fn(current) otherwise, and
	// returns the stored entry.
	Update(ctx context.Context, key string, init V, fn UpdateFunc[V], opts WriteOptions) (Entry[V], error)

	// UpdateCounter adds delta to the current numeric value (absent counts
	// as zero) and returns the stored entry.
	UpdateCounter(ctx context.Context, key string, delta int64, opts WriteOptions) (Entry[V], error)

	// GetAndUpdate returns the pre-call value (nil if absent) alongside the
	// entry stored by applying fn.
	GetAndUpdate(ctx context.Context, key string, fn GetAndUpdateFunc[V], opts WriteOptions) (prev *V, ent Entry[V], err error)

	Delete(ctx context.Context, key string) error

	// Flush removes every entry and reports how many were dropped.
	Flush(ctx context.Context) (int, error)

	// NewGeneration rotates the engine's storage generations (bulk
	// eviction/rollover) and returns the new generation index.
	NewGeneration(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
}
