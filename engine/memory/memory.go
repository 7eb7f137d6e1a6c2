// Package memory implements the default in-process Engine: a mutex-guarded
// generational store. Entries live in the newest generation; NewGeneration
// pushes an empty one and drops the oldest, which is what gives the cache
// cheap bulk eviction. Reads that hit an older generation promote the entry
// so it survives the next rotation.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/repcache/engine"
)

type Options[V any] struct {
	// Versioner derives versions for writes without an explicit one.
	// nil => engine.Monotonic.
	Versioner engine.Versioner[V]
	// Generations is how many generations are retained. 0 => 2.
	Generations int
}

type Store[V any] struct {
	mu        sync.Mutex
	gens      []map[string]engine.Entry[V] // gens[0] is newest
	rotation  int64
	max       int
	versioner engine.Versioner[V]
}

var _ engine.Engine[int] = (*Store[int])(nil)

func New[V any](opts Options[V]) *Store[V] {
	v := opts.Versioner
	if v == nil {
		v = engine.Monotonic[V]()
	}
	max := opts.Generations
	if max <= 0 {
		max = 2
	}
	return &Store[V]{
		gens:      []map[string]engine.Entry[V]{make(map[string]engine.Entry[V])},
		max:       max,
		versioner: v,
	}
}

// lookup scans newest to oldest. Caller must hold mu.
func (s *Store[V]) lookup(key string) (engine.Entry[V], int, bool) {
	for i, g := range s.gens {
		if e, ok := g[key]; ok {
			return e, i, true
		}
	}
	var zero engine.Entry[V]
	return zero, 0, false
}

// store writes into the newest generation and clears shadows in older ones.
// Caller must hold mu.
func (s *Store[V]) store(key string, e engine.Entry[V]) {
	s.gens[0][key] = e
	for _, g := range s.gens[1:] {
		delete(g, key)
	}
}

func (s *Store[V]) Get(_ context.Context, key string) (engine.Entry[V], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, gi, ok := s.lookup(key)
	if !ok {
		return e, false, nil
	}
	if gi > 0 {
		// promote so the entry outlives the next rotation
		delete(s.gens[gi], key)
		s.gens[0][key] = e
	}
	return e, true, nil
}

func (s *Store[V]) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, ok := s.lookup(key)
	return ok, nil
}

func (s *Store[V]) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.gens[0]))
	seen := make(map[string]struct{})
	for _, g := range s.gens {
		for k := range g {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store[V]) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	seen := make(map[string]struct{})
	for _, g := range s.gens {
		for k := range g {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			n++
		}
	}
	return n, nil
}

func (s *Store[V]) Reduce(_ context.Context, init any, fn engine.ReduceFunc[V]) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := init
	seen := make(map[string]struct{})
	for _, g := range s.gens {
		for k, e := range g {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			acc = fn(acc, k, e)
		}
	}
	return acc, nil
}

func (s *Store[V]) ToMap(_ context.Context) (map[string]V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]V)
	// newest generation wins on duplicate keys
	for i := len(s.gens) - 1; i >= 0; i-- {
		for k, e := range s.gens[i] {
			out[k] = e.Value
		}
	}
	return out, nil
}

func (s *Store[V]) Take(_ context.Context, key string) (engine.Entry[V], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, gi, ok := s.lookup(key)
	if !ok {
		return e, false, nil
	}
	delete(s.gens[gi], key)
	return e, true, nil
}

func (s *Store[V]) Put(_ context.Context, key string, value V, opts engine.WriteOptions) (engine.Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, value, opts)
}

func (s *Store[V]) put(key string, value V, opts engine.WriteOptions) (engine.Entry[V], error) {
	var prev *engine.Entry[V]
	if e, _, ok := s.lookup(key); ok {
		prev = &e
	}
	next, err := engine.NextVersion(prev, s.versioner, opts)
	if err != nil {
		return engine.Entry[V]{}, err
	}
	e := engine.Entry[V]{Value: value, Version: next}
	s.store(key, e)
	return e, nil
}

func (s *Store[V]) Update(_ context.Context, key string, init V, fn engine.UpdateFunc[V], opts engine.WriteOptions) (engine.Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := init
	if e, _, ok := s.lookup(key); ok {
		next = fn(e.Value)
	}
	return s.put(key, next, opts)
}

func (s *Store[V]) UpdateCounter(_ context.Context, key string, delta int64, opts engine.WriteOptions) (engine.Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *V
	if e, _, ok := s.lookup(key); ok {
		v := e.Value
		cur = &v
	}
	next, ok := engine.AddCounter(cur, delta)
	if !ok {
		return engine.Entry[V]{}, engine.ErrNotCounter
	}
	return s.put(key, next, opts)
}

func (s *Store[V]) GetAndUpdate(_ context.Context, key string, fn engine.GetAndUpdateFunc[V], opts engine.WriteOptions) (*V, engine.Entry[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *V
	if e, _, ok := s.lookup(key); ok {
		v := e.Value
		cur = &v
	}
	ent, err := s.put(key, fn(cur), opts)
	if err != nil {
		return nil, engine.Entry[V]{}, err
	}
	return cur, ent, nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.gens {
		delete(g, key)
	}
	return nil
}

func (s *Store[V]) Flush(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	seen := make(map[string]struct{})
	for _, g := range s.gens {
		for k := range g {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			n++
		}
	}
	s.gens = []map[string]engine.Entry[V]{make(map[string]engine.Entry[V])}
	return n, nil
}

func (s *Store[V]) NewGeneration(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens = append([]map[string]engine.Entry[V]{make(map[string]engine.Entry[V])}, s.gens...)
	if len(s.gens) > s.max {
		s.gens = s.gens[:s.max]
	}
	s.rotation++
	return s.rotation, nil
}

func (s *Store[V]) Close(_ context.Context) error { return nil }
