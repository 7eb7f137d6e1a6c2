// Package bigcache adapts allegro/bigcache as a replica Engine. Entries are
// framed by internal/wire (version + codec-encoded payload); conditional
// read-modify-write is serialized by striped mutexes since BigCache itself
// offers no atomic compare-and-set.
//
// BigCache is a single-generation backend: NewGeneration maps to Reset, so a
// rotation drops everything at once instead of retiring only the oldest
// generation. Flush is likewise not atomic with respect to concurrent
// writers.
package bigcache

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/repcache/codec"
	"github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/internal/wire"
)

const stripes = 256

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

type Options[V any] struct {
	Codec     codec.Codec[V] // required
	Versioner engine.Versioner[V]
	Config    Config
}

type Store[V any] struct {
	c         *bc.BigCache
	codec     codec.Codec[V]
	versioner engine.Versioner[V]
	rotation  atomic.Int64
	locks     [stripes]sync.Mutex
}

var _ engine.Engine[string] = (*Store[string])(nil)

func New[V any](opts Options[V]) (*Store[V], error) {
	if opts.Codec == nil {
		return nil, errors.New("bigcache: codec is required")
	}
	cfg := opts.Config
	if cfg.LifeWindow <= 0 {
		// bigcache treats 0 as already-expired
		cfg.LifeWindow = 24 * time.Hour
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	v := opts.Versioner
	if v == nil {
		v = engine.Monotonic[V]()
	}
	return &Store[V]{c: c, codec: opts.Codec, versioner: v}, nil
}

func (s *Store[V]) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%stripes]
}

func (s *Store[V]) load(key string) (engine.Entry[V], bool, error) {
	var zero engine.Entry[V]
	raw, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	ver, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = s.c.Delete(key) // self-heal corrupt
		return zero, false, nil
	}
	v, err := s.codec.Decode(payload)
	if err != nil {
		_ = s.c.Delete(key) // self-heal
		return zero, false, nil
	}
	return engine.Entry[V]{Value: v, Version: ver}, true, nil
}

func (s *Store[V]) save(key string, e engine.Entry[V]) error {
	payload, err := s.codec.Encode(e.Value)
	if err != nil {
		return err
	}
	return s.c.Set(key, wire.EncodeEntry(e.Version, payload))
}

// write runs the conditional-write rule under the key's stripe lock and
// stores the value produced by make, which receives the previous entry.
func (s *Store[V]) write(key string, mk func(prev *engine.Entry[V]) (V, error), opts engine.WriteOptions) (engine.Entry[V], error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var zero engine.Entry[V]
	var prev *engine.Entry[V]
	if e, ok, err := s.load(key); err != nil {
		return zero, err
	} else if ok {
		prev = &e
	}
	val, err := mk(prev)
	if err != nil {
		return zero, err
	}
	next, err := engine.NextVersion(prev, s.versioner, opts)
	if err != nil {
		return zero, err
	}
	e := engine.Entry[V]{Value: val, Version: next}
	if err := s.save(key, e); err != nil {
		return zero, err
	}
	return e, nil
}

func (s *Store[V]) Get(_ context.Context, key string) (engine.Entry[V], bool, error) {
	return s.load(key)
}

func (s *Store[V]) Has(_ context.Context, key string) (bool, error) {
	_, ok, err := s.load(key)
	return ok, err
}

func (s *Store[V]) Keys(_ context.Context) ([]string, error) {
	var keys []string
	it := s.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		keys = append(keys, info.Key())
	}
	return keys, nil
}

func (s *Store[V]) Size(_ context.Context) (int, error) {
	return s.c.Len(), nil
}

func (s *Store[V]) Reduce(_ context.Context, init any, fn engine.ReduceFunc[V]) (any, error) {
	acc := init
	it := s.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		ver, payload, err := wire.DecodeEntry(info.Value())
		if err != nil {
			continue
		}
		v, err := s.codec.Decode(payload)
		if err != nil {
			continue
		}
		acc = fn(acc, info.Key(), engine.Entry[V]{Value: v, Version: ver})
	}
	return acc, nil
}

func (s *Store[V]) ToMap(ctx context.Context) (map[string]V, error) {
	out := make(map[string]V)
	_, err := s.Reduce(ctx, nil, func(acc any, key string, e engine.Entry[V]) any {
		out[key] = e.Value
		return acc
	})
	return out, err
}

func (s *Store[V]) Take(_ context.Context, key string) (engine.Entry[V], bool, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	e, ok, err := s.load(key)
	if err != nil || !ok {
		return e, ok, err
	}
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return e, false, err
	}
	return e, true, nil
}

func (s *Store[V]) Put(_ context.Context, key string, value V, opts engine.WriteOptions) (engine.Entry[V], error) {
	return s.write(key, func(*engine.Entry[V]) (V, error) { return value, nil }, opts)
}

func (s *Store[V]) Update(_ context.Context, key string, init V, fn engine.UpdateFunc[V], opts engine.WriteOptions) (engine.Entry[V], error) {
	return s.write(key, func(prev *engine.Entry[V]) (V, error) {
		if prev == nil {
			return init, nil
		}
		return fn(prev.Value), nil
	}, opts)
}

func (s *Store[V]) UpdateCounter(_ context.Context, key string, delta int64, opts engine.WriteOptions) (engine.Entry[V], error) {
	return s.write(key, func(prev *engine.Entry[V]) (V, error) {
		var cur *V
		if prev != nil {
			cur = &prev.Value
		}
		next, ok := engine.AddCounter(cur, delta)
		if !ok {
			var zero V
			return zero, engine.ErrNotCounter
		}
		return next, nil
	}, opts)
}

func (s *Store[V]) GetAndUpdate(_ context.Context, key string, fn engine.GetAndUpdateFunc[V], opts engine.WriteOptions) (*V, engine.Entry[V], error) {
	var before *V
	ent, err := s.write(key, func(prev *engine.Entry[V]) (V, error) {
		if prev != nil {
			v := prev.Value
			before = &v
		}
		return fn(before), nil
	}, opts)
	if err != nil {
		return nil, engine.Entry[V]{}, err
	}
	return before, ent, nil
}

func (s *Store[V]) Delete(_ context.Context, key string) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store[V]) Flush(_ context.Context) (int, error) {
	n := s.c.Len()
	if err := s.c.Reset(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store[V]) NewGeneration(_ context.Context) (int64, error) {
	if err := s.c.Reset(); err != nil {
		return 0, err
	}
	return s.rotation.Add(1), nil
}

func (s *Store[V]) Close(_ context.Context) error {
	return s.c.Close()
}
