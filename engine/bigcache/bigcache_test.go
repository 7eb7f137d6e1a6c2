package bigcache

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/repcache/codec"
	"github.com/unkn0wn-root/repcache/engine"
)

func newStore(t *testing.T) *Store[string] {
	t.Helper()
	s, err := New[string](Options[string]{Codec: codec.String{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, "k", "v", engine.WriteOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if e.Version != 1 {
		t.Fatalf("version = %d, want 1", e.Version)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v)", ok, err)
	}
	if got != e {
		t.Fatalf("Get = %+v, want %+v", got, e)
	}
}

func TestConditionalWriteConflicts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	five := int64(5)
	if _, err := s.Put(ctx, "k", "a", engine.WriteOptions{Version: &five}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	three := int64(3)
	if _, err := s.Put(ctx, "k", "b", engine.WriteOptions{Version: &three}); !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("backward write err = %v, want ErrVersionConflict", err)
	}
	e, ok, _ := s.Get(ctx, "k")
	if !ok || e.Value != "a" || e.Version != 5 {
		t.Fatalf("entry = %+v after rejected write", e)
	}

	// override forces value and version unconditionally
	if _, err := s.Put(ctx, "k", "b", engine.WriteOptions{Version: &three, Override: true}); err != nil {
		t.Fatalf("override: %v", err)
	}
	e, _, _ = s.Get(ctx, "k")
	if e.Value != "b" || e.Version != 3 {
		t.Fatalf("entry = %+v after override, want {b 3}", e)
	}
}

func TestUpdateCounter(t *testing.T) {
	s, err := New[int64](Options[int64]{Codec: codec.JSON[int64]{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())
	ctx := context.Background()

	if e, err := s.UpdateCounter(ctx, "n", 7, engine.WriteOptions{}); err != nil || e.Value != 7 {
		t.Fatalf("first increment = (%+v, %v), want 7", e, err)
	}
	if e, err := s.UpdateCounter(ctx, "n", -3, engine.WriteOptions{}); err != nil || e.Value != 4 {
		t.Fatalf("second increment = (%+v, %v), want 4", e, err)
	}
}

func TestTakeRemoves(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "k", "v", engine.WriteOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, ok, err := s.Take(ctx, "k")
	if err != nil || !ok || e.Value != "v" {
		t.Fatalf("Take = (%+v, %v, %v)", e, ok, err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("entry survived Take")
	}
}

func TestFlushReportsCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if _, err := s.Put(ctx, k, "v", engine.WriteOptions{}); err != nil {
			t.Fatalf("Put %q: %v", k, err)
		}
	}
	n, err := s.Flush(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Flush = (%d, %v), want 3", n, err)
	}
	if size, _ := s.Size(ctx); size != 0 {
		t.Fatalf("size = %d after flush", size)
	}
}

func TestReduceSeesVersions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ten := int64(10)
	if _, err := s.Put(ctx, "a", "x", engine.WriteOptions{Version: &ten}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Reduce(ctx, int64(0), func(acc any, key string, e engine.Entry[string]) any {
		return acc.(int64) + e.Version
	})
	if err != nil || got.(int64) != 10 {
		t.Fatalf("Reduce = (%v, %v), want 10", got, err)
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.c.Set("k", []byte("not a framed entry")); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("Get on corrupt entry = (%v, %v), want a clean miss", ok, err)
	}
}
