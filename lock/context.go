package lock

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// chain is the per-call-chain lock state: one owner token shared by every
// nested transaction in the dynamic extent of the outermost WithLocks.
// A chain is owned by exactly one call chain and is never shared across
// concurrent operations, so its map needs no locking.
type chain struct {
	owner string
	held  map[string]struct{}
}

func newChain() *chain {
	return &chain{owner: uuid.NewString(), held: make(map[string]struct{})}
}

func chainFrom(ctx context.Context) *chain {
	c, _ := ctx.Value(ctxKey{}).(*chain)
	return c
}

func withChain(ctx context.Context, c *chain) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// Held reports whether the call chain carried by ctx currently owns id.
// Exposed for introspection and tests.
func Held(ctx context.Context, id string) bool {
	c := chainFrom(ctx)
	if c == nil {
		return false
	}
	_, ok := c.held[id]
	return ok
}
