package repcache

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/lock"
	"github.com/unkn0wn-root/repcache/rpc"
)

// service is the node-side dispatch: it maps wire operations onto the local
// engine and lock table. Reads never arrive here - only mutations and lock
// traffic cross node boundaries.
type service[V any] struct {
	c *cache[V]
}

var _ rpc.Service = (*service[string])(nil)

func (s *service[V]) Invoke(ctx context.Context, req *rpc.Request) *rpc.Response {
	if req.Cache != s.c.name {
		return errResp(rpc.KindInternal, "unknown cache "+req.Cache)
	}

	switch req.Op {
	case rpc.OpPut:
		v, err := s.c.codec.Decode(req.Value)
		if err != nil {
			return errResp(rpc.KindInternal, "decode value: "+err.Error())
		}
		opts := engine.WriteOptions{Override: req.Override}
		if req.HasVersion {
			ver := req.Version
			opts.Version = &ver
		}
		if _, err := s.c.local.Put(ctx, req.Key, v, opts); err != nil {
			return wireErr(err)
		}
		return &rpc.Response{OK: true}

	case rpc.OpDelete:
		if err := s.c.local.Delete(ctx, req.Key); err != nil {
			return wireErr(err)
		}
		return &rpc.Response{OK: true}

	case rpc.OpFlush:
		if _, err := s.c.local.Flush(ctx); err != nil {
			return wireErr(err)
		}
		return &rpc.Response{OK: true}

	case rpc.OpNewGeneration:
		gen, err := s.c.local.NewGeneration(ctx)
		if err != nil {
			return wireErr(err)
		}
		return &rpc.Response{OK: true, Gen: gen}

	case rpc.OpLockAcquire:
		// OK=false without Err signals contention; the manager retries
		return &rpc.Response{OK: s.c.table.TryAcquire(req.LockIDs, req.Owner)}

	case rpc.OpLockRelease:
		s.c.table.Release(req.LockIDs, req.Owner)
		return &rpc.Response{OK: true}

	default:
		return errResp(rpc.KindInternal, "unknown op")
	}
}

func errResp(kind rpc.ErrKind, msg string) *rpc.Response {
	return &rpc.Response{Err: &rpc.CallError{Kind: kind, Msg: msg}}
}

func wireErr(err error) *rpc.Response {
	switch {
	case errors.Is(err, engine.ErrVersionConflict):
		return errResp(rpc.KindConflict, err.Error())
	case errors.Is(err, lock.ErrTransactionAborted):
		return errResp(rpc.KindAborted, err.Error())
	default:
		return errResp(rpc.KindInternal, err.Error())
	}
}
