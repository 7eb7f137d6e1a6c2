package repcache

import (
	"fmt"

	"github.com/unkn0wn-root/repcache/cluster"
	"github.com/unkn0wn-root/repcache/lock"
	"github.com/unkn0wn-root/repcache/rpc"
)

// ErrTransactionAborted is returned when a write or Transaction could not
// acquire its lock batch within the configured retries. No partial writes
// occurred: the local mutation only runs once the lock is held.
var ErrTransactionAborted = lock.ErrTransactionAborted

// PartialError and UnreachableError are the multicall failure shapes; see
// the rpc package for semantics.
type (
	PartialError     = rpc.PartialError
	UnreachableError = rpc.UnreachableError
)

// RemoteError wraps an application error raised on a remote node, keeping
// the underlying identity so errors.Is still matches sentinels like
// engine.ErrVersionConflict.
type RemoteError struct {
	Node cluster.Node
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("repcache: node %q: %v", e.Node, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
