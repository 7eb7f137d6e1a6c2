// Package repcache layers replication on top of a single-node cache engine:
// every cluster member holds a full copy of the data set. Reads are served by
// the local engine; writes are applied on every member before returning.
//
// Components:
//   - Engine: versioned single-node store (engine/memory by default,
//     engine/bigcache for a bounded byte store).
//   - Registry: cluster membership per cache identity (in-process or Redis).
//   - Caller: cross-node call transport (in-process Network or HTTP).
//   - Codec[V]: (de)serializes V for cross-node transport.
//
// Write protocol per key:
//
//	lock (cache, key) on every member -> mutate the local engine ->
//	broadcast the winning (value, version) to every other member as an
//	override write -> release
//
// Version conflicts are resolved exactly once, on the node that performed
// the mutation; peers accept the broadcast unconditionally. Reads never
// lock and never leave the node.
//
// Failure surface: a version conflict or a bad transform propagates
// verbatim; slow or failing-but-reachable peers come back as a *PartialError
// the caller may treat as soft success; a transport-unreachable peer aborts
// the operation with an *UnreachableError naming it.
package repcache
