// Package keystore holds the neighbor table, the active group key, the
// per-requester replay watermarks and the node revocation list of an AKES
// node.
//
// Store is the only shared mutable state of the revocation service. Every
// mutation goes through one write-locked step:
//
//	Commit(peer, id, target, key)
//	  watermark check  -> Replay   (nothing changes)
//	  target lookup    -> NotFound (nothing changes)
//	  remove target, install key, list target as revoked, advance watermark
//	                   -> Applied
//
// Readers (GroupKey, NeighborCount, Snapshot) take the read lock and never
// observe a half-applied revocation.
//
// A Store that detects a broken invariant reports ErrCorrupted from then on
// and refuses further mutation.
package keystore
