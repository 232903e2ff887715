// Package update distributes a new group key to the surviving neighbors
// after a revocation.
//
// Each permanent neighbor with a pairwise key receives one UPDATE frame. The
// group key is sealed with AES-CCM under a wrap key expanded from the
// pairwise key with HKDF-SHA256. The nonce is the sender's per-neighbor frame
// counter, and sender and recipient identities are bound as associated data.
// Receivers reject counters that do not advance.
//
// Counters must never repeat under the same wrap key. A Fanout allocates them
// before sending and hands them to Config.Persist; after a restart,
// Config.Counters continues from the persisted values.
package update
