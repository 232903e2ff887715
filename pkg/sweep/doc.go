// Package sweep revokes a node on every node of a network, optionally in
// repeated rounds.
//
// A round waits the initial backoff, then a random delay within the rest of
// the interval, then sends the revocation to all nodes in parallel and
// sleeps out the interval. Nodes answer repeats of an applied revocation
// with TARGET_UNKNOWN, so later rounds are safe.
package sweep
