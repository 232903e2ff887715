// Package persistence provides runtime state persistence for AKES nodes and
// controllers.
//
// A node persists its group key, neighbor table, replay watermarks and node
// revocation list so a restart cannot roll back a revocation or reopen the
// replay window. A controller persists the next message ID per node for the
// same reason. Both are JSON files replaced atomically on save.
package persistence
