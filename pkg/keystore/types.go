package keystore

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// IDSize is the length of a node identity.
const IDSize = 8

// KeySize is the length of the group key.
const KeySize = 16

// DefaultRevocationListSize bounds the node revocation list.
const DefaultRevocationListSize = 50

// Store errors.
var (
	ErrCorrupted     = errors.New("key store corrupted")
	ErrRevoked       = errors.New("node is revoked")
	ErrNoGroupKey    = errors.New("group key not configured")
	ErrInvalidID     = errors.New("invalid node id")
	ErrInvalidKey    = errors.New("invalid key")
	ErrUnknownStatus = errors.New("unknown neighbor status")
)

// NodeID identifies a network peer.
type NodeID [IDSize]byte

// ParseNodeID parses a 16-digit hex node id.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != IDSize {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the id as lowercase hex.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare orders ids bytewise.
func (id NodeID) Compare(other NodeID) int {
	return bytes.Compare(id[:], other[:])
}

// GroupKey is the broadcast key shared with all authorized neighbors.
type GroupKey [KeySize]byte

// ParseGroupKey parses a 32-digit hex key.
func ParseGroupKey(s string) (GroupKey, error) {
	var k GroupKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return k, fmt.Errorf("%w: group key must be %d hex bytes", ErrInvalidKey, KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// IsZero reports whether the key is unset.
func (k GroupKey) IsZero() bool {
	return k == GroupKey{}
}

// Hex returns the key as lowercase hex.
func (k GroupKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// NeighborStatus distinguishes tentative from permanent neighbors.
type NeighborStatus uint8

const (
	// NeighborTentative indicates key establishment has not completed.
	NeighborTentative NeighborStatus = iota

	// NeighborPermanent indicates an authorized neighbor.
	NeighborPermanent
)

// String returns the status name.
func (s NeighborStatus) String() string {
	switch s {
	case NeighborTentative:
		return "TENTATIVE"
	case NeighborPermanent:
		return "PERMANENT"
	default:
		return "UNKNOWN"
	}
}

// NeighborEntry is one row of the neighbor table.
type NeighborEntry struct {
	ID          NodeID
	Status      NeighborStatus
	PairwiseKey []byte
	EnrolledAt  time.Time
}

func (e NeighborEntry) clone() NeighborEntry {
	e.PairwiseKey = bytes.Clone(e.PairwiseKey)
	return e
}

// Outcome is the result of a store mutation.
type Outcome uint8

const (
	// OutcomeApplied indicates the target was removed and the key replaced.
	OutcomeApplied Outcome = iota

	// OutcomeNotFound indicates the target is not a neighbor; nothing changed.
	OutcomeNotFound

	// OutcomeReplay indicates the message ID did not advance; nothing changed.
	OutcomeReplay
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "APPLIED"
	case OutcomeNotFound:
		return "NOT_FOUND"
	case OutcomeReplay:
		return "REPLAY"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	GroupKey   GroupKey
	Generation uint64
	Neighbors  []NeighborEntry
	Revoked    []NodeID
	Watermarks map[string]uint32
}

// NeighborCount returns the number of neighbors in the snapshot.
func (s *Snapshot) NeighborCount() int {
	return len(s.Neighbors)
}

// Permanent returns the permanent neighbors in the snapshot.
func (s *Snapshot) Permanent() []NeighborEntry {
	var out []NeighborEntry
	for _, n := range s.Neighbors {
		if n.Status == NeighborPermanent {
			out = append(out, n)
		}
	}
	return out
}
