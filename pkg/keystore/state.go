package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/akes-protocol/akes-go/pkg/persistence"
)

var errNilState = errors.New("nil state")

// State exports the store for persistence.
func (s *Store) State() *persistence.NodeState {
	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()

	state := &persistence.NodeState{
		GroupKey:   snap.GroupKey.Hex(),
		Watermarks: snap.Watermarks,
	}
	for _, n := range snap.Neighbors {
		state.Neighbors = append(state.Neighbors, persistence.NeighborRecord{
			ID:          n.ID.String(),
			Permanent:   n.Status == NeighborPermanent,
			PairwiseKey: hex.EncodeToString(n.PairwiseKey),
			EnrolledAt:  n.EnrolledAt,
		})
	}
	for _, id := range snap.Revoked {
		state.Revoked = append(state.Revoked, id.String())
	}
	return state
}

// Restore replaces the store contents with a persisted state. The state is
// validated completely before anything is replaced.
func (s *Store) Restore(state *persistence.NodeState) error {
	if state == nil {
		return errNilState
	}
	key, err := ParseGroupKey(state.GroupKey)
	if err != nil {
		return err
	}

	neighbors := make(map[NodeID]*NeighborEntry, len(state.Neighbors))
	for _, rec := range state.Neighbors {
		id, err := ParseNodeID(rec.ID)
		if err != nil {
			return err
		}
		if _, dup := neighbors[id]; dup {
			return fmt.Errorf("duplicate neighbor %s", id)
		}
		pk, err := hex.DecodeString(rec.PairwiseKey)
		if err != nil {
			return fmt.Errorf("%w: neighbor %s pairwise key", ErrInvalidKey, id)
		}
		status := NeighborTentative
		if rec.Permanent {
			status = NeighborPermanent
		}
		neighbors[id] = &NeighborEntry{ID: id, Status: status, PairwiseKey: pk, EnrolledAt: rec.EnrolledAt}
	}

	revoked := make([]NodeID, 0, len(state.Revoked))
	revokedSet := make(map[NodeID]bool, len(state.Revoked))
	for _, r := range state.Revoked {
		id, err := ParseNodeID(r)
		if err != nil {
			return err
		}
		revoked = append(revoked, id)
		revokedSet[id] = true
	}

	if err := checkInvariants(key, neighbors, func(id NodeID) bool { return revokedSet[id] }); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupted {
		return ErrCorrupted
	}
	s.key = key
	s.neighbors = neighbors
	s.guard.Restore(state.Watermarks)
	s.revoked.Purge()
	for _, id := range revoked {
		s.revoked.Add(id, s.now())
	}
	s.debugLog("state restored", "neighbors", len(neighbors), "revoked", s.revoked.Len())
	return nil
}
