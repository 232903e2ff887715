package keystore

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/akes-protocol/akes-go/pkg/replay"
)

// Config configures a Store.
type Config struct {
	// InitialKey is the group key installed at startup. Must not be zero.
	InitialKey GroupKey

	// RevocationListSize bounds the node revocation list.
	// Zero selects DefaultRevocationListSize.
	RevocationListSize int

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger

	// Now returns the current time. nil selects time.Now.
	Now func() time.Time
}

// Store holds neighbor and group-key state behind a single lock.
type Store struct {
	mu         sync.RWMutex
	key        GroupKey
	generation uint64
	neighbors  map[NodeID]*NeighborEntry
	guard      *replay.Guard
	revoked    *lru.Cache[NodeID, time.Time]
	corrupted  bool

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store with an empty neighbor table.
func New(cfg Config) (*Store, error) {
	if cfg.InitialKey.IsZero() {
		return nil, ErrNoGroupKey
	}
	size := cfg.RevocationListSize
	if size == 0 {
		size = DefaultRevocationListSize
	}
	revoked, err := lru.New[NodeID, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocation list: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		key:       cfg.InitialKey,
		neighbors: make(map[NodeID]*NeighborEntry),
		guard:     replay.NewGuard(),
		revoked:   revoked,
		logger:    cfg.Logger,
		now:       now,
	}, nil
}

// Enroll adds or updates a neighbor. It stands in for the result of AKES key
// establishment. Revoked identities are refused.
func (s *Store) Enroll(id NodeID, status NeighborStatus, pairwiseKey []byte) error {
	if status != NeighborTentative && status != NeighborPermanent {
		return fmt.Errorf("%w: %d", ErrUnknownStatus, status)
	}
	if len(pairwiseKey) != 0 && len(pairwiseKey) != KeySize {
		return fmt.Errorf("%w: pairwise key must be %d bytes", ErrInvalidKey, KeySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupted {
		return ErrCorrupted
	}
	if s.revoked.Contains(id) {
		return fmt.Errorf("%w: %s", ErrRevoked, id)
	}

	s.neighbors[id] = &NeighborEntry{
		ID:          id,
		Status:      status,
		PairwiseKey: bytes.Clone(pairwiseKey),
		EnrolledAt:  s.now(),
	}
	s.debugLog("neighbor enrolled", "node", id, "status", status)
	return nil
}

// RevokeAndRekey removes target and installs key in one step. It returns
// OutcomeNotFound without changing anything when target is not a neighbor.
func (s *Store) RevokeAndRekey(target NodeID, key GroupKey) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.verifyLocked(); err != nil {
		return OutcomeNotFound, err
	}
	if key.IsZero() {
		return OutcomeNotFound, ErrNoGroupKey
	}
	if _, ok := s.neighbors[target]; !ok {
		return OutcomeNotFound, nil
	}
	s.applyLocked(target, key)
	return OutcomeApplied, nil
}

// Commit applies a revocation received from peer with message ID id.
// The watermark check, the neighbor removal, the key change and the
// watermark advance happen under one lock; a request that is not applied
// leaves the store unchanged, watermark included.
func (s *Store) Commit(peer string, id uint32, target NodeID, key GroupKey) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.verifyLocked(); err != nil {
		return OutcomeNotFound, err
	}
	if key.IsZero() {
		return OutcomeNotFound, ErrNoGroupKey
	}
	if err := s.guard.Check(peer, id); err != nil {
		return OutcomeReplay, nil
	}
	if _, ok := s.neighbors[target]; !ok {
		return OutcomeNotFound, nil
	}
	if err := s.guard.Advance(peer, id); err != nil {
		// Unreachable: Check passed under the same lock.
		s.markCorruptedLocked("watermark advance failed after check", err)
		return OutcomeNotFound, ErrCorrupted
	}
	s.applyLocked(target, key)
	s.debugLog("revocation committed", "peer", peer, "messageID", id, "target", target)
	return OutcomeApplied, nil
}

func (s *Store) applyLocked(target NodeID, key GroupKey) {
	delete(s.neighbors, target)
	s.key = key
	s.generation++
	s.revoked.Add(target, s.now())
}

// CheckReplay reports ErrReplay when id does not advance peer's watermark.
// It takes only the read lock and changes nothing.
func (s *Store) CheckReplay(peer string, id uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guard.Check(peer, id)
}

// Watermark returns the highest accepted message ID for peer.
func (s *Store) Watermark(peer string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guard.Watermark(peer)
}

// GroupKey returns the active group key.
func (s *Store) GroupKey() GroupKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Generation returns the number of rekeys applied since start.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// NeighborCount returns the number of neighbors.
func (s *Store) NeighborCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.neighbors)
}

// Neighbor returns the entry for id.
func (s *Store) Neighbor(id NodeID) (NeighborEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.neighbors[id]
	if !ok {
		return NeighborEntry{}, false
	}
	return e.clone(), true
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		GroupKey:   s.key,
		Generation: s.generation,
		Neighbors:  make([]NeighborEntry, 0, len(s.neighbors)),
		Revoked:    s.revoked.Keys(),
		Watermarks: s.guard.Snapshot(),
	}
	for _, e := range s.neighbors {
		snap.Neighbors = append(snap.Neighbors, e.clone())
	}
	slices.SortFunc(snap.Neighbors, func(a, b NeighborEntry) int {
		return a.ID.Compare(b.ID)
	})
	return snap
}

// IsRevoked reports whether id is on the node revocation list.
func (s *Store) IsRevoked(id NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoked.Contains(id)
}

// Revoked returns the node revocation list, oldest first.
func (s *Store) Revoked() []NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revoked.Keys()
}

// ClearRevoked empties the node revocation list.
func (s *Store) ClearRevoked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked.Purge()
	s.debugLog("revocation list cleared")
}

// Verify checks the store's invariants. A violation marks the store
// corrupted permanently.
func (s *Store) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyLocked()
}

func (s *Store) verifyLocked() error {
	if s.corrupted {
		return ErrCorrupted
	}
	if err := checkInvariants(s.key, s.neighbors, s.revoked.Contains); err != nil {
		s.markCorruptedLocked("invariant violated", err)
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}

func checkInvariants(key GroupKey, neighbors map[NodeID]*NeighborEntry, revoked func(NodeID) bool) error {
	if key.IsZero() {
		return ErrNoGroupKey
	}
	for id, e := range neighbors {
		if e == nil {
			return fmt.Errorf("nil entry for %s", id)
		}
		if e.ID != id {
			return fmt.Errorf("entry %s stored under %s", e.ID, id)
		}
		if len(e.PairwiseKey) != 0 && len(e.PairwiseKey) != KeySize {
			return fmt.Errorf("entry %s has %d-byte pairwise key", id, len(e.PairwiseKey))
		}
		if e.Status != NeighborTentative && e.Status != NeighborPermanent {
			return fmt.Errorf("entry %s: %w", id, ErrUnknownStatus)
		}
		if revoked(id) {
			return fmt.Errorf("revoked node %s is a neighbor", id)
		}
	}
	return nil
}

func (s *Store) markCorruptedLocked(msg string, err error) {
	s.corrupted = true
	if s.logger != nil {
		s.logger.Error("key store "+msg, "error", err)
	}
}

// IsCorrupted reports whether an invariant violation has been detected.
func (s *Store) IsCorrupted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupted
}

// debugLog logs a debug message if logging is enabled.
func (s *Store) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
