package keystore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akes-protocol/akes-go/pkg/replay"
)

var (
	oldKey = GroupKey([]byte("oldsecoldsecolds"))
	newKey = GroupKey([]byte("newsecnewsecnews"))
)

func nodeID(n int) NodeID {
	var id NodeID
	id[0] = 0xfd
	id[7] = byte(n)
	id[6] = byte(n >> 8)
	return id
}

func newTestStore(t *testing.T, neighbors int) *Store {
	t.Helper()
	s, err := New(Config{InitialKey: oldKey})
	require.NoError(t, err)
	for i := 1; i <= neighbors; i++ {
		require.NoError(t, s.Enroll(nodeID(i), NeighborPermanent, nil))
	}
	return s
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoGroupKey)

	_, err = New(Config{InitialKey: oldKey, RevocationListSize: -1})
	assert.Error(t, err)
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("1337133713371337")
	require.NoError(t, err)
	assert.Equal(t, NodeID{0x13, 0x37, 0x13, 0x37, 0x13, 0x37, 0x13, 0x37}, id)
	assert.Equal(t, "1337133713371337", id.String())

	for _, bad := range []string{"", "1337", "zz37133713371337", "133713371337133700"} {
		_, err := ParseNodeID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestParseGroupKey(t *testing.T) {
	k, err := ParseGroupKey(oldKey.Hex())
	require.NoError(t, err)
	assert.Equal(t, oldKey, k)

	_, err = ParseGroupKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRevokeAndRekey(t *testing.T) {
	t.Run("Applied", func(t *testing.T) {
		s := newTestStore(t, 27)

		outcome, err := s.RevokeAndRekey(nodeID(5), newKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
		assert.Equal(t, 26, s.NeighborCount())
		assert.Equal(t, newKey, s.GroupKey())
		assert.True(t, s.IsRevoked(nodeID(5)))
		_, ok := s.Neighbor(nodeID(5))
		assert.False(t, ok)
		assert.Equal(t, uint64(1), s.Generation())
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newTestStore(t, 27)
		before := s.Snapshot()

		outcome, err := s.RevokeAndRekey(NodeID{0x13, 0x37, 0x13, 0x37, 0x13, 0x37, 0x13, 0x37}, newKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, outcome)
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("ZeroKey", func(t *testing.T) {
		s := newTestStore(t, 1)
		_, err := s.RevokeAndRekey(nodeID(1), GroupKey{})
		assert.ErrorIs(t, err, ErrNoGroupKey)
		assert.Equal(t, 1, s.NeighborCount())
	})
}

func TestCommit(t *testing.T) {
	t.Run("AppliedAdvancesWatermark", func(t *testing.T) {
		s := newTestStore(t, 3)

		outcome, err := s.Commit("ctrl", 2000, nodeID(1), newKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)

		mark, ok := s.Watermark("ctrl")
		require.True(t, ok)
		assert.Equal(t, uint32(2000), mark)
		assert.ErrorIs(t, s.CheckReplay("ctrl", 2000), replay.ErrReplay)
	})

	t.Run("ReplayLeavesStateUnchanged", func(t *testing.T) {
		s := newTestStore(t, 3)

		_, err := s.Commit("ctrl", 2000, nodeID(1), newKey)
		require.NoError(t, err)
		after := s.Snapshot()

		outcome, err := s.Commit("ctrl", 2000, nodeID(2), GroupKey([]byte("thirdkeythirdkey")))
		require.NoError(t, err)
		assert.Equal(t, OutcomeReplay, outcome)
		assert.Equal(t, after, s.Snapshot())
	})

	t.Run("NotFoundDoesNotAdvance", func(t *testing.T) {
		s := newTestStore(t, 3)

		outcome, err := s.Commit("ctrl", 2000, nodeID(99), newKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, outcome)

		_, ok := s.Watermark("ctrl")
		assert.False(t, ok)
		assert.Equal(t, oldKey, s.GroupKey())
		assert.Equal(t, 3, s.NeighborCount())
	})

	t.Run("AlreadyRevokedTargetIsNotFound", func(t *testing.T) {
		s := newTestStore(t, 3)

		_, err := s.Commit("ctrl", 1, nodeID(1), newKey)
		require.NoError(t, err)
		outcome, err := s.Commit("ctrl", 2, nodeID(1), oldKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, outcome)
		assert.Equal(t, newKey, s.GroupKey())
	})

	t.Run("PeersIndependent", func(t *testing.T) {
		s := newTestStore(t, 3)

		_, err := s.Commit("a", 10, nodeID(1), newKey)
		require.NoError(t, err)
		outcome, err := s.Commit("b", 5, nodeID(2), oldKey)
		require.NoError(t, err)
		assert.Equal(t, OutcomeApplied, outcome)
	})
}

func TestConcurrentCommitSerialization(t *testing.T) {
	const n = 20
	s := newTestStore(t, n+5)

	var wg sync.WaitGroup
	results := make([]Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var key GroupKey
			copy(key[:], fmt.Sprintf("key-%012d", i))
			out, err := s.Commit(fmt.Sprintf("peer-%d", i), 1, nodeID(i+1), key)
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		assert.Equal(t, OutcomeApplied, out, "commit %d", i)
	}
	assert.Equal(t, 5, s.NeighborCount())
	assert.Equal(t, uint64(n), s.Generation())
}

func TestConcurrentSamePeerSameID(t *testing.T) {
	s := newTestStore(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.Commit("ctrl", 2000, nodeID(i+1), newKey)
			assert.NoError(t, err)
			if out == OutcomeApplied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 9, s.NeighborCount())
}

func TestEnroll(t *testing.T) {
	s := newTestStore(t, 0)

	require.NoError(t, s.Enroll(nodeID(1), NeighborTentative, nil))
	require.NoError(t, s.Enroll(nodeID(1), NeighborPermanent, []byte("pairwisepairwise")))
	e, ok := s.Neighbor(nodeID(1))
	require.True(t, ok)
	assert.Equal(t, NeighborPermanent, e.Status)
	assert.Equal(t, 1, s.NeighborCount())

	assert.ErrorIs(t, s.Enroll(nodeID(2), NeighborStatus(7), nil), ErrUnknownStatus)
	assert.ErrorIs(t, s.Enroll(nodeID(2), NeighborPermanent, []byte("short")), ErrInvalidKey)

	_, err := s.RevokeAndRekey(nodeID(1), newKey)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Enroll(nodeID(1), NeighborPermanent, nil), ErrRevoked)

	s.ClearRevoked()
	assert.NoError(t, s.Enroll(nodeID(1), NeighborPermanent, nil))
}

func TestRevocationListBounded(t *testing.T) {
	s, err := New(Config{InitialKey: oldKey, RevocationListSize: 3})
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Enroll(nodeID(i), NeighborPermanent, nil))
	}
	for i := 1; i <= 5; i++ {
		_, err := s.RevokeAndRekey(nodeID(i), newKey)
		require.NoError(t, err)
	}

	assert.Equal(t, []NodeID{nodeID(3), nodeID(4), nodeID(5)}, s.Revoked())
	assert.False(t, s.IsRevoked(nodeID(1)))
}

func TestSnapshotIsCopy(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Enroll(nodeID(1), NeighborPermanent, []byte("pairwisepairwise")))

	snap := s.Snapshot()
	snap.Neighbors[0].PairwiseKey[0] = 'X'

	e, _ := s.Neighbor(nodeID(1))
	assert.Equal(t, byte('p'), e.PairwiseKey[0])
	assert.Len(t, snap.Permanent(), 1)
}

func TestCorruptionHalts(t *testing.T) {
	s := newTestStore(t, 3)
	require.NoError(t, s.Verify())

	// Simulate memory corruption of the table.
	s.neighbors[nodeID(2)].ID = nodeID(9)

	_, err := s.Commit("ctrl", 1, nodeID(1), newKey)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.True(t, s.IsCorrupted())
	assert.Equal(t, oldKey, s.GroupKey())

	// Stays halted even after the damage is undone.
	s.neighbors[nodeID(2)].ID = nodeID(2)
	assert.ErrorIs(t, s.Verify(), ErrCorrupted)
	_, err = s.RevokeAndRekey(nodeID(1), newKey)
	assert.ErrorIs(t, err, ErrCorrupted)
	assert.ErrorIs(t, s.Enroll(nodeID(8), NeighborPermanent, nil), ErrCorrupted)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "PERMANENT", NeighborPermanent.String())
	assert.Equal(t, "TENTATIVE", NeighborTentative.String())
	assert.Equal(t, "APPLIED", OutcomeApplied.String())
	assert.Equal(t, "NOT_FOUND", OutcomeNotFound.String())
	assert.Equal(t, "REPLAY", OutcomeReplay.String())
	assert.Equal(t, "UNKNOWN", Outcome(9).String())
}
