package main

import (
	"fmt"
	"sync"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/persistence"
	"github.com/akes-protocol/akes-go/pkg/update"
)

// nodeState writes the key store and the UPDATE frame counters to the state
// file. The snapshot is taken under the same lock as the write, so a later
// save never loses to an older snapshot.
type nodeState struct {
	mu     sync.Mutex
	file   *persistence.NodeStateStore
	nodeID keystore.NodeID
	store  *keystore.Store
	fanout *update.Fanout
}

func (n *nodeState) save() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	st := n.store.State()
	st.NodeID = n.nodeID.String()
	if n.fanout != nil {
		st.UpdateCounters = make(map[string]uint32)
		for id, c := range n.fanout.Counters() {
			st.UpdateCounters[id.String()] = c
		}
	}
	return n.file.Save(st)
}

// updateCounters decodes the saved UPDATE counters.
func updateCounters(st *persistence.NodeState) (map[keystore.NodeID]uint32, error) {
	if st == nil {
		return nil, nil
	}
	out := make(map[keystore.NodeID]uint32, len(st.UpdateCounters))
	for s, c := range st.UpdateCounters {
		id, err := keystore.ParseNodeID(s)
		if err != nil {
			return nil, fmt.Errorf("update counter %q: %w", s, err)
		}
		out[id] = c
	}
	return out, nil
}
