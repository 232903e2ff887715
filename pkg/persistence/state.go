package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the state file format written by this package. Files with
// a higher version are refused.
const StateVersion = 1

// Header is common to every state file.
type Header struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
}

func (h *Header) header() *Header { return h }

// NodeState is the persisted key store of an AKES node. Keys are hex.
type NodeState struct {
	Header
	NodeID    string           `json:"node_id,omitempty"`
	GroupKey  string           `json:"group_key"`
	Neighbors []NeighborRecord `json:"neighbors,omitempty"`

	// Watermarks maps each requester to its highest applied message ID.
	Watermarks map[string]uint32 `json:"watermarks,omitempty"`

	// Revoked lists revoked node IDs, oldest first.
	Revoked []string `json:"revoked,omitempty"`

	// UpdateCounters maps each neighbor to the last UPDATE frame counter
	// allocated for it.
	UpdateCounters map[string]uint32 `json:"update_counters,omitempty"`
}

// NeighborRecord is one neighbor table entry.
type NeighborRecord struct {
	ID          string    `json:"id"`
	Permanent   bool      `json:"permanent"`
	PairwiseKey string    `json:"pairwise_key,omitempty"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// ControllerState is the persisted message ID allocation of a controller.
type ControllerState struct {
	Header

	// NextMessageID maps a node address to the next CoAP message ID. A
	// value above 65535 marks the ID space towards that node as used up.
	NextMessageID map[string]uint32 `json:"next_message_id,omitempty"`
}

type state interface {
	header() *Header
}

// file is a JSON state file replaced atomically on every save.
type file[T any, PT interface {
	*T
	state
}] struct {
	mu   sync.Mutex
	path string
}

// Path returns the state file path.
func (f *file[T, PT]) Path() string {
	return f.path
}

// Save stamps st with StateVersion and, if unset, the current time, then
// writes it.
func (f *file[T, PT]) Save(st PT) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := st.header()
	h.Version = StateVersion
	if h.SavedAt.IsZero() {
		h.SavedAt = time.Now()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return replaceFile(f.path, data)
}

// Load reads the state. A missing file yields nil, nil.
func (f *file[T, PT]) Load() (PT, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st := PT(new(T))
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	if v := st.header().Version; v > StateVersion {
		return nil, fmt.Errorf("%s: unsupported state version %d", f.path, v)
	}
	return st, nil
}

// Clear removes the state file. A missing file is not an error.
func (f *file[T, PT]) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// NodeStateStore persists a NodeState.
type NodeStateStore struct {
	file[NodeState, *NodeState]
}

// NewNodeStateStore returns a store backed by path.
func NewNodeStateStore(path string) *NodeStateStore {
	return &NodeStateStore{file[NodeState, *NodeState]{path: path}}
}

// ControllerStateStore persists a ControllerState.
type ControllerStateStore struct {
	file[ControllerState, *ControllerState]
}

// NewControllerStateStore returns a store backed by path.
func NewControllerStateStore(path string) *ControllerStateStore {
	return &ControllerStateStore{file[ControllerState, *ControllerState]{path: path}}
}

// replaceFile writes data to a 0600 temporary file next to path, syncs it
// and renames it over path.
func replaceFile(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
