package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNodeStateStore(t *testing.T) {
	t.Run("NewNodeStateStore", func(t *testing.T) {
		dir := t.TempDir()
		store := NewNodeStateStore(filepath.Join(dir, "state.json"))
		if store == nil {
			t.Fatal("NewNodeStateStore() returned nil")
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		dir := t.TempDir()
		store := NewNodeStateStore(filepath.Join(dir, "nested", "state.json"))

		enrolled := time.Now().Add(-time.Hour).Truncate(time.Second)
		state := &NodeState{
			GroupKey: "30313233343536373839616263646566",
			Neighbors: []NeighborRecord{
				{ID: "0102030405060708", Permanent: true, PairwiseKey: "aa", EnrolledAt: enrolled},
				{ID: "1112131415161718", Permanent: false, EnrolledAt: enrolled},
			},
			Watermarks: map[string]uint32{"[::1]:5683": 2000},
			Revoked:    []string{"1337133713371337"},
		}

		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.GroupKey != state.GroupKey {
			t.Errorf("GroupKey = %q, want %q", got.GroupKey, state.GroupKey)
		}
		if len(got.Neighbors) != 2 {
			t.Fatalf("len(Neighbors) = %d, want 2", len(got.Neighbors))
		}
		if !got.Neighbors[0].Permanent || got.Neighbors[1].Permanent {
			t.Errorf("Permanent flags = %v/%v, want true/false", got.Neighbors[0].Permanent, got.Neighbors[1].Permanent)
		}
		if !got.Neighbors[0].EnrolledAt.Equal(enrolled) {
			t.Errorf("EnrolledAt = %v, want %v", got.Neighbors[0].EnrolledAt, enrolled)
		}
		if got.Watermarks["[::1]:5683"] != 2000 {
			t.Errorf("Watermarks = %v", got.Watermarks)
		}
		if len(got.Revoked) != 1 || got.Revoked[0] != "1337133713371337" {
			t.Errorf("Revoked = %v", got.Revoked)
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		dir := t.TempDir()
		store := NewNodeStateStore(filepath.Join(dir, "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("LoadCorrupt", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "state.json")
		if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}

		if _, err := NewNodeStateStore(path).Load(); err == nil {
			t.Error("Load() accepted corrupt file")
		}
	})

	t.Run("LoadFutureVersion", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "state.json")
		if err := os.WriteFile(path, []byte(`{"version":99}`), 0600); err != nil {
			t.Fatal(err)
		}

		if _, err := NewNodeStateStore(path).Load(); err == nil {
			t.Error("Load() accepted future version")
		}
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		dir := t.TempDir()
		store := NewNodeStateStore(filepath.Join(dir, "state.json"))

		for i := 0; i < 3; i++ {
			if err := store.Save(&NodeState{GroupKey: "00"}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("dir has %d entries, want 1", len(entries))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		dir := t.TempDir()
		store := NewNodeStateStore(filepath.Join(dir, "state.json"))
		_ = store.Save(&NodeState{GroupKey: "00"})

		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("second Clear() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() after Clear() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() after Clear() = %v, want nil", got)
		}
	})
}

func TestControllerStateStore(t *testing.T) {
	t.Run("MessageIDRoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		store := NewControllerStateStore(filepath.Join(dir, "controller.json"))

		state := &ControllerState{
			NextMessageID: map[string]uint32{
				"[fd00::1]:5683": 1531,
				"[fd00::2]:5683": 1600,
			},
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.NextMessageID["[fd00::2]:5683"] != 1600 {
			t.Errorf("NextMessageID = %v", got.NextMessageID)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
	})

	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewControllerStateStore(filepath.Join(t.TempDir(), "none.json"))
		got, err := store.Load()
		if err != nil || got != nil {
			t.Errorf("Load() = %v, %v; want nil, nil", got, err)
		}
	})
}
