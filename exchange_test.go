package ledgertree

import (
	"bytes"
	"testing"
)

func newTestExchange(t *testing.T, vol *Volume, tree string) *Exchange {
	t.Helper()
	if _, err := vol.CreateTree(tree); err != nil {
		t.Fatalf("CreateTree(%s): %v", tree, err)
	}
	ex, err := NewExchange(vol, tree)
	if err != nil {
		t.Fatalf("NewExchange(%s): %v", tree, err)
	}
	return ex
}

func TestExchange_StoreFetch(t *testing.T) {
	vol := newTestVolume(t)
	mgr := NewTxnManager(testVolumeConfig())
	ex := newTestExchange(t, vol, "accounts")

	tx, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ex.Key().AppendString("alice")
	if err := ex.Store(tx, []byte("100")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ex.Key().Clear()
	ex.Key().AppendString("alice")
	found, err := ex.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !found {
		t.Fatal("Fetch: key not found after committed Store")
	}
	if !bytes.Equal(ex.Value(), []byte("100")) {
		t.Fatalf("Fetch value = %q, want 100", ex.Value())
	}
}

func TestExchange_ReadYourWrites(t *testing.T) {
	vol := newTestVolume(t)
	mgr := NewTxnManager(testVolumeConfig())
	ex := newTestExchange(t, vol, "accounts")

	tx, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	ex.Key().AppendString("bob")
	if err := ex.Store(tx, []byte("50")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ex.Key().Clear()
	ex.Key().AppendString("bob")
	found, err := ex.Fetch()
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !found {
		t.Fatal("Fetch: uncommitted write not visible to the same transaction")
	}
	if !bytes.Equal(ex.Value(), []byte("50")) {
		t.Fatalf("Fetch value = %q, want 50", ex.Value())
	}
}

func TestExchange_Remove(t *testing.T) {
	vol := newTestVolume(t)
	mgr := NewTxnManager(testVolumeConfig())
	ex := newTestExchange(t, vol, "accounts")

	tx, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ex.Key().AppendString("carol")
	if err := ex.Store(tx, []byte("75")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin tx2: %v", err)
	}
	ex.Key().Clear()
	ex.Key().AppendString("carol")
	removed, err := ex.Remove(tx2)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("Remove reported no key removed")
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit tx2: %v", err)
	}

	ex.Key().Clear()
	ex.Key().AppendString("carol")
	found, err := ex.Fetch()
	if err != nil {
		t.Fatalf("Fetch after remove: %v", err)
	}
	if found {
		t.Fatal("Fetch found a key that was removed and committed")
	}
}

func TestExchange_NextTraversesAscending(t *testing.T) {
	vol := newTestVolume(t)
	mgr := NewTxnManager(testVolumeConfig())
	ex := newTestExchange(t, vol, "accounts")

	tx, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		ex.Key().Clear()
		ex.Key().AppendString(name)
		if err := ex.Store(tx, []byte(name)); err != nil {
			t.Fatalf("Store(%s): %v", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ex.Key().Clear() // empty key sorts before every encoded key
	var seen []string
	for {
		ok, err := ex.Next(true)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		seen = append(seen, string(ex.Value()))
	}
	want := []string{"alice", "bob", "carol"}
	if len(seen) != len(want) {
		t.Fatalf("Next traversal visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Next traversal order = %v, want %v", seen, want)
		}
	}
}

func TestExchange_PreviousTraversesDescending(t *testing.T) {
	vol := newTestVolume(t)
	mgr := NewTxnManager(testVolumeConfig())
	ex := newTestExchange(t, vol, "accounts")

	tx, err := mgr.Begin(vol, DurabilityHard)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		ex.Key().Clear()
		ex.Key().AppendString(name)
		if err := ex.Store(tx, []byte(name)); err != nil {
			t.Fatalf("Store(%s): %v", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ex.Key().SetBytes(After())
	var seen []string
	for {
		ok, err := ex.Previous(true)
		if err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if !ok {
			break
		}
		seen = append(seen, string(ex.Value()))
	}
	want := []string{"carol", "bob", "alice"}
	if len(seen) != len(want) {
		t.Fatalf("Previous traversal visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Previous traversal order = %v, want %v", seen, want)
		}
	}
}
