package storage

import (
	"sync"
	"testing"
	"time"
)

func TestMVCCBasicTransaction(t *testing.T) {
	mvcc := NewMVCCManager()

	tx := mvcc.BeginTx(SnapshotIsolation)
	if tx == nil {
		t.Fatal("failed to begin transaction")
	}
	if tx.Status != TxStatusInProgress {
		t.Errorf("expected status InProgress, got %v", tx.Status)
	}

	commitTS, err := mvcc.CommitTx(tx)
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	if commitTS == 0 {
		t.Error("expected non-zero commit timestamp")
	}
	if tx.Status != TxStatusCommitted {
		t.Errorf("expected status Committed, got %v", tx.Status)
	}
}

func TestMVCCAbortTransaction(t *testing.T) {
	mvcc := NewMVCCManager()

	tx := mvcc.BeginTx(SnapshotIsolation)
	mvcc.AbortTx(tx)

	if tx.Status != TxStatusAborted {
		t.Errorf("expected status Aborted, got %v", tx.Status)
	}
}

func TestMVCCVisibility(t *testing.T) {
	mvcc := NewMVCCManager()

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vv := &ValueVersion{
		XMin:      tx1.ID,
		XMax:      0,
		CreatedAt: tx1.StartTime,
		Data:      []byte("test"),
	}

	if !mvcc.IsVisible(tx1, vv) {
		t.Error("value should be visible to creating transaction")
	}

	tx2 := mvcc.BeginTx(SnapshotIsolation)

	if mvcc.IsVisible(tx2, vv) {
		t.Error("value should not be visible before commit")
	}

	mvcc.CommitTx(tx1)

	tx3 := mvcc.BeginTx(SnapshotIsolation)

	if !mvcc.IsVisible(tx3, vv) {
		t.Error("value should be visible after commit")
	}

	if mvcc.IsVisible(tx2, vv) {
		t.Error("value should not be visible to earlier snapshot")
	}
}

func TestMVCCDeletedValue(t *testing.T) {
	mvcc := NewMVCCManager()

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vv := &ValueVersion{
		XMin:      tx1.ID,
		XMax:      0,
		CreatedAt: tx1.StartTime,
		Data:      []byte("test"),
	}
	mvcc.CommitTx(tx1)

	tx2 := mvcc.BeginTx(SnapshotIsolation)
	vv.XMax = tx2.ID
	vv.DeletedAt = Timestamp(time.Now().UnixNano())

	if mvcc.IsVisible(tx2, vv) {
		t.Error("deleted value should not be visible to deleting transaction")
	}

	mvcc.CommitTx(tx2)

	tx3 := mvcc.BeginTx(SnapshotIsolation)
	if mvcc.IsVisible(tx3, vv) {
		t.Error("deleted value should not be visible after delete commit")
	}
}

func TestMVCCConcurrentTransactions(t *testing.T) {
	mvcc := NewMVCCManager()

	var wg sync.WaitGroup
	txCount := 100

	for i := 0; i < txCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := mvcc.BeginTx(SnapshotIsolation)
			time.Sleep(1 * time.Millisecond)
			mvcc.CommitTx(tx)
		}()
	}

	wg.Wait()

	mvcc.mu.RLock()
	activeCount := len(mvcc.activeTxs)
	commitCount := len(mvcc.commitLog)
	mvcc.mu.RUnlock()

	if activeCount != 0 {
		t.Errorf("expected 0 active transactions, got %d", activeCount)
	}
	if commitCount != txCount {
		t.Errorf("expected %d committed transactions, got %d", txCount, commitCount)
	}
}

func TestMVCCSerializableConflict(t *testing.T) {
	mvcc := NewMVCCManager()

	tx1 := mvcc.BeginTx(Serializable)
	tx1.RecordRead("users", []byte("k1"), tx1.StartTime)

	tx2 := mvcc.BeginTx(Serializable)
	tx2.RecordWrite("users", []byte("k1"))
	_, err := mvcc.CommitTx(tx2)
	if err != nil {
		t.Fatalf("tx2 commit failed: %v", err)
	}

	tx1.RecordWrite("users", []byte("k1"))

	// tx1 read k1 before tx2 committed a write to it, so tx1's commit
	// fails serializable validation.
	_, err = mvcc.CommitTx(tx1)
	if err != ErrSerializationFailure {
		t.Fatalf("expected ErrSerializationFailure for tx1, got %v", err)
	}
}

func TestMVCCIsolationLevels(t *testing.T) {
	levels := []IsolationLevel{
		ReadCommitted,
		RepeatableRead,
		SnapshotIsolation,
		Serializable,
	}

	mvcc := NewMVCCManager()

	for _, level := range levels {
		tx := mvcc.BeginTx(level)
		if tx.IsolationLevel != level {
			t.Errorf("expected isolation level %v, got %v", level, tx.IsolationLevel)
		}
		mvcc.CommitTx(tx)
	}
}

func TestVersionedTreeInsertAndRead(t *testing.T) {
	mvcc := NewMVCCManager()
	vt := NewVersionedTree("widgets")

	tx := mvcc.BeginTx(SnapshotIsolation)
	vt.InsertVersion(tx, []byte("k1"), []byte("Alice"))
	mvcc.CommitTx(tx)

	tx2 := mvcc.BeginTx(SnapshotIsolation)
	version := vt.GetVisibleVersion(mvcc, tx2, []byte("k1"))
	if version == nil {
		t.Fatal("expected to find value version")
	}
	if string(version.Data) != "Alice" {
		t.Errorf("unexpected value: %q", version.Data)
	}
}

func TestVersionedTreeUpdate(t *testing.T) {
	mvcc := NewMVCCManager()
	vt := NewVersionedTree("counters")

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vt.InsertVersion(tx1, []byte("k1"), []byte("100"))
	mvcc.CommitTx(tx1)

	tx2 := mvcc.BeginTx(SnapshotIsolation)
	if err := vt.UpdateVersion(tx2, []byte("k1"), []byte("200")); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	mvcc.CommitTx(tx2)

	tx3 := mvcc.BeginTx(SnapshotIsolation)
	version := vt.GetVisibleVersion(mvcc, tx3, []byte("k1"))
	if version == nil {
		t.Fatal("expected to find value version")
	}
	if string(version.Data) != "200" {
		t.Errorf("expected value 200, got %q", version.Data)
	}
}

func TestVersionedTreeUpdateConflict(t *testing.T) {
	mvcc := NewMVCCManager()
	vt := NewVersionedTree("conflicts")

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vt.InsertVersion(tx1, []byte("k1"), []byte("v1"))
	mvcc.CommitTx(tx1)

	txA := mvcc.BeginTx(SnapshotIsolation)
	if err := vt.UpdateVersion(txA, []byte("k1"), []byte("vA")); err != nil {
		t.Fatalf("first writer should not conflict: %v", err)
	}

	txB := mvcc.BeginTx(SnapshotIsolation)
	if err := vt.UpdateVersion(txB, []byte("k1"), []byte("vB")); err != ErrWriteConflict {
		t.Fatalf("expected ErrWriteConflict while txA is still open, got %v", err)
	}
}

func TestVersionedTreeDelete(t *testing.T) {
	mvcc := NewMVCCManager()
	vt := NewVersionedTree("temp")

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vt.InsertVersion(tx1, []byte("k1"), []byte("v"))
	mvcc.CommitTx(tx1)

	tx2 := mvcc.BeginTx(SnapshotIsolation)
	if err := vt.DeleteVersion(tx2, []byte("k1")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	mvcc.CommitTx(tx2)

	tx3 := mvcc.BeginTx(SnapshotIsolation)
	version := vt.GetVisibleVersion(mvcc, tx3, []byte("k1"))
	if version != nil {
		t.Error("expected nil version for deleted key")
	}
}

func TestVersionedTreeGarbageCollection(t *testing.T) {
	mvcc := NewMVCCManager()
	vt := NewVersionedTree("gc")

	tx1 := mvcc.BeginTx(SnapshotIsolation)
	vt.InsertVersion(tx1, []byte("k1"), []byte("v1"))
	mvcc.CommitTx(tx1)

	tx2 := mvcc.BeginTx(SnapshotIsolation)
	vt.UpdateVersion(tx2, []byte("k1"), []byte("v2"))
	mvcc.CommitTx(tx2)

	tx3 := mvcc.BeginTx(SnapshotIsolation)
	vt.UpdateVersion(tx3, []byte("k1"), []byte("v3"))
	mvcc.CommitTx(tx3)

	watermark := mvcc.GCWatermark()

	collected := vt.GarbageCollect(watermark)
	if collected <= 0 {
		t.Error("expected to collect some old versions")
	}
}
