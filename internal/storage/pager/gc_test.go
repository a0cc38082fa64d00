package pager

import (
	"fmt"
	"path/filepath"
	"testing"
)

func tmpPageBackend(t *testing.T) *PageBackend {
	t.Helper()
	dir := t.TempDir()
	pb, err := NewPageBackend(PageBackendConfig{
		Path: filepath.Join(dir, "gc_test.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pb.Close() })
	return pb
}

// saveTestTree creates a named tree and populates it with nRows sequential
// key/value pairs, each committed in its own transaction like a real
// client would.
func saveTestTree(t *testing.T, pb *PageBackend, name string, nRows int) *BTree {
	t.Helper()
	bt, err := pb.CreateTree(name)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < nRows; i++ {
		txID, err := pb.Pager().BeginTx()
		if err != nil {
			t.Fatal(err)
		}
		key := fmt.Sprintf("row_%05d", i)
		if err := bt.Insert(txID, []byte(key), []byte(fmt.Sprintf("val_%d", i))); err != nil {
			t.Fatal(err)
		}
		if err := pb.Pager().CommitTx(txID); err != nil {
			t.Fatal(err)
		}
	}
	return bt
}

// TestGC_NoOrphans verifies that GC on a clean database reclaims nothing.
func TestGC_NoOrphans(t *testing.T) {
	pb := tmpPageBackend(t)
	saveTestTree(t, pb, "users", 10)

	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}

	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed, got %d", result.Reclaimed)
	}
	if result.ReachablePages < 2 {
		t.Errorf("expected at least 2 reachable pages, got %d", result.ReachablePages)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

// TestGC_AfterDelete verifies that GC finds no orphans when DropTree
// correctly frees pages.
func TestGC_AfterDelete(t *testing.T) {
	pb := tmpPageBackend(t)

	saveTestTree(t, pb, "temp_tree", 50)
	if err := pb.DropTree("temp_tree"); err != nil {
		t.Fatal(err)
	}

	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}

	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed after DropTree, got %d (total=%d reachable=%d freeBefore=%d freeAfter=%d)",
			result.Reclaimed, result.TotalPages, result.ReachablePages, result.FreeBefore, result.FreeAfter)
	}
}

// TestGC_SimulatedOrphans manually creates orphan pages and verifies the
// GC reclaims them.
func TestGC_SimulatedOrphans(t *testing.T) {
	pb := tmpPageBackend(t)
	saveTestTree(t, pb, "users", 10)

	// Allocate some pages without linking them to any tree (simulates
	// pages leaked by a crashed transaction).
	txID, err := pb.pager.BeginTx()
	if err != nil {
		t.Fatal(err)
	}
	var orphanIDs []PageID
	for i := 0; i < 5; i++ {
		pid, buf, err := pb.pager.AllocPage()
		if err != nil {
			t.Fatal(err)
		}
		InitBTreePage(buf, pid, true) // give it valid content
		SetPageCRC(buf)
		pb.pager.WritePage(txID, pid, buf)
		pb.pager.UnpinPage(pid)
		orphanIDs = append(orphanIDs, pid)
	}
	pb.pager.CommitTx(txID)
	pb.pager.Checkpoint()

	// GC should find and reclaim these orphans.
	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}

	t.Logf("GC result: total=%d reachable=%d freeBefore=%d freeAfter=%d reclaimed=%d",
		result.TotalPages, result.ReachablePages, result.FreeBefore, result.FreeAfter, result.Reclaimed)

	if result.Reclaimed < 5 {
		t.Errorf("expected at least 5 reclaimed orphans, got %d", result.Reclaimed)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

// TestGC_MultipleTrees tests GC with several trees to verify all of them
// are correctly walked.
func TestGC_MultipleTrees(t *testing.T) {
	pb := tmpPageBackend(t)

	for i := 0; i < 5; i++ {
		saveTestTree(t, pb, fmt.Sprintf("tree_%d", i), 20)
	}

	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}

	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed on clean DB with 5 trees, got %d", result.Reclaimed)
	}
	if result.ReachablePages < 5 {
		t.Errorf("expected at least 5 reachable pages, got %d", result.ReachablePages)
	}
}

// TestGC_Idempotent verifies running GC twice gives no reclaimed on second run.
func TestGC_Idempotent(t *testing.T) {
	pb := tmpPageBackend(t)
	saveTestTree(t, pb, "users", 10)

	// Simulate orphans.
	txID, _ := pb.pager.BeginTx()
	for i := 0; i < 3; i++ {
		pid, buf, err := pb.pager.AllocPage()
		if err != nil {
			t.Fatal(err)
		}
		InitBTreePage(buf, pid, true)
		SetPageCRC(buf)
		pb.pager.WritePage(txID, pid, buf)
		pb.pager.UnpinPage(pid)
	}
	pb.pager.CommitTx(txID)
	pb.pager.Checkpoint()

	// First GC reclaims orphans.
	r1, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}
	if r1.Reclaimed < 3 {
		t.Errorf("first GC: expected ≥3 reclaimed, got %d", r1.Reclaimed)
	}

	// Second GC should find nothing.
	r2, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}
	if r2.Reclaimed != 0 {
		t.Errorf("second GC: expected 0 reclaimed, got %d", r2.Reclaimed)
	}
}

// TestGC_DataIntegrity verifies that data is intact after GC.
func TestGC_DataIntegrity(t *testing.T) {
	pb := tmpPageBackend(t)
	bt := saveTestTree(t, pb, "important", 100)

	// Run GC.
	if _, err := pb.GC(); err != nil {
		t.Fatal(err)
	}

	// Verify data is still intact.
	count, err := bt.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 100 {
		t.Errorf("expected 100 rows, got %d", count)
	}
	val, found, err := bt.Get([]byte("row_00000"))
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val_0" {
		t.Errorf("row 0: got %q/%v", val, found)
	}
	val, found, err = bt.Get([]byte("row_00099"))
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val_99" {
		t.Errorf("row 99: got %q/%v", val, found)
	}
}

// TestGC_Persistence verifies that reclaimed pages survive close/reopen.
func TestGC_Persistence(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gc_persist.db")

	// Phase 1: Create DB, simulate orphans, GC.
	pb, err := NewPageBackend(PageBackendConfig{Path: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	saveTestTree(t, pb, "users", 10)

	// Create orphans.
	txID, _ := pb.pager.BeginTx()
	for i := 0; i < 4; i++ {
		pid, buf, err := pb.pager.AllocPage()
		if err != nil {
			t.Fatal(err)
		}
		InitBTreePage(buf, pid, true)
		SetPageCRC(buf)
		pb.pager.WritePage(txID, pid, buf)
		pb.pager.UnpinPage(pid)
	}
	pb.pager.CommitTx(txID)
	pb.pager.Checkpoint()

	r, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}
	if r.Reclaimed < 4 {
		t.Errorf("expected ≥4 reclaimed, got %d", r.Reclaimed)
	}
	freeAfter := r.FreeAfter
	pb.Close()

	// Phase 2: Reopen and verify free list persisted.
	pb2, err := NewPageBackend(PageBackendConfig{Path: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer pb2.Close()

	// Should have approximately the same number of free pages.
	freeNow := pb2.pager.freeMgr.Count()
	if freeNow < freeAfter-2 { // allow small delta from free-list chain pages
		t.Errorf("expected ≥%d free pages after reopen, got %d", freeAfter-2, freeNow)
	}

	// Data should still be intact.
	bt, err := pb2.OpenTree("users")
	if err != nil {
		t.Fatal(err)
	}
	count, err := bt.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Errorf("expected 10 rows after reopen, got %d", count)
	}
}

// TestGC_EmptyDB verifies GC on a database with no trees.
func TestGC_EmptyDB(t *testing.T) {
	pb := tmpPageBackend(t)

	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}
	if result.Reclaimed != 0 {
		t.Errorf("expected 0 reclaimed on empty DB, got %d", result.Reclaimed)
	}
}

// TestGC_Stats returns consistent statistics.
func TestGC_Stats(t *testing.T) {
	pb := tmpPageBackend(t)
	saveTestTree(t, pb, "t1", 50)

	result, err := pb.GC()
	if err != nil {
		t.Fatal(err)
	}

	if result.TotalPages <= 0 {
		t.Errorf("TotalPages should be > 0, got %d", result.TotalPages)
	}
	if result.ReachablePages <= 0 {
		t.Errorf("ReachablePages should be > 0, got %d", result.ReachablePages)
	}
	if result.ReachablePages > result.TotalPages {
		t.Errorf("ReachablePages (%d) > TotalPages (%d)", result.ReachablePages, result.TotalPages)
	}
	// Accounting: reachable + free + reclaimed should cover all pages.
	accounted := result.ReachablePages + result.FreeAfter
	if accounted < result.TotalPages {
		t.Errorf("accounting gap: reachable(%d) + freeAfter(%d) = %d < totalPages(%d)",
			result.ReachablePages, result.FreeAfter, accounted, result.TotalPages)
	}
}
