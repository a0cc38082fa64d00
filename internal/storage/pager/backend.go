package pager

import (
	"fmt"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// PageBackend — single-volume bundle of Pager + TreeDirectory (C5 facade)
// ───────────────────────────────────────────────────────────────────────────
//
// PageBackend is the unit GC (gc.go) and the inspection tools operate on: a
// database file plus the tree directory that names every B+Tree living
// inside it. The root `ledgertree` package's Volume wraps exactly this pair
// with the Data Model's key/value codec layered on top; PageBackend itself
// stays free of anything above "named trees of opaque pages".

// PageBackendConfig configures a PageBackend.
type PageBackendConfig struct {
	Path          string
	WALPath       string
	PageSize      int
	MaxCachePages int
	VolumeID      uint64
}

// PageBackend bundles a Pager with its tree directory under one lock,
// giving GC and inspection tooling a single handle to open/close/scan.
type PageBackend struct {
	mu      sync.Mutex
	pager   *Pager
	treeDir *TreeDirectory
}

// NewPageBackend opens (or creates) a volume file and its tree directory.
func NewPageBackend(cfg PageBackendConfig) (*PageBackend, error) {
	p, err := OpenPager(PagerConfig{
		DBPath:        cfg.Path,
		WALPath:       cfg.WALPath,
		PageSize:      cfg.PageSize,
		MaxCachePages: cfg.MaxCachePages,
		VolumeID:      cfg.VolumeID,
	})
	if err != nil {
		return nil, err
	}

	txID, err := p.BeginTx()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("begin tree directory tx: %w", err)
	}
	td, err := OpenTreeDirectory(p, txID)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open tree directory: %w", err)
	}
	if err := p.CommitTx(txID); err != nil {
		p.Close()
		return nil, fmt.Errorf("commit tree directory open: %w", err)
	}

	return &PageBackend{pager: p, treeDir: td}, nil
}

// Pager returns the underlying Pager.
func (pb *PageBackend) Pager() *Pager { return pb.pager }

// TreeDirectory returns the volume's tree directory.
func (pb *PageBackend) TreeDirectory() *TreeDirectory { return pb.treeDir }

// CreateTree allocates a new named B+Tree and registers it in the
// directory, within its own transaction.
func (pb *PageBackend) CreateTree(name string) (*BTree, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if existing, _ := pb.treeDir.GetMeta(name); existing != nil {
		return nil, fmt.Errorf("tree %q already exists", name)
	}

	txID, err := pb.pager.BeginTx()
	if err != nil {
		return nil, err
	}
	bt, err := CreateBTree(pb.pager, txID)
	if err != nil {
		pb.pager.AbortTx(txID)
		return nil, err
	}
	if err := pb.treeDir.PutMeta(txID, TreeMeta{Name: name, RootPageID: bt.Root(), Depth: 1}); err != nil {
		pb.pager.AbortTx(txID)
		return nil, err
	}
	if err := pb.pager.CommitTx(txID); err != nil {
		return nil, err
	}
	return bt, nil
}

// OpenTree returns a handle to an existing named tree, or nil if absent.
func (pb *PageBackend) OpenTree(name string) (*BTree, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	meta, err := pb.treeDir.GetMeta(name)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}
	return NewBTree(pb.pager, meta.RootPageID), nil
}

// DropTree frees every page owned by a named tree and removes its
// directory entry.
func (pb *PageBackend) DropTree(name string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	meta, err := pb.treeDir.GetMeta(name)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("tree %q does not exist", name)
	}

	bt := NewBTree(pb.pager, meta.RootPageID)
	bt.FreeAllPages()

	txID, err := pb.pager.BeginTx()
	if err != nil {
		return err
	}
	if err := pb.treeDir.DeleteMeta(txID, name); err != nil {
		pb.pager.AbortTx(txID)
		return err
	}
	return pb.pager.CommitTx(txID)
}

// ListTrees returns the names of every tree registered in the directory.
func (pb *PageBackend) ListTrees() ([]string, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.treeDir.ListTrees()
}

// Close flushes and closes the underlying Pager.
func (pb *PageBackend) Close() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.pager.Close()
}
