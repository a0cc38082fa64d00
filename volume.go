package ledgertree

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pbeaman/ledgertree/internal/storage"
	"github.com/pbeaman/ledgertree/internal/storage/pager"
)

// Volume (C5) is a single growable paged file plus the directory of named
// B+Trees living inside it. It wraps pager.PageBackend — the pair of
// (Pager, TreeDirectory) that already implements page allocation, the
// free list, and tree-name lookup — with the identity and configuration
// concerns a public Volume needs (§3 Data Model "Volume").
type Volume struct {
	mu      sync.Mutex
	name    string
	path    string
	backend *pager.PageBackend
	cfg     EngineConfig
	ckpt    *storage.Checkpointer
}

// createVolume creates a new volume file at path, stamping a fresh 64-bit
// identity into its superblock.
func createVolume(name, path string, cfg EngineConfig) (*Volume, error) {
	backend, err := pager.NewPageBackend(pager.PageBackendConfig{
		Path:          path,
		PageSize:      cfg.PageSize,
		MaxCachePages: cfg.MaxCachePages,
		VolumeID:      newVolumeID(),
	})
	if err != nil {
		return nil, fmt.Errorf("create volume %s: %w", name, err)
	}
	return newVolume(name, path, backend, cfg)
}

// openVolume opens an existing volume file.
func openVolume(name, path string, cfg EngineConfig) (*Volume, error) {
	backend, err := pager.NewPageBackend(pager.PageBackendConfig{
		Path:          path,
		PageSize:      cfg.PageSize,
		MaxCachePages: cfg.MaxCachePages,
	})
	if err != nil {
		return nil, fmt.Errorf("open volume %s: %w", name, err)
	}
	return newVolume(name, path, backend, cfg)
}

// newVolume wraps an already-opened backend, starting the background
// checkpoint scheduler when cfg.CheckpointSchedule is set.
func newVolume(name, path string, backend *pager.PageBackend, cfg EngineConfig) (*Volume, error) {
	v := &Volume{name: name, path: path, backend: backend, cfg: cfg}
	if cfg.CheckpointSchedule != "" {
		ckpt, err := storage.NewCheckpointer(backend.Pager(), cfg.CheckpointSchedule)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("volume %s: %w", name, err)
		}
		ckpt.Start()
		v.ckpt = ckpt
		if cfg.LogVerbose {
			cfg.logger().Printf("volume %s: background checkpoints scheduled (%s)", name, cfg.CheckpointSchedule)
		}
	}
	return v, nil
}

// Name returns the volume's logical name.
func (v *Volume) Name() string { return v.name }

// Path returns the volume's file path.
func (v *Volume) Path() string { return v.path }

// ID returns the volume's 64-bit identity, as stamped into its superblock
// at creation.
func (v *Volume) ID() uint64 { return v.backend.Pager().Superblock().VolumeID }

// PageSize returns the volume's fixed page size.
func (v *Volume) PageSize() int { return v.backend.Pager().PageSize() }

// CreateTree registers and returns a new named B+Tree in this volume.
// Returns ErrTreeExists if the name is already taken.
func (v *Volume) CreateTree(name string) (*pager.BTree, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bt, err := v.backend.CreateTree(name)
	if err != nil {
		return nil, fmt.Errorf("create tree %s: %w", name, ErrTreeExists)
	}
	return bt, nil
}

// OpenTree returns a handle to an existing named tree, or ErrTreeNotFound.
func (v *Volume) OpenTree(name string) (*pager.BTree, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bt, err := v.backend.OpenTree(name)
	if err != nil {
		return nil, fmt.Errorf("open tree %s: %w", name, err)
	}
	if bt == nil {
		return nil, fmt.Errorf("tree %s: %w", name, ErrTreeNotFound)
	}
	return bt, nil
}

// DropTree frees every page of a named tree and removes it from the
// directory. Invariant: every live page is either in the free list or
// reachable from some tree root (§3 Data Model) — DropTree's FreeAllPages
// call is what keeps that invariant true after a tree is removed.
func (v *Volume) DropTree(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend.DropTree(name)
}

// ListTrees returns the names of every tree registered in this volume.
func (v *Volume) ListTrees() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend.ListTrees()
}

// GC performs a reachability-based garbage collection pass over the
// volume, reclaiming pages orphaned by crashed transactions or historical
// bugs in tree maintenance (SPEC_FULL.md §12 "GC / reachability sweep").
func (v *Volume) GC() (*pager.GCResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend.GC()
}

// Checkpoint flushes dirty pages, rewrites the superblock, and truncates
// the journal once every dirty page is durably on the volume file.
func (v *Volume) Checkpoint() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend.Pager().Checkpoint()
}

// Close stops the background checkpoint scheduler (if any) and flushes and
// closes the underlying volume file.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ckpt != nil {
		v.ckpt.Stop()
	}
	return v.backend.Close()
}

// pager exposes the underlying Pager for the transaction manager and
// Exchange, which need direct access to BeginTx/CommitTx/ReadPage et al.
func (v *Volume) pager() *pager.Pager { return v.backend.Pager() }

// resolvePath joins a bare volume name against the configured volume
// directory, or returns name unchanged if it already looks like a path.
func resolvePath(cfg EngineConfig, name string) string {
	if filepath.IsAbs(name) || filepath.Dir(name) != "." {
		return name
	}
	if cfg.VolumeDir == "" {
		return name
	}
	return filepath.Join(cfg.VolumeDir, name)
}
