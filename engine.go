package ledgertree

import (
	"fmt"
	"os"
	"sync"
)

// Engine is the top-level facade a client opens once per process. It owns
// the set of open Volumes and the per-volume transaction managers, and is
// the entry point for recovery on startup (§4.7).
type Engine struct {
	mu      sync.Mutex
	cfg     EngineConfig
	volumes map[string]*volHandle
	closed  bool
}

// volHandle pairs an open Volume with the TxnManager driving its
// transactions.
type volHandle struct {
	vol *Volume
	txm *TxnManager
}

// Open starts an Engine with the given configuration. It performs no I/O
// on its own — volumes are opened or created individually via
// CreateVolume/OpenVolume, each running its own recovery pass.
func Open(cfg EngineConfig) (*Engine, error) {
	if cfg.PageSize == 0 {
		cfg = DefaultEngineConfig()
	}
	return &Engine{cfg: cfg, volumes: make(map[string]*volHandle)}, nil
}

// CreateVolume creates a new volume file named name at path (or, if path is
// a bare file name with no directory part and cfg.VolumeDir is set, under
// that directory).
func (e *Engine) CreateVolume(name, path string) (*Volume, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrNotOpen
	}
	if _, exists := e.volumes[name]; exists {
		return nil, fmt.Errorf("create volume %s: %w", name, ErrTreeExists)
	}

	resolved := resolvePath(e.cfg, path)
	vol, err := createVolume(name, resolved, e.cfg)
	if err != nil {
		return nil, err
	}
	e.volumes[name] = &volHandle{vol: vol, txm: NewTxnManager(e.cfg)}
	return vol, nil
}

// OpenVolume opens an existing volume file, running crash recovery (§4.7)
// before returning.
func (e *Engine) OpenVolume(name, path string) (*Volume, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrNotOpen
	}
	if ov, exists := e.volumes[name]; exists {
		return ov.vol, nil
	}

	resolved := resolvePath(e.cfg, path)
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("open volume %s: %w", name, err)
	}
	vol, err := openVolume(name, resolved, e.cfg)
	if err != nil {
		return nil, err
	}
	if err := vol.pager().Recover(); err != nil {
		vol.Close()
		return nil, fmt.Errorf("recover volume %s: %w", name, err)
	}
	if e.cfg.LogVerbose {
		e.cfg.logger().Printf("volume %s: recovery complete, opened from %s", name, resolved)
	}
	e.volumes[name] = &volHandle{vol: vol, txm: NewTxnManager(e.cfg)}
	return vol, nil
}

// Volume looks up an already-open volume by name.
func (e *Engine) Volume(name string) (*Volume, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ov, ok := e.volumes[name]
	if !ok {
		return nil, false
	}
	return ov.vol, true
}

// Begin starts a transaction against the named, already-open volume.
func (e *Engine) Begin(volumeName string, policy DurabilityPolicy) (*Txn, error) {
	e.mu.Lock()
	ov, ok := e.volumes[volumeName]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("begin on volume %s: %w", volumeName, ErrTreeNotFound)
	}
	return ov.txm.Begin(ov.vol, policy)
}

// Close checkpoints and closes every open volume.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for name, ov := range e.volumes {
		if err := ov.vol.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close volume %s: %w", name, err)
		}
	}
	return firstErr
}
