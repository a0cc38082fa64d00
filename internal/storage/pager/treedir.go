package pager

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Tree directory — maps tree names to their B+Tree roots and accumulators
// ───────────────────────────────────────────────────────────────────────────
//
// A Volume can hold more than one named Tree (the Data Model's "list of
// trees"). The directory is itself a B+Tree whose
//   key   = tree name
//   value = JSON-encoded TreeMeta
//
// The directory root page ID is stored in the superblock (TreeDirRoot).

// AccumulatorSpec describes one running aggregate tracked alongside a tree.
// The spec is stored in TreeMeta only: nothing in the module updates an
// accumulator's value when a transaction commits.
type AccumulatorSpec struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "sum", "max", "min", or "sequence"
}

// TreeMeta is the value stored in the tree directory B+Tree.
type TreeMeta struct {
	Name         string            `json:"name"`
	RootPageID   PageID            `json:"root_page_id"`
	Depth        int               `json:"depth"`
	EntryCount   int64             `json:"entry_count"`
	Accumulators []AccumulatorSpec `json:"accumulators,omitempty"`
}

// TreeDirectory manages the volume's tree directory B+Tree.
type TreeDirectory struct {
	mu    sync.RWMutex
	pager *Pager
	tree  *BTree
}

// OpenTreeDirectory opens or creates the tree directory.
func OpenTreeDirectory(p *Pager, txID TxID) (*TreeDirectory, error) {
	sb := p.Superblock()
	td := &TreeDirectory{pager: p}

	if sb.TreeDirRoot == InvalidPageID {
		bt, err := CreateBTree(p, txID)
		if err != nil {
			return nil, fmt.Errorf("create tree directory: %w", err)
		}
		td.tree = bt
		p.UpdateSuperblock(func(s *Superblock) {
			s.TreeDirRoot = bt.Root()
		})
	} else {
		td.tree = NewBTree(p, sb.TreeDirRoot)
	}
	return td, nil
}

// PutMeta upserts a tree's directory entry within the given transaction.
func (td *TreeDirectory) PutMeta(txID TxID, meta TreeMeta) error {
	td.mu.Lock()
	defer td.mu.Unlock()

	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return td.tree.Insert(txID, []byte(meta.Name), val)
}

// GetMeta retrieves a tree's directory entry. Returns nil if not found.
func (td *TreeDirectory) GetMeta(name string) (*TreeMeta, error) {
	td.mu.RLock()
	defer td.mu.RUnlock()

	val, found, err := td.tree.Get([]byte(name))
	if err != nil || !found {
		return nil, err
	}
	var meta TreeMeta
	if err := json.Unmarshal(val, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// DeleteMeta removes a tree's directory entry within the given transaction.
func (td *TreeDirectory) DeleteMeta(txID TxID, name string) error {
	td.mu.Lock()
	defer td.mu.Unlock()

	_, err := td.tree.Delete(txID, []byte(name))
	return err
}

// ListTrees returns all tree names held in the directory, sorted.
func (td *TreeDirectory) ListTrees() ([]string, error) {
	td.mu.RLock()
	defer td.mu.RUnlock()

	var names []string
	err := td.tree.ScanRange(nil, nil, func(key, val []byte) bool {
		names = append(names, string(key))
		return true
	})
	sort.Strings(names)
	return names, err
}

// Root returns the tree directory's own root page ID.
func (td *TreeDirectory) Root() PageID { return td.tree.Root() }

// ───────────────────────────────────────────────────────────────────────────
// Sequence-key helper shared by callers that index by an auto-incrementing
// integer (e.g. the sequence accumulator).
// ───────────────────────────────────────────────────────────────────────────

// SequenceKey encodes a monotonically increasing int64 as a big-endian
// byte string so that numeric order matches byte-lexicographic order —
// the property every B+Tree range scan in this package depends on.
func SequenceKey(seq int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return buf[:]
}

// ParseSequenceKey is the inverse of SequenceKey.
func ParseSequenceKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
