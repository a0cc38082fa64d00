package ledgertree

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pbeaman/ledgertree/internal/storage/pager"
)

// Direction selects which way an Exchange traversal moves.
type Direction int

const (
	// Forward traverses toward ascending keys (Next).
	Forward Direction = iota
	// Backward traverses toward descending keys (Previous).
	Backward
)

// Exchange (C8, spec.md §4.6) is a handle binding an executor to a
// (volume, tree). It holds a mutable key buffer, a mutable value buffer,
// and a cached leaf page from the last traversal.
//
// The cache holds the id of the leaf page that contained the most
// recently looked-up key, plus the generation counter and key range ([Lo,
// Hi]) observed on that leaf at the time. A later lookup whose key falls
// within that range, and whose leaf generation has not moved on, is
// resolved by probing the cached leaf directly (pager.BTree.ProbeLeaf)
// instead of walking the tree from the root (pager.BTree.FindLeaf) — the
// "same-page fetch optimization" of spec.md §8 S7. A generation mismatch
// (a concurrent writer mutated the page), an out-of-range key, or the
// page no longer being a leaf (split/merged/freed since it was cached)
// all fall back to a fresh root-to-leaf resolution, which refreshes the
// cache for the next call.
type Exchange struct {
	mu   sync.Mutex
	vol  *Volume
	tree string
	bt   *pager.BTree

	key   *Key
	value []byte

	havePath   bool
	cachedLeaf pager.PageID
	cachedGen  uint32
}

// NewExchange opens an Exchange bound to a named tree in vol.
func NewExchange(vol *Volume, tree string) (*Exchange, error) {
	bt, err := vol.OpenTree(tree)
	if err != nil {
		return nil, err
	}
	return &Exchange{vol: vol, tree: tree, bt: bt, key: NewKey()}, nil
}

// Key returns the Exchange's mutable key buffer for building the current
// key in place before Store/Fetch/Remove.
func (e *Exchange) Key() *Key { return e.key }

// Value returns the bytes fetched by the most recent Fetch/Next/Previous.
func (e *Exchange) Value() []byte { return e.value }

// invalidatePath discards the cached leaf; the next lookup re-descends
// from the root. Called after any write through this Exchange, since a
// split, merge, or root change may have moved keys out of the cached
// leaf's range.
func (e *Exchange) invalidatePath() { e.havePath = false }

// withinLeafBounds reports whether key falls within [lo, hi], the key
// range last observed in a cached leaf. An empty leaf (lo == hi == nil)
// never satisfies the cache — there is nothing in it to compare against.
func withinLeafBounds(key, lo, hi []byte) bool {
	if lo == nil && hi == nil {
		return false
	}
	return bytes.Compare(key, lo) >= 0 && bytes.Compare(key, hi) <= 0
}

// resolveLeaf returns the leaf-probe result for key, reusing the cached
// leaf when it is still valid for key (§4.6 invalidation rule) and
// otherwise re-descending from the tree root and refreshing the cache.
func (e *Exchange) resolveLeaf(key []byte) (pager.LeafProbe, error) {
	if e.havePath {
		probe, err := e.bt.ProbeLeaf(e.cachedLeaf, key)
		if err != nil {
			return pager.LeafProbe{}, err
		}
		if !probe.Stale && probe.Gen == e.cachedGen && withinLeafBounds(key, probe.Lo, probe.Hi) {
			return probe, nil
		}
	}

	leafID, err := e.bt.FindLeaf(key)
	if err != nil {
		return pager.LeafProbe{}, err
	}
	probe, err := e.bt.ProbeLeaf(leafID, key)
	if err != nil {
		return pager.LeafProbe{}, err
	}
	e.cachedLeaf = leafID
	e.cachedGen = probe.Gen
	e.havePath = true
	return probe, nil
}

// Store writes the Exchange's current key/value under tx. Participates in
// write-write conflict detection (§4.5): returns ErrRollback, rolling tx
// back, if another in-flight transaction already holds this key.
func (e *Exchange) Store(tx *Txn, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := append([]byte(nil), e.key.Bytes()...)
	if err := tx.checkWrite(e.tree, key); err != nil {
		return err
	}
	if err := e.bt.Insert(tx.PagerTx(), key, value); err != nil {
		return fmt.Errorf("exchange store: %w", err)
	}
	e.value = append([]byte(nil), value...)
	e.invalidatePath()
	return nil
}

// Fetch reads the value at the Exchange's current key into its value
// buffer. A Fetch immediately following a Store of the same key in the
// same transaction observes the stored value (read-your-writes, §5).
func (e *Exchange) Fetch() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	probe, err := e.resolveLeaf(e.key.Bytes())
	if err != nil {
		return false, fmt.Errorf("exchange fetch: %w", err)
	}
	if !probe.Found {
		e.value = nil
		return false, nil
	}
	e.value = append([]byte(nil), probe.Value...)
	return true, nil
}

// Remove deletes the value at the Exchange's current key under tx.
func (e *Exchange) Remove(tx *Txn) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := append([]byte(nil), e.key.Bytes()...)
	if err := tx.checkWrite(e.tree, key); err != nil {
		return false, err
	}
	removed, err := e.bt.Delete(tx.PagerTx(), key)
	if err != nil {
		return false, fmt.Errorf("exchange remove: %w", err)
	}
	e.invalidatePath()
	return removed, nil
}

// Next moves the Exchange to the first stored key strictly greater than
// its current key, loading that key and value. deep controls whether
// traversal may descend into a deeper segment than the current key (true)
// or must stay within the current logical subtree (false) — see Traverse.
func (e *Exchange) Next(deep bool) (bool, error) {
	return e.Traverse(Forward, deep)
}

// Previous moves the Exchange to the last stored key strictly less than
// its current key.
func (e *Exchange) Previous(deep bool) (bool, error) {
	return e.Traverse(Backward, deep)
}

// Traverse is the generalized movement primitive behind Next/Previous: it
// walks the tree in direction dir from the Exchange's current key,
// optionally restricting movement to stay within the current key's
// top-level segment when deep is false.
func (e *Exchange) Traverse(dir Direction, deep bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.key.Bytes()
	var prefix []byte
	if !deep {
		prefix = segmentPrefix(cur)
	}

	var foundKey, foundVal []byte
	var ok bool

	if dir == Forward {
		lo := append([]byte(nil), cur...)
		lo = append(lo, 0x00) // strictly greater than cur
		err := e.bt.ScanRange(lo, After(), func(k, v []byte) bool {
			if !deep && !bytes.HasPrefix(k, prefix) {
				return false
			}
			foundKey, foundVal, ok = append([]byte(nil), k...), append([]byte(nil), v...), true
			return false // stop at first match
		})
		if err != nil {
			return false, fmt.Errorf("exchange next: %w", err)
		}
	} else {
		// ScanRange only walks forward; collect the largest key strictly
		// less than cur by scanning the whole prefix range and keeping
		// the last match before cur.
		lo := Before()
		if !deep {
			lo = prefix
		}
		err := e.bt.ScanRange(lo, cur, func(k, v []byte) bool {
			if bytes.Equal(k, cur) {
				return true // exclude the current key itself
			}
			if !deep && !bytes.HasPrefix(k, prefix) {
				return true
			}
			foundKey, foundVal, ok = append([]byte(nil), k...), append([]byte(nil), v...), true
			return true // keep scanning to find the last one before cur
		})
		if err != nil {
			return false, fmt.Errorf("exchange previous: %w", err)
		}
	}

	if !ok {
		return false, nil
	}
	e.key.SetBytes(foundKey)
	e.value = foundVal
	return true, nil
}

// segmentPrefix returns the bytes of key up to and including its first
// segment's sentinel, used to keep a non-deep traversal within the
// current top-level segment.
func segmentPrefix(key []byte) []byte {
	for i, b := range key {
		if b == segmentSentinel {
			return key[:i+1]
		}
	}
	return key
}
