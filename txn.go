package ledgertree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pbeaman/ledgertree/internal/storage"
	"github.com/pbeaman/ledgertree/internal/storage/pager"
)

// txnState implements the C7 state machine from spec.md §4.5:
//
//	Idle → Active (begin)
//	Active → Active (nested begin / statement)
//	Active → Committing (commit) — TX record appended
//	Committing → Committed — durability achieved per policy
//	Active → Aborting (rollback) — marker appended, updates invisible
//	Aborting → Aborted
//	Committed|Aborted → Idle (end)
type txnState uint8

const (
	txIdle txnState = iota
	txActive
	txCommitting
	txCommitted
	txAborting
	txAborted
)

// Txn is a Transaction (C7): a tuple of (start-timestamp, commit-timestamp
// or uncommitted, owning executor, chain of updates). Nesting is flat with
// a begin-depth counter — `End` must be called once per `Begin`.
type Txn struct {
	mu       sync.Mutex
	mgr      *TxnManager
	vol      *Volume
	pagerTx  pager.TxID
	startTS  uint64
	commitTS uint64
	depth    int
	policy   DurabilityPolicy
	state    txnState

	writeSet map[string]struct{} // "tree\x00key" entries this txn has written

	onCommit   []func()
	onRollback []func()
}

// TxnManager mints timestamps, tracks in-flight transactions for write-write
// conflict detection, and owns the group-commit batching window (spec.md
// §4.5, §4.4 "group" policy).
type TxnManager struct {
	mu       sync.Mutex
	clock    atomic.Uint64
	active   map[uint64]*Txn     // by start timestamp
	writeOwn map[string]uint64   // "tree\x00key" -> owning txn's start timestamp
	group    *storage.GroupCommitWindow
	cfg      EngineConfig
}

// NewTxnManager returns a TxnManager bound to a single volume's pager.
func NewTxnManager(cfg EngineConfig) *TxnManager {
	return &TxnManager{
		active:   make(map[uint64]*Txn),
		writeOwn: make(map[string]uint64),
		group:    storage.NewGroupCommitWindow(cfg.groupCommitWindow()),
		cfg:      cfg,
	}
}

// Begin starts a new transaction against vol with the given durability
// policy (DurabilityPolicy(""), meaning "use the manager's configured
// default). Mirrors `Idle → Active (begin)`.
func (m *TxnManager) Begin(vol *Volume, policy DurabilityPolicy) (*Txn, error) {
	if policy == "" {
		policy = m.cfg.DefaultCommitPolicy
	}
	pagerTx, err := vol.pager().BeginTx()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	startTS := m.clock.Add(1)

	tx := &Txn{
		mgr:      m,
		vol:      vol,
		pagerTx:  pagerTx,
		startTS:  startTS,
		depth:    1,
		policy:   policy,
		state:    txActive,
		writeSet: make(map[string]struct{}),
	}

	m.mu.Lock()
	m.active[startTS] = tx
	m.mu.Unlock()

	return tx, nil
}

// recordWrite registers that tx has written (or is about to write) key in
// tree, checking for a write-write conflict with another still-active
// transaction holding the same key (spec.md §4.5 conflict detection).
func (m *TxnManager) recordWrite(tx *Txn, tree string, key []byte) error {
	composite := tree + "\x00" + string(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.writeOwn[composite]; ok && owner != tx.startTS {
		if _, stillActive := m.active[owner]; stillActive {
			return ErrRollback
		}
	}
	m.writeOwn[composite] = tx.startTS
	tx.writeSet[composite] = struct{}{}
	return nil
}

// release removes every write-set entry owned by tx and drops tx from the
// active-transaction table, called on both commit and rollback.
func (m *TxnManager) release(tx *Txn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for composite := range tx.writeSet {
		if owner, ok := m.writeOwn[composite]; ok && owner == tx.startTS {
			delete(m.writeOwn, composite)
		}
	}
	delete(m.active, tx.startTS)
}

// Begin implements a nested begin on an already-active transaction: the
// depth counter increments without minting a new timestamp.
func (tx *Txn) Begin() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txActive {
		return fmt.Errorf("nested begin on non-active transaction: %w", ErrNoTransaction)
	}
	tx.depth++
	return nil
}

// StartTimestamp returns the transaction's start timestamp.
func (tx *Txn) StartTimestamp() uint64 { return tx.startTS }

// CommitTimestamp returns the transaction's commit timestamp, or 0 if it
// has not yet committed.
func (tx *Txn) CommitTimestamp() uint64 { return tx.commitTS }

// PagerTx returns the underlying pager-level transaction id, used by
// Exchange to drive BTree.Insert/Delete.
func (tx *Txn) PagerTx() pager.TxID { return tx.pagerTx }

// checkWrite records a write to (tree, key) in this transaction's write
// set, returning ErrRollback (and rolling the transaction back) on a
// write-write conflict with another in-flight transaction.
func (tx *Txn) checkWrite(tree string, key []byte) error {
	if err := tx.mgr.recordWrite(tx, tree, key); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

// OnCommit registers a listener that Commit invokes once the commit record
// is written: after its fsync under `hard` and `group`, but before any fsync
// under `soft`.
// Listeners must not perform further transactional work on this executor.
func (tx *Txn) OnCommit(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRollback registers a listener invoked after rollback.
func (tx *Txn) OnRollback(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.onRollback = append(tx.onRollback, fn)
}

// Commit mints a commit timestamp, writes the TX record, and applies the
// transaction's durability policy. On return (for `hard`) or eventually
// (for `soft`/`group`), any reader with start-timestamp ≥ the commit
// timestamp observes the update (spec.md §5 snapshot-isolation guarantee).
func (tx *Txn) Commit() error {
	tx.mu.Lock()
	if tx.state != txActive {
		tx.mu.Unlock()
		return fmt.Errorf("commit without active transaction: %w", ErrNoTransaction)
	}
	tx.state = txCommitting
	tx.commitTS = tx.mgr.clock.Add(1)
	tx.mu.Unlock()

	var err error
	switch tx.policy {
	case DurabilitySoft:
		err = tx.vol.pager().CommitTxAsync(tx.pagerTx)
	case DurabilityGroup:
		if err = tx.vol.pager().CommitTxAsync(tx.pagerTx); err == nil {
			err = tx.mgr.group.Join(tx.vol.pager().SyncWAL)
		}
	default: // DurabilityHard and any unrecognized policy fail safe to hard
		err = tx.vol.pager().CommitTx(tx.pagerTx)
	}
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	tx.mu.Lock()
	tx.state = txCommitted
	listeners := tx.onCommit
	tx.mu.Unlock()

	tx.mgr.release(tx)
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Rollback aborts the transaction; none of its updates become visible.
func (tx *Txn) Rollback() error {
	tx.mu.Lock()
	if tx.state != txActive {
		tx.mu.Unlock()
		return fmt.Errorf("rollback without active transaction: %w", ErrNoTransaction)
	}
	tx.state = txAborting
	err := tx.vol.pager().AbortTx(tx.pagerTx)
	tx.state = txAborted
	listeners := tx.onRollback
	tx.mu.Unlock()

	tx.mgr.release(tx)
	for _, fn := range listeners {
		fn()
	}

	if err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// End closes out one Begin/End frame. Once depth returns to zero the
// transaction returns to Idle and may be reused for a fresh Begin. Calling
// End without a matching Begin (state already Idle) is a program error.
func (tx *Txn) End() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != txCommitted && tx.state != txAborted {
		return fmt.Errorf("end without commit or rollback: %w", ErrNoTransaction)
	}
	tx.depth--
	if tx.depth < 0 {
		return fmt.Errorf("end called more often than begin: %w", ErrNoTransaction)
	}
	if tx.depth == 0 {
		tx.state = txIdle
	}
	return nil
}
