package pager

import (
	"fmt"
	"sort"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads the WAL from the beginning and replays only fully
// committed transactions whose page images have an LSN > the checkpoint
// LSN. Uncommitted/aborted transactions are discarded.
//
// Algorithm (spec.md §4.7):
//   1. Read all WAL records.
//   2. Build a transaction map: TxID → committed/aborted state and its
//      PAGE_IMAGE records.
//   3. Build a page map: PageID → the highest-LSN PAGE_IMAGE record
//      written by a committed, non-aborted transaction, among records
//      past the checkpoint LSN. Later committed writes to a page always
//      supersede earlier ones regardless of which transaction wrote
//      them, so only one entry per page survives into the page map.
//   4. Apply the page map in ascending LSN order. This makes the result
//      independent of the records' or transactions' original ordering:
//      a page's map entry is already the single winning image, and
//      applying in LSN order keeps the replay itself deterministic.
//   5. Fsync the database file.
//   6. Update and flush the superblock with new checkpoint_lsn.
//   7. Truncate the WAL.

// Recover replays the WAL and applies committed transactions.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	// Transaction map: classify each TxID as committed or aborted.
	type txState struct {
		committed bool
		aborted   bool
	}
	txMap := make(map[TxID]*txState)

	var maxLSN LSN
	var maxTxID TxID

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}
		switch rec.Type {
		case WALRecordBegin:
			if _, ok := txMap[rec.TxID]; !ok {
				txMap[rec.TxID] = &txState{}
			}
		case WALRecordCommit:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txState{}
				txMap[rec.TxID] = tr
			}
			tr.committed = true
		case WALRecordAbort:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txState{}
				txMap[rec.TxID] = tr
			}
			tr.aborted = true
		case WALRecordCheckpoint:
			// Checkpoint record; all prior transactions are flushed.
		}
	}

	// Page map: PageID → highest-LSN surviving PAGE_IMAGE record. Built in
	// a second pass (after full transaction classification) so a
	// PAGE_IMAGE record is only admitted once its transaction's eventual
	// commit/abort outcome is known, regardless of the records' relative
	// order in the log.
	pageMap := make(map[PageID]*WALRecord)
	for _, rec := range records {
		if rec.Type != WALRecordPageImage {
			continue
		}
		if rec.LSN <= LSN(p.sb.CheckpointLSN) {
			continue
		}
		tr, ok := txMap[rec.TxID]
		if !ok || !tr.committed || tr.aborted {
			continue
		}
		cur, ok := pageMap[rec.PageID]
		if !ok || rec.LSN > cur.LSN {
			pageMap[rec.PageID] = rec
		}
	}

	toApply := make([]*WALRecord, 0, len(pageMap))
	for _, rec := range pageMap {
		toApply = append(toApply, rec)
	}
	sort.Slice(toApply, func(i, j int) bool { return toApply[i].LSN < toApply[j].LSN })

	for _, rec := range toApply {
		if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
		}
	}

	if len(toApply) > 0 {
		// Fsync the database file.
		if err := p.file.Sync(); err != nil {
			return err
		}

		// Update superblock.
		p.sb.CheckpointLSN = maxLSN
		if TxID(maxTxID+1) > p.sb.NextTxID {
			p.sb.NextTxID = TxID(maxTxID + 1)
		}

		// Determine highest page ID used among applied images.
		for _, rec := range toApply {
			if PageID(rec.PageID+1) > p.sb.NextPageID {
				p.sb.NextPageID = PageID(rec.PageID + 1)
				p.sb.PageCount = uint64(p.sb.NextPageID)
			}
		}

		sbBuf := MarshalSuperblock(p.sb, p.pageSize)
		if err := p.writePageRaw(0, sbBuf); err != nil {
			return fmt.Errorf("recover superblock: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	// Set WAL next LSN beyond recovered records.
	p.wal.SetNextLSN(maxLSN + 1)

	// Truncate the WAL.
	return p.wal.Truncate()
}
