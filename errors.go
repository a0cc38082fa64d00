package ledgertree

import (
	"errors"

	"github.com/pbeaman/ledgertree/internal/storage/pager"
)

// Error kinds surfaced across the engine's public API. Transient kinds
// (Rollback, BufferUnavailable) are safe for a caller to retry; the rest
// indicate a programmer error or corruption and are not.
var (
	// ErrRollback is returned when a transaction aborts due to an
	// explicit write-write conflict with another in-flight transaction.
	// Callers are expected to retry.
	ErrRollback = errors.New("ledgertree: transaction rolled back")

	// ErrBufferUnavailable is returned when a page cannot be pinned
	// because the buffer pool is at capacity and every resident page is
	// already pinned, leaving nothing to evict. Aliases the pager
	// package's sentinel so errors.Is matches across the package
	// boundary.
	ErrBufferUnavailable = pager.ErrBufferUnavailable

	// ErrKeyTooLong is returned when an encoded key cannot fit on any page,
	// even alone on a freshly split page. Aliases the pager package's
	// sentinel so errors.Is matches across the package boundary.
	ErrKeyTooLong = pager.ErrKeyTooLong

	// ErrValueTooLong aliases the pager sentinel wrapped when one overflow
	// page is handed more data than it holds; a B+Tree insert splits long
	// values into page-sized chunks and does not return it.
	ErrValueTooLong = pager.ErrValueTooLong

	// ErrInvalidKey is returned by the key codec on malformed input, such
	// as decoding past the end of the buffer.
	ErrInvalidKey = errors.New("ledgertree: invalid key encoding")

	// ErrPageStructure aliases the pager sentinel for an inconsistent page
	// layout (free-space accounting or slot directory); no engine operation
	// returns it.
	ErrPageStructure = pager.ErrPageStructure

	// ErrCorruptJournal is returned by recovery when a record's length or
	// type fails validation before the point of crash truncation.
	ErrCorruptJournal = pager.ErrCorruptJournal

	// ErrChecksumMismatch is returned when a page's CRC does not match its
	// contents.
	ErrChecksumMismatch = pager.ErrChecksumMismatch

	// ErrConversion is surfaced unchanged from a caller-supplied codec.
	ErrConversion = errors.New("ledgertree: conversion error")

	// ErrNotOpen is returned when an operation is attempted on a closed
	// Engine.
	ErrNotOpen = errors.New("ledgertree: not open")

	// ErrNoTransaction is returned when commit/rollback is called without
	// a matching begin, or end is called more or fewer times than begin.
	ErrNoTransaction = errors.New("ledgertree: no active transaction")

	// ErrTreeNotFound is returned when an Exchange is bound to a tree name
	// that does not exist in the volume's tree directory.
	ErrTreeNotFound = errors.New("ledgertree: tree not found")

	// ErrTreeExists is returned by CreateTree when the name is already
	// registered.
	ErrTreeExists = errors.New("ledgertree: tree already exists")
)
