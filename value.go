package ledgertree

// Value codec (C2, spec.md §4.2 "Long records"). Values are opaque byte
// payloads; the engine itself decides, per value, whether to store it
// inline in the data page or as a long-record chain of overflow pages. A
// Value just carries the payload up to the public API — the inline/
// long-record split and the overflow chain I/O live in
// internal/storage/pager (btree.go's writeOverflow/readOverflow), since
// that decision is page-layout-dependent and already made uniformly
// wherever a leaf entry is inserted.
type Value []byte

// InlineThreshold returns the largest value size, in bytes, that the given
// page size stores inline in a leaf record rather than as a long-record
// chain. Exposed so callers can reason about S5-style long-record fidelity
// tests without reaching into the pager package directly.
func InlineThreshold(pageSize int) int {
	// Mirrors the pager's own cutover (overflowThresholdFor in
	// internal/storage/pager/btree.go): a quarter of what is left after the
	// 47-byte B+Tree slot-directory offset and a 64-byte overhead
	// allowance, with a 256-byte floor. Longer values go to a long-record
	// chain.
	t := (pageSize - 47 - 64) / 4
	if t < 256 {
		t = 256
	}
	return t
}
