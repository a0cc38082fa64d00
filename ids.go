package ledgertree

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// newVolumeID mints a fresh 64-bit volume identity from the first 8 bytes
// of a random UUID, matching the Data Model's "identity (64-bit id)" while
// reusing the teacher's UUID-based identity convention
// (internal/storage/uuid_helpers.go) instead of inventing a new generator.
func newVolumeID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// newJournalGeneration returns a fresh random UUID string. Nothing in the
// module calls it: the WAL is a single file with no rollover generations.
func newJournalGeneration() string {
	return uuid.New().String()
}
