package ledgertree

import "testing"

func TestInlineThreshold_PositiveForTypicalPageSize(t *testing.T) {
	got := InlineThreshold(8192)
	if got <= 0 {
		t.Fatalf("InlineThreshold(8192) = %d, want > 0", got)
	}
	if got >= 8192 {
		t.Fatalf("InlineThreshold(8192) = %d, should be well under the page size", got)
	}
}

func TestInlineThreshold_GrowsWithPageSize(t *testing.T) {
	small := InlineThreshold(4096)
	large := InlineThreshold(16384)
	if large <= small {
		t.Fatalf("InlineThreshold(16384) = %d should exceed InlineThreshold(4096) = %d", large, small)
	}
}
