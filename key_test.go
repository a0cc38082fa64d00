package ledgertree

import (
	"bytes"
	"math"
	"sort"
	"testing"
)

func TestKey_BoolRoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		k := NewKey()
		k.AppendBool(v)
		d := NewKeyDecoder(k.Bytes())
		got, err := d.DecodeBool()
		if err != nil {
			t.Fatalf("DecodeBool(%v): %v", v, err)
		}
		if got != v {
			t.Fatalf("DecodeBool(%v) = %v", v, got)
		}
		if !d.Done() {
			t.Fatalf("DecodeBool(%v): decoder not done", v)
		}
	}
}

func TestKey_IntRoundTrip(t *testing.T) {
	k := NewKey()
	k.AppendInt8(-5).AppendInt16(-1000).AppendInt32(-70000).AppendInt64(-5000000000).AppendUint64(42)
	d := NewKeyDecoder(k.Bytes())

	if v, err := d.DecodeInt8(); err != nil || v != -5 {
		t.Fatalf("DecodeInt8 = %v, %v", v, err)
	}
	if v, err := d.DecodeInt16(); err != nil || v != -1000 {
		t.Fatalf("DecodeInt16 = %v, %v", v, err)
	}
	if v, err := d.DecodeInt32(); err != nil || v != -70000 {
		t.Fatalf("DecodeInt32 = %v, %v", v, err)
	}
	if v, err := d.DecodeInt64(); err != nil || v != -5000000000 {
		t.Fatalf("DecodeInt64 = %v, %v", v, err)
	}
	if v, err := d.DecodeUint64(); err != nil || v != 42 {
		t.Fatalf("DecodeUint64 = %v, %v", v, err)
	}
	if !d.Done() {
		t.Fatal("decoder not done after 5 segments")
	}
}

func TestKey_FloatRoundTrip(t *testing.T) {
	vals64 := []float64{0, -0, 1, -1, 3.25, -3.25, math.MaxFloat64, -math.MaxFloat64}
	for _, v := range vals64 {
		k := NewKey()
		k.AppendFloat64(v)
		d := NewKeyDecoder(k.Bytes())
		got, err := d.DecodeFloat64()
		if err != nil {
			t.Fatalf("DecodeFloat64(%v): %v", v, err)
		}
		if got != v {
			t.Fatalf("DecodeFloat64(%v) = %v", v, got)
		}
	}

	k := NewKey()
	k.AppendFloat32(-2.5)
	d := NewKeyDecoder(k.Bytes())
	got, err := d.DecodeFloat32()
	if err != nil || got != -2.5 {
		t.Fatalf("DecodeFloat32 = %v, %v", got, err)
	}
}

func TestKey_StringAndBytesRoundTrip(t *testing.T) {
	k := NewKey()
	k.AppendString("hello\x00world\x01!").AppendBytes([]byte{0x00, 0x01, 0xFF})
	d := NewKeyDecoder(k.Bytes())

	s, err := d.DecodeString()
	if err != nil || s != "hello\x00world\x01!" {
		t.Fatalf("DecodeString = %q, %v", s, err)
	}
	b, err := d.DecodeBytes()
	if err != nil || !bytes.Equal(b, []byte{0x00, 0x01, 0xFF}) {
		t.Fatalf("DecodeBytes = %x, %v", b, err)
	}
	if !d.Done() {
		t.Fatal("decoder not done")
	}
}

func TestKey_WrongTagIsError(t *testing.T) {
	k := NewKey()
	k.AppendString("x")
	d := NewKeyDecoder(k.Bytes())
	if _, err := d.DecodeInt64(); err == nil {
		t.Fatal("expected error decoding string segment as int64")
	}
}

// TestKey_IntegerOrdering is invariant 6/7 from spec.md §8: the byte-wise
// order of encoded keys matches the numeric order of the values they
// encode, across the full signed range, including across the sign.
func TestKey_IntegerOrdering(t *testing.T) {
	values := []int32{math.MinInt32, -1000000, -1, 0, 1, 1000000, math.MaxInt32}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		k := NewKey()
		k.AppendInt32(v)
		encoded[i] = append([]byte(nil), k.Bytes()...)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("encoded(%d) >= encoded(%d): ordering invariant violated", values[i-1], values[i])
		}
	}
}

func TestKey_FloatOrdering(t *testing.T) {
	values := []float64{-math.MaxFloat64, -1.5, -0.001, 0, 0.001, 1.5, math.MaxFloat64}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		k := NewKey()
		k.AppendFloat64(v)
		encoded[i] = append([]byte(nil), k.Bytes()...)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("encoded(%v) >= encoded(%v): ordering invariant violated", values[i-1], values[i])
		}
	}
}

func TestKey_StringOrderingMatchesGoStringLess(t *testing.T) {
	words := []string{"apple", "Apple", "banana", "", "zebra", "app"}
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)

	encoded := make([][]byte, len(sorted))
	for i, w := range sorted {
		k := NewKey()
		k.AppendString(w)
		encoded[i] = append([]byte(nil), k.Bytes()...)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) > 0 {
			t.Fatalf("encoded(%q) > encoded(%q) but %q <= %q lexically", sorted[i-1], sorted[i], sorted[i-1], sorted[i])
		}
	}
}

// TestKey_CompositeOrdering checks that a multi-segment key orders
// primarily by its first segment, matching the tuple-comparison semantics
// promised for composite keys.
func TestKey_CompositeOrdering(t *testing.T) {
	type pair struct {
		a int32
		b string
	}
	pairs := []pair{
		{1, "zzz"},
		{2, "aaa"},
		{2, "bbb"},
		{3, "aaa"},
	}
	encoded := make([][]byte, len(pairs))
	for i, p := range pairs {
		k := NewKey()
		k.AppendInt32(p.a).AppendString(p.b)
		encoded[i] = append([]byte(nil), k.Bytes()...)
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("composite ordering violated between %v and %v", pairs[i-1], pairs[i])
		}
	}
}

func TestKey_ClearAndTo(t *testing.T) {
	k := NewKey()
	k.AppendInt32(1).AppendString("a")
	prefixLen := k.Segments()
	k.AppendString("b")
	if k.Segments() != prefixLen+1 {
		t.Fatalf("Segments() = %d, want %d", k.Segments(), prefixLen+1)
	}
	k.To(prefixLen)
	if k.Segments() != prefixLen {
		t.Fatalf("after To(%d), Segments() = %d", prefixLen, k.Segments())
	}

	withB := append([]byte(nil), k.Bytes()...)
	k.AppendString("b")
	if !bytes.HasPrefix(k.Bytes(), withB) {
		t.Fatal("To() followed by re-append did not restore shared prefix")
	}

	k.Clear()
	if k.Segments() != 0 || len(k.Bytes()) != 0 {
		t.Fatal("Clear() did not reset key")
	}
}

func TestKey_SetBytesPreservesSegments(t *testing.T) {
	k := NewKey()
	k.AppendInt32(7).AppendString("seven")
	encoded := append([]byte(nil), k.Bytes()...)

	k2 := NewKey()
	k2.SetBytes(encoded)
	if k2.Segments() != 2 {
		t.Fatalf("SetBytes: Segments() = %d, want 2", k2.Segments())
	}
	d := NewKeyDecoder(k2.Bytes())
	if v, err := d.DecodeInt32(); err != nil || v != 7 {
		t.Fatalf("SetBytes round trip int32 = %v, %v", v, err)
	}
	if s, err := d.DecodeString(); err != nil || s != "seven" {
		t.Fatalf("SetBytes round trip string = %q, %v", s, err)
	}
}

func TestKey_BeforeAfterSentinels(t *testing.T) {
	k := NewKey()
	k.AppendString("anything")
	if bytes.Compare(Before(), k.Bytes()) >= 0 {
		t.Fatal("Before() does not sort before an encoded key")
	}
	if bytes.Compare(k.Bytes(), After()) >= 0 {
		t.Fatal("After() does not sort after an encoded key")
	}
}
