package ledgertree

import (
	"fmt"
	"math"
)

// Key codec (C1, spec.md §4.1). A Key is an append-oriented builder over an
// internal byte buffer: every typed append writes a self-delimited,
// order-preserving encoding, so the unsigned byte-wise comparison of two
// encoded keys yields the correct semantic ordering for same-typed values.
//
// Segment layout on the wire: [typeTag:1][escaped payload][sentinel 0x00].
// 0x00 and 0x01 are reserved framing bytes; any occurrence of either inside
// a payload is escaped as (0x01, 0x20) / (0x01, 0x21) respectively, so the
// sentinel 0x00 can never appear inside an escaped payload and segment
// boundaries are unambiguous.
type keyTag byte

const (
	tagBool    keyTag = 0x02
	tagInt8    keyTag = 0x03
	tagInt16   keyTag = 0x04
	tagInt32   keyTag = 0x05
	tagInt64   keyTag = 0x06
	tagUint64  keyTag = 0x07
	tagFloat32 keyTag = 0x08
	tagFloat64 keyTag = 0x09
	tagString  keyTag = 0x0A
	tagBytes   keyTag = 0x0B

	segmentSentinel byte = 0x00
	escapeLead      byte = 0x01
	escapedZero     byte = 0x20
	escapedOne      byte = 0x21
)

// Key is a mutable, reusable byte buffer for building composite, lex-ordered
// keys one typed segment at a time.
type Key struct {
	buf      []byte
	segStart []int // byte offset of each segment's type tag, for To/Clear
}

// NewKey returns an empty Key ready to accept appended segments.
func NewKey() *Key { return &Key{} }

// Clear resets the key to zero length, discarding all segments.
func (k *Key) Clear() {
	k.buf = k.buf[:0]
	k.segStart = k.segStart[:0]
}

// Bytes returns the current encoded key. The returned slice aliases the
// Key's internal buffer and must be copied before the Key is mutated again.
func (k *Key) Bytes() []byte { return k.buf }

// SetBytes replaces the key's contents with a previously encoded key (for
// example one returned by a traversal) and recomputes segment boundaries
// so To/Segments stay meaningful afterward.
func (k *Key) SetBytes(b []byte) {
	k.buf = append(k.buf[:0], b...)
	k.segStart = k.segStart[:0]
	i := 0
	for i < len(k.buf) {
		k.segStart = append(k.segStart, i)
		i++ // skip tag byte
		for i < len(k.buf) && k.buf[i] != segmentSentinel {
			if k.buf[i] == escapeLead {
				i++
			}
			i++
		}
		i++ // skip sentinel
	}
}

// Segments reports how many typed segments have been appended.
func (k *Key) Segments() int { return len(k.segStart) }

// To truncates the key to its first n segments, discarding any appended
// after that point. This supports the iterative range-construction idiom:
// build a shared prefix once, then repeatedly call k.To(prefixLen) followed
// by one more Append to materialize each successive bound.
func (k *Key) To(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(k.segStart) {
		return
	}
	k.buf = k.buf[:k.segStart[n]]
	k.segStart = k.segStart[:n]
}

func (k *Key) beginSegment(tag keyTag) {
	k.segStart = append(k.segStart, len(k.buf))
	k.buf = append(k.buf, byte(tag))
}

func (k *Key) appendEscaped(payload []byte) {
	for _, b := range payload {
		switch b {
		case segmentSentinel:
			k.buf = append(k.buf, escapeLead, escapedZero)
		case escapeLead:
			k.buf = append(k.buf, escapeLead, escapedOne)
		default:
			k.buf = append(k.buf, b)
		}
	}
}

func (k *Key) endSegment() {
	k.buf = append(k.buf, segmentSentinel)
}

// AppendBool appends a boolean segment; false orders before true.
func (k *Key) AppendBool(v bool) *Key {
	k.beginSegment(tagBool)
	if v {
		k.appendEscaped([]byte{1})
	} else {
		k.appendEscaped([]byte{0})
	}
	k.endSegment()
	return k
}

func signFlip(u uint64, bits int) []byte {
	u ^= uint64(1) << (uint(bits) - 1)
	out := make([]byte, bits/8)
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = byte(u)
		u >>= 8
	}
	return out
}

// AppendInt8 appends a signed 8-bit integer segment in sign-flipped
// big-endian order, so unsigned byte comparison matches numeric order.
func (k *Key) AppendInt8(v int8) *Key {
	k.beginSegment(tagInt8)
	k.appendEscaped(signFlip(uint64(uint8(v)), 8))
	k.endSegment()
	return k
}

// AppendInt16 appends a signed 16-bit integer segment.
func (k *Key) AppendInt16(v int16) *Key {
	k.beginSegment(tagInt16)
	k.appendEscaped(signFlip(uint64(uint16(v)), 16))
	k.endSegment()
	return k
}

// AppendInt32 appends a signed 32-bit integer segment.
func (k *Key) AppendInt32(v int32) *Key {
	k.beginSegment(tagInt32)
	k.appendEscaped(signFlip(uint64(uint32(v)), 32))
	k.endSegment()
	return k
}

// AppendInt64 appends a signed 64-bit integer segment.
func (k *Key) AppendInt64(v int64) *Key {
	k.beginSegment(tagInt64)
	k.appendEscaped(signFlip(uint64(v), 64))
	k.endSegment()
	return k
}

// AppendUint64 appends an unsigned 64-bit integer segment — used for
// timestamps and other already-unsigned quantities, encoded as plain
// big-endian bytes (no sign flip needed).
func (k *Key) AppendUint64(v uint64) *Key {
	k.beginSegment(tagUint64)
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	k.appendEscaped(buf)
	k.endSegment()
	return k
}

// encodeFloatBits produces a total order over IEEE-754 bit patterns
// consistent with numeric `<`: flip the sign bit for non-negative values,
// and bitwise-complement the whole pattern for negative values.
func encodeFloatBits(bits, signBit uint64) uint64 {
	if bits&signBit != 0 {
		return ^bits
	}
	return bits | signBit
}

// AppendFloat32 appends a 32-bit float segment.
func (k *Key) AppendFloat32(v float32) *Key {
	k.beginSegment(tagFloat32)
	bits := uint64(math.Float32bits(v))
	enc := encodeFloatBits(bits, 1<<31)
	buf := make([]byte, 4)
	u := uint32(enc)
	for i := 3; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	k.appendEscaped(buf)
	k.endSegment()
	return k
}

// AppendFloat64 appends a 64-bit float segment.
func (k *Key) AppendFloat64(v float64) *Key {
	k.beginSegment(tagFloat64)
	bits := math.Float64bits(v)
	enc := encodeFloatBits(bits, 1<<63)
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(enc)
		enc >>= 8
	}
	k.appendEscaped(buf)
	k.endSegment()
	return k
}

// AppendString appends a UTF-8 string segment. Raw byte-wise comparison of
// the escaped UTF-8 bytes yields codepoint order; a locale-specific
// collator may be layered on top by pre-transforming s before calling this
// (not performed here — spec.md §4.1 treats that as pluggable).
func (k *Key) AppendString(s string) *Key {
	k.beginSegment(tagString)
	k.appendEscaped([]byte(s))
	k.endSegment()
	return k
}

// AppendBytes appends an opaque byte-slice segment under the same escape
// rule as strings.
func (k *Key) AppendBytes(b []byte) *Key {
	k.beginSegment(tagBytes)
	k.appendEscaped(b)
	k.endSegment()
	return k
}

// Before returns the sentinel key that lex-orders before every valid
// encoded key: the empty byte slice.
func Before() []byte { return nil }

// After returns the sentinel key that lex-orders after every valid encoded
// key. 0xFF never appears as a leading type tag (tags top out at 0x0B), so
// a single 0xFF byte — with no terminating sentinel — sorts after any
// complete encoded key of any length.
func After() []byte { return []byte{0xFF} }

// ───────────────────────────────────────────────────────────────────────────
// Decoding
// ───────────────────────────────────────────────────────────────────────────

// KeyDecoder walks an encoded key one segment at a time. Each Decode*
// method must be called in the same order/type sequence the key was built
// with; calling the wrong typed getter for the segment at the cursor
// returns ErrInvalidKey.
type KeyDecoder struct {
	buf []byte
	pos int
}

// NewKeyDecoder returns a decoder positioned at the start of buf.
func NewKeyDecoder(buf []byte) *KeyDecoder {
	return &KeyDecoder{buf: buf}
}

// Done reports whether every segment has been consumed.
func (d *KeyDecoder) Done() bool { return d.pos >= len(d.buf) }

// nextSegment returns the tag and unescaped payload of the segment at the
// cursor, and advances the cursor past its sentinel.
func (d *KeyDecoder) nextSegment(want keyTag) ([]byte, error) {
	if d.pos >= len(d.buf) {
		return nil, fmt.Errorf("decode past end of key: %w", ErrInvalidKey)
	}
	tag := keyTag(d.buf[d.pos])
	if tag != want {
		return nil, fmt.Errorf("decode: expected tag 0x%02x, found 0x%02x: %w", want, tag, ErrInvalidKey)
	}
	i := d.pos + 1
	start := i
	for i < len(d.buf) && d.buf[i] != segmentSentinel {
		i++
	}
	if i >= len(d.buf) {
		return nil, fmt.Errorf("decode: unterminated segment: %w", ErrInvalidKey)
	}
	escaped := d.buf[start:i]
	d.pos = i + 1

	out := make([]byte, 0, len(escaped))
	for j := 0; j < len(escaped); j++ {
		b := escaped[j]
		if b == escapeLead {
			j++
			if j >= len(escaped) {
				return nil, fmt.Errorf("decode: dangling escape: %w", ErrInvalidKey)
			}
			switch escaped[j] {
			case escapedZero:
				out = append(out, segmentSentinel)
			case escapedOne:
				out = append(out, escapeLead)
			default:
				return nil, fmt.Errorf("decode: invalid escape 0x%02x: %w", escaped[j], ErrInvalidKey)
			}
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeBool decodes a boolean segment.
func (d *KeyDecoder) DecodeBool() (bool, error) {
	b, err := d.nextSegment(tagBool)
	if err != nil {
		return false, err
	}
	return len(b) == 1 && b[0] == 1, nil
}

func unflip(b []byte, bits int) uint64 {
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return u ^ (uint64(1) << (uint(bits) - 1))
}

// DecodeInt8 decodes a signed 8-bit integer segment.
func (d *KeyDecoder) DecodeInt8() (int8, error) {
	b, err := d.nextSegment(tagInt8)
	if err != nil {
		return 0, err
	}
	return int8(uint8(unflip(b, 8))), nil
}

// DecodeInt16 decodes a signed 16-bit integer segment.
func (d *KeyDecoder) DecodeInt16() (int16, error) {
	b, err := d.nextSegment(tagInt16)
	if err != nil {
		return 0, err
	}
	return int16(uint16(unflip(b, 16))), nil
}

// DecodeInt32 decodes a signed 32-bit integer segment.
func (d *KeyDecoder) DecodeInt32() (int32, error) {
	b, err := d.nextSegment(tagInt32)
	if err != nil {
		return 0, err
	}
	return int32(uint32(unflip(b, 32))), nil
}

// DecodeInt64 decodes a signed 64-bit integer segment.
func (d *KeyDecoder) DecodeInt64() (int64, error) {
	b, err := d.nextSegment(tagInt64)
	if err != nil {
		return 0, err
	}
	return int64(unflip(b, 64)), nil
}

// DecodeUint64 decodes an unsigned 64-bit integer (timestamp) segment.
func (d *KeyDecoder) DecodeUint64() (uint64, error) {
	b, err := d.nextSegment(tagUint64)
	if err != nil {
		return 0, err
	}
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return u, nil
}

// DecodeFloat32 decodes a 32-bit float segment.
func (d *KeyDecoder) DecodeFloat32() (float32, error) {
	b, err := d.nextSegment(tagFloat32)
	if err != nil {
		return 0, err
	}
	var u uint32
	for _, c := range b {
		u = u<<8 | uint32(c)
	}
	var bits uint32
	if u&(1<<31) != 0 {
		bits = u &^ (1 << 31)
	} else {
		bits = ^u
	}
	return math.Float32frombits(bits), nil
}

// DecodeFloat64 decodes a 64-bit float segment.
func (d *KeyDecoder) DecodeFloat64() (float64, error) {
	b, err := d.nextSegment(tagFloat64)
	if err != nil {
		return 0, err
	}
	var enc uint64
	for _, c := range b {
		enc = enc<<8 | uint64(c)
	}
	var bits uint64
	if enc&(1<<63) != 0 {
		bits = enc &^ (1 << 63)
	} else {
		bits = ^enc
	}
	return math.Float64frombits(bits), nil
}

// DecodeString decodes a UTF-8 string segment.
func (d *KeyDecoder) DecodeString() (string, error) {
	b, err := d.nextSegment(tagString)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBytes decodes an opaque byte-slice segment.
func (d *KeyDecoder) DecodeBytes() ([]byte, error) {
	return d.nextSegment(tagBytes)
}
