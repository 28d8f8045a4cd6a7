// Copyright 2025 Certen Protocol
//
// Canonical deterministic encoding used everywhere a hash or signature is
// computed over a structured value. Every replica must derive byte-identical
// encodings from the same logical value, so this package never uses a
// format (JSON map iteration order, protobuf field reordering) that can
// vary across implementations.

package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sort"
)

// Size is the length in bytes of every hash produced by this package.
const Size = 32

// Hash is a 32-byte SHA-256 digest.
type Hash [Size]byte

// IsZero reports whether h is the all-zero hash (used for the genesis
// prev_block_hash sentinel).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String renders the hash as lowercase hex, for logging.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, h[:])
	return b
}

// Sum256 hashes b and returns a Hash.
func Sum256(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// SumConcat hashes the concatenation of parts without an intermediate
// allocation per part.
func SumConcat(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// BytesFromHash is a convenience constructor validating length.
func BytesFromHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, errors.New("hash: expected 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// Encoder builds a canonical byte encoding incrementally. Every write
// method is self-delimiting (fixed width or length-prefixed) so the
// resulting stream can never be ambiguous between two distinct logical
// values.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated canonical encoding.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Hash returns SHA-256 of the accumulated encoding.
func (e *Encoder) Hash() Hash {
	return Sum256(e.buf)
}

// U8 writes a single byte.
func (e *Encoder) U8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

// U16 writes a fixed-width big-endian uint16.
func (e *Encoder) U16(v uint16) *Encoder {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// U32 writes a fixed-width big-endian uint32.
func (e *Encoder) U32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// U64 writes a fixed-width big-endian uint64.
func (e *Encoder) U64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// I128 writes a signed 128-bit integer as two big-endian uint64 halves
// (high, low), two's-complement. i128 values used by this codebase never
// approach the 64-bit boundary in the high word during normal operation,
// but the wire format always reserves the full width so the encoding
// never changes shape as magnitudes grow.
func (e *Encoder) I128(v Int128) *Encoder {
	e.U64(uint64(v.Hi))
	e.U64(v.Lo)
	return e
}

// BytesField writes a length-prefixed (uvarint) byte string.
func (e *Encoder) BytesField(v []byte) *Encoder {
	e.uvarint(uint64(len(v)))
	e.buf = append(e.buf, v...)
	return e
}

// Hash32 writes a raw 32-byte hash (fixed width, no length prefix needed).
func (e *Encoder) Hash32(h Hash) *Encoder {
	e.buf = append(e.buf, h[:]...)
	return e
}

// Count writes a uvarint-encoded element count, for self-delimiting a
// list field ahead of its elements.
func (e *Encoder) Count(n int) *Encoder {
	e.uvarint(uint64(n))
	return e
}

// uvarint appends v as an unsigned LEB128 varint.
func (e *Encoder) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf = append(e.buf, tmp[:n]...)
}

// SortedMap writes a map-like collection deterministically: callers
// supply pre-extracted keys/values and this helper sorts by the raw key
// bytes before writing, so any two implementations producing the same
// logical map produce byte-identical output regardless of insertion or
// iteration order.
func (e *Encoder) SortedMap(entries map[string][]byte) *Encoder {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	e.uvarint(uint64(len(keys)))
	for _, k := range keys {
		e.BytesField([]byte(k))
		e.BytesField(entries[k])
	}
	return e
}

// Int128 is a signed 128-bit integer represented as two 64-bit halves.
// resource_weight and resource_delta_per_domain use this type so the
// conservation arithmetic in pkg/pop/state never silently wraps at the
// 64-bit boundary the way a plain int64 would for extreme ledgers.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Int128FromInt64 widens a plain int64 into an Int128.
func Int128FromInt64(v int64) Int128 {
	if v >= 0 {
		return Int128{Hi: 0, Lo: uint64(v)}
	}
	return Int128{Hi: -1, Lo: uint64(v)}
}

// Add returns a+b. Overflow beyond 128 bits is not a concern for any
// value domain this core's resource weights are expected to model.
func (a Int128) Add(b Int128) Int128 {
	lo := a.Lo + b.Lo
	carry := int64(0)
	if lo < a.Lo {
		carry = 1
	}
	return Int128{Hi: a.Hi + b.Hi + carry, Lo: lo}
}

// Sub returns a-b.
func (a Int128) Sub(b Int128) Int128 {
	return a.Add(Int128{Hi: ^b.Hi, Lo: ^b.Lo + 1})
}

// IsZero reports whether the value is exactly zero.
func (a Int128) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// Sign returns -1, 0, or 1.
func (a Int128) Sign() int {
	if a.Hi < 0 {
		return -1
	}
	if a.Hi == 0 && a.Lo == 0 {
		return 0
	}
	return 1
}
