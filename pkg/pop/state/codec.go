// Copyright 2025 Certen Protocol
//
// On-disk node encoding. A node is either a leaf (flag 1, key, value) or
// an internal node (flag 0, left hash, right hash).

package state

import (
	"fmt"

	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

func encodeNode(n *node) []byte {
	e := hash.NewEncoder()
	if n.isLeaf {
		e.U8(1)
		e.U8(n.key.Domain)
		e.BytesField(n.key.ID)
		e.BytesField(n.value.Data)
		e.I128(n.value.ResourceWeight)
	} else {
		e.U8(0)
		e.Hash32(n.left)
		e.Hash32(n.right)
	}
	return e.Bytes()
}

func decodeNode(b []byte) (*node, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("state: empty node encoding")
	}
	r := newReader(b)
	flag, err := r.u8()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		left, err := r.hash32()
		if err != nil {
			return nil, err
		}
		right, err := r.hash32()
		if err != nil {
			return nil, err
		}
		return &node{isLeaf: false, left: left, right: right}, nil
	}

	domain, err := r.u8()
	if err != nil {
		return nil, err
	}
	id, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	data, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	weight, err := r.i128()
	if err != nil {
		return nil, err
	}
	return &node{
		isLeaf: true,
		key:    types.StateKey{Domain: domain, ID: id},
		value:  types.StateValue{Data: data, ResourceWeight: weight},
	}, nil
}

// reader is a minimal cursor over the Encoder's wire format, used only by
// this package's own node codec (not exposed to other packages, which
// only ever hash or transmit already-encoded bytes).
type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) u8() (uint8, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("state: truncated node encoding")
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) hash32() (hash.Hash, error) {
	var h hash.Hash
	if r.pos+hash.Size > len(r.b) {
		return h, fmt.Errorf("state: truncated node encoding")
	}
	copy(h[:], r.b[r.pos:r.pos+hash.Size])
	r.pos += hash.Size
	return h, nil
}

func (r *reader) uvarint() (uint64, error) {
	var x uint64
	var s uint
	for i := 0; ; i++ {
		if r.pos >= len(r.b) {
			return 0, fmt.Errorf("state: truncated varint")
		}
		b := r.b[r.pos]
		r.pos++
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, fmt.Errorf("state: truncated byte field")
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) i128() (hash.Int128, error) {
	hi, err := r.u64()
	if err != nil {
		return hash.Int128{}, err
	}
	lo, err := r.u64()
	if err != nil {
		return hash.Int128{}, err
	}
	return hash.Int128{Hi: int64(hi), Lo: lo}, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.b) {
		return 0, fmt.Errorf("state: truncated u64")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(r.b[r.pos+i])
	}
	r.pos += 8
	return v, nil
}
