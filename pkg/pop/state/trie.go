// Copyright 2025 Certen Protocol
//
// A radix-based binary Merkle trie keyed by H(key), with empty-subtree
// short-circuits (spec.md §4.2). Internal nodes hash as H(left || right);
// leaves as H(0x00 || key || value). The trie is content-addressed: every
// node is stored under its own hash in a dbm.DB-backed node store
// (pkg/kvdb in the teacher; here, directly over cometbft-db), so identical
// subtrees across heights share storage for free.

package state

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// depth is the number of bits in a trie path (SHA-256 digest width).
const depth = hash.Size * 8

// emptyHashes[i] is the commitment of an empty subtree of height i
// (i=0 is an empty leaf, i=depth is the empty root). Computed once at
// package init so every replica agrees on the short-circuit constants
// without re-deriving them at runtime.
var emptyHashes [depth + 1]hash.Hash

func init() {
	emptyHashes[0] = hash.Hash{} // empty leaf: the all-zero digest
	for i := 1; i <= depth; i++ {
		emptyHashes[i] = hash.SumConcat(emptyHashes[i-1][:], emptyHashes[i-1][:])
	}
}

// node is a trie node as stored in the backing KV store, keyed by its own
// hash. A leaf node carries Key/Value directly; an internal node carries
// Left/Right child hashes.
type node struct {
	isLeaf bool
	key    types.StateKey
	value  types.StateValue
	left   hash.Hash
	right  hash.Hash
}

func leafHash(key types.StateKey, value types.StateValue) hash.Hash {
	e := hash.NewEncoder()
	e.U8(0x00)
	e.BytesField(key.Encode())
	e.BytesField(value.Encode())
	return e.Hash()
}

func internalHash(left, right hash.Hash) hash.Hash {
	return hash.SumConcat(left[:], right[:])
}

// bit returns the i-th most-significant bit of h (0 = MSB of byte 0).
func bit(h hash.Hash, i int) int {
	byteIdx := i / 8
	bitIdx := 7 - (i % 8)
	return int((h[byteIdx] >> uint(bitIdx)) & 1)
}
