// Copyright 2025 Certen Protocol
//
// Per-(height, view) vote tallies for Prepare/Commit messages, plus
// equivocation detection (spec.md §4.3.1, §4.3.6). Bookkeeping shape is
// modelled on the teacher's pkg/batch/confirmation_tracker.go (a
// mutex-guarded map of per-key accumulators), generalised from tracking
// chain confirmations to tracking signed votes.

package consensus

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

type hvKey struct {
	height uint64
	view   uint64
}

// voteTally tracks every distinct vote cast by each replica for a single
// (height, view), across every block_hash it has voted for. A replica
// that casts two votes for different block hashes at the same (h, v) is
// equivocating (spec.md §4.3.6) — the second call to record returns the
// first vote so the caller can build evidence.
type voteTally[V any] struct {
	byHash   map[hash.Hash]map[types.PublicKey]V
	bySigner map[types.PublicKey]hash.Hash
}

func newVoteTally[V any]() *voteTally[V] {
	return &voteTally[V]{
		byHash:   make(map[hash.Hash]map[types.PublicKey]V),
		bySigner: make(map[types.PublicKey]hash.Hash),
	}
}

// record adds vote from signer for blockHash. equivocated is true and
// priorHash is the signer's earlier vote's block hash when this call would
// equivocate (a different block hash from the same signer at this (h, v));
// the new vote is not recorded in that case. A repeated identical vote is
// idempotent per spec.md §5's ordering guarantee.
func (t *voteTally[V]) record(signer types.PublicKey, blockHash hash.Hash, vote V) (priorHash hash.Hash, equivocated bool) {
	if prior, ok := t.bySigner[signer]; ok {
		if prior != blockHash {
			return prior, true
		}
		return hash.Hash{}, false
	}
	t.bySigner[signer] = blockHash
	if t.byHash[blockHash] == nil {
		t.byHash[blockHash] = make(map[types.PublicKey]V)
	}
	t.byHash[blockHash][signer] = vote
	return hash.Hash{}, false
}

// count returns the number of distinct signers who voted for blockHash.
func (t *voteTally[V]) count(blockHash hash.Hash) int {
	return len(t.byHash[blockHash])
}

// votesFor returns every recorded vote for blockHash.
func (t *voteTally[V]) votesFor(blockHash hash.Hash) []V {
	m := t.byHash[blockHash]
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// voteFor returns signer's recorded vote for blockHash, used to recover
// the original signed message behind an equivocation's prior block hash.
func (t *voteTally[V]) voteFor(blockHash hash.Hash, signer types.PublicKey) (V, bool) {
	v, ok := t.byHash[blockHash][signer]
	return v, ok
}
