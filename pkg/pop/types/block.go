// Copyright 2025 Certen Protocol
//
// ProofBlock: the proposable unit (spec.md §3). An ordered batch of proofs
// with an expected post-state root, proposed by the leader of (height, view)
// and finalised once a commit certificate forms over it.

package types

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// DefaultMaxProofsPerBlock is the policy default for max_proofs_per_block.
const DefaultMaxProofsPerBlock = 256

// ProofBlock is the leader's proposal for height/view.
type ProofBlock struct {
	Height           uint64
	View             uint64
	PrevBlockHash    hash.Hash
	TimestampNS      uint64
	Proofs           []*Proof // ordered
	ExpectedPostRoot hash.Hash

	// RewardSection carries Byzantine evidence the leader has collected
	// and verified (self-verifying signatures only, not yet the deeper
	// re-check rewards.Tracker performs) since the last committed block
	// (spec.md §4.4: evidence is only applied to reward state once
	// committed in a later block, never the instant a single replica
	// observes it). Nil or empty on most blocks.
	RewardSection []*Evidence

	ProposerPK  PublicKey
	ProposerSig Signature
}

// SigningBytes returns the canonical encoding of the block without its
// signature — what the proposer signs and what every replica re-derives
// to verify ProposerSig.
func (b *ProofBlock) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.U64(b.Height)
	e.U64(b.View)
	e.Hash32(b.PrevBlockHash)
	e.U64(b.TimestampNS)
	e.Count(len(b.Proofs))
	for _, p := range b.Proofs {
		e.Hash32(p.ID)
	}
	e.Hash32(b.ExpectedPostRoot)
	e.Count(len(b.RewardSection))
	for _, ev := range b.RewardSection {
		e.Hash32(ev.ID)
	}
	e.BytesField(b.ProposerPK[:])
	return e.Bytes()
}

// Hash is H(encode(block without sig)) — the block hash used throughout
// consensus (spec.md §3: "hash = H(encode(block without sig))").
func (b *ProofBlock) Hash() hash.Hash {
	return hash.Sum256(b.SigningBytes())
}

// Sign computes and stores ProposerSig using signFn (normally the signer
// service's Sign method).
func (b *ProofBlock) Sign(pk PublicKey, signFn func([]byte) Signature) {
	b.ProposerPK = pk
	b.ProposerSig = signFn(b.SigningBytes())
}

// VerifyProposerSignature checks ProposerSig over SigningBytes().
func (b *ProofBlock) VerifyProposerSignature() bool {
	return b.ProposerPK.Verify(b.SigningBytes(), b.ProposerSig)
}

// ProofBytes returns the total encoded size of the block's proofs, used
// to enforce max_block_bytes.
func (b *ProofBlock) ProofBytes() int {
	n := 0
	for _, p := range b.Proofs {
		n += len(p.Payload)
	}
	return n
}

// StateKey is a typed (domain, id) pair identifying a state-store entry.
type StateKey struct {
	Domain uint8
	ID     []byte
}

// Encode returns the canonical byte encoding of the key, used both as the
// map-sort key and as the pre-image to H(key) in the Merkle trie.
func (k StateKey) Encode() []byte {
	e := hash.NewEncoder()
	e.U8(k.Domain)
	e.BytesField(k.ID)
	return e.Bytes()
}

// Hash returns H(encode(key)), the trie path.
func (k StateKey) Hash() hash.Hash {
	return hash.Sum256(k.Encode())
}

// StateValue is an opaque value plus a resource_weight scalar consumed by
// the conservation checker. ResourceWeight is zero for non-conserved keys.
type StateValue struct {
	Data           []byte
	ResourceWeight hash.Int128
}

// Encode returns the canonical byte encoding of the value.
func (v StateValue) Encode() []byte {
	e := hash.NewEncoder()
	e.BytesField(v.Data)
	e.I128(v.ResourceWeight)
	return e.Bytes()
}

// StateRoot is the 32-byte Merkle commitment over the sorted key space.
type StateRoot = hash.Hash

// Write describes one key's before/after value within a StateTransition.
// OldValue/NewValue are nil to represent "key did not exist".
type Write struct {
	Key      StateKey
	OldValue *StateValue
	NewValue *StateValue
}

// StateTransition is the result of applying a committed block's proofs to
// the pre-state.
type StateTransition struct {
	BlockHash            hash.Hash
	PreRoot              StateRoot
	PostRoot             StateRoot
	Writes               []Write
	ResourceDeltaPerDomain map[uint8]hash.Int128
}
