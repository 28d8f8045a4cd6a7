// Copyright 2025 Certen Protocol
//
// Merkle inclusion proofs (spec.md §4.2) and the portable receipt shape
// adapted from the teacher's pkg/merkle/receipt.go.

package state

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// InclusionProof is the sibling-hash path from a key's leaf to the root,
// ordered from leaf to root.
type InclusionProof struct {
	Siblings []hash.Hash // one per trie level, leaf-to-root
}

// ProveInclusion walks the current trie and returns the sibling path for
// key, regardless of whether key is present (an absence proof is simply
// the path that resolves to an empty-subtree hash).
func (s *Store) ProveInclusion(key types.StateKey) (InclusionProof, error) {
	s.mu.RLock()
	root := s.root
	s.mu.RUnlock()

	path := key.Hash()
	siblings := make([]hash.Hash, 0, depth)
	cur := root
	for level := depth; level > 0; level-- {
		if cur == emptyHashes[level] {
			for l := level; l > 0; l-- {
				siblings = append(siblings, emptyHashes[l-1])
			}
			break
		}
		n, err := s.loadNode(cur)
		if err != nil {
			return InclusionProof{}, err
		}
		if n.isLeaf {
			// putAt always materializes a full chain down to level 0, so
			// a leaf can never occupy a level above 0 here either.
			return InclusionProof{}, ErrFatal
		}
		if bit(path, depth-level) == 0 {
			siblings = append(siblings, n.right)
			cur = n.left
		} else {
			siblings = append(siblings, n.left)
			cur = n.right
		}
	}
	// The walk above collects siblings root-first; reverse them into the
	// leaf-to-root order InclusionProof and VerifyInclusion use.
	for i, j := 0, len(siblings)-1; i < j; i, j = i+1, j-1 {
		siblings[i], siblings[j] = siblings[j], siblings[i]
	}
	return InclusionProof{Siblings: siblings}, nil
}

// VerifyInclusion recomputes root from key, value (nil for absence), and
// proof, and reports whether it matches root. This is a pure function of
// its arguments — it never touches the store — so a light client holding
// only (root, key, value, proof) can check membership independently.
func VerifyInclusion(root types.StateRoot, key types.StateKey, value *types.StateValue, proof InclusionProof) bool {
	if len(proof.Siblings) != depth {
		return false
	}
	path := key.Hash()
	var cur hash.Hash
	if value != nil {
		cur = leafHash(key, *value)
	} else {
		cur = emptyHashes[0]
	}
	// Siblings were recorded leaf-to-root; fold back up in that order.
	for level := 1; level <= depth; level++ {
		sib := proof.Siblings[level-1]
		if bit(path, depth-level) == 0 {
			cur = internalHash(cur, sib)
		} else {
			cur = internalHash(sib, cur)
		}
	}
	return cur == root
}

// Receipt is a self-contained, independently verifiable inclusion
// receipt, adapted from the teacher's pkg/merkle/receipt.go. A client can
// hold a Receipt and later prove membership to a third party without
// round-tripping to the serving replica.
type Receipt struct {
	Key       types.StateKey
	Value     *types.StateValue
	Root      types.StateRoot
	Proof     InclusionProof
	IssuedAtNS uint64
	IssuerPK  types.PublicKey
	IssuerSig types.Signature
}

// SigningBytes is what the issuing replica signs over a Receipt.
func (r *Receipt) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField(r.Key.Encode())
	e.Hash32(r.Root)
	e.U64(r.IssuedAtNS)
	if r.Value != nil {
		e.U8(1)
		e.BytesField(r.Value.Encode())
	} else {
		e.U8(0)
	}
	return e.Bytes()
}

// Verify checks both the inclusion proof and the issuer's signature.
func (r *Receipt) Verify() bool {
	if !VerifyInclusion(r.Root, r.Key, r.Value, r.Proof) {
		return false
	}
	return r.IssuerPK.Verify(r.SigningBytes(), r.IssuerSig)
}

// IssueReceipt produces a Receipt for key at the store's current root,
// signed by signFn (normally the signer service).
func (s *Store) IssueReceipt(key types.StateKey, issuedAtNS uint64, issuerPK types.PublicKey, signFn func([]byte) types.Signature) (*Receipt, error) {
	value, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	proof, err := s.ProveInclusion(key)
	if err != nil {
		return nil, err
	}
	r := &Receipt{
		Key:        key,
		Value:      value,
		Root:       s.Root(),
		Proof:      proof,
		IssuedAtNS: issuedAtNS,
		IssuerPK:   issuerPK,
	}
	r.IssuerSig = signFn(r.SigningBytes())
	return r, nil
}
