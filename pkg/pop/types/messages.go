// Copyright 2025 Certen Protocol
//
// ConsensusMessage variants (spec.md §3). Each variant owns its own
// domain-separated signing-bytes encoding so a signature for one message
// kind can never be replayed as another kind, even if the underlying
// fields happen to coincide.

package types

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// Signing domains. Every signed message is hashed as H(domain || fields);
// the domain tag rules out cross-kind signature replay (e.g. a Prepare
// signature being accepted as a Commit signature for the same block).
const (
	DomainPrePrepare = "POP_PREPREPARE_V1"
	DomainPrepare    = "POP_PREPARE_V1"
	DomainCommit     = "POP_COMMIT_V1"
	DomainViewChange = "POP_VIEWCHANGE_V1"
	DomainNewView    = "POP_NEWVIEW_V1"
	DomainEvidence   = "POP_EVIDENCE_V1"
)

// PrePrepare is the leader's proposal message for (h, v).
type PrePrepare struct {
	Height      uint64
	View        uint64
	Block       *ProofBlock
	ProposerSig Signature
}

// SigningBytes for PrePrepare covers the block hash, not the full block,
// since the block carries its own proposer signature already.
func (m *PrePrepare) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(DomainPrePrepare))
	e.U64(m.Height)
	e.U64(m.View)
	e.Hash32(m.Block.Hash())
	return e.Bytes()
}

// Prepare is a replica's vote that it verified PrePrepare's block.
type Prepare struct {
	Height    uint64
	View      uint64
	BlockHash hash.Hash
	ReplicaPK PublicKey
	Sig       Signature
}

func (m *Prepare) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(DomainPrepare))
	e.U64(m.Height)
	e.U64(m.View)
	e.Hash32(m.BlockHash)
	return e.Bytes()
}

// Verify checks Sig over SigningBytes() by ReplicaPK.
func (m *Prepare) Verify() bool { return m.ReplicaPK.Verify(m.SigningBytes(), m.Sig) }

// Commit is a replica's vote after locking on a Prepare quorum.
type Commit struct {
	Height    uint64
	View      uint64
	BlockHash hash.Hash
	ReplicaPK PublicKey
	Sig       Signature
}

func (m *Commit) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(DomainCommit))
	e.U64(m.Height)
	e.U64(m.View)
	e.Hash32(m.BlockHash)
	return e.Bytes()
}

func (m *Commit) Verify() bool { return m.ReplicaPK.Verify(m.SigningBytes(), m.Sig) }

// PreparedEvidence is the "highest prepared" proof a replica carries into
// a view change: the block it locked and the 2f+1 Prepares that justified
// the lock.
type PreparedEvidence struct {
	View      uint64
	BlockHash hash.Hash
	Block     *ProofBlock // nil if the replica only has the hash, not the body
	Prepares  []*Prepare
}

// ViewChange is broadcast when a replica's per-(h,v) timer fires.
type ViewChange struct {
	NewView      uint64
	LastStableH  uint64
	PreparedSet  *PreparedEvidence // nil if nothing was prepared
	ReplicaPK    PublicKey
	Sig          Signature
}

func (m *ViewChange) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(DomainViewChange))
	e.U64(m.NewView)
	e.U64(m.LastStableH)
	if m.PreparedSet != nil {
		e.U8(1)
		e.U64(m.PreparedSet.View)
		e.Hash32(m.PreparedSet.BlockHash)
	} else {
		e.U8(0)
	}
	return e.Bytes()
}

func (m *ViewChange) Verify() bool { return m.ReplicaPK.Verify(m.SigningBytes(), m.Sig) }

// NewView is emitted by the candidate leader of NewView once it has
// collected >= 2f+1 ViewChange messages with consistent highest-prepared
// evidence.
type NewView struct {
	NewView           uint64
	ViewChangeProof   []*ViewChange
	ResumeBlock       *ProofBlock // re-proposed highest-prepared block, or nil
	FreshBlock        *ProofBlock // freshly proposed block when nothing was prepared
	Sig               Signature
	ProposerPK        PublicKey
}

func (m *NewView) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(DomainNewView))
	e.U64(m.NewView)
	e.Count(len(m.ViewChangeProof))
	for _, vc := range m.ViewChangeProof {
		e.Hash32(hash.Sum256(vc.SigningBytes()))
	}
	if m.ResumeBlock != nil {
		e.U8(1)
		e.Hash32(m.ResumeBlock.Hash())
	} else if m.FreshBlock != nil {
		e.U8(2)
		e.Hash32(m.FreshBlock.Hash())
	} else {
		e.U8(0)
	}
	return e.Bytes()
}

func (m *NewView) Verify() bool { return m.ProposerPK.Verify(m.SigningBytes(), m.Sig) }

// CommitCertificate is an aggregated set of >= 2f+1 distinct-replica Commit
// signatures for a specific (h, v, block_hash) — spec.md's "commit
// certificate" / invariant I5.
type CommitCertificate struct {
	Height    uint64
	View      uint64
	BlockHash hash.Hash
	Commits   []*Commit
}

// DistinctSigners returns the count of distinct ReplicaPK values among the
// certificate's Commits, used to enforce I5 (>= 2f+1 distinct signers).
func (c *CommitCertificate) DistinctSigners() int {
	seen := make(map[PublicKey]struct{}, len(c.Commits))
	for _, cm := range c.Commits {
		seen[cm.ReplicaPK] = struct{}{}
	}
	return len(seen)
}
