// Copyright 2025 Certen Protocol
//
// Evidence is the self-verifying accusation spec.md §4.4 requires for
// every slashable Byzantine class: content-addressed, gossiped under
// DomainEvidence the same way any other consensus message is (spec.md
// §4.5), and carried in a later block's reward section so the accused
// replica's slash is only applied once the evidence itself has
// committed rather than the instant a single replica observes it.

package types

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// EvidenceClass names a slashable Byzantine offence class (spec.md
// §4.4). Silence is a soft-penalty tally, not evidence, and never
// appears here.
type EvidenceClass uint8

const (
	EvidenceEquivocation EvidenceClass = iota
	EvidenceInvalidProposal
	EvidenceConservationFailed
)

// String renders the class the way it is labelled in metrics and logs.
func (c EvidenceClass) String() string {
	switch c {
	case EvidenceEquivocation:
		return "equivocation"
	case EvidenceInvalidProposal:
		return "invalid_proposal"
	case EvidenceConservationFailed:
		return "conservation_failed"
	default:
		return "unknown"
	}
}

// Evidence is an accusation against Offender, signed by the reporting
// replica (ReporterPK/ReporterSig) so it can be gossiped and
// independently re-verified by anyone — never trusted on the reporter's
// word alone.
type Evidence struct {
	ID       hash.Hash
	Class    EvidenceClass
	Height   uint64
	View     uint64
	Offender PublicKey

	// Equivocation: two conflicting signed votes of the same kind at the
	// same (height, view), cast by Offender.
	VoteKind   string // "prepare" or "commit"
	FirstHash  hash.Hash
	FirstSig   Signature
	SecondHash hash.Hash
	SecondSig  Signature

	// InvalidProposal / ConservationFailed: Offender's own signed,
	// rejected proposal, carried whole so any replica can re-run the
	// same check that rejected it without trusting the reporter's word.
	Block  *ProofBlock
	Reason string

	ReporterPK  PublicKey
	ReporterSig Signature
}

// SigningBytes is what ReporterPK signs: every field but the reporter's
// own signature, matching messages.go's "domain || fields" convention.
func (e *Evidence) SigningBytes() []byte {
	enc := hash.NewEncoder()
	enc.BytesField([]byte(DomainEvidence))
	enc.U8(uint8(e.Class))
	enc.U64(e.Height)
	enc.U64(e.View)
	enc.BytesField(e.Offender[:])
	switch e.Class {
	case EvidenceEquivocation:
		enc.BytesField([]byte(e.VoteKind))
		enc.Hash32(e.FirstHash)
		enc.BytesField(e.FirstSig[:])
		enc.Hash32(e.SecondHash)
		enc.BytesField(e.SecondSig[:])
	default:
		if e.Block != nil {
			enc.U8(1)
			enc.Hash32(e.Block.Hash())
		} else {
			enc.U8(0)
		}
		enc.BytesField([]byte(e.Reason))
	}
	return enc.Bytes()
}

// Finalize derives ID from SigningBytes(). Called once by whichever
// component first constructs a piece of evidence, before Sign.
func (e *Evidence) Finalize() {
	e.ID = hash.Sum256(e.SigningBytes())
}

// Sign finalises and signs the evidence as reporter, using signFn
// (normally the reporting replica's signer service).
func (e *Evidence) Sign(reporter PublicKey, signFn func([]byte) Signature) {
	e.Finalize()
	e.ReporterPK = reporter
	e.ReporterSig = signFn(e.SigningBytes())
}

// VerifyReporterSignature checks ReporterSig over SigningBytes() and, for
// the equivocation class, that both embedded vote signatures are valid
// and genuinely conflict — everything a recipient can check without
// access to this process's engine or state store. Deeper class-specific
// re-validation (structural proof re-verification, conservation
// recomputation against the embedded Block) lives in pkg/pop/rewards,
// the only place the logical engine and a ledger are both available
// without recreating the import cycle EventSink exists to avoid.
func (e *Evidence) VerifyReporterSignature() bool {
	if !e.ReporterPK.Verify(e.SigningBytes(), e.ReporterSig) {
		return false
	}
	switch e.Class {
	case EvidenceEquivocation:
		if e.FirstHash == e.SecondHash {
			return false
		}
		var domain string
		switch e.VoteKind {
		case "prepare":
			domain = DomainPrepare
		case "commit":
			domain = DomainCommit
		default:
			return false
		}
		first := voteSigningBytes(domain, e.Height, e.View, e.FirstHash)
		second := voteSigningBytes(domain, e.Height, e.View, e.SecondHash)
		if !e.Offender.Verify(first, e.FirstSig) {
			return false
		}
		if !e.Offender.Verify(second, e.SecondSig) {
			return false
		}
		return true
	case EvidenceInvalidProposal, EvidenceConservationFailed:
		if e.Block == nil || e.Block.ProposerPK != e.Offender {
			return false
		}
		return e.Block.VerifyProposerSignature()
	default:
		return false
	}
}

// voteSigningBytes reproduces Prepare/Commit's SigningBytes() encoding
// (messages.go) so equivocation evidence can be re-verified directly
// against the embedded vote hash/sig pair without holding the original
// *Prepare/*Commit value.
func voteSigningBytes(domain string, height, view uint64, blockHash hash.Hash) []byte {
	e := hash.NewEncoder()
	e.BytesField([]byte(domain))
	e.U64(height)
	e.U64(view)
	e.Hash32(blockHash)
	return e.Bytes()
}
