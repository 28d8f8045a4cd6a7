// Copyright 2025 Certen Protocol
//
// Proof and verification-result data model (spec.md §3).

package types

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// Proof is an opaque submitted payload plus the metadata needed to admit,
// order, and attribute it. Proof is immutable once constructed: ID is
// derived from Payload and SubmitterPK and never recomputed after
// admission.
type Proof struct {
	ID             hash.Hash
	Payload        []byte
	SubmitterPK    PublicKey
	SubmitterSig   Signature
	SubmittedAtNS  uint64
}

// ComputeProofID derives the content-addressed ID: H(payload || submitter_pk).
func ComputeProofID(payload []byte, submitterPK PublicKey) hash.Hash {
	return hash.SumConcat(payload, submitterPK[:])
}

// SigningBytes returns the canonical bytes the submitter signs: everything
// except the signature itself.
func (p *Proof) SigningBytes() []byte {
	e := hash.NewEncoder()
	e.Hash32(p.ID)
	e.BytesField(p.Payload)
	e.U64(p.SubmittedAtNS)
	return e.Bytes()
}

// VerifySignature checks that SubmitterSig is a valid signature over
// SigningBytes() by SubmitterPK, and that ID matches the payload/pk pair.
func (p *Proof) VerifySignature() bool {
	if p.ID != ComputeProofID(p.Payload, p.SubmitterPK) {
		return false
	}
	return p.SubmitterPK.Verify(p.SigningBytes(), p.SubmitterSig)
}

// EngineErrorCode enumerates the error_code values a VerificationResult may
// carry. 0 means "no error" (valid or structurally rejected without a
// specific engine error).
type EngineErrorCode uint16

const (
	EngineErrorNone    EngineErrorCode = 0
	EngineErrorTimeout EngineErrorCode = 1
	EngineErrorMalformed EngineErrorCode = 2
	EngineErrorInternal EngineErrorCode = 3
)

// VerificationResult is the pure, deterministic output of verifying a
// Proof (spec.md §4.1).
type VerificationResult struct {
	ProofID      hash.Hash
	Valid        bool
	Difficulty   uint32 // 1..=64, meaningless when !Valid
	VerifyTimeNS uint64
	VerifierPK   PublicKey
	ErrorCode    EngineErrorCode
}
