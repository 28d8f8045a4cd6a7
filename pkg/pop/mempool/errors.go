// Copyright 2025 Certen Protocol
//
// Mempool package errors (spec.md §4.1).

package mempool

import "errors"

var (
	ErrNilVerifier       = errors.New("mempool: verifier cannot be nil")
	ErrMalformedProof    = errors.New("mempool: proof failed syntactic check")
	ErrBadSignature      = errors.New("mempool: submitter signature invalid")
	ErrDuplicateProof    = errors.New("mempool: proof.id already known")
	ErrQuotaExceeded     = errors.New("mempool: submitter quota exceeded")
	ErrBelowMinDifficulty = errors.New("mempool: difficulty below policy minimum")
	ErrVerifyTimeout     = errors.New("mempool: verification exceeded verify_budget")
)
