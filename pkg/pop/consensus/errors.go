// Copyright 2025 Certen Protocol

package consensus

import "errors"

var (
	ErrNotLeader          = errors.New("consensus: replica is not leader for (h, v)")
	ErrStaleMessage       = errors.New("consensus: message is for a past height/view")
	ErrUnknownSigner      = errors.New("consensus: signer is not a committee member")
	ErrBadSignature       = errors.New("consensus: signature verification failed")
	ErrPrevBlockMismatch  = errors.New("consensus: prev_block_hash does not match committed tip")
	ErrClockSkew          = errors.New("consensus: block timestamp outside clock_skew")
	ErrPostRootMismatch   = errors.New("consensus: simulated post-root does not match expected_post_root")
	ErrConservationFailed = errors.New("consensus: transition is not conservation-valid")
	ErrProofInvalid       = errors.New("consensus: block contains an invalid or duplicate proof")
	ErrNoQuorum           = errors.New("consensus: insufficient votes for quorum")
	ErrLocked             = errors.New("consensus: replica is locked on a different block for this view")
	ErrFatal              = errors.New("consensus: fatal replica error")
)
