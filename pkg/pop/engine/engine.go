// Copyright 2025 Certen Protocol
//
// The logical proof engine is an external collaborator (spec.md §1, §6):
// the core only consumes its pure "verify(proof) -> {valid, difficulty,
// signals}" function. This package defines that contract plus one
// reference, deterministic implementation so the module is runnable
// standalone; a production deployment supplies its own Verifier.

package engine

import (
	"time"

	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Budget bounds a single verification call in both time and memory, per
// spec.md §4.1 ("bounded in time and memory by a parameter verify_budget").
type Budget struct {
	MaxDuration time.Duration
	MaxMemory   int // bytes; advisory for in-process engines
}

// EngineSignals carries engine-specific diagnostic data alongside a
// verification result. The core treats this as opaque and never branches
// on its contents — only §4.4's reward/classifier logic inspects Valid
// and Difficulty.
type EngineSignals map[string]string

// ErrorKind enumerates why verification did not produce Valid=true.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTimeout
	ErrorMalformed
	ErrorInternal
)

// Result is the engine's pure output for one proof.
type Result struct {
	Valid      bool
	Difficulty uint32 // 1..=64 when Valid
	Signals    EngineSignals
	Error      ErrorKind
}

// Verifier is the capability-only interface the core depends on. A
// conformant implementation MUST be pure and deterministic: the same
// payload and budget always yields the same Result across every honest
// committee member (spec.md §6).
type Verifier interface {
	Verify(payload []byte, budget Budget) Result
}

// ToEngineErrorCode maps an ErrorKind to the wire-level error_code carried
// on a types.VerificationResult.
func ToEngineErrorCode(k ErrorKind) types.EngineErrorCode {
	switch k {
	case ErrorTimeout:
		return types.EngineErrorTimeout
	case ErrorMalformed:
		return types.EngineErrorMalformed
	case ErrorInternal:
		return types.EngineErrorInternal
	default:
		return types.EngineErrorNone
	}
}
