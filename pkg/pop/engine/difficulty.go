// Copyright 2025 Certen Protocol
//
// StructuralDifficulty is a reference Verifier: it never rejects a
// syntactically well-formed payload, and assigns difficulty from a
// structural fingerprint of the payload rather than from its semantic
// content (the semantic engine is external, per spec.md §1). It exists so
// this module is runnable end-to-end without a production engine plugged
// in, and to give the "expert gate" pattern (spec.md §9) a concrete home.

package engine

import (
	"strconv"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// ExpertClass is the tagged variant identifying which verifier backend a
// proof's structural fingerprint routes to (spec.md §9: "the gate is
// modelled as a pure function over the proof's structural fingerprint
// returning a tagged variant"). StructuralDifficulty implements a single
// default class; production deployments with multiple real backends gate
// on Classify before dispatch.
type ExpertClass uint8

const (
	ExpertDefault ExpertClass = iota
	ExpertLarge
	ExpertEmpty
)

// Classify is pure and deterministic: every honest verifier reaches the
// same ExpertClass for the same payload.
func Classify(payload []byte) ExpertClass {
	switch {
	case len(payload) == 0:
		return ExpertEmpty
	case len(payload) > 4096:
		return ExpertLarge
	default:
		return ExpertDefault
	}
}

// StructuralDifficulty implements Verifier using only the payload's
// length and hash — no semantic interpretation of its contents.
type StructuralDifficulty struct {
	MinValidLen int // proofs shorter than this are rejected as Malformed
}

// NewStructuralDifficulty returns a reference engine with sane defaults.
func NewStructuralDifficulty() *StructuralDifficulty {
	return &StructuralDifficulty{MinValidLen: 1}
}

// Verify implements Verifier.
func (d *StructuralDifficulty) Verify(payload []byte, budget Budget) Result {
	start := time.Now()
	if len(payload) < d.MinValidLen {
		return Result{Valid: false, Error: ErrorMalformed}
	}
	if budget.MaxDuration > 0 && time.Since(start) > budget.MaxDuration {
		return Result{Valid: false, Error: ErrorTimeout}
	}

	class := Classify(payload)
	h := hash.Sum256(payload)

	// Fold the hash into a 1..=64 difficulty. Every byte contributes so
	// the distribution is not dominated by any single position.
	var acc uint32
	for _, b := range h {
		acc += uint32(b)
	}
	difficulty := 1 + acc%64

	signals := EngineSignals{
		"expert_class": expertClassName(class),
		"payload_len":  strconv.Itoa(len(payload)),
	}

	return Result{Valid: true, Difficulty: difficulty, Signals: signals, Error: ErrorNone}
}

func expertClassName(c ExpertClass) string {
	switch c {
	case ExpertLarge:
		return "large"
	case ExpertEmpty:
		return "empty"
	default:
		return "default"
	}
}

