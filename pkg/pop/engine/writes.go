// Copyright 2025 Certen Protocol
//
// WriteExtractor bridges a verified proof to the state writes its
// commitment entails. spec.md treats the proof payload itself as opaque
// to the core (§1, §6) and never specifies how a proof maps to
// state_key/state_value pairs — that mapping is as engine-specific as
// verify() itself, so this is a second pluggable contract alongside
// Verifier rather than a guessed concrete format.

package engine

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// WriteExtractor derives the state writes a verified proof produces.
// Implementations must be pure and deterministic, matching Verifier's
// determinism requirement: every honest replica must derive identical
// writes from the same (proof, result) pair.
type WriteExtractor interface {
	Extract(proof *types.Proof, result Result) []types.Write
}

// DefaultWriteExtractorDomain is the state domain the reference
// WriteExtractor writes proof receipts under. It carries zero
// resource_weight, so it never participates in conservation checking
// unless a deployment's policy adds it to conserved_domains.
const DefaultWriteExtractorDomain = uint8(0x01)

// DefaultWriteExtractor is the reference implementation used when no
// domain-specific extractor is configured: it records one write per
// proof, keyed by proof ID, whose value is the proof's own payload hash
// with zero resource_weight; the proof's difficulty is not recorded.
// This keeps the core runnable standalone without
// inventing application semantics; a real deployment supplies its own
// WriteExtractor matching its proof format.
type DefaultWriteExtractor struct{}

// Extract implements WriteExtractor.
func (DefaultWriteExtractor) Extract(proof *types.Proof, result Result) []types.Write {
	if !result.Valid {
		return nil
	}
	value := types.StateValue{
		Data:           hash.Sum256(proof.Payload).Bytes(),
		ResourceWeight: hash.Int128FromInt64(0),
	}
	return []types.Write{{
		Key:      types.StateKey{Domain: DefaultWriteExtractorDomain, ID: proof.ID[:]},
		NewValue: &value,
	}}
}
