// Copyright 2025 Certen Protocol
//
// The wire shape of Byzantine evidence (spec.md §4.4) lives in
// pkg/pop/types (types.Evidence) so it can be embedded in a committed
// block's reward section without this package importing consensus's
// sibling back into itself. What stays here is the deeper,
// engine/ledger-aware re-verification that only a process holding both
// a Verifier and a state.Store can perform — "classifiers never act on
// unsigned or unverifiable reports" applied to the two classes whose
// offence is a property of the whole proposal, not just a signature.

package rewards

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// SilenceRecord is not slashable evidence but a soft-penalty tally: it
// tracks a replica's consecutive missed leader turns.
type SilenceRecord struct {
	Replica           types.PublicKey
	ConsecutiveMisses int
}

// blockIsInvalidLocked reruns the one structural check every replica can
// perform on an accused block without the original accuser's own
// height/view/chain-tip context: re-verifying each embedded proof. This
// covers the common invalid-proposal reasons (bad or duplicate proof)
// that don't depend on local state, the same per-proof loop
// validateProposalLocked runs in pkg/pop/consensus. Callers hold t.mu.
func (t *Tracker) blockIsInvalidLocked(block *types.ProofBlock) bool {
	if block == nil {
		return false
	}
	seen := make(map[hash.Hash]struct{}, len(block.Proofs))
	for _, p := range block.Proofs {
		if _, dup := seen[p.ID]; dup {
			return true
		}
		seen[p.ID] = struct{}{}
		if !p.VerifySignature() {
			return true
		}
		if !t.verifier.Verify(p.Payload, t.budget).Valid {
			return true
		}
	}
	return false
}

// blockViolatesConservationLocked re-derives writes from block's proofs
// and reruns state.IsConservationValid, the same check
// validateProposalLocked performs before a proposal is ever accepted.
// Callers hold t.mu.
func (t *Tracker) blockViolatesConservationLocked(block *types.ProofBlock) bool {
	if block == nil {
		return false
	}
	var writes []types.Write
	for _, p := range block.Proofs {
		result := t.verifier.Verify(p.Payload, t.budget)
		writes = append(writes, t.writes.Extract(p, result)...)
	}
	_, ok := state.IsConservationValid(writes, t.cfg.ConservedDomains, t.cfg.AuthorizedDomains)
	return !ok
}
