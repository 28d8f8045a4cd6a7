// Copyright 2025 Certen Protocol
//
// EventSink decouples the consensus task from reward scoring and
// Byzantine evidence construction (spec.md §4.4), which naturally depend
// on consensus's message types — an EventSink callback avoids the
// reverse import that would otherwise create a cycle.

package consensus

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// EquivocationKind names which message kind was equivocated.
type EquivocationKind string

const (
	EquivocationPrepare    EquivocationKind = "prepare"
	EquivocationCommit     EquivocationKind = "commit"
)

// EventSink receives the consensus task's reward- and evidence-relevant
// events. A nil field on Replica.Events is treated as "ignore". The
// On* detection callbacks return a *types.Evidence (nil to report
// nothing): the replica signs and gossips it, and its slash is only
// ever applied once it is seen committed in a later block's reward
// section — OnCommit, not these callbacks, is where a sink actually
// mutates a score (spec.md §4.4: evidence "committed before applied").
type EventSink interface {
	// OnEquivocation fires when replica casts two votes of kind for
	// different block hashes at the same (height, view). firstSig/secondSig
	// are the signatures over each vote, so the returned evidence is
	// self-verifying without the classifier needing to trust the reporter.
	OnEquivocation(height, view uint64, kind EquivocationKind, replica types.PublicKey, first hash.Hash, firstSig types.Signature, second hash.Hash, secondSig types.Signature) *types.Evidence

	// OnInvalidProposal fires when leader's block at (height, view) is
	// rejected for a reason other than conservation. block is the
	// offending signed proposal, carried so the evidence built from it
	// is self-verifying.
	OnInvalidProposal(height, view uint64, leader types.PublicKey, block *types.ProofBlock, reason error) *types.Evidence

	// OnConservationViolation fires when leader's block fails the
	// conservation checker.
	OnConservationViolation(height, view uint64, leader types.PublicKey, block *types.ProofBlock) *types.Evidence

	// OnSilence fires when leader failed to propose anything within its
	// turn's timeout.
	OnSilence(height, view uint64, leader types.PublicKey)

	// OnCommit fires once a block finalises, carrying the preparers
	// whose Prepare contributed to the locking quorum (reward base) and
	// the commit certificate. Any evidence in block.RewardSection is
	// applied here, not when it was first observed.
	OnCommit(block *types.ProofBlock, transition types.StateTransition, cert *types.CommitCertificate, preparers []types.PublicKey)
}

// NopEventSink implements EventSink with no-ops, the default when a
// caller does not need reward/evidence wiring (e.g. pure protocol tests).
type NopEventSink struct{}

func (NopEventSink) OnEquivocation(uint64, uint64, EquivocationKind, types.PublicKey, hash.Hash, types.Signature, hash.Hash, types.Signature) *types.Evidence {
	return nil
}
func (NopEventSink) OnInvalidProposal(uint64, uint64, types.PublicKey, *types.ProofBlock, error) *types.Evidence {
	return nil
}
func (NopEventSink) OnConservationViolation(uint64, uint64, types.PublicKey, *types.ProofBlock) *types.Evidence {
	return nil
}
func (NopEventSink) OnSilence(uint64, uint64, types.PublicKey) {}
func (NopEventSink) OnCommit(*types.ProofBlock, types.StateTransition, *types.CommitCertificate, []types.PublicKey) {
}
