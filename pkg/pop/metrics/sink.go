// Copyright 2025 Certen Protocol
//
// Sink wraps a consensus.EventSink, incrementing the matching Collectors
// on every event before delegating — a decorator rather than a second
// parallel event path, so cmd/popnode wires exactly one Replica.Events
// value: metrics.NewSink(rewardsTracker, collectors).

package metrics

import (
	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Sink decorates an inner consensus.EventSink with Collectors updates.
type Sink struct {
	inner consensus.EventSink
	c     *Collectors
}

var _ consensus.EventSink = (*Sink)(nil)

// NewSink wraps inner, recording every event against c before delegating.
// inner is typically a *rewards.Tracker; pass consensus.NopEventSink{} to
// get metrics with no reward scoring.
func NewSink(inner consensus.EventSink, c *Collectors) *Sink {
	return &Sink{inner: inner, c: c}
}

// OnEquivocation, OnInvalidProposal and OnConservationViolation count the
// detection, not the slash: the returned evidence still has to be signed,
// gossiped, committed and re-verified (pkg/pop/rewards.Tracker.OnCommit)
// before any score actually moves. pop_slashes_total therefore over-counts
// relative to applied slashes by however many reports never make it into
// a committed reward section.
func (s *Sink) OnEquivocation(height, view uint64, kind consensus.EquivocationKind, replica types.PublicKey, first hash.Hash, firstSig types.Signature, second hash.Hash, secondSig types.Signature) *types.Evidence {
	s.c.Equivocation.Inc()
	s.c.Slashes.WithLabelValues(types.EvidenceEquivocation.String()).Inc()
	return s.inner.OnEquivocation(height, view, kind, replica, first, firstSig, second, secondSig)
}

func (s *Sink) OnInvalidProposal(height, view uint64, leader types.PublicKey, block *types.ProofBlock, reason error) *types.Evidence {
	s.c.Slashes.WithLabelValues(types.EvidenceInvalidProposal.String()).Inc()
	return s.inner.OnInvalidProposal(height, view, leader, block, reason)
}

func (s *Sink) OnConservationViolation(height, view uint64, leader types.PublicKey, block *types.ProofBlock) *types.Evidence {
	s.c.Slashes.WithLabelValues(types.EvidenceConservationFailed.String()).Inc()
	return s.inner.OnConservationViolation(height, view, leader, block)
}

func (s *Sink) OnSilence(height, view uint64, leader types.PublicKey) {
	s.c.View.Set(float64(view))
	s.inner.OnSilence(height, view, leader)
}

func (s *Sink) OnCommit(block *types.ProofBlock, transition types.StateTransition, cert *types.CommitCertificate, preparers []types.PublicKey) {
	s.c.Height.Set(float64(block.Height))
	s.c.View.Set(float64(block.View))
	s.c.Commits.Inc()
	s.inner.OnCommit(block, transition, cert, preparers)
}
