// Copyright 2025 Certen Protocol
//
// The three-phase PBFT message handlers (spec.md §4.3.3) plus the
// timeout-driven view-change path (spec.md §4.3.4). Every exported
// Handle* method takes Replica's lock for its whole duration and never
// suspends mid-mutation, matching replica.go's header comment.
//
// View changes in this implementation are single-step: a timeout or an
// f+1 ViewChange quorum always targets current_view+1, never a multi-hop
// jump. None of spec.md §8's six end-to-end scenarios require jumping
// more than one view ahead of the last confirmed one, and chaining
// repeated single-step changes (each timeout re-broadcasting for
// pendingNewView+1) reaches the same place a multi-hop target would.

package consensus

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// validateProposalLocked runs every check spec.md §4.3.3 requires before a
// block may be accepted at (expectHeight, expectView): structural limits,
// leader identity and signature, per-proof re-verification, conservation,
// and the simulated post-root. checkView is false when validating a
// resumed block carried in a NewView message, whose signed View is its
// original proposal view rather than the round currently being entered.
// Callers hold r.mu.
func (r *Replica) validateProposalLocked(block *types.ProofBlock, expectHeight, expectView uint64, checkView bool) ([]types.Write, hash.Hash, error) {
	if block == nil {
		return nil, hash.Hash{}, fmt.Errorf("%w: nil block", ErrProofInvalid)
	}
	if block.Height != expectHeight {
		return nil, hash.Hash{}, ErrStaleMessage
	}
	if checkView && block.View != expectView {
		return nil, hash.Hash{}, ErrStaleMessage
	}
	if block.PrevBlockHash != r.prevBlockHash {
		return nil, hash.Hash{}, ErrPrevBlockMismatch
	}

	blockTime := time.Unix(0, int64(block.TimestampNS))
	skew := r.now().Sub(blockTime)
	if skew < 0 {
		skew = -skew
	}
	if r.cfg.ClockSkew > 0 && skew > r.cfg.ClockSkew {
		return nil, hash.Hash{}, ErrClockSkew
	}

	leader := r.cfg.Leader(block.Height, block.View)
	if block.ProposerPK != leader {
		return nil, hash.Hash{}, ErrNotLeader
	}
	if !block.VerifyProposerSignature() {
		return nil, hash.Hash{}, ErrBadSignature
	}

	if len(block.Proofs) > r.cfg.MaxProofsPerBlock {
		return nil, hash.Hash{}, fmt.Errorf("%w: %d proofs exceeds max_proofs_per_block", ErrProofInvalid, len(block.Proofs))
	}
	if r.cfg.MaxBlockBytes > 0 && block.ProofBytes() > r.cfg.MaxBlockBytes {
		return nil, hash.Hash{}, fmt.Errorf("%w: block exceeds max_block_bytes", ErrProofInvalid)
	}

	seen := make(map[hash.Hash]struct{}, len(block.Proofs))
	for _, p := range block.Proofs {
		if _, dup := seen[p.ID]; dup {
			return nil, hash.Hash{}, fmt.Errorf("%w: duplicate proof %s within block", ErrProofInvalid, p.ID.String())
		}
		seen[p.ID] = struct{}{}
		if !p.VerifySignature() {
			return nil, hash.Hash{}, fmt.Errorf("%w: proof %s signature invalid", ErrProofInvalid, p.ID.String())
		}
		result := r.verifier.Verify(p.Payload, r.cfg.VerifyBudget)
		if !result.Valid {
			return nil, hash.Hash{}, fmt.Errorf("%w: proof %s failed re-verification", ErrProofInvalid, p.ID.String())
		}
	}

	seenEvidence := make(map[hash.Hash]struct{}, len(block.RewardSection))
	for _, ev := range block.RewardSection {
		if ev == nil {
			return nil, hash.Hash{}, fmt.Errorf("%w: nil evidence entry", ErrProofInvalid)
		}
		if _, dup := seenEvidence[ev.ID]; dup {
			return nil, hash.Hash{}, fmt.Errorf("%w: duplicate evidence %s within block", ErrProofInvalid, ev.ID.String())
		}
		seenEvidence[ev.ID] = struct{}{}
		if _, done := r.committedEvidence[ev.ID]; done {
			return nil, hash.Hash{}, fmt.Errorf("%w: evidence %s already committed", ErrProofInvalid, ev.ID.String())
		}
		if r.cfg.IndexOf(ev.ReporterPK) < 0 || r.cfg.IndexOf(ev.Offender) < 0 {
			return nil, hash.Hash{}, ErrUnknownSigner
		}
		if !ev.VerifyReporterSignature() {
			return nil, hash.Hash{}, ErrBadSignature
		}
	}

	writes := r.deriveWrites(block.Proofs)
	if _, ok := state.IsConservationValid(writes, r.cfg.ConservedDomains, r.cfg.AuthorizedDomains); !ok {
		return writes, hash.Hash{}, ErrConservationFailed
	}

	postRoot, err := r.store.Simulate(writes)
	if err != nil {
		r.haltLocked(fmt.Errorf("%w: simulate proposal: %v", ErrFatal, err))
		return nil, hash.Hash{}, r.fatalErr
	}
	if postRoot != block.ExpectedPostRoot {
		return writes, hash.Hash{}, ErrPostRootMismatch
	}
	return writes, postRoot, nil
}

// HandlePrePrepare processes an inbound proposal for the replica's
// current (height, view). It is a no-op for a repeat of the same
// already-accepted block and an error for anything else stale, malformed,
// or invalid.
func (r *Replica) HandlePrePrepare(msg *types.PrePrepare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if msg == nil || msg.Block == nil {
		return fmt.Errorf("%w: nil pre-prepare", ErrProofInvalid)
	}
	if msg.Height != r.height || msg.View != r.view {
		return ErrStaleMessage
	}
	if r.vstate != ViewNormal {
		return ErrStaleMessage
	}
	if r.phase != PhaseIdle {
		if _, already := r.blocks[msg.Block.Hash()]; already {
			return nil
		}
		return ErrStaleMessage
	}

	leader := r.cfg.Leader(r.height, r.view)
	if msg.Block.ProposerPK != leader {
		return ErrUnknownSigner
	}
	if !leader.Verify(msg.SigningBytes(), msg.ProposerSig) {
		return ErrBadSignature
	}

	_, _, err := r.validateProposalLocked(msg.Block, r.height, r.view, true)
	if err != nil {
		r.reportInvalidProposalLocked(leader, msg.Block, err)
		return err
	}
	return r.acceptProposalLocked(msg.Block)
}

// reportInvalidProposalLocked routes a rejected proposal to the right
// EventSink callback and, if it returns evidence, stages it for gossip
// and eventual inclusion in this replica's next proposal. Callers hold
// r.mu.
func (r *Replica) reportInvalidProposalLocked(leader types.PublicKey, block *types.ProofBlock, err error) {
	var ev *types.Evidence
	if errors.Is(err, ErrConservationFailed) {
		ev = r.events.OnConservationViolation(r.height, r.view, leader, block)
	} else {
		ev = r.events.OnInvalidProposal(r.height, r.view, leader, block, err)
	}
	r.stageEvidenceLocked(ev)
}

// stageEvidenceLocked signs ev as this replica (the reporter), gossips
// it immediately, and queues it for inclusion in a future proposal —
// whichever replica next leads is the one that actually commits it.
// Callers hold r.mu.
func (r *Replica) stageEvidenceLocked(ev *types.Evidence) {
	if ev == nil {
		return
	}
	ev.Sign(r.self, r.signer.Sign)
	if _, done := r.committedEvidence[ev.ID]; done {
		return
	}
	if _, staged := r.pendingEvidence[ev.ID]; staged {
		return
	}
	r.pendingEvidence[ev.ID] = ev
	r.out.BroadcastEvidence(ev)
}

// selectEvidenceLocked returns up to maxEvidencePerBlock pending
// evidence entries, sorted by ID so every honest proposer with the same
// pending set derives the identical reward section. Callers hold r.mu.
func (r *Replica) selectEvidenceLocked() []*types.Evidence {
	if len(r.pendingEvidence) == 0 {
		return nil
	}
	out := make([]*types.Evidence, 0, len(r.pendingEvidence))
	for _, ev := range r.pendingEvidence {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > maxEvidencePerBlock {
		out = out[:maxEvidencePerBlock]
	}
	return out
}

// HandleEvidence records an inbound evidence message once its reporter
// signature (and, for equivocation, both embedded vote signatures)
// verify, queuing it for inclusion in a future proposal. HandleEvidence
// never applies a slash itself: that only happens in finalizeLocked's
// OnCommit dispatch, once the evidence is seen committed (spec.md
// §4.4).
func (r *Replica) HandleEvidence(ev *types.Evidence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if ev == nil {
		return fmt.Errorf("%w: nil evidence", ErrProofInvalid)
	}
	if r.cfg.IndexOf(ev.ReporterPK) < 0 || r.cfg.IndexOf(ev.Offender) < 0 {
		return ErrUnknownSigner
	}
	if !ev.VerifyReporterSignature() {
		return ErrBadSignature
	}
	if _, done := r.committedEvidence[ev.ID]; done {
		return nil
	}
	if _, staged := r.pendingEvidence[ev.ID]; staged {
		return nil
	}
	r.pendingEvidence[ev.ID] = ev
	return nil
}

// acceptProposalLocked records block as the current round's proposal and
// casts this replica's own Prepare vote for it. Callers hold r.mu.
func (r *Replica) acceptProposalLocked(block *types.ProofBlock) error {
	r.blocks[block.Hash()] = block
	r.phase = PhaseProposed

	prepare := &types.Prepare{Height: r.height, View: r.view, BlockHash: block.Hash(), ReplicaPK: r.self}
	prepare.Sig = r.signer.Sign(prepare.SigningBytes())
	r.recordPrepareLocked(prepare)
	r.out.BroadcastPrepare(prepare)
	return nil
}

// HandlePrepare records an inbound Prepare vote, locking the block once a
// quorum forms for the replica's current round.
func (r *Replica) HandlePrepare(msg *types.Prepare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if r.cfg.IndexOf(msg.ReplicaPK) < 0 {
		return ErrUnknownSigner
	}
	if !msg.Verify() {
		return ErrBadSignature
	}
	if msg.Height != r.height {
		return ErrStaleMessage
	}
	r.recordPrepareLocked(msg)
	return nil
}

// recordPrepareLocked tallies vote, reporting equivocation and locking the
// replica onto blockHash once 2f+1 distinct Prepares have been seen for
// the replica's current (height, view). Callers hold r.mu.
func (r *Replica) recordPrepareLocked(vote *types.Prepare) {
	k := hvKey{height: vote.Height, view: vote.View}
	tally := r.prepares[k]
	if tally == nil {
		tally = newVoteTally[*types.Prepare]()
		r.prepares[k] = tally
	}
	prior, equivocated := tally.record(vote.ReplicaPK, vote.BlockHash, vote)
	if equivocated {
		priorSig := types.Signature{}
		if priorVote, ok := tally.voteFor(prior, vote.ReplicaPK); ok {
			priorSig = priorVote.Sig
		}
		ev := r.events.OnEquivocation(vote.Height, vote.View, EquivocationPrepare, vote.ReplicaPK, prior, priorSig, vote.BlockHash, vote.Sig)
		r.stageEvidenceLocked(ev)
		return
	}
	if vote.Height != r.height || vote.View != r.view || r.phase != PhaseProposed {
		return
	}
	if tally.count(vote.BlockHash) >= r.cfg.Quorum() {
		r.lockOnLocked(vote.BlockHash)
	}
}

// lockOnLocked transitions Prepared, records the lock (spec.md §4.3.4),
// and casts this replica's own Commit vote. Callers hold r.mu.
func (r *Replica) lockOnLocked(blockHash hash.Hash) {
	r.hasLock = true
	r.lockedView = r.view
	r.lockedBlockHash = blockHash
	r.lockedBlock = r.blocks[blockHash]
	r.phase = PhasePrepared
	r.observePhaseLocked()

	commit := &types.Commit{Height: r.height, View: r.view, BlockHash: blockHash, ReplicaPK: r.self}
	commit.Sig = r.signer.Sign(commit.SigningBytes())
	r.recordCommitLocked(commit)
	r.out.BroadcastCommit(commit)
}

// HandleCommit records an inbound Commit vote, finalising the block once
// a quorum forms for the replica's current round.
func (r *Replica) HandleCommit(msg *types.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if r.cfg.IndexOf(msg.ReplicaPK) < 0 {
		return ErrUnknownSigner
	}
	if !msg.Verify() {
		return ErrBadSignature
	}
	if msg.Height != r.height {
		return ErrStaleMessage
	}
	r.recordCommitLocked(msg)
	return nil
}

// recordCommitLocked tallies vote, reporting equivocation and finalising
// the height once 2f+1 distinct Commits have been seen for the replica's
// current (height, view). Callers hold r.mu.
func (r *Replica) recordCommitLocked(vote *types.Commit) {
	k := hvKey{height: vote.Height, view: vote.View}
	tally := r.commits[k]
	if tally == nil {
		tally = newVoteTally[*types.Commit]()
		r.commits[k] = tally
	}
	prior, equivocated := tally.record(vote.ReplicaPK, vote.BlockHash, vote)
	if equivocated {
		priorSig := types.Signature{}
		if priorVote, ok := tally.voteFor(prior, vote.ReplicaPK); ok {
			priorSig = priorVote.Sig
		}
		ev := r.events.OnEquivocation(vote.Height, vote.View, EquivocationCommit, vote.ReplicaPK, prior, priorSig, vote.BlockHash, vote.Sig)
		r.stageEvidenceLocked(ev)
		return
	}
	if vote.Height != r.height || vote.View != r.view || r.phase != PhasePrepared {
		return
	}
	if tally.count(vote.BlockHash) >= r.cfg.Quorum() {
		r.finalizeLocked(vote.BlockHash, tally.votesFor(vote.BlockHash))
	}
}

// finalizeLocked applies the committed block's writes, reports the commit
// to EventSink and Mempool, and advances to height+1/view 0/Idle. A store
// failure or a post-root mismatch against a block this replica already
// validated once is Fatal (spec.md §4.2, §7): both indicate either disk
// corruption or a non-deterministic engine/trie, neither recoverable by
// retrying. Callers hold r.mu.
func (r *Replica) finalizeLocked(blockHash hash.Hash, commitVotes []*types.Commit) {
	block := r.blocks[blockHash]
	if block == nil {
		r.haltLocked(fmt.Errorf("%w: commit quorum for a block this replica never recorded", ErrFatal))
		return
	}
	writes := r.deriveWrites(block.Proofs)
	preRoot := r.store.Root()
	postRoot, err := r.store.Apply(writes)
	if err != nil {
		r.haltLocked(fmt.Errorf("%w: apply committed block: %v", ErrFatal, err))
		return
	}
	if postRoot != block.ExpectedPostRoot {
		r.haltLocked(fmt.Errorf("%w: applied post-root diverged from the proposal's expected_post_root", ErrFatal))
		return
	}
	delta, _ := state.IsConservationValid(writes, r.cfg.ConservedDomains, r.cfg.AuthorizedDomains)

	transition := types.StateTransition{
		BlockHash:              blockHash,
		PreRoot:                preRoot,
		PostRoot:               postRoot,
		Writes:                 writes,
		ResourceDeltaPerDomain: delta,
	}
	cert := &types.CommitCertificate{Height: r.height, View: r.view, BlockHash: blockHash, Commits: commitVotes}

	for _, ev := range block.RewardSection {
		delete(r.pendingEvidence, ev.ID)
		r.committedEvidence[ev.ID] = struct{}{}
	}

	var preparers []types.PublicKey
	if prepTally := r.prepares[r.key()]; prepTally != nil {
		for _, p := range prepTally.votesFor(blockHash) {
			preparers = append(preparers, p.ReplicaPK)
		}
	}

	r.mp.OnCommitted(block)
	r.events.OnCommit(block, transition, cert, preparers)

	r.observePhaseLocked()
	committedHeight := r.height
	r.pruneHeightLocked(committedHeight)

	r.height = committedHeight + 1
	r.view = 0
	r.vstate = ViewNormal
	r.phase = PhaseIdle
	r.hasLock = false
	r.prevBlockHash = blockHash
	r.pendingNewView = 0
	r.timeouts.resetOnCommit(committedHeight)
	r.phaseStartedAt = r.now()
}

// observePhaseLocked folds the time since phaseStartedAt into the
// adaptive timeout model and resets the phase clock. Callers hold r.mu.
func (r *Replica) observePhaseLocked() {
	r.timeouts.observe(r.now().Sub(r.phaseStartedAt))
	r.phaseStartedAt = r.now()
}

// pruneHeightLocked drops every tally and cached block belonging to
// height or earlier, and clears pending view-change votes — all scoped to
// the height that has just committed. Callers hold r.mu.
func (r *Replica) pruneHeightLocked(height uint64) {
	for k := range r.prepares {
		if k.height <= height {
			delete(r.prepares, k)
		}
	}
	for k := range r.commits {
		if k.height <= height {
			delete(r.commits, k)
		}
	}
	for h, b := range r.blocks {
		if b.Height <= height {
			delete(r.blocks, h)
		}
	}
	r.viewChangeVotes = make(map[uint64]map[types.PublicKey]*types.ViewChange)
}

// HandleTimeout is called by the external timer driver when the deadline
// CurrentTimeout last returned elapses without the round committing. It
// returns the new deadline to wait before calling HandleTimeout again.
func (r *Replica) HandleTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return 0
	}
	r.triggerViewChangeLocked()
	return r.timeouts.timeoutFor(r.height)
}

// triggerViewChangeLocked moves to ViewChanging and broadcasts a
// ViewChange targeting the next view this replica hasn't already asked
// for. Callers hold r.mu.
func (r *Replica) triggerViewChangeLocked() {
	if r.vstate == ViewNormal && r.phase == PhaseIdle {
		r.events.OnSilence(r.height, r.view, r.cfg.Leader(r.height, r.view))
	}
	r.vstate = ViewChanging
	r.timeouts.recordViewChange(r.height)

	target := r.view + 1
	if r.pendingNewView >= target {
		target = r.pendingNewView + 1
	}
	r.broadcastViewChangeLocked(target)
}

// broadcastViewChangeLocked builds, records, and sends a ViewChange for
// target, carrying this replica's highest-prepared evidence if it holds a
// lock. Callers hold r.mu.
func (r *Replica) broadcastViewChangeLocked(target uint64) {
	var evidence *types.PreparedEvidence
	if r.hasLock {
		var votes []*types.Prepare
		if tally := r.prepares[hvKey{height: r.height, view: r.lockedView}]; tally != nil {
			votes = tally.votesFor(r.lockedBlockHash)
		}
		evidence = &types.PreparedEvidence{
			View:      r.lockedView,
			BlockHash: r.lockedBlockHash,
			Block:     r.lockedBlock,
			Prepares:  votes,
		}
	}
	vc := &types.ViewChange{NewView: target, LastStableH: r.height, PreparedSet: evidence, ReplicaPK: r.self}
	vc.Sig = r.signer.Sign(vc.SigningBytes())
	r.pendingNewView = target
	r.recordViewChangeVoteLocked(vc)
	r.out.BroadcastViewChange(vc)
}

// HandleViewChange records an inbound ViewChange for the replica's
// current height, joining the view change on an f+1 quorum and emitting
// NewView once it collects 2f+1 as the candidate leader of the target
// view.
func (r *Replica) HandleViewChange(msg *types.ViewChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if r.cfg.IndexOf(msg.ReplicaPK) < 0 {
		return ErrUnknownSigner
	}
	if !msg.Verify() {
		return ErrBadSignature
	}
	if msg.LastStableH != r.height {
		return ErrStaleMessage
	}
	if msg.NewView <= r.view {
		return ErrStaleMessage
	}
	r.recordViewChangeVoteLocked(msg)
	return nil
}

// recordViewChangeVoteLocked tallies vote under its target view, joining
// the view change on f+1 distinct votes (spec.md §4.3.4: a replica need
// not wait for its own timer once it learns enough peers already have)
// and emitting NewView once the candidate leader of vote.NewView sees
// 2f+1. Callers hold r.mu.
func (r *Replica) recordViewChangeVoteLocked(vote *types.ViewChange) {
	m := r.viewChangeVotes[vote.NewView]
	if m == nil {
		m = make(map[types.PublicKey]*types.ViewChange)
		r.viewChangeVotes[vote.NewView] = m
	}
	if _, dup := m[vote.ReplicaPK]; dup {
		return
	}
	m[vote.ReplicaPK] = vote

	if r.vstate == ViewNormal && len(m) >= r.cfg.F()+1 {
		r.vstate = ViewChanging
		r.timeouts.recordViewChange(r.height)
		if vote.NewView > r.pendingNewView {
			r.broadcastViewChangeLocked(vote.NewView)
		}
	}

	if len(m) >= r.cfg.Quorum() && r.vstate != ViewAwaitingNewView {
		leader := r.cfg.Leader(r.height, vote.NewView)
		if leader == r.self {
			r.emitNewViewLocked(vote.NewView, m)
		}
	}
}

// emitNewViewLocked builds and broadcasts the NewView message for
// newView: it resumes the highest-prepared block among votes' evidence,
// or proposes a fresh one when nothing was prepared, then applies it
// locally exactly as a recipient would. Callers hold r.mu.
func (r *Replica) emitNewViewLocked(newView uint64, votes map[types.PublicKey]*types.ViewChange) {
	r.vstate = ViewAwaitingNewView

	proof := make([]*types.ViewChange, 0, len(votes))
	for _, vc := range votes {
		proof = append(proof, vc)
	}
	sort.Slice(proof, func(i, j int) bool { return proof[i].ReplicaPK.Less(proof[j].ReplicaPK) })

	var best *types.PreparedEvidence
	for _, vc := range proof {
		if vc.PreparedSet != nil && (best == nil || vc.PreparedSet.View > best.View) {
			best = vc.PreparedSet
		}
	}

	nv := &types.NewView{NewView: newView, ViewChangeProof: proof}
	if best != nil && best.Block != nil {
		nv.ResumeBlock = best.Block
	} else {
		proofs := r.mp.SelectBatch(r.cfg.MaxProofsPerBlock, r.cfg.MaxBlockBytes)
		writes := r.deriveWrites(proofs)
		postRoot, err := r.store.Simulate(writes)
		if err != nil {
			r.haltLocked(fmt.Errorf("%w: simulate new-view proposal: %v", ErrFatal, err))
			return
		}
		fresh := &types.ProofBlock{
			Height:           r.height,
			View:             newView,
			PrevBlockHash:    r.prevBlockHash,
			TimestampNS:      uint64(r.now().UnixNano()),
			Proofs:           proofs,
			ExpectedPostRoot: postRoot,
			RewardSection:    r.selectEvidenceLocked(),
		}
		fresh.Sign(r.self, r.signer.Sign)
		nv.FreshBlock = fresh
	}
	nv.ProposerPK = r.self
	nv.Sig = r.signer.Sign(nv.SigningBytes())
	r.out.BroadcastNewView(nv)
	r.applyNewViewLocked(nv)
}

// HandleNewView verifies an inbound NewView's quorum of ViewChange
// evidence and the legitimacy of whichever block it carries, then applies
// it exactly as emitNewViewLocked's own caller does.
func (r *Replica) HandleNewView(msg *types.NewView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if msg == nil {
		return fmt.Errorf("%w: nil new-view", ErrProofInvalid)
	}
	leader := r.cfg.Leader(r.height, msg.NewView)
	if msg.ProposerPK != leader {
		return ErrUnknownSigner
	}
	if !msg.Verify() {
		return ErrBadSignature
	}
	if msg.NewView <= r.view && r.vstate == ViewNormal {
		return ErrStaleMessage
	}

	distinct := make(map[types.PublicKey]struct{}, len(msg.ViewChangeProof))
	var best *types.PreparedEvidence
	for _, vc := range msg.ViewChangeProof {
		if vc.NewView != msg.NewView || vc.LastStableH != r.height {
			return ErrStaleMessage
		}
		if r.cfg.IndexOf(vc.ReplicaPK) < 0 {
			return ErrUnknownSigner
		}
		if !vc.Verify() {
			return ErrBadSignature
		}
		distinct[vc.ReplicaPK] = struct{}{}
		if vc.PreparedSet != nil && (best == nil || vc.PreparedSet.View > best.View) {
			best = vc.PreparedSet
		}
	}
	if len(distinct) < r.cfg.Quorum() {
		return ErrNoQuorum
	}

	switch {
	case best != nil && best.Block != nil:
		if msg.ResumeBlock == nil || msg.ResumeBlock.Hash() != best.BlockHash {
			return fmt.Errorf("%w: new_view resumed a different block than the evidence supports", ErrProofInvalid)
		}
	case msg.ResumeBlock != nil:
		return fmt.Errorf("%w: new_view resumed a block nobody's evidence prepared", ErrProofInvalid)
	}

	return r.applyNewViewLocked(msg)
}

// applyNewViewLocked enters newView and feeds its resumed or fresh block
// through the same acceptance path an ordinary PrePrepare would. Callers
// hold r.mu.
func (r *Replica) applyNewViewLocked(msg *types.NewView) error {
	r.view = msg.NewView
	r.vstate = ViewNormal
	r.phase = PhaseIdle
	r.observePhaseLocked()

	var block *types.ProofBlock
	checkView := true
	switch {
	case msg.ResumeBlock != nil:
		block = msg.ResumeBlock
		checkView = false // signed at its original view, not this one
	case msg.FreshBlock != nil:
		block = msg.FreshBlock
	default:
		return nil
	}

	_, _, err := r.validateProposalLocked(block, r.height, r.view, checkView)
	if err != nil {
		r.reportInvalidProposalLocked(block.ProposerPK, block, err)
		return err
	}
	return r.acceptProposalLocked(block)
}
