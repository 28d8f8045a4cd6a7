// Copyright 2025 Certen Protocol
//
// Tracker implements consensus.EventSink: it turns commit/equivocation/
// invalid-proposal/conservation/silence callbacks into reward-score
// deltas and Byzantine evidence (spec.md §4.4). Bookkeeping shape follows
// the teacher's pkg/batch/confirmation_tracker.go (a mutex-guarded struct
// with injected dependencies and a background-free, call-driven update
// path) generalised from per-anchor confirmation counts to per-replica
// score/slash/silence accumulators, plus pkg/consensus/health_monitor.go's
// consecutive-stall counter reused as the consecutive-missed-leader-turn
// streak.
//
// The On* detection callbacks (OnEquivocation, OnInvalidProposal,
// OnConservationViolation) never mutate a score or the ledger: they only
// construct the types.Evidence bundle the calling Replica will sign,
// gossip, and eventually propose. A score only ever moves once OnCommit
// sees that same evidence in a committed block's reward section — §4.4's
// evidence is gossiped and only applied to state once committed, not the
// instant this process's own consensus task observes the event.
package rewards

import (
	"log"
	"sort"
	"sync"

	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// ScoreDomain is the reserved state domain reward scores are recorded
// under (spec.md §4.4: "Scores are recorded in state under a reserved
// domain"). It carries zero resource_weight significance of its own and
// is never added to a deployment's conserved_domains, so it never
// participates in §4.2's conservation check.
const ScoreDomain = uint8(0xFE)

// Tracker accumulates reward scores and Byzantine evidence from a
// committee's consensus events. It owns a dedicated Merkle state store
// (separate from the consensus height state the replica commits proof
// transitions into) so scores are genuinely "recorded in state" without
// requiring the proposal-time WriteExtractor to depend on this package —
// that dependency would recreate the very import cycle EventSink exists
// to avoid, since OnCommit for block B only fires once B's own
// transition has already been applied.
type Tracker struct {
	mu sync.Mutex

	cfg      Config
	verifier engine.Verifier
	budget   engine.Budget
	writes   engine.WriteExtractor
	ledger   *state.Store
	logger   *log.Logger

	silence map[types.PublicKey]int

	equivocations []*types.Evidence
	invalid       []*types.Evidence
	conservation  []*types.Evidence
}

// New constructs a Tracker. verifier re-derives each committed proof's
// difficulty (verification is required to be pure and deterministic
// across every honest committee member, so recomputing it here yields
// the same value the proposer's verifier produced); writes re-derives
// state writes from a proof the same way a replica's WriteExtractor
// would, used only to re-check committed conservation-failure evidence.
// ledger is the dedicated score store, typically its own dbm.DB instance
// distinct from the consensus height state store.
func New(cfg Config, verifier engine.Verifier, budget engine.Budget, writes engine.WriteExtractor, ledger *state.Store) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Rewards] ", log.LstdFlags)
	}
	if writes == nil {
		writes = engine.DefaultWriteExtractor{}
	}
	return &Tracker{
		cfg:      cfg,
		verifier: verifier,
		budget:   budget,
		writes:   writes,
		ledger:   ledger,
		logger:   cfg.Logger,
		silence:  make(map[types.PublicKey]int),
	}
}

var _ consensus.EventSink = (*Tracker)(nil)

// scoreKey is the reward ledger's StateKey for replica's accumulated
// score.
func scoreKey(replica types.PublicKey) types.StateKey {
	return types.StateKey{Domain: ScoreDomain, ID: append([]byte(nil), replica[:]...)}
}

// Score returns replica's current accumulated reward score.
func (t *Tracker) Score(replica types.PublicKey) hash.Int128 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoreLocked(replica)
}

func (t *Tracker) scoreLocked(replica types.PublicKey) hash.Int128 {
	v, err := t.ledger.Get(scoreKey(replica))
	if err != nil || v == nil {
		return hash.Int128{}
	}
	return v.ResourceWeight
}

// addScoreLocked applies delta (positive for rewards, negative for
// slashes) to replica's accumulated score, clamped at zero on the low
// side — a replica cannot owe the protocol a negative score.
func (t *Tracker) addScoreLocked(replica types.PublicKey, delta hash.Int128) {
	current := t.scoreLocked(replica)
	next := current.Add(delta)
	if next.Sign() < 0 {
		next = hash.Int128{}
	}
	value := types.StateValue{ResourceWeight: next}
	if _, err := t.ledger.Apply([]types.Write{{Key: scoreKey(replica), NewValue: &value}}); err != nil {
		t.logger.Printf("failed to persist score update for %s: %v", replica, err)
	}
}

// OnCommit implements consensus.EventSink. Every preparer whose vote
// contributed to the locking quorum earns alpha * sum(difficulty) over
// the committed block's proofs; the proposer additionally earns beta *
// leader_bonus(B), taken here as the block's proof count (a throughput
// bonus distinct from per-proof difficulty, spec.md §9 leaves the exact
// leader_bonus function open). The proposer's silence streak resets
// since it did not miss its turn. Any evidence carried in the block's
// reward section is re-verified and, if it survives, applied here — the
// one place a slash actually happens.
func (t *Tracker) OnCommit(block *types.ProofBlock, transition types.StateTransition, cert *types.CommitCertificate, preparers []types.PublicKey) {
	totalDifficulty := uint64(0)
	for _, p := range block.Proofs {
		result := t.verifier.Verify(p.Payload, t.budget)
		if result.Valid {
			totalDifficulty += uint64(result.Difficulty)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	reward := hash.Int128FromInt64(int64(float64(totalDifficulty) * t.cfg.Alpha))
	for _, preparer := range preparers {
		t.addScoreLocked(preparer, reward)
	}

	leaderBonus := hash.Int128FromInt64(int64(float64(len(block.Proofs)) * t.cfg.Beta))
	t.addScoreLocked(block.ProposerPK, leaderBonus)
	delete(t.silence, block.ProposerPK)

	for _, ev := range block.RewardSection {
		t.applyEvidenceLocked(ev)
	}
}

// applyEvidenceLocked re-verifies ev's reporter signature and, for the
// two classes whose offence is a property of the whole proposal rather
// than just a signature, reruns the structural/conservation check
// against ev.Block. Only once confirmed does it record the evidence and
// slash the offender. Callers hold t.mu.
func (t *Tracker) applyEvidenceLocked(ev *types.Evidence) {
	if ev == nil || !ev.VerifyReporterSignature() {
		t.logger.Printf("dropping evidence with invalid reporter signature")
		return
	}
	var slash uint64
	switch ev.Class {
	case types.EvidenceEquivocation:
		t.equivocations = append(t.equivocations, ev)
		slash = t.cfg.SlashEquivocation
	case types.EvidenceInvalidProposal:
		if !t.blockIsInvalidLocked(ev.Block) {
			t.logger.Printf("dropping invalid-proposal evidence %s: block re-verifies as valid", ev.ID)
			return
		}
		t.invalid = append(t.invalid, ev)
		slash = t.cfg.SlashInvalidProposal
	case types.EvidenceConservationFailed:
		if !t.blockViolatesConservationLocked(ev.Block) {
			t.logger.Printf("dropping conservation evidence %s: block re-verifies as conservation-valid", ev.ID)
			return
		}
		t.conservation = append(t.conservation, ev)
		slash = t.cfg.SlashConservationFailed
	default:
		t.logger.Printf("dropping evidence %s: unknown class", ev.ID)
		return
	}
	t.addScoreLocked(ev.Offender, hash.Int128FromInt64(-int64(slash)))
}

// OnEquivocation implements consensus.EventSink: it builds the
// self-verifying evidence bundle but applies no score change — the
// caller signs and gossips it, and OnCommit applies the slash once it
// is seen committed.
func (t *Tracker) OnEquivocation(height, view uint64, kind consensus.EquivocationKind, replica types.PublicKey, first hash.Hash, firstSig types.Signature, second hash.Hash, secondSig types.Signature) *types.Evidence {
	return &types.Evidence{
		Class:      types.EvidenceEquivocation,
		Height:     height,
		View:       view,
		Offender:   replica,
		VoteKind:   string(kind),
		FirstHash:  first,
		FirstSig:   firstSig,
		SecondHash: second,
		SecondSig:  secondSig,
	}
}

// OnInvalidProposal implements consensus.EventSink.
func (t *Tracker) OnInvalidProposal(height, view uint64, leader types.PublicKey, block *types.ProofBlock, reason error) *types.Evidence {
	return &types.Evidence{
		Class:    types.EvidenceInvalidProposal,
		Height:   height,
		View:     view,
		Offender: leader,
		Block:    block,
		Reason:   reason.Error(),
	}
}

// OnConservationViolation implements consensus.EventSink.
func (t *Tracker) OnConservationViolation(height, view uint64, leader types.PublicKey, block *types.ProofBlock) *types.Evidence {
	return &types.Evidence{
		Class:    types.EvidenceConservationFailed,
		Height:   height,
		View:     view,
		Offender: leader,
		Block:    block,
	}
}

// OnSilence implements consensus.EventSink: a soft, non-slashable penalty
// that only ever raises SilenceWeight's reported count, never Leader's
// deterministic rotation (spec.md §4.3.2's leader formula is fixed and is
// never influenced by reward/reputation weighting, per §9's "adaptive
// weighting ... must not influence §4.1's determinism" separation applied
// symmetrically here to leader selection).
func (t *Tracker) OnSilence(height, view uint64, leader types.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.silence[leader]++
}

// SilenceWeight returns replica's consecutive missed-leader-turn count,
// useful for admission control or gossip fanout prioritization. A streak
// at or beyond cfg.SilenceStreak marks the replica as soft-penalized.
func (t *Tracker) SilenceWeight(replica types.PublicKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.silence[replica]
}

// IsSoftPenalized reports whether replica's current silence streak has
// reached the configured threshold.
func (t *Tracker) IsSoftPenalized(replica types.PublicKey) bool {
	return t.SilenceWeight(replica) >= t.cfg.SilenceStreak
}

// Evidence snapshots every Byzantine bundle applied so far (i.e. seen
// committed and confirmed, never merely reported), sorted
// deterministically by ID so repeated calls with no intervening activity
// return identical output (useful for gossip batching and tests).
func (t *Tracker) Evidence() (equivocations, invalid, conservation []*types.Evidence) {
	t.mu.Lock()
	defer t.mu.Unlock()

	equivocations = append(equivocations, t.equivocations...)
	invalid = append(invalid, t.invalid...)
	conservation = append(conservation, t.conservation...)

	sort.Slice(equivocations, func(i, j int) bool { return equivocations[i].ID.String() < equivocations[j].ID.String() })
	sort.Slice(invalid, func(i, j int) bool { return invalid[i].ID.String() < invalid[j].ID.String() })
	sort.Slice(conservation, func(i, j int) bool { return conservation[i].ID.String() < conservation[j].ID.String() })
	return
}
