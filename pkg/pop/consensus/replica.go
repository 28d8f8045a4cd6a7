// Copyright 2025 Certen Protocol
//
// Replica is the single-threaded consensus task (spec.md §4.3, §5): it
// owns height/view/phase/tallies/lock exclusively and is the only
// component permitted to mutate them. Every exported method takes its
// own lock and is safe to call from whatever goroutine the network I/O
// task set hands inbound messages off on; none of them suspend mid
// mutation, matching spec.md §5's "state-store writes must not suspend
// mid-transition" rule extended to the whole consensus task.
//
// Shape (Config/Default pair, bracketed *log.Logger, mutex-guarded
// struct with small single-purpose methods) is modelled on the
// teacher's pkg/consensus/health_monitor.go; the propose/build path
// borrows validator_block_builder.go's "validate inputs, derive
// commitments, construct, sign" sequencing.

package consensus

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/mempool"
	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Phase is a height's progress through Idle → Proposed → Prepared →
// Committed (spec.md §4.3.1).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProposed
	PhasePrepared
	PhaseCommitted
)

// ViewState is a view's progress through Normal → ViewChanging →
// NewView → Normal (spec.md §4.3.1).
type ViewState int

const (
	ViewNormal ViewState = iota
	ViewChanging
	ViewAwaitingNewView
)

// maxEvidencePerBlock bounds how much pending Byzantine evidence a single
// proposal carries, the same way MaxProofsPerBlock bounds proofs — an
// unbounded reward section would let a burst of accusations crowd out a
// block's actual payload.
const maxEvidencePerBlock = 64

// Replica implements the PBFT replica state machine over a fixed
// committee (spec.md §4.3).
type Replica struct {
	mu sync.Mutex

	cfg      Config
	self     types.PublicKey
	signer   *signer.Signer
	store    *state.Store
	mp       *mempool.Mempool
	writes   engine.WriteExtractor
	verifier engine.Verifier
	out      Broadcaster
	events   EventSink
	logger   *log.Logger
	now      func() time.Time

	height uint64
	view   uint64
	phase  Phase
	vstate ViewState

	prevBlockHash hash.Hash

	prepares map[hvKey]*voteTally[*types.Prepare]
	commits  map[hvKey]*voteTally[*types.Commit]
	blocks   map[hash.Hash]*types.ProofBlock

	hasLock         bool
	lockedView      uint64
	lockedBlockHash hash.Hash
	lockedBlock     *types.ProofBlock

	viewChangeVotes map[uint64]map[types.PublicKey]*types.ViewChange // new_view -> signer -> vote
	pendingNewView  uint64                                          // highest new_view this replica has broadcast a ViewChange for, 0 if none

	pendingEvidence   map[hash.Hash]*types.Evidence // signed, verified, not yet seen committed
	committedEvidence map[hash.Hash]struct{}        // evidence IDs already applied via some committed block

	timeouts *timeoutModel
	phaseStartedAt time.Time

	fatal     bool
	fatalErr  error
}

// Deps bundles a Replica's collaborators.
type Deps struct {
	Self     types.PublicKey
	Signer   *signer.Signer
	Store    *state.Store
	Mempool  *mempool.Mempool
	Writes   engine.WriteExtractor
	Verifier engine.Verifier
	Out      Broadcaster
	Events   EventSink
}

// New constructs a Replica at height 0 / view 0 / Idle, with prevBlockHash
// the zero hash (genesis sentinel per spec.md §3).
func New(cfg Config, deps Deps) (*Replica, error) {
	if cfg.IndexOf(deps.Self) < 0 {
		return nil, fmt.Errorf("consensus: self is not a committee member")
	}
	if deps.Signer == nil || deps.Store == nil || deps.Mempool == nil || deps.Out == nil {
		return nil, fmt.Errorf("consensus: signer, store, mempool, and out are required")
	}
	if deps.Writes == nil {
		deps.Writes = engine.DefaultWriteExtractor{}
	}
	if deps.Verifier == nil {
		deps.Verifier = engine.NewStructuralDifficulty()
	}
	if deps.Events == nil {
		deps.Events = NopEventSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Consensus] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Replica{
		cfg:             cfg,
		self:            deps.Self,
		signer:          deps.Signer,
		store:           deps.Store,
		mp:              deps.Mempool,
		writes:          deps.Writes,
		verifier:        deps.Verifier,
		out:             deps.Out,
		events:          deps.Events,
		logger:          cfg.Logger,
		now:             now,
		height:          deps.Store.Height(),
		prevBlockHash:   hash.Hash{},
		prepares:        make(map[hvKey]*voteTally[*types.Prepare]),
		commits:         make(map[hvKey]*voteTally[*types.Commit]),
		blocks:          make(map[hash.Hash]*types.ProofBlock),
		viewChangeVotes:   make(map[uint64]map[types.PublicKey]*types.ViewChange),
		pendingEvidence:   make(map[hash.Hash]*types.Evidence),
		committedEvidence: make(map[hash.Hash]struct{}),
		timeouts:        newTimeoutModel(cfg),
		phaseStartedAt:  now(),
	}
	return r, nil
}

// Height returns the current consensus height.
func (r *Replica) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

// View returns the current view within Height.
func (r *Replica) View() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Status reports the replica's externally visible health.
func (r *Replica) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return Status{Kind: Fatal, Reason: r.fatalErr.Error()}
	}
	if r.vstate != ViewNormal {
		return Status{Kind: ViewChangingStatus, LocalHeight: r.height, View: r.view, NewView: r.pendingNewView}
	}
	return Status{Kind: Healthy, LocalHeight: r.height, View: r.view}
}

// CurrentTimeout returns how long the caller's external timer driver
// should wait before calling HandleTimeout for (r.Height(), r.View()).
func (r *Replica) CurrentTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeouts.timeoutFor(r.height)
}

func (r *Replica) key() hvKey { return hvKey{height: r.height, view: r.view} }

func (r *Replica) haltLocked(err error) {
	r.fatal = true
	r.fatalErr = err
	r.signer.Halt()
	r.logger.Printf("FATAL: %v", err)
}

// IsLeader reports whether self is the leader for the current (h, v).
func (r *Replica) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Leader(r.height, r.view) == r.self
}

// Propose builds and broadcasts a PrePrepare for the current (height,
// view), if self is leader and no block has been proposed yet. It is a
// no-op (returning ErrNotLeader) for any other replica.
//
// Propose only ever runs at view 0 of a height: every later view is
// entered exclusively through HandleNewView, which injects either the
// resumed highest-prepared block or a fresh one directly and never calls
// Propose. A replica reaches view 0 of a fresh height only immediately
// after committing the previous one, which always clears hasLock — so
// the lock rule (spec.md §4.3.4) never has a locked block to apply here;
// it is enforced entirely in HandleNewView/HandlePrePrepare instead.
func (r *Replica) Propose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal {
		return ErrFatal
	}
	if r.cfg.Leader(r.height, r.view) != r.self {
		return ErrNotLeader
	}
	if r.phase != PhaseIdle {
		return nil // already proposed or further along for this (h, v)
	}

	proofs := r.mp.SelectBatch(r.cfg.MaxProofsPerBlock, r.cfg.MaxBlockBytes)
	writes := r.deriveWrites(proofs)
	postRoot, err := r.store.Simulate(writes)
	if err != nil {
		r.haltLocked(fmt.Errorf("%w: simulate proposal: %v", ErrFatal, err))
		return r.fatalErr
	}
	block := &types.ProofBlock{
		Height:           r.height,
		View:             r.view,
		PrevBlockHash:    r.prevBlockHash,
		TimestampNS:      uint64(r.now().UnixNano()),
		Proofs:           proofs,
		ExpectedPostRoot: postRoot,
		RewardSection:    r.selectEvidenceLocked(),
	}
	block.Sign(r.self, r.signer.Sign)

	msg := &types.PrePrepare{Height: r.height, View: r.view, Block: block}
	msg.ProposerSig = r.signer.Sign(msg.SigningBytes())
	r.out.BroadcastPrePrepare(msg)

	// The leader treats its own proposal as accepted immediately, exactly
	// as a follower would on receiving this PrePrepare back — it still
	// needs a 2f+1 Prepare quorum (including its own vote) before locking.
	return r.acceptProposalLocked(block)
}

// deriveWrites runs each selected proof through writeExtractor. Every
// proof SelectBatch returns already passed verification (spec.md §4.1's
// select_batch(max_n, max_bytes) → [Proof] contract carries no result
// alongside each proof), so writes are derived with Valid=true; an
// extractor that needs the original difficulty should be paired with a
// mempool whose tiering keeps that alongside the proof.
func (r *Replica) deriveWrites(proofs []*types.Proof) []types.Write {
	var writes []types.Write
	for _, p := range proofs {
		writes = append(writes, r.writes.Extract(p, engine.Result{Valid: true})...)
	}
	return writes
}
