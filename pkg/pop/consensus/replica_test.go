// Copyright 2025 Certen Protocol

package consensus

import (
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/mempool"
	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// recordingSink captures every EventSink callback for assertions.
type recordingSink struct {
	equivocations []string
	invalid       []string
	conservation  []string
	silence       []string
	commits       []*types.ProofBlock
}

func (s *recordingSink) OnEquivocation(height, view uint64, kind EquivocationKind, replica types.PublicKey, first hash.Hash, firstSig types.Signature, second hash.Hash, secondSig types.Signature) *types.Evidence {
	s.equivocations = append(s.equivocations, string(kind))
	return nil
}
func (s *recordingSink) OnInvalidProposal(height, view uint64, leader types.PublicKey, block *types.ProofBlock, reason error) *types.Evidence {
	s.invalid = append(s.invalid, reason.Error())
	return nil
}
func (s *recordingSink) OnConservationViolation(height, view uint64, leader types.PublicKey, block *types.ProofBlock) *types.Evidence {
	s.conservation = append(s.conservation, "violation")
	return nil
}
func (s *recordingSink) OnSilence(height, view uint64, leader types.PublicKey) {
	s.silence = append(s.silence, "silence")
}
func (s *recordingSink) OnCommit(block *types.ProofBlock, transition types.StateTransition, cert *types.CommitCertificate, preparers []types.PublicKey) {
	s.commits = append(s.commits, block)
}

// meshBroadcaster queues every message for every other replica in the
// mesh rather than dispatching inline: a real Transport hands messages
// off to other processes asynchronously, and a replica's own Handle*
// methods are not reentrant-safe against being called again while the
// call that triggered them (e.g. Propose, still holding its own mutex)
// is on the stack. testCluster.drain processes the queue after each
// driving call, which is the test-harness equivalent of "messages cross
// the network and arrive later."
type meshBroadcaster struct {
	self  types.PublicKey
	peers map[types.PublicKey]*Replica
	queue *[]func()
}

func (b *meshBroadcaster) each(fn func(r *Replica)) {
	for pk, r := range b.peers {
		if pk == b.self {
			continue
		}
		r := r
		*b.queue = append(*b.queue, func() { fn(r) })
	}
}

func (b *meshBroadcaster) BroadcastPrePrepare(m *types.PrePrepare) {
	b.each(func(r *Replica) { _ = r.HandlePrePrepare(m) })
}
func (b *meshBroadcaster) BroadcastPrepare(m *types.Prepare) {
	b.each(func(r *Replica) { _ = r.HandlePrepare(m) })
}
func (b *meshBroadcaster) BroadcastCommit(m *types.Commit) {
	b.each(func(r *Replica) { _ = r.HandleCommit(m) })
}
func (b *meshBroadcaster) BroadcastViewChange(m *types.ViewChange) {
	b.each(func(r *Replica) { _ = r.HandleViewChange(m) })
}
func (b *meshBroadcaster) BroadcastNewView(m *types.NewView) {
	b.each(func(r *Replica) { _ = r.HandleNewView(m) })
}
func (b *meshBroadcaster) BroadcastEvidence(m *types.Evidence) {
	b.each(func(r *Replica) { _ = r.HandleEvidence(m) })
}

// testCluster builds n replicas (committee size n) sharing a single
// logical clock, each with its own store/mempool/signer and a
// meshBroadcaster wired after construction (Out needs every peer to
// exist first, so New is called with a placeholder then patched).
type testCluster struct {
	replicas []*Replica
	sinks    []*recordingSink
	pks      []types.PublicKey
	signers  []*signer.Signer
	queue    []func()
}

// drain processes every queued cross-replica message, including ones
// enqueued by processing earlier ones, until none remain.
func (c *testCluster) drain() {
	for len(c.queue) > 0 {
		fn := c.queue[0]
		c.queue = c.queue[1:]
		fn()
	}
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	signers := make([]*signer.Signer, n)
	pks := make([]types.PublicKey, n)
	for i := range signers {
		s, err := signer.Generate()
		require.NoError(t, err)
		signers[i] = s
		pks[i] = s.PublicKey()
	}

	cfg := DefaultConfig()
	cfg.Committee = pks
	cfg.TimeoutBase = 10 * time.Millisecond
	cfg.TimeoutMin = 10 * time.Millisecond
	cfg.TimeoutMax = time.Second

	c := &testCluster{pks: pks, signers: signers}

	broadcasters := make(map[types.PublicKey]*meshBroadcaster, n)
	replicas := make([]*Replica, n)
	sinks := make([]*recordingSink, n)

	for i := 0; i < n; i++ {
		mb := &meshBroadcaster{self: pks[i], peers: map[types.PublicKey]*Replica{}, queue: &c.queue}
		broadcasters[pks[i]] = mb

		mp, err := mempool.New(engine.NewStructuralDifficulty(), mempool.DefaultConfig())
		require.NoError(t, err)

		sink := &recordingSink{}
		sinks[i] = sink

		r, err := New(cfg, Deps{
			Self:     pks[i],
			Signer:   signers[i],
			Store:    state.New(dbm.NewMemDB(), 100),
			Mempool:  mp,
			Verifier: engine.NewStructuralDifficulty(),
			Out:      mb,
			Events:   sink,
		})
		require.NoError(t, err)
		replicas[i] = r
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			broadcasters[pks[i]].peers[pks[j]] = replicas[j]
		}
	}
	c.replicas = replicas
	c.sinks = sinks
	return c
}

func (c *testCluster) submitProof(t *testing.T, payload string) {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	p := &types.Proof{
		Payload:       []byte(payload),
		SubmitterPK:   s.PublicKey(),
		SubmittedAtNS: 1,
	}
	p.ID = types.ComputeProofID(p.Payload, p.SubmitterPK)
	p.SubmitterSig = s.Sign(p.SigningBytes())
	for _, r := range c.replicas {
		res := r.mp.Submit(p)
		require.Equal(t, mempool.Accepted, res.Status)
		require.Equal(t, 1, r.mp.VerifyPending())
	}
}

func TestReplica_HappyPath_CommitsAtHeightZero(t *testing.T) {
	c := newTestCluster(t, 4) // n=4, f=1
	c.submitProof(t, "hello-proof")

	leaderIdx := -1
	for i, r := range c.replicas {
		if r.IsLeader() {
			leaderIdx = i
		}
	}
	require.GreaterOrEqual(t, leaderIdx, 0)

	require.NoError(t, c.replicas[leaderIdx].Propose())
	c.drain()

	for i, r := range c.replicas {
		require.Equal(t, uint64(1), r.Height(), "replica %d should have committed height 0", i)
		require.Equal(t, uint64(0), r.View())
	}
	for i, s := range c.sinks {
		require.Len(t, s.commits, 1, "replica %d should have observed exactly one commit", i)
		require.Empty(t, s.equivocations)
		require.Empty(t, s.invalid)
		require.Empty(t, s.conservation)
	}
}

func TestReplica_Propose_NonLeaderIsNoOp(t *testing.T) {
	c := newTestCluster(t, 4)
	for _, r := range c.replicas {
		if !r.IsLeader() {
			require.ErrorIs(t, r.Propose(), ErrNotLeader)
		}
	}
}

func TestReplica_HandlePrepare_EquivocationReported(t *testing.T) {
	c := newTestCluster(t, 4)
	c.submitProof(t, "payload-a")

	target := c.replicas[0]
	var blockA, blockB hash.Hash
	blockA[0] = 0xAA
	blockB[0] = 0xBB

	p1 := &types.Prepare{Height: 0, View: 0, BlockHash: blockA, ReplicaPK: c.pks[1]}
	p1.Sig = c.signers[1].Sign(p1.SigningBytes())
	require.NoError(t, target.HandlePrepare(p1))

	p2 := &types.Prepare{Height: 0, View: 0, BlockHash: blockB, ReplicaPK: c.pks[1]}
	p2.Sig = c.signers[1].Sign(p2.SigningBytes())
	require.NoError(t, target.HandlePrepare(p2))

	require.Len(t, c.sinks[0].equivocations, 1)
	require.Equal(t, string(EquivocationPrepare), c.sinks[0].equivocations[0])
}

func TestReplica_HandlePrepare_RejectsBadSignature(t *testing.T) {
	c := newTestCluster(t, 4)
	other, err := signer.Generate()
	require.NoError(t, err)

	var blockHash hash.Hash
	p := &types.Prepare{Height: 0, View: 0, BlockHash: blockHash, ReplicaPK: c.pks[1]}
	p.Sig = other.Sign(p.SigningBytes()) // signed by the wrong key
	require.ErrorIs(t, c.replicas[0].HandlePrepare(p), ErrBadSignature)
}

func TestReplica_HandleTimeout_EntersViewChanging(t *testing.T) {
	c := newTestCluster(t, 4)
	r := c.replicas[0]
	_ = r.HandleTimeout()
	st := r.Status()
	require.Equal(t, ViewChangingStatus, st.Kind)
	require.Equal(t, uint64(1), st.NewView)
}

func TestConfig_LeaderRotatesAcrossViews(t *testing.T) {
	cfg := DefaultConfig()
	var a, b, c, d types.PublicKey
	a[0], b[0], c[0], d[0] = 1, 2, 3, 4
	cfg.Committee = []types.PublicKey{a, b, c, d}

	require.Equal(t, a, cfg.Leader(0, 0))
	require.Equal(t, b, cfg.Leader(0, 1))
	require.Equal(t, b, cfg.Leader(1, 0))
	require.Equal(t, 1, cfg.F())
	require.Equal(t, 3, cfg.Quorum())
}
