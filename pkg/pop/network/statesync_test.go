// Copyright 2025 Certen Protocol

package network

import (
	"context"
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

type fixedVerifier struct{ difficulty uint32 }

func (v fixedVerifier) Verify(payload []byte, budget engine.Budget) engine.Result {
	return engine.Result{Valid: true, Difficulty: v.difficulty}
}

type fakeSyncPeer struct {
	id   PeerID
	resp *SyncResponse
	err  error
}

func (p *fakeSyncPeer) PeerID() PeerID { return p.id }
func (p *fakeSyncPeer) RequestRange(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	return p.resp, p.err
}

// buildSignedSegment constructs one committed block at height 0 signed by
// committee[0] as proposer, with a commit certificate from three of four
// committee signers (quorum for n=4, f=1).
func buildSignedSegment(t *testing.T) ([]*signer.Signer, []types.PublicKey, *SyncResponse) {
	t.Helper()
	signers := make([]*signer.Signer, 4)
	pks := make([]types.PublicKey, 4)
	for i := range signers {
		s, err := signer.Generate()
		require.NoError(t, err)
		signers[i] = s
		pks[i] = s.PublicKey()
	}

	proofSigner, err := signer.Generate()
	require.NoError(t, err)
	proof := &types.Proof{Payload: []byte("segment-proof"), SubmitterPK: proofSigner.PublicKey()}
	proof.ID = types.ComputeProofID(proof.Payload, proof.SubmitterPK)
	proof.SubmitterSig = proofSigner.Sign(proof.SigningBytes())

	writeExtractor := engine.DefaultWriteExtractor{}
	verifier := fixedVerifier{difficulty: 1}
	writes := writeExtractor.Extract(proof, verifier.Verify(proof.Payload, engine.Budget{}))

	scratch := state.New(dbm.NewMemDB(), 100)
	postRoot, err := scratch.Simulate(writes)
	require.NoError(t, err)

	block := &types.ProofBlock{
		Height:           0,
		View:             0,
		Proofs:           []*types.Proof{proof},
		ExpectedPostRoot: postRoot,
	}
	block.Sign(pks[0], signers[0].Sign)

	cert := &types.CommitCertificate{Height: 0, View: 0, BlockHash: block.Hash()}
	for _, i := range []int{0, 1, 2} {
		c := &types.Commit{Height: 0, View: 0, BlockHash: block.Hash(), ReplicaPK: pks[i]}
		c.Sig = signers[i].Sign(c.SigningBytes())
		cert.Commits = append(cert.Commits, c)
	}

	return signers, pks, &SyncResponse{Blocks: []*types.ProofBlock{block}, Certs: []*types.CommitCertificate{cert}}
}

func TestStateSync_Sync_AppliesVerifiedSegment(t *testing.T) {
	_, pks, resp := buildSignedSegment(t)

	store := state.New(dbm.NewMemDB(), 100)
	sync := NewStateSync(SyncConfig{Quorum: 3}, store, fixedVerifier{difficulty: 1}, engine.Budget{}, engine.DefaultWriteExtractor{}, pks)

	peer := &fakeSyncPeer{id: pks[0], resp: resp}
	require.NoError(t, sync.Sync(context.Background(), []SyncPeer{peer}, 0, 0))
	require.Equal(t, uint64(1), store.Height())
	require.Equal(t, resp.Blocks[0].ExpectedPostRoot, store.Root())
}

func TestStateSync_Sync_RejectsSubQuorumCertificate(t *testing.T) {
	_, pks, resp := buildSignedSegment(t)
	resp.Certs[0].Commits = resp.Certs[0].Commits[:2] // below quorum of 3

	store := state.New(dbm.NewMemDB(), 100)
	sync := NewStateSync(SyncConfig{Quorum: 3}, store, fixedVerifier{difficulty: 1}, engine.Budget{}, engine.DefaultWriteExtractor{}, pks)

	peer := &fakeSyncPeer{id: pks[0], resp: resp}
	require.Error(t, sync.Sync(context.Background(), []SyncPeer{peer}, 0, 0))
	require.Equal(t, uint64(0), store.Height())
}

func TestStateSync_Sync_RejectsTamperedPostRoot(t *testing.T) {
	_, pks, resp := buildSignedSegment(t)
	resp.Blocks[0].ExpectedPostRoot[0] ^= 0xFF

	store := state.New(dbm.NewMemDB(), 100)
	sync := NewStateSync(SyncConfig{Quorum: 3}, store, fixedVerifier{difficulty: 1}, engine.Budget{}, engine.DefaultWriteExtractor{}, pks)

	peer := &fakeSyncPeer{id: pks[0], resp: resp}
	require.Error(t, sync.Sync(context.Background(), []SyncPeer{peer}, 0, 0))
}

func TestStateSync_Sync_FallsThroughToNextPeerOnFailure(t *testing.T) {
	_, pks, resp := buildSignedSegment(t)
	store := state.New(dbm.NewMemDB(), 100)
	sync := NewStateSync(SyncConfig{Quorum: 3}, store, fixedVerifier{difficulty: 1}, engine.Budget{}, engine.DefaultWriteExtractor{}, pks)

	failingPeer := &fakeSyncPeer{id: pks[1], resp: nil, err: context.DeadlineExceeded}
	goodPeer := &fakeSyncPeer{id: pks[0], resp: resp}

	require.NoError(t, sync.Sync(context.Background(), []SyncPeer{failingPeer, goodPeer}, 0, 0))
	require.Equal(t, uint64(1), store.Height())
}
