// Copyright 2025 Certen Protocol

package mempool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/signer"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// fixedVerifier returns the same Result for every payload, configurable
// per test so admission-gate behaviour can be exercised deterministically.
type fixedVerifier struct {
	result engine.Result
}

func (v fixedVerifier) Verify(payload []byte, budget engine.Budget) engine.Result {
	return v.result
}

func newProof(t *testing.T, s *signer.Signer, payload string, submittedAtNS uint64) *types.Proof {
	t.Helper()
	p := &types.Proof{
		Payload:       []byte(payload),
		SubmitterPK:   s.PublicKey(),
		SubmittedAtNS: submittedAtNS,
	}
	p.ID = types.ComputeProofID(p.Payload, p.SubmitterPK)
	p.SubmitterSig = s.Sign(p.SigningBytes())
	return p
}

func TestMempool_SubmitAcceptsValidProof(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 10}}, DefaultConfig())
	require.NoError(t, err)

	res := mp.Submit(newProof(t, s, "payload-1", 1))
	require.Equal(t, Accepted, res.Status)
	require.Equal(t, 1, mp.Stats().UnverifiedCount)
}

func TestMempool_SubmitRejectsBadSignature(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true}}, DefaultConfig())
	require.NoError(t, err)

	p := newProof(t, s, "payload-1", 1)
	p.Payload = []byte("tampered") // invalidates ID and signature together
	res := mp.Submit(p)
	require.Equal(t, Rejected, res.Status)
}

func TestMempool_SubmitRejectsDuplicate(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true}}, DefaultConfig())
	require.NoError(t, err)

	p := newProof(t, s, "payload-1", 1)
	require.Equal(t, Accepted, mp.Submit(p).Status)
	require.Equal(t, Rejected, mp.Submit(p).Status)
	require.ErrorIs(t, mp.Submit(p).Reason, ErrDuplicateProof)
}

func TestMempool_SubmitRejectsOverQuota(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Quota = QuotaConfig{RatePerSecond: 0, Burst: 1}
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true}}, cfg)
	require.NoError(t, err)

	require.Equal(t, Accepted, mp.Submit(newProof(t, s, "p1", 1)).Status)
	res := mp.Submit(newProof(t, s, "p2", 2))
	require.Equal(t, Rejected, res.Status)
	require.ErrorIs(t, res.Reason, ErrQuotaExceeded)
}

func TestMempool_VerifyPendingPromotesValidProofs(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 5}}, DefaultConfig())
	require.NoError(t, err)

	mp.Submit(newProof(t, s, "p1", 1))
	promoted := mp.VerifyPending()
	require.Equal(t, 1, promoted)

	stats := mp.Stats()
	require.Equal(t, 0, stats.UnverifiedCount)
	require.Equal(t, 1, stats.VerifiedCount)
}

func TestMempool_VerifyPendingDropsInvalidProofs(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: false, Error: engine.ErrorMalformed}}, DefaultConfig())
	require.NoError(t, err)

	mp.Submit(newProof(t, s, "p1", 1))
	promoted := mp.VerifyPending()
	require.Equal(t, 0, promoted)
	require.Equal(t, 0, mp.Stats().VerifiedCount)
}

func TestMempool_VerifyPendingEnforcesMinDifficulty(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MinDifficulty = 10
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 3}}, cfg)
	require.NoError(t, err)

	mp.Submit(newProof(t, s, "p1", 1))
	require.Equal(t, 0, mp.VerifyPending())
}

func TestMempool_SelectBatch_OrdersByDifficulty(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 1}}, DefaultConfig())
	require.NoError(t, err)

	low := newProof(t, s, "low-difficulty", 1)
	mp.verifier = fixedVerifier{result: engine.Result{Valid: true, Difficulty: 1}}
	mp.Submit(low)
	mp.VerifyPending()

	high := newProof(t, s, "high-difficulty", 2)
	mp.verifier = fixedVerifier{result: engine.Result{Valid: true, Difficulty: 9}}
	mp.Submit(high)
	mp.VerifyPending()

	batch := mp.SelectBatch(10, 1<<20)
	require.Len(t, batch, 2)
	require.Equal(t, high.ID, batch[0].ID, "higher difficulty sorts first")
	require.Equal(t, low.ID, batch[1].ID)
}

func TestMempool_SelectBatch_RespectsByteCap(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 1}}, DefaultConfig())
	require.NoError(t, err)

	p1 := newProof(t, s, "0123456789", 1)
	mp.Submit(p1)
	mp.VerifyPending()

	batch := mp.SelectBatch(10, 5)
	require.Empty(t, batch, "a proof larger than the byte cap is skipped, not truncated")
}

func TestMempool_OnCommittedRemovesFromVerifiedAndBlocksResubmission(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	mp, err := New(fixedVerifier{result: engine.Result{Valid: true, Difficulty: 1}}, DefaultConfig())
	require.NoError(t, err)

	p := newProof(t, s, "p1", 1)
	mp.Submit(p)
	mp.VerifyPending()
	require.Equal(t, 1, mp.Stats().VerifiedCount)

	mp.OnCommitted(&types.ProofBlock{Height: 1, Proofs: []*types.Proof{p}})
	require.Equal(t, 0, mp.Stats().VerifiedCount)

	res := mp.Submit(p)
	require.Equal(t, Rejected, res.Status)
	require.ErrorIs(t, res.Reason, ErrDuplicateProof)
}

func TestQuota_RefillsOverTime(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	q := NewQuota(QuotaConfig{RatePerSecond: 1000, Burst: 1})
	require.True(t, q.Allow(s.PublicKey()))
	require.False(t, q.Allow(s.PublicKey()))
	time.Sleep(5 * time.Millisecond)
	require.True(t, q.Allow(s.PublicKey()))
}
