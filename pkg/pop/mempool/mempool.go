// Copyright 2025 Certen Protocol
//
// Mempool: admission pipeline, tiered storage, and deterministic batch
// selection (spec.md §4.1). Modelled on the teacher's pkg/batch/collector.go
// (mutex-guarded accumulator with a Config/Default pair and a bracketed
// *log.Logger) generalised from accumulating transactions for periodic
// anchoring to accumulating proofs for BFT block proposal.

package mempool

import (
	"log"
	"sort"
	"sync"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// AdmissionStatus is the coarse outcome of Submit.
type AdmissionStatus int

const (
	Accepted AdmissionStatus = iota
	Rejected
)

// AdmissionResult is the pure outcome of the cheap admission pipeline
// (spec.md §4.1: "Admission failures are local: they do not produce
// consensus messages").
type AdmissionResult struct {
	Status AdmissionStatus
	Reason error
}

// Config configures a Mempool.
type Config struct {
	MaxUnverified int          // cap on the unverified tier
	MaxVerified   int          // cap on the verified (batchable) tier
	VerifyBudget  engine.Budget
	MinDifficulty uint32 // admission gate; 0 disables the gate
	Quota         QuotaConfig
	Logger        *log.Logger
}

// DefaultConfig returns sane defaults for tests and single-node use.
func DefaultConfig() Config {
	return Config{
		MaxUnverified: 10_000,
		MaxVerified:   10_000,
		VerifyBudget:  engine.Budget{MaxDuration: 0, MaxMemory: 0},
		MinDifficulty: 0,
		Quota:         DefaultQuotaConfig(),
		Logger:        log.New(log.Writer(), "[Mempool] ", log.LstdFlags),
	}
}

type verifiedEntry struct {
	proof  *types.Proof
	result engine.Result
}

// Mempool implements submit/verify/select_batch/on_committed over a
// pair of unverified/verified proof tiers (spec.md §4.1).
type Mempool struct {
	mu sync.RWMutex

	verifier engine.Verifier
	cfg      Config
	quota    *Quota

	known      map[hash.Hash]struct{} // every proof.id ever admitted, across tiers and after commit
	unverified map[hash.Hash]*types.Proof
	verified   map[hash.Hash]*verifiedEntry

	logger *log.Logger

	// Statistics.
	totalAccepted  int64
	totalRejected  int64
	totalCommitted int64
}

// New creates a Mempool that delegates logical verification to verifier.
func New(verifier engine.Verifier, cfg Config) (*Mempool, error) {
	if verifier == nil {
		return nil, ErrNilVerifier
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Mempool] ", log.LstdFlags)
	}
	return &Mempool{
		verifier:   verifier,
		cfg:        cfg,
		quota:      NewQuota(cfg.Quota),
		known:      make(map[hash.Hash]struct{}),
		unverified: make(map[hash.Hash]*types.Proof),
		verified:   make(map[hash.Hash]*verifiedEntry),
		logger:     cfg.Logger,
	}, nil
}

// Submit runs the cheap admission pipeline (syntactic → signature →
// duplicate → quota) and, on success, places proof in the unverified
// tier pending a later VerifyPending call. It never performs logical
// verification itself, matching spec.md §4.1's "deferred logical
// verification".
func (m *Mempool) Submit(proof *types.Proof) AdmissionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(proof.Payload) == 0 {
		m.totalRejected++
		return AdmissionResult{Rejected, ErrMalformedProof}
	}
	if !proof.VerifySignature() {
		m.totalRejected++
		return AdmissionResult{Rejected, ErrBadSignature}
	}
	if _, dup := m.known[proof.ID]; dup {
		m.totalRejected++
		return AdmissionResult{Rejected, ErrDuplicateProof}
	}
	if !m.quota.Allow(proof.SubmitterPK) {
		m.totalRejected++
		return AdmissionResult{Rejected, ErrQuotaExceeded}
	}
	if len(m.unverified)+len(m.verified) >= m.cfg.MaxUnverified+m.cfg.MaxVerified {
		m.totalRejected++
		return AdmissionResult{Rejected, ErrQuotaExceeded}
	}

	m.known[proof.ID] = struct{}{}
	m.unverified[proof.ID] = proof
	m.totalAccepted++
	m.logger.Printf("accepted proof %s from %s into unverified tier", proof.ID.String(), proof.SubmitterPK.String())
	return AdmissionResult{Status: Accepted}
}

// VerifyPending runs the logical engine over every currently unverified
// proof, promoting those that are valid and meet MinDifficulty into the
// verified tier and dropping the rest. It returns the number promoted.
// A dropped proof is never slashable on its own (spec.md §4.1).
func (m *Mempool) VerifyPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	promoted := 0
	for id, proof := range m.unverified {
		result := m.verifier.Verify(proof.Payload, m.cfg.VerifyBudget)
		delete(m.unverified, id)
		if !result.Valid {
			m.logger.Printf("proof %s failed verification: error=%d", id.String(), result.Error)
			continue
		}
		if m.cfg.MinDifficulty > 0 && result.Difficulty < m.cfg.MinDifficulty {
			m.logger.Printf("proof %s below min_difficulty (%d < %d)", id.String(), result.Difficulty, m.cfg.MinDifficulty)
			continue
		}
		if len(m.verified) >= m.cfg.MaxVerified {
			m.logger.Printf("verified tier full, dropping proof %s", id.String())
			continue
		}
		m.verified[id] = &verifiedEntry{proof: proof, result: result}
		promoted++
	}
	return promoted
}

// SelectBatch returns up to maxN verified proofs, totalling at most
// maxBytes of payload, ordered greedily by (difficulty desc,
// submitted_at_ns asc, proof.id asc) — spec.md §4.1's total-determinism
// ordering so every honest replica derives the identical batch from the
// identical verified set.
func (m *Mempool) SelectBatch(maxN, maxBytes int) []*types.Proof {
	m.mu.RLock()
	candidates := make([]*verifiedEntry, 0, len(m.verified))
	for _, e := range m.verified {
		candidates = append(candidates, e)
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.result.Difficulty != b.result.Difficulty {
			return a.result.Difficulty > b.result.Difficulty
		}
		if a.proof.SubmittedAtNS != b.proof.SubmittedAtNS {
			return a.proof.SubmittedAtNS < b.proof.SubmittedAtNS
		}
		return lessHash(a.proof.ID, b.proof.ID)
	})

	var batch []*types.Proof
	totalBytes := 0
	for _, e := range candidates {
		if maxN > 0 && len(batch) >= maxN {
			break
		}
		size := len(e.proof.Payload)
		if maxBytes > 0 && totalBytes+size > maxBytes {
			continue
		}
		batch = append(batch, e.proof)
		totalBytes += size
	}
	return batch
}

// OnCommitted removes every proof referenced by block from the verified
// tier (committed proofs are never reselected) and records them as
// known so a resubmission is rejected as a duplicate.
func (m *Mempool) OnCommitted(block *types.ProofBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range block.Proofs {
		delete(m.verified, p.ID)
		delete(m.unverified, p.ID)
		m.known[p.ID] = struct{}{}
		m.totalCommitted++
	}
	m.logger.Printf("committed height=%d removed %d proofs from mempool", block.Height, len(block.Proofs))
}

// Stats reports mempool admission counters, primarily for metrics export.
type Stats struct {
	UnverifiedCount int
	VerifiedCount   int
	TotalAccepted   int64
	TotalRejected   int64
	TotalCommitted  int64
}

// Stats returns a point-in-time snapshot of the mempool's counters.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		UnverifiedCount: len(m.unverified),
		VerifiedCount:   len(m.verified),
		TotalAccepted:   m.totalAccepted,
		TotalRejected:   m.totalRejected,
		TotalCommitted:  m.totalCommitted,
	}
}

func lessHash(a, b hash.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
