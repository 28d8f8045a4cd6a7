// Copyright 2025 Certen Protocol
//
// Per-submitter admission quota (spec.md §4.1: "quota check per
// submitter_pk (token-bucket, configurable rate and burst)"). Adapted
// from the teacher's pkg/server RateLimiter, keyed by submitter public
// key instead of client ID and carrying an explicit burst capacity
// separate from the refill rate.

package mempool

import (
	"sync"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/types"
)

// QuotaConfig sets the token-bucket rate and burst shared by every
// submitter tracked by a Quota.
type QuotaConfig struct {
	RatePerSecond float64 // steady-state admission rate per submitter
	Burst         int     // bucket capacity; also the initial token count
}

// DefaultQuotaConfig returns a permissive default suitable for tests and
// single-node development.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{RatePerSecond: 50, Burst: 200}
}

type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

// Quota enforces a token-bucket admission rate per submitter public key.
type Quota struct {
	mu      sync.Mutex
	cfg     QuotaConfig
	buckets map[types.PublicKey]*tokenBucket
}

// NewQuota creates a Quota from cfg.
func NewQuota(cfg QuotaConfig) *Quota {
	return &Quota{cfg: cfg, buckets: make(map[types.PublicKey]*tokenBucket)}
}

// Allow reports whether submitter may submit one more proof right now,
// consuming one token if so.
func (q *Quota) Allow(submitter types.PublicKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.buckets[submitter]
	if !ok {
		b = &tokenBucket{tokens: float64(q.cfg.Burst), lastFill: time.Now()}
		q.buckets[submitter] = b
	}

	elapsed := time.Since(b.lastFill)
	if elapsed > 0 {
		b.tokens = min(b.tokens+elapsed.Seconds()*q.cfg.RatePerSecond, float64(q.cfg.Burst))
		b.lastFill = time.Now()
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Forget drops the bucket for submitter, used when pruning idle quota
// state during compaction.
func (q *Quota) Forget(submitter types.PublicKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.buckets, submitter)
}
