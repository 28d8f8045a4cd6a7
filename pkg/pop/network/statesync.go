// Copyright 2025 Certen Protocol
//
// StateSync implements the lagging-replica catch-up path (spec.md §4.5):
// request a height range's blocks and commit certificates from peers one
// at a time, verify every certificate and every transition locally, and
// advance the local store with the first segment that verifies. Segments
// are not gathered from f+1 peers or compared with one another; a single
// peer's verifying segment is accepted. This never bypasses proof verification —
// each proof is re-run through the same Verifier a live replica uses.
//
// SyncPeer's unary request/response shape is modelled directly on the
// teacher's pkg/batch/peer_manager.go SendAttestationRequest(ctx, peer,
// req) (*resp, error): state sync, unlike the flood-gossiped consensus
// messages, is naturally a point-to-point query, so it is layered as its
// own narrow capability rather than forced through the broadcast-shaped
// Transport.

package network

import (
	"context"
	"fmt"
	"log"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/state"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// SyncRequest asks a peer for every block/certificate in [FromHeight,
// ToHeight].
type SyncRequest struct {
	FromHeight uint64
	ToHeight   uint64
}

// SyncResponse carries one contiguous chain segment, blocks and their
// commit certificates in height order.
type SyncResponse struct {
	Blocks []*types.ProofBlock
	Certs  []*types.CommitCertificate
}

// SyncPeer is the point-to-point capability a transport exposes for state
// sync, distinct from the broadcast-shaped Transport the consensus
// messages use.
type SyncPeer interface {
	PeerID() PeerID
	RequestRange(ctx context.Context, req SyncRequest) (*SyncResponse, error)
}

// SyncConfig tunes StateSync's acceptance policy.
type SyncConfig struct {
	Quorum int // committee quorum (2f+1); a cert needs this many distinct signers
	Logger *log.Logger
}

// StateSync drives the catch-up path for one local replica.
type StateSync struct {
	cfg      SyncConfig
	store    *state.Store
	verifier engine.Verifier
	budget   engine.Budget
	writes   engine.WriteExtractor
	committee map[types.PublicKey]struct{}
}

// NewStateSync constructs a StateSync bound to the local store it will
// advance.
func NewStateSync(cfg SyncConfig, store *state.Store, verifier engine.Verifier, budget engine.Budget, writes engine.WriteExtractor, committee []types.PublicKey) *StateSync {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[StateSync] ", log.LstdFlags)
	}
	members := make(map[types.PublicKey]struct{}, len(committee))
	for _, pk := range committee {
		members[pk] = struct{}{}
	}
	return &StateSync{cfg: cfg, store: store, verifier: verifier, budget: budget, writes: writes, committee: members}
}

// Sync requests [fromHeight, toHeight] from peers in order until one
// returns a segment that verifies end to end, then applies it to store.
// It returns the first verification error only if every peer's response
// failed to validate (a malicious or stale peer does not abort the sync,
// it just gets skipped).
func (s *StateSync) Sync(ctx context.Context, peers []SyncPeer, fromHeight, toHeight uint64) error {
	if len(peers) == 0 {
		return fmt.Errorf("network: state sync needs at least one peer")
	}

	var lastErr error
	for _, peer := range peers {
		resp, err := peer.RequestRange(ctx, SyncRequest{FromHeight: fromHeight, ToHeight: toHeight})
		if err != nil {
			lastErr = fmt.Errorf("peer %s: %w", peer.PeerID(), err)
			continue
		}
		if err := s.apply(resp, fromHeight, toHeight); err != nil {
			lastErr = fmt.Errorf("peer %s: %w", peer.PeerID(), err)
			continue
		}
		return nil
	}
	return fmt.Errorf("network: no peer produced a verifiable segment [%d,%d]: %w", fromHeight, toHeight, lastErr)
}

// apply verifies every block/cert pair in resp and, only if the whole
// segment checks out, applies each transition to store in height order.
func (s *StateSync) apply(resp *SyncResponse, fromHeight, toHeight uint64) (err error) {
	want := int(toHeight-fromHeight) + 1
	if len(resp.Blocks) != want || len(resp.Certs) != want {
		return fmt.Errorf("expected %d blocks/certs, got %d/%d", want, len(resp.Blocks), len(resp.Certs))
	}

	// Heights are applied as they verify; if a later height fails, roll the
	// store back so a rejected segment leaves no partial progress behind.
	snap, err := s.store.SnapshotAt(s.store.Height())
	if err != nil {
		return fmt.Errorf("snapshot before apply: %w", err)
	}
	defer func() {
		if err != nil {
			_ = s.store.Rollback(snap)
		}
	}()

	for i, block := range resp.Blocks {
		cert := resp.Certs[i]
		height := fromHeight + uint64(i)
		if block.Height != height || cert.Height != height {
			return fmt.Errorf("height %d: block/cert height mismatch", height)
		}
		if cert.BlockHash != block.Hash() {
			return fmt.Errorf("height %d: certificate references a different block", height)
		}
		if cert.DistinctSigners() < s.cfg.Quorum {
			return fmt.Errorf("height %d: certificate has %d distinct signers, need %d", height, cert.DistinctSigners(), s.cfg.Quorum)
		}
		for _, commit := range cert.Commits {
			if _, ok := s.committee[commit.ReplicaPK]; !ok {
				return fmt.Errorf("height %d: certificate signed by non-committee key", height)
			}
			if !commit.Verify() {
				return fmt.Errorf("height %d: certificate has an invalid commit signature", height)
			}
			if commit.BlockHash != cert.BlockHash {
				return fmt.Errorf("height %d: commit references a different block hash", height)
			}
		}
		if !block.VerifyProposerSignature() {
			return fmt.Errorf("height %d: block proposer signature invalid", height)
		}

		var writes []types.Write
		for _, proof := range block.Proofs {
			if !proof.VerifySignature() {
				return fmt.Errorf("height %d: proof %s has an invalid signature", height, proof.ID)
			}
			result := s.verifier.Verify(proof.Payload, s.budget)
			if !result.Valid {
				return fmt.Errorf("height %d: proof %s does not verify", height, proof.ID)
			}
			writes = append(writes, s.writes.Extract(proof, result)...)
		}

		postRoot, err := s.store.Simulate(writes)
		if err != nil {
			return fmt.Errorf("height %d: simulate failed: %w", height, err)
		}
		if postRoot != block.ExpectedPostRoot {
			return fmt.Errorf("height %d: simulated root does not match block's expected post-root", height)
		}
		if _, err := s.store.Apply(writes); err != nil {
			return fmt.Errorf("height %d: apply failed: %w", height, err)
		}
	}
	return nil
}
