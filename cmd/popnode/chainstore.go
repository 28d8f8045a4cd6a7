// Copyright 2025 Certen Protocol
//
// chainStore archives every committed block and its commit certificate
// so this node can answer peers' state-sync requests; network.StateSync
// only covers the requesting side, not what a node serves about its own
// history. Kept at the process-wiring layer rather than in pkg/pop/state
// since it is an application concern (the source of truth for sync
// responses), not part of the state trie itself.

package main

import (
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/network"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

type chainStore struct {
	mu sync.RWMutex
	db dbm.DB
}

func newChainStore(db dbm.DB) *chainStore {
	return &chainStore{db: db}
}

type chainRecord struct {
	Block *types.ProofBlock        `json:"block"`
	Cert  *types.CommitCertificate `json:"cert"`
}

func chainDBKey(height uint64) []byte {
	return []byte(fmt.Sprintf("chain/%020d", height))
}

func (c *chainStore) put(height uint64, block *types.ProofBlock, cert *types.CommitCertificate) {
	raw, err := json.Marshal(chainRecord{Block: block, Cert: cert})
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.db.Set(chainDBKey(height), raw)
}

func (c *chainStore) Range(fromHeight, toHeight uint64) network.SyncResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var resp network.SyncResponse
	for h := fromHeight; h <= toHeight; h++ {
		raw, err := c.db.Get(chainDBKey(h))
		if err != nil || raw == nil {
			break
		}
		var rec chainRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			break
		}
		resp.Blocks = append(resp.Blocks, rec.Block)
		resp.Certs = append(resp.Certs, rec.Cert)
	}
	return resp
}

// chainStoreSink decorates a consensus.EventSink, archiving every
// committed block before delegating.
type chainStoreSink struct {
	inner consensus.EventSink
	store *chainStore
}

var _ consensus.EventSink = (*chainStoreSink)(nil)

func newChainStoreSink(inner consensus.EventSink, store *chainStore) *chainStoreSink {
	return &chainStoreSink{inner: inner, store: store}
}

func (s *chainStoreSink) OnEquivocation(height, view uint64, kind consensus.EquivocationKind, replica types.PublicKey, first hash.Hash, firstSig types.Signature, second hash.Hash, secondSig types.Signature) *types.Evidence {
	return s.inner.OnEquivocation(height, view, kind, replica, first, firstSig, second, secondSig)
}

func (s *chainStoreSink) OnInvalidProposal(height, view uint64, leader types.PublicKey, block *types.ProofBlock, reason error) *types.Evidence {
	return s.inner.OnInvalidProposal(height, view, leader, block, reason)
}

func (s *chainStoreSink) OnConservationViolation(height, view uint64, leader types.PublicKey, block *types.ProofBlock) *types.Evidence {
	return s.inner.OnConservationViolation(height, view, leader, block)
}

func (s *chainStoreSink) OnSilence(height, view uint64, leader types.PublicKey) {
	s.inner.OnSilence(height, view, leader)
}

func (s *chainStoreSink) OnCommit(block *types.ProofBlock, transition types.StateTransition, cert *types.CommitCertificate, preparers []types.PublicKey) {
	s.store.put(block.Height, block, cert)
	s.inner.OnCommit(block, transition, cert, preparers)
}
