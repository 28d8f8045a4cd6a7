// Copyright 2025 Certen Protocol
//
// Gossip is flood broadcast with duplicate suppression keyed by message
// hash (spec.md §4.5). The dedup cache's TTL-based eviction is modelled
// on the teacher's pkg/batch/consensus_coordinator.go cleanupOldEntries
// sweep; fanout/quorum bookkeeping follows pkg/batch/attestation_broadcaster.go.

package network

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/hash"
)

// Config tunes Gossip's dedup cache and, for transports that honor it, a
// fanout hint (spec.md §6's gossip_fanout, gossip_ttl).
type Config struct {
	TTL    time.Duration // how long a message hash is remembered
	Fanout int           // advisory peer count per round; 0 means "all peers"
	Logger *log.Logger
}

// DefaultConfig returns conservative gossip tunables.
func DefaultConfig() Config {
	return Config{
		TTL:    5 * time.Minute,
		Fanout: 8,
		Logger: log.New(log.Writer(), "[Gossip] ", log.LstdFlags),
	}
}

// Gossip wraps a Transport with duplicate suppression so a message
// flooded through a fully-connected mesh is only re-broadcast, and only
// delivered to the local subscriber, once.
type Gossip struct {
	mu        sync.Mutex
	transport Transport
	cfg       Config
	seen      map[hash.Hash]time.Time
}

// New wraps transport with dedup/TTL behaviour.
func New(transport Transport, cfg Config) *Gossip {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Gossip] ", log.LstdFlags)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Gossip{transport: transport, cfg: cfg, seen: make(map[hash.Hash]time.Time)}
}

// Publish floods payload under topic, skipping the send entirely if an
// identical payload was already published within the dedup TTL.
func (g *Gossip) Publish(ctx context.Context, topic string, payload []byte) error {
	h := hash.Sum256(payload)

	g.mu.Lock()
	if _, dup := g.seen[h]; dup {
		g.mu.Unlock()
		return nil
	}
	g.seen[h] = time.Now()
	g.pruneLocked()
	g.mu.Unlock()

	return g.transport.Broadcast(ctx, topic, payload)
}

// Deliver reports payload as received from the network, without
// re-broadcasting it. It returns false if payload is a duplicate the
// caller should not process further — the same dedup cache Publish uses,
// so a message this replica itself originated is never re-delivered to
// its own handlers after bouncing off a peer.
func (g *Gossip) Deliver(payload []byte) bool {
	h := hash.Sum256(payload)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[h]; dup {
		return false
	}
	g.seen[h] = time.Now()
	g.pruneLocked()
	return true
}

// pruneLocked evicts dedup entries older than cfg.TTL. Callers hold mu.
func (g *Gossip) pruneLocked() {
	cutoff := time.Now().Add(-g.cfg.TTL)
	for h, seenAt := range g.seen {
		if seenAt.Before(cutoff) {
			delete(g.seen, h)
		}
	}
}

// Peers delegates to the underlying transport.
func (g *Gossip) Peers() []PeerID { return g.transport.Peers() }

// Subscribe wraps the underlying transport's subscription, filtering out
// payloads this Gossip has already seen (via Publish or an earlier
// Deliver) before handing them to the caller. The returned channel is
// closed, and the unsubscribe func is a no-op to call twice, once the
// transport's own subscription closes.
func (g *Gossip) Subscribe(topic string) (<-chan []byte, func(), error) {
	raw, unsub, err := g.transport.Subscribe(topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for payload := range raw {
			if !g.Deliver(payload) {
				continue
			}
			out <- payload
		}
	}()
	return out, unsub, nil
}
