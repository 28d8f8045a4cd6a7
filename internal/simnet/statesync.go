// Copyright 2025 Certen Protocol
//
// In-process network.SyncPeer over the same Network bus, for state-sync
// scenario tests (spec.md §8's "network partition / state sync" case).

package simnet

import (
	"context"
	"fmt"

	"github.com/certen/pop-consensus/pkg/pop/network"
)

// SyncHandler answers a RequestRange call for one node's local chain.
type SyncHandler func(ctx context.Context, req network.SyncRequest) (*network.SyncResponse, error)

// SetSyncHandler installs the function that answers RequestRange calls
// directed at this node.
func (node *Node) SetSyncHandler(h SyncHandler) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.syncHandler = h
}

// SyncPeerFor returns a network.SyncPeer that, from caller's vantage
// point, queries target — honoring the current partition (a query across
// a partition boundary fails the way a real dead link would).
func (n *Network) SyncPeerFor(caller, target network.PeerID) network.SyncPeer {
	return &syncPeer{net: n, caller: caller, target: target}
}

type syncPeer struct {
	net            *Network
	caller, target network.PeerID
}

func (p *syncPeer) PeerID() network.PeerID { return p.target }

func (p *syncPeer) RequestRange(ctx context.Context, req network.SyncRequest) (*network.SyncResponse, error) {
	n := p.net
	n.mu.Lock()
	target, ok := n.nodes[p.target]
	reachable := ok && n.samePartition(p.caller, p.target) && !n.silenced[p.target]
	n.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("simnet: unknown peer %x", p.target)
	}
	if !reachable {
		return nil, fmt.Errorf("simnet: peer %x unreachable (partitioned or silenced)", p.target)
	}

	target.mu.Lock()
	handler := target.syncHandler
	target.mu.Unlock()
	if handler == nil {
		return nil, fmt.Errorf("simnet: peer %x has no sync handler installed", p.target)
	}
	return handler(ctx, req)
}
