// Copyright 2025 Certen Protocol
//
// simnet is a deterministic, in-process network.Transport used by the
// end-to-end scenario tests (spec.md §8): partitions, per-peer silence,
// and a synchronous (no real sleeping) delivery model so tests run fast
// and repeatably. Modelled in spirit on
// other_examples/...byzantine-simulation_test.go's PartitionedNetwork
// (named partitions of peer IDs, an explicit Heal step) generalised from
// that file's ad-hoc int validator IDs to this module's
// network.Transport/PeerID contract, and on the teacher's
// pkg/batch/peer_manager.go for the mutex-guarded registry shape.

package simnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/certen/pop-consensus/pkg/pop/network"
)

// Network is a shared in-process message bus for every Node joined to it.
type Network struct {
	mu sync.Mutex

	nodes     map[network.PeerID]*Node
	partition map[network.PeerID]int // peer -> partition index; default 0
	silenced  map[network.PeerID]bool
}

// NewNetwork creates an empty bus with every future peer in partition 0
// (i.e. no partition until Partition is called).
func NewNetwork() *Network {
	return &Network{
		nodes:     make(map[network.PeerID]*Node),
		partition: make(map[network.PeerID]int),
		silenced:  make(map[network.PeerID]bool),
	}
}

// Join registers id on the bus and returns its network.Transport.
func (n *Network) Join(id network.PeerID) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	node := &Node{id: id, net: n, subs: make(map[string][]chan []byte)}
	n.nodes[id] = node
	return node
}

// Partition splits the bus into disjoint groups; peers in different
// groups no longer observe each other's Broadcast/Send until Heal.
// Peers not named in any group keep partition 0.
func (n *Network) Partition(groups ...[]network.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partition = make(map[network.PeerID]int)
	for gi, group := range groups {
		for _, id := range group {
			n.partition[id] = gi + 1
		}
	}
}

// Heal merges every partition back into one.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partition = make(map[network.PeerID]int)
}

// Silence makes id's outbound messages vanish — modelling a crashed or
// censoring Byzantine peer (spec.md §4.4's silence class) without
// removing it from the committee.
func (n *Network) Silence(id network.PeerID, silenced bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silenced[id] = silenced
}

func (n *Network) samePartition(a, b network.PeerID) bool {
	return n.partition[a] == n.partition[b]
}

func (n *Network) deliver(from network.PeerID, to *Node, topic string, payload []byte) {
	to.mu.Lock()
	defer to.mu.Unlock()
	for _, ch := range to.subs[topic] {
		select {
		case ch <- payload:
		default: // a slow/full subscriber drops the message rather than blocking the sender
		}
	}
}

// Node is one peer's view of the Network; it implements network.Transport.
type Node struct {
	id  network.PeerID
	net *Network

	mu          sync.Mutex
	subs        map[string][]chan []byte
	syncHandler SyncHandler
}

var _ network.Transport = (*Node)(nil)

func (node *Node) Broadcast(ctx context.Context, topic string, payload []byte) error {
	n := node.net
	n.mu.Lock()
	if n.silenced[node.id] {
		n.mu.Unlock()
		return nil
	}
	targets := make([]*Node, 0, len(n.nodes))
	for id, peer := range n.nodes {
		if id == node.id || !n.samePartition(node.id, id) {
			continue
		}
		targets = append(targets, peer)
	}
	n.mu.Unlock()

	for _, peer := range targets {
		n.deliver(node.id, peer, topic, payload)
	}
	return nil
}

func (node *Node) Send(ctx context.Context, peer network.PeerID, topic string, payload []byte) error {
	n := node.net
	n.mu.Lock()
	if n.silenced[node.id] {
		n.mu.Unlock()
		return nil
	}
	target, ok := n.nodes[peer]
	samePartition := n.samePartition(node.id, peer)
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("simnet: unknown peer %x", peer)
	}
	if !samePartition {
		return nil // silently dropped, mirroring a real partitioned link timing out
	}
	n.deliver(node.id, target, topic, payload)
	return nil
}

func (node *Node) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	node.mu.Lock()
	node.subs[topic] = append(node.subs[topic], ch)
	node.mu.Unlock()

	unsub := func() {
		node.mu.Lock()
		defer node.mu.Unlock()
		subs := node.subs[topic]
		for i, c := range subs {
			if c == ch {
				node.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub, nil
}

func (node *Node) Peers() []network.PeerID {
	n := node.net
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]network.PeerID, 0, len(n.nodes)-1)
	for id := range n.nodes {
		if id != node.id {
			ids = append(ids, id)
		}
	}
	return ids
}
