// Copyright 2025 Certen Protocol
//
// Transport is the abstract network façade (spec.md §4.5): "the core is
// indifferent to the underlying transport and must be runnable against
// both a production P2P layer and a deterministic simulation harness".
// Nothing in pkg/pop/consensus imports this package; wiring happens one
// level up, in cmd/popnode.

package network

import (
	"context"
	"errors"

	"github.com/certen/pop-consensus/pkg/pop/types"
)

// PeerID identifies a network peer. Every consensus participant's PeerID
// is its committee PublicKey, so gossip and state-sync peer selection can
// reuse consensus.Config's committee membership checks directly.
type PeerID = types.PublicKey

// ErrUnknownPeer is returned by Send when the peer is not known to the
// transport.
var ErrUnknownPeer = errors.New("network: unknown peer")

// ErrClosed is returned once a transport or subscription has been closed.
var ErrClosed = errors.New("network: transport closed")

// Transport is the minimal send/receive contract spec.md §4.5 names:
// `{broadcast(topic, msg), send(peer, msg), subscribe(topic) -> stream,
// peers() -> set<PeerId>}`.
type Transport interface {
	// Broadcast floods payload to every known peer under topic.
	Broadcast(ctx context.Context, topic string, payload []byte) error

	// Send delivers payload to exactly one peer.
	Send(ctx context.Context, peer PeerID, topic string, payload []byte) error

	// Subscribe returns a channel of inbound payloads published under
	// topic, plus an unsubscribe func. The channel is closed when the
	// transport shuts down.
	Subscribe(topic string) (<-chan []byte, func(), error)

	// Peers returns the transport's currently known peer set.
	Peers() []PeerID
}

// Topic names for the five consensus message kinds plus state sync and
// Byzantine evidence, matching spec.md §3's message catalogue and §4.4's
// "gossiped the same way consensus messages are".
const (
	TopicPrePrepare = "pop/pre-prepare"
	TopicPrepare    = "pop/prepare"
	TopicCommit     = "pop/commit"
	TopicViewChange = "pop/view-change"
	TopicNewView    = "pop/new-view"
	TopicEvidence   = "pop/evidence"
	TopicProof      = "pop/proof"
	TopicSyncReq    = "pop/sync-request"
	TopicSyncResp   = "pop/sync-response"
)
