// Copyright 2025 Certen Protocol
//
// PopBroadcaster adapts Gossip to consensus.Broadcaster: it JSON-encodes
// each signed consensus message (the same wire convention the teacher's
// pkg/batch/attestation_broadcaster.go uses for its HTTP payloads) and
// floods it under the message kind's topic.

package network

import (
	"context"
	"encoding/json"
	"log"

	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// PopBroadcaster implements consensus.Broadcaster over a Gossip instance.
type PopBroadcaster struct {
	gossip *Gossip
	logger *log.Logger
}

// NewPopBroadcaster wraps gossip for use as a Replica's outbound channel.
func NewPopBroadcaster(gossip *Gossip, logger *log.Logger) *PopBroadcaster {
	if logger == nil {
		logger = log.New(log.Writer(), "[Broadcaster] ", log.LstdFlags)
	}
	return &PopBroadcaster{gossip: gossip, logger: logger}
}

var _ consensus.Broadcaster = (*PopBroadcaster)(nil)

func (b *PopBroadcaster) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Printf("failed to encode %s: %v", topic, err)
		return
	}
	if err := b.gossip.Publish(context.Background(), topic, payload); err != nil {
		b.logger.Printf("failed to publish %s: %v", topic, err)
	}
}

func (b *PopBroadcaster) BroadcastPrePrepare(m *types.PrePrepare) { b.publish(TopicPrePrepare, m) }
func (b *PopBroadcaster) BroadcastPrepare(m *types.Prepare)       { b.publish(TopicPrepare, m) }
func (b *PopBroadcaster) BroadcastCommit(m *types.Commit)         { b.publish(TopicCommit, m) }
func (b *PopBroadcaster) BroadcastViewChange(m *types.ViewChange) { b.publish(TopicViewChange, m) }
func (b *PopBroadcaster) BroadcastNewView(m *types.NewView)       { b.publish(TopicNewView, m) }
func (b *PopBroadcaster) BroadcastEvidence(m *types.Evidence)     { b.publish(TopicEvidence, m) }
