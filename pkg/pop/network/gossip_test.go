// Copyright 2025 Certen Protocol

package network

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport: Broadcast fans a payload out
// to every subscriber of topic, synchronously.
type fakeTransport struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
	self PeerID
	ids  []PeerID
}

func newFakeTransport(self PeerID, ids []PeerID) *fakeTransport {
	return &fakeTransport{subs: make(map[string][]chan []byte), self: self, ids: ids}
}

func (f *fakeTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		ch <- payload
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, peer PeerID, topic string, payload []byte) error {
	return f.Broadcast(ctx, topic, payload)
}

func (f *fakeTransport) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, func() {}, nil
}

func (f *fakeTransport) Peers() []PeerID { return f.ids }

func TestGossip_Publish_SuppressesDuplicate(t *testing.T) {
	var self PeerID
	tr := newFakeTransport(self, nil)
	g := New(tr, DefaultConfig())

	ch, _, err := tr.Subscribe("topic")
	require.NoError(t, err)

	require.NoError(t, g.Publish(context.Background(), "topic", []byte("hello")))
	require.NoError(t, g.Publish(context.Background(), "topic", []byte("hello"))) // duplicate, suppressed

	require.Len(t, ch, 1)
}

func TestGossip_Deliver_RejectsAlreadySeenPayload(t *testing.T) {
	g := New(newFakeTransport(PeerID{}, nil), DefaultConfig())
	require.True(t, g.Deliver([]byte("a")))
	require.False(t, g.Deliver([]byte("a")))
	require.True(t, g.Deliver([]byte("b")))
}

func TestGossip_Subscribe_FiltersDuplicatesAcrossPublishAndDeliver(t *testing.T) {
	tr := newFakeTransport(PeerID{}, nil)
	g := New(tr, DefaultConfig())

	out, unsub, err := g.Subscribe("topic")
	require.NoError(t, err)
	defer unsub()

	// Publish originates locally, so Subscribe's own Deliver call must
	// not re-deliver it to the same Gossip's subscriber loop — this
	// models a message that floods back around a mesh. Both copies of
	// "x" are suppressed, so the first payload out is the fresh "y".
	require.NoError(t, g.Publish(context.Background(), "topic", []byte("x")))
	require.NoError(t, tr.Broadcast(context.Background(), "topic", []byte("x")))
	require.NoError(t, tr.Broadcast(context.Background(), "topic", []byte("y")))

	got := <-out
	require.Equal(t, []byte("y"), got)

	select {
	case <-out:
		t.Fatal("expected no second delivery for a duplicate payload")
	default:
	}
}
