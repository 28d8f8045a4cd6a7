// Copyright 2025 Certen Protocol

package simnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/network"
)

func TestNetwork_BroadcastReachesEveryOtherPeer(t *testing.T) {
	net := NewNetwork()
	var a, b, c network.PeerID
	a[0], b[0], c[0] = 1, 2, 3
	nodeA, nodeB, nodeC := net.Join(a), net.Join(b), net.Join(c)

	chB, _, err := nodeB.Subscribe("t")
	require.NoError(t, err)
	chC, _, err := nodeC.Subscribe("t")
	require.NoError(t, err)

	require.NoError(t, nodeA.Broadcast(context.Background(), "t", []byte("hi")))
	require.Equal(t, []byte("hi"), <-chB)
	require.Equal(t, []byte("hi"), <-chC)
}

func TestNetwork_PartitionBlocksCrossGroupDelivery(t *testing.T) {
	net := NewNetwork()
	var a, b network.PeerID
	a[0], b[0] = 1, 2
	nodeA, nodeB := net.Join(a), net.Join(b)

	net.Partition([]network.PeerID{a}, []network.PeerID{b})

	chB, _, err := nodeB.Subscribe("t")
	require.NoError(t, err)
	require.NoError(t, nodeA.Broadcast(context.Background(), "t", []byte("hi")))

	select {
	case <-chB:
		t.Fatal("expected no delivery across a partition boundary")
	default:
	}

	net.Heal()
	require.NoError(t, nodeA.Broadcast(context.Background(), "t", []byte("hi")))
	require.Equal(t, []byte("hi"), <-chB)
}

func TestNetwork_SilencedNodeSendsNothing(t *testing.T) {
	net := NewNetwork()
	var a, b network.PeerID
	a[0], b[0] = 1, 2
	nodeA, nodeB := net.Join(a), net.Join(b)
	chB, _, err := nodeB.Subscribe("t")
	require.NoError(t, err)

	net.Silence(a, true)
	require.NoError(t, nodeA.Broadcast(context.Background(), "t", []byte("hi")))

	select {
	case <-chB:
		t.Fatal("expected no delivery from a silenced node")
	default:
	}
}

func TestNetwork_SyncPeerFor_FailsAcrossPartitionAndSucceedsWithinOne(t *testing.T) {
	net := NewNetwork()
	var a, b network.PeerID
	a[0], b[0] = 1, 2
	net.Join(a)
	nodeB := net.Join(b)

	want := &network.SyncResponse{}
	nodeB.SetSyncHandler(func(ctx context.Context, req network.SyncRequest) (*network.SyncResponse, error) {
		return want, nil
	})

	peer := net.SyncPeerFor(a, b)
	resp, err := peer.RequestRange(context.Background(), network.SyncRequest{})
	require.NoError(t, err)
	require.Same(t, want, resp)

	net.Partition([]network.PeerID{a}, []network.PeerID{b})
	_, err = peer.RequestRange(context.Background(), network.SyncRequest{})
	require.Error(t, err)
}
