// Copyright 2025 Certen Protocol

package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerSet_AddAndMarkLiveness(t *testing.T) {
	s := NewPeerSet()
	var a, b PeerID
	a[0], b[0] = 1, 2

	s.Add(Peer{ID: a, Endpoint: "peer-a:9000"})
	s.Add(Peer{ID: b, Endpoint: "peer-b:9000"})
	require.Len(t, s.IDs(), 2)
	require.Len(t, s.Active(), 2) // Add marks newly-registered peers active

	s.MarkInactive(b)
	active := s.Active()
	require.Len(t, active, 1)
	require.Equal(t, a, active[0].ID)
}

func TestPeerSet_Remove(t *testing.T) {
	s := NewPeerSet()
	var a PeerID
	a[0] = 1
	s.Add(Peer{ID: a})
	require.Len(t, s.IDs(), 1)

	s.Remove(a)
	require.Empty(t, s.IDs())
}

func TestPeerSet_AddReplacesExistingEntry(t *testing.T) {
	s := NewPeerSet()
	var a PeerID
	a[0] = 1
	s.Add(Peer{ID: a, Endpoint: "old"})
	s.Add(Peer{ID: a, Endpoint: "new"})

	all := s.All()
	require.Len(t, all, 1)
	require.Equal(t, "new", all[0].Endpoint)
}
