// Copyright 2025 Certen Protocol

package state

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(dbm.NewMemDB(), 100)
}

func key(domain uint8, id string) types.StateKey {
	return types.StateKey{Domain: domain, ID: []byte(id)}
}

func value(data string, weight int64) types.StateValue {
	return types.StateValue{Data: []byte(data), ResourceWeight: hash.Int128FromInt64(weight)}
}

func TestStore_EmptyRootIsWellKnown(t *testing.T) {
	s1 := newTestStore(t)
	s2 := newTestStore(t)
	require.Equal(t, s1.Root(), s2.Root(), "two fresh stores must start at the same empty root")
	require.Equal(t, emptyHashes[depth], s1.Root())
}

func TestStore_ApplyAndGet(t *testing.T) {
	s := newTestStore(t)
	k := key(1, "alice")
	v := value("balance:100", 100)

	_, err := s.Apply([]types.Write{{Key: k, NewValue: &v}})
	require.NoError(t, err)

	got, err := s.Get(k)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, v.Data, got.Data)

	missing, err := s.Get(key(1, "bob"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStore_ApplyOrderIndependentRoot(t *testing.T) {
	writesA := []types.Write{
		{Key: key(1, "a"), NewValue: ptr(value("va", 1))},
		{Key: key(1, "b"), NewValue: ptr(value("vb", -1))},
		{Key: key(1, "c"), NewValue: ptr(value("vc", 0))},
	}
	writesB := []types.Write{writesA[2], writesA[0], writesA[1]}

	s1 := newTestStore(t)
	root1, err := s1.Apply(writesA)
	require.NoError(t, err)

	s2 := newTestStore(t)
	root2, err := s2.Apply(writesB)
	require.NoError(t, err)

	require.Equal(t, root1, root2, "post_root must not depend on write insertion order")
}

func TestStore_ReapplySameWritesIsIdempotent(t *testing.T) {
	writes := []types.Write{{Key: key(1, "a"), NewValue: ptr(value("va", 1))}}

	s := newTestStore(t)
	root1, err := s.Apply(writes)
	require.NoError(t, err)

	root2, err := s.Simulate(writes)
	require.NoError(t, err)
	require.Equal(t, root1, root2)
}

func TestStore_InclusionProof_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	k := key(2, "proof-key")
	v := value("payload", 0)

	_, err := s.Apply([]types.Write{{Key: k, NewValue: &v}})
	require.NoError(t, err)

	proof, err := s.ProveInclusion(k)
	require.NoError(t, err)
	require.True(t, VerifyInclusion(s.Root(), k, &v, proof))

	wrongValue := value("other", 0)
	require.False(t, VerifyInclusion(s.Root(), k, &wrongValue, proof))
}

func TestStore_InclusionProof_AbsenceIsVerifiable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply([]types.Write{{Key: key(1, "present"), NewValue: ptr(value("v", 0))}})
	require.NoError(t, err)

	absentKey := key(1, "absent")
	proof, err := s.ProveInclusion(absentKey)
	require.NoError(t, err)
	require.True(t, VerifyInclusion(s.Root(), absentKey, nil, proof))
}

func TestStore_SnapshotAndRollback(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Apply([]types.Write{{Key: key(1, "a"), NewValue: ptr(value("v1", 0))}})
	require.NoError(t, err)
	snap, err := s.SnapshotAt(s.Height())
	require.NoError(t, err)

	_, err = s.Apply([]types.Write{{Key: key(1, "a"), NewValue: ptr(value("v2", 0))}})
	require.NoError(t, err)

	got, err := s.Get(key(1, "a"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got.Data)

	require.NoError(t, s.Rollback(snap))
	got, err = s.Get(key(1, "a"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Data)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	k := key(1, "a")
	_, err := s.Apply([]types.Write{{Key: k, NewValue: ptr(value("v1", 0))}})
	require.NoError(t, err)

	_, err = s.Apply([]types.Write{{Key: k, OldValue: ptr(value("v1", 0)), NewValue: nil}})
	require.NoError(t, err)

	got, err := s.Get(k)
	require.NoError(t, err)
	require.Nil(t, got)
}

func ptr(v types.StateValue) *types.StateValue { return &v }
