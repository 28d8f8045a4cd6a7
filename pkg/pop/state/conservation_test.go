// Copyright 2025 Certen Protocol

package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

func TestResourceDelta_SumsPerDomain(t *testing.T) {
	writes := []types.Write{
		{Key: key(1, "a"), OldValue: ptr(value("x", 10)), NewValue: ptr(value("y", 4))},
		{Key: key(1, "b"), NewValue: ptr(value("z", 6))},
		{Key: key(2, "c"), NewValue: ptr(value("w", 100))},
	}
	delta := ResourceDelta(writes)
	require.True(t, delta[1].IsZero(), "domain 1 nets to zero: (4-10) + (6-0)")
	require.Equal(t, hash.Int128FromInt64(100), delta[2])
}

func TestIsConservationValid_RejectsNonZeroDelta(t *testing.T) {
	writes := []types.Write{
		{Key: key(1, "a"), NewValue: ptr(value("x", 5))},
	}
	conserved := map[uint8]bool{1: true}
	_, ok := IsConservationValid(writes, conserved, nil)
	require.False(t, ok)
}

func TestIsConservationValid_AllowsAuthorizedMintBurn(t *testing.T) {
	writes := []types.Write{
		{Key: key(MintBurnAuthorityDomain, "mint-auth"), NewValue: ptr(value("ok", 0))},
		{Key: key(1, "a"), NewValue: ptr(value("x", 5))},
	}
	conserved := map[uint8]bool{1: true}
	authorized := map[uint8]bool{1: true}
	_, ok := IsConservationValid(writes, conserved, authorized)
	require.True(t, ok)
}

func TestIsConservationValid_IgnoresNonConservedDomains(t *testing.T) {
	writes := []types.Write{
		{Key: key(9, "a"), NewValue: ptr(value("x", 5))},
	}
	_, ok := IsConservationValid(writes, map[uint8]bool{1: true}, nil)
	require.True(t, ok)
}
