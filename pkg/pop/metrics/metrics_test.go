// Copyright 2025 Certen Protocol

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/certen/pop-consensus/pkg/pop/consensus"
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

func TestNew_RegistersEveryCollectorOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, c)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNew_FailsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestSink_OnCommit_UpdatesHeightViewAndCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	sink := NewSink(consensus.NopEventSink{}, c)

	block := &types.ProofBlock{Height: 7, View: 2}
	sink.OnCommit(block, types.StateTransition{}, &types.CommitCertificate{}, nil)

	require.Equal(t, float64(7), gaugeValue(t, c.Height))
	require.Equal(t, float64(2), gaugeValue(t, c.View))
	require.Equal(t, float64(1), counterValue(t, c.Commits))
}

func TestSink_OnEquivocation_IncrementsEquivocationCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	sink := NewSink(consensus.NopEventSink{}, c)

	var replica types.PublicKey
	sink.OnEquivocation(1, 0, consensus.EquivocationPrepare, replica, hash.Hash{1}, types.Signature{}, hash.Hash{2}, types.Signature{})

	require.Equal(t, float64(1), counterValue(t, c.Equivocation))
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
