// Copyright 2025 Certen Protocol
//
// Broadcaster is the outbound half of the network façade (spec.md §4.5)
// that the consensus task depends on. pkg/pop/network implements it over
// the abstract Transport; consensus never imports network directly,
// avoiding an import cycle and keeping the engine transport-agnostic.

package consensus

import "github.com/certen/pop-consensus/pkg/pop/types"

// Broadcaster is the minimal send surface the consensus task needs.
type Broadcaster interface {
	BroadcastPrePrepare(*types.PrePrepare)
	BroadcastPrepare(*types.Prepare)
	BroadcastCommit(*types.Commit)
	BroadcastViewChange(*types.ViewChange)
	BroadcastNewView(*types.NewView)
	BroadcastEvidence(*types.Evidence)
}
