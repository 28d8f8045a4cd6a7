// Copyright 2025 Certen Protocol
//
// Replica status surface (spec.md §6: "Replica exposes a status channel
// with {Healthy, Lagging, ViewChanging, Overloaded, Fatal}").

package consensus

import "fmt"

// StatusKind enumerates the replica's externally visible health states.
type StatusKind int

const (
	Healthy StatusKind = iota
	Lagging
	ViewChangingStatus
	Overloaded
	Fatal
)

// Status is a point-in-time health report.
type Status struct {
	Kind         StatusKind
	LocalHeight  uint64
	ObservedHeight uint64 // meaningful only when Kind == Lagging
	View         uint64
	NewView      uint64 // meaningful only when Kind == ViewChangingStatus
	Reason       string // meaningful only when Kind == Fatal
}

func (s Status) String() string {
	switch s.Kind {
	case Healthy:
		return "Healthy"
	case Lagging:
		return fmt.Sprintf("Lagging(local=%d, observed=%d)", s.LocalHeight, s.ObservedHeight)
	case ViewChangingStatus:
		return fmt.Sprintf("ViewChanging(h=%d, v->%d)", s.LocalHeight, s.NewView)
	case Overloaded:
		return "Overloaded"
	case Fatal:
		return fmt.Sprintf("Fatal(%s)", s.Reason)
	default:
		return "Unknown"
	}
}
