// Copyright 2025 Certen Protocol
//
// Conservation checker (spec.md §4.2, invariant I4): computes the
// per-domain resource delta a candidate writes set would produce, and
// decides whether the transition is conservation-valid.

package state

import (
	"github.com/certen/pop-consensus/pkg/pop/hash"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// MintBurnAuthorityDomain is the domain reserved for keys whose
// resource_weight changes are explicitly authorised (signed mint/burn).
// IsConservationValid does not inspect it: a domain is exempt from the
// zero-delta requirement only when it is in the authorizedDomains argument.
const MintBurnAuthorityDomain = uint8(0xFF)

// ResourceDelta computes resource_delta_per_domain for writes: the sum of
// new.resource_weight - old.resource_weight for every touched key, keyed
// by the key's domain.
func ResourceDelta(writes []types.Write) map[uint8]hash.Int128 {
	delta := make(map[uint8]hash.Int128)
	for _, w := range writes {
		var oldW, newW hash.Int128
		if w.OldValue != nil {
			oldW = w.OldValue.ResourceWeight
		}
		if w.NewValue != nil {
			newW = w.NewValue.ResourceWeight
		}
		d := delta[w.Key.Domain]
		delta[w.Key.Domain] = d.Add(newW).Sub(oldW)
	}
	return delta
}

// IsConservationValid reports whether every conserved domain's delta is
// zero, given the set of domains that are conserved and the set of
// domains for which this exact writes set carries a mint/burn
// authorization (spec.md §4.2). A domain absent from conservedDomains is
// not subject to the invariant at all (spec.md §3: "resource_weight ...
// may be 0 for non-conserved keys").
func IsConservationValid(writes []types.Write, conservedDomains map[uint8]bool, authorizedDomains map[uint8]bool) (map[uint8]hash.Int128, bool) {
	delta := ResourceDelta(writes)
	for domain, d := range delta {
		if !conservedDomains[domain] {
			continue
		}
		if d.IsZero() {
			continue
		}
		if authorizedDomains[domain] {
			continue
		}
		return delta, false
	}
	return delta, true
}
