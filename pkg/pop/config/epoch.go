// Copyright 2025 Certen Protocol
//
// Epoch file: the structured "config/epoch/{epoch}" record (spec.md §6)
// holding the committee and the per-epoch protocol parameters. A flat env
// var doesn't fit a list of public keys, so this is the one part of the
// configuration surface loaded from a file instead — via gopkg.in/yaml.v3,
// already in the teacher's go.mod.

package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Epoch is the on-disk committee/parameter record for one epoch.
type Epoch struct {
	Epoch     uint64   `yaml:"epoch"`
	Committee []string `yaml:"committee"` // hex-encoded Ed25519 public keys

	ConservedDomains  []uint8 `yaml:"conserved_domains"`
	AuthorizedDomains []uint8 `yaml:"authorized_domains"`
}

// LoadEpoch reads and parses the committee/epoch file at path.
func LoadEpoch(path string) (*Epoch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read epoch file %s: %w", path, err)
	}
	var e Epoch
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("config: parse epoch file %s: %w", path, err)
	}
	if len(e.Committee) == 0 {
		return nil, fmt.Errorf("config: epoch file %s declares an empty committee", path)
	}
	return &e, nil
}

// CommitteeKeys decodes every hex-encoded committee entry into a
// types.PublicKey, in file order — the order leader rotation indexes into
// (spec.md §4.3.2: committee[(h+v) mod n]).
func (e *Epoch) CommitteeKeys() ([]types.PublicKey, error) {
	keys := make([]types.PublicKey, len(e.Committee))
	for i, s := range e.Committee {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("config: committee[%d] is not valid hex: %w", i, err)
		}
		pk, err := types.PublicKeyFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("config: committee[%d]: %w", i, err)
		}
		keys[i] = pk
	}
	return keys, nil
}

// DomainSet turns a flat domain list into the map shape
// consensus.Config.ConservedDomains / AuthorizedDomains expects.
func DomainSet(domains []uint8) map[uint8]bool {
	set := make(map[uint8]bool, len(domains))
	for _, d := range domains {
		set[d] = true
	}
	return set
}
