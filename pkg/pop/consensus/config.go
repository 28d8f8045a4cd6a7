// Copyright 2025 Certen Protocol
//
// Replica configuration and leader selection (spec.md §4.3.2, §6).

package consensus

import (
	"log"
	"time"

	"github.com/certen/pop-consensus/pkg/pop/engine"
	"github.com/certen/pop-consensus/pkg/pop/types"
)

// Config is every tunable named in spec.md §6's configuration surface
// that applies to the consensus task.
type Config struct {
	Committee []types.PublicKey // fixed for the epoch; n = len(Committee) = 3f+1

	MaxProofsPerBlock int
	MaxBlockBytes     int
	ClockSkew         time.Duration
	VerifyBudget      engine.Budget

	TimeoutBase time.Duration
	TimeoutMin  time.Duration
	TimeoutMax  time.Duration
	EWMAWindow  int

	ConservedDomains  map[uint8]bool
	AuthorizedDomains map[uint8]bool

	Logger *log.Logger

	// Now, when set, overrides time.Now for every timestamp/timeout
	// decision the replica makes. A deterministic simulation harness
	// (spec.md §4.5) injects a virtual clock here; production leaves it
	// nil and gets wall-clock time.
	Now func() time.Time
}

// DefaultConfig returns a 4-replica (f=1), single-process-friendly
// configuration for tests; Committee must be overwritten with the real
// epoch committee before use.
func DefaultConfig() Config {
	return Config{
		MaxProofsPerBlock: types.DefaultMaxProofsPerBlock,
		MaxBlockBytes:     4 << 20,
		ClockSkew:         5 * time.Second,
		TimeoutBase:       500 * time.Millisecond,
		TimeoutMin:        250 * time.Millisecond,
		TimeoutMax:        30 * time.Second,
		EWMAWindow:        20,
		ConservedDomains:  map[uint8]bool{},
		AuthorizedDomains: map[uint8]bool{},
		Logger:            log.New(log.Writer(), "[Consensus] ", log.LstdFlags),
	}
}

// N returns the committee size.
func (c Config) N() int { return len(c.Committee) }

// F returns the tolerated fault count, derived as (n-1)/3 per spec.md §6.
func (c Config) F() int { return (c.N() - 1) / 3 }

// Quorum returns 2f+1, the vote count required to lock or commit.
func (c Config) Quorum() int { return 2*c.F() + 1 }

// Leader returns the deterministic leader for (height, view):
// committee[(height + view) mod n] per spec.md §4.3.2.
func (c Config) Leader(height, view uint64) types.PublicKey {
	n := uint64(c.N())
	return c.Committee[(height+view)%n]
}

// IndexOf returns pk's index in Committee, or -1 if pk is not a member.
func (c Config) IndexOf(pk types.PublicKey) int {
	for i, m := range c.Committee {
		if m == pk {
			return i
		}
	}
	return -1
}
