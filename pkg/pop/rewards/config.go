// Copyright 2025 Certen Protocol
//
// Reward and slash configuration (spec.md §4.4, §6's reward_alpha,
// reward_beta, slash_eq, slash_inv, slash_cons).

package rewards

import "log"

// Config holds the tunables spec.md §6 enumerates for reward scoring and
// the Byzantine classifier.
type Config struct {
	Alpha float64 // weight on Σ difficulty(proof) for each contributing preparer
	Beta  float64 // weight on the proposer's leader_bonus

	SlashEquivocation       uint64
	SlashInvalidProposal    uint64
	SlashConservationFailed uint64

	// SilenceStreak is k_silence: consecutive missed leader turns before
	// a replica's soft penalty engages.
	SilenceStreak int

	// ConservedDomains and AuthorizedDomains mirror the deployment's
	// consensus.Config fields of the same name: the domain set
	// blockViolatesConservationLocked re-checks committed
	// conservation-failure evidence against, so the re-check agrees with
	// what validateProposalLocked would have required at proposal time.
	ConservedDomains  map[uint8]bool
	AuthorizedDomains map[uint8]bool

	Logger *log.Logger
}

// DefaultConfig matches the reference weights used throughout spec.md §8's
// worked scenarios: Alpha 1.0 on difficulty and Beta 10.0 on the leader
// bonus, slashes large enough to dominate any plausible accumulated reward.
func DefaultConfig() Config {
	return Config{
		Alpha:                   1.0,
		Beta:                    10.0,
		SlashEquivocation:       1_000_000,
		SlashInvalidProposal:    500_000,
		SlashConservationFailed: 500_000,
		SilenceStreak:           3,
		Logger:                 log.New(log.Writer(), "[Rewards] ", log.LstdFlags),
	}
}
