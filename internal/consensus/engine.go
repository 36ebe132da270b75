// Package consensus implements pogsim's four pluggable consensus
// engines behind one capability interface: PoS, PoW, Minotaur and PoG.
// Dispatch is dynamic per simulation run; each variant owns its internal
// fields and no state is shared between them.
package consensus

import (
	"errors"

	"github.com/pog-sim/pogsim/internal/chain"
)

// ErrNoValidator is returned by SelectProposer when no eligible
// validator exists for the given slot (empty validator set, or every
// candidate failed its engine-specific eligibility check).
var ErrNoValidator = errors.New("consensus: no eligible validator")

// Validator is a participant's consensus-relevant state: address, stake,
// and the hash-power scale used by the PoW and Minotaur simulations.
type Validator struct {
	Address   string
	Stake     float64
	HashPower float64
}

// Engine is the capability set every consensus variant implements:
// select a proposer, react to epoch boundaries, distribute rewards,
// summarize state for logging/metrics, and advance to the next slot.
type Engine interface {
	// SelectProposer elects a proposer deterministically given a
	// validator-set snapshot, a 32-byte seed and the current chain.
	SelectProposer(validators []Validator, seed [32]byte, ch *chain.Blockchain) (Validator, error)

	// OnEpochEnd updates internal parameters (NTD, PoW difficulty,
	// Minotaur weights, PoG omega) from the just-closed epoch's blocks.
	OnEpochEnd(blocksOfClosedEpoch []*chain.Block)

	// DistributeRewards computes stake deltas for validators given a
	// produced block, keyed by validator address.
	DistributeRewards(b *chain.Block, validators []Validator) map[string]float64

	// StateSummary renders a short debug string, e.g. "pog(ntd=3, omega=0.5)".
	StateSummary() string

	// NextSlot lets engines with continuous background work (Minotaur's
	// mining threads) advance their per-slot bookkeeping independent of
	// proposer election, called once per slot regardless of who proposes.
	NextSlot(validators []Validator, blockIndex uint64)
}
