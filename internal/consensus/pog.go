package consensus

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/contribution"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// PoG implements Proof-of-Generosity: leader election weighted by a
// blend of real stake and each validator's measured contribution to
// transaction propagation.
type PoG struct {
	mu sync.Mutex

	NTD        int
	Alpha      float64 // EMA factor, default 0.8
	KSat       float64
	KBase      float64
	Omega      float64 // 0 = pure PoS initially
	BaseReward float64

	scores map[wallet.Address]float64
}

// NewPoG constructs a PoG engine with alpha=0.8, KSat=KBase=1.0, and
// omega starting at 0: a pure-PoS bootstrap while score history is
// still empty.
func NewPoG(ntd int, baseReward float64) *PoG {
	return &PoG{
		NTD:        ntd,
		Alpha:      0.8,
		KSat:       1.0,
		KBase:      1.0,
		Omega:      0.0,
		BaseReward: baseReward,
		scores:     make(map[wallet.Address]float64),
	}
}

// IngestSlotPaths feeds the non-miner address chains of a just-produced
// block's paths into the EMA score update. Called by worldstate each time
// its authoritative chain accepts a block; a slot without an accepted
// block leaves the scores unchanged.
func (e *PoG) IngestSlotPaths(paths []contribution.Path, validators []Validator, stakeOf func(wallet.Address) float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw := contribution.RawScores(paths, e.NTD, stakeOf)
	slotScores := contribution.Saturate(raw, e.KSat, e.KBase)

	addrs := make([]wallet.Address, len(validators))
	for i, v := range validators {
		addrs[i] = wallet.Address(v.Address)
	}
	e.scores = contribution.EMAUpdate(e.scores, slotScores, addrs, e.Alpha)
}

// virtualStakes computes S_v for every validator from current EMA
// scores and real stake.
func (e *PoG) virtualStakes(validators []Validator) map[wallet.Address]float64 {
	addrs := make([]wallet.Address, len(validators))
	stakeVals := make(map[wallet.Address]float64, len(validators))
	for i, v := range validators {
		addrs[i] = wallet.Address(v.Address)
		stakeVals[wallet.Address(v.Address)] = v.Stake
	}
	normScore := contribution.Normalize(e.scores, addrs)
	normStake := contribution.Normalize(stakeVals, addrs)
	return contribution.VirtualStake(normScore, normStake, addrs, e.Omega)
}

// SelectProposer performs a weighted random pick by virtual stake using
// the slot's seed.
func (e *PoG) SelectProposer(validators []Validator, seed [32]byte, ch *chain.Blockchain) (Validator, error) {
	if len(validators) == 0 {
		return Validator{}, ErrNoValidator
	}

	e.mu.Lock()
	sv := e.virtualStakes(validators)
	e.mu.Unlock()

	weights := make([]float64, len(validators))
	var total float64
	for i, v := range validators {
		w := sv[wallet.Address(v.Address)]
		weights[i] = w
		total += w
	}
	if total <= 0 {
		idx := rand.New(rand.NewSource(seedToInt64(seed))).Intn(len(validators))
		return validators[idx], nil
	}

	src := rand.New(rand.NewSource(seedToInt64(seed)))
	u := src.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if u < cumulative {
			return validators[i], nil
		}
	}
	return validators[len(validators)-1], nil
}

// OnEpochEnd re-tunes NTD toward the closed epoch's observed average
// non-miner path length, and evolves omega += 0.1 clamped to [0,1].
func (e *PoG) OnEpochEnd(blocksOfClosedEpoch []*chain.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var paths []contribution.Path
	for _, b := range blocksOfClosedEpoch {
		for _, asp := range b.Body.AggregatedPaths {
			paths = append(paths, contribution.Path{Addresses: asp.ScoredAddresses()})
		}
	}
	avg := contribution.AveragePathLength(paths)
	if len(paths) > 0 {
		e.NTD = contribution.NextNTD(e.NTD, avg)
	}
	e.Omega = contribution.NextOmega(e.Omega)
}

// NextSlot is a no-op for PoG: all per-slot work happens via
// IngestSlotPaths, driven by worldstate after block production.
func (e *PoG) NextSlot(validators []Validator, blockIndex uint64) {}

// DistributeRewards splits the block's fee total between the miner and
// a network-fee pool, using the NTD penalty factor. The miner always
// also gets BaseReward; the network-fee pool is distributed among all
// other validators proportional to virtual stake.
func (e *PoG) DistributeRewards(b *chain.Block, validators []Validator) map[string]float64 {
	feeSum := sumFees(b.Body.Transactions)

	var avgLen float64
	var count int
	for _, asp := range b.Body.AggregatedPaths {
		avgLen += float64(asp.NonMinerLength())
		count++
	}
	if count > 0 {
		avgLen /= float64(count)
	}

	e.mu.Lock()
	ntd := e.NTD
	sv := e.virtualStakes(validators)
	e.mu.Unlock()

	penalty := contribution.PenaltyFactor(avgLen, ntd)
	minerFee, netFee := contribution.SplitFees(feeSum, penalty)

	rewards := map[string]float64{string(b.Header.Miner): e.BaseReward + minerFee}

	var netTotal float64
	for _, v := range validators {
		if v.Address == string(b.Header.Miner) {
			continue
		}
		netTotal += sv[wallet.Address(v.Address)]
	}
	if netTotal > 0 {
		for _, v := range validators {
			if v.Address == string(b.Header.Miner) {
				continue
			}
			share := sv[wallet.Address(v.Address)] / netTotal
			rewards[v.Address] += netFee * share
		}
	}
	return rewards
}

// Snapshot returns the current NTD and a defensive copy of per-validator
// EMA contribution scores and virtual stakes, for metrics reporting.
func (e *PoG) Snapshot(validators []Validator) (ntd int, scores map[wallet.Address]float64, virtualStakes map[wallet.Address]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scores = make(map[wallet.Address]float64, len(e.scores))
	for k, v := range e.scores {
		scores[k] = v
	}
	return e.NTD, scores, e.virtualStakes(validators)
}

// StateSummary renders "pog(ntd=N, omega=O)" for debug logging and
// metrics.
func (e *PoG) StateSummary() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("pog(ntd=%d, omega=%.2f)", e.NTD, e.Omega)
}
