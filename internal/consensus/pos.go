package consensus

import (
	"fmt"
	"math/big"
	"math/rand"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/txpath"
)

// sumFees sums a block's transaction fees (uint256.Int) into a plain
// float64 for reward accounting; pogsim's economic model does not need
// fixed-point precision beyond what the simulation metrics consume.
func sumFees(transactions []*txpath.Transaction) float64 {
	var sum float64
	for _, tx := range transactions {
		if tx.Fee == nil {
			continue
		}
		f, _ := new(big.Float).SetInt(tx.Fee.ToBig()).Float64()
		sum += f
	}
	return sum
}

// PoS implements weighted random proposer selection over real stake,
// deterministic given the 32-byte seed.
type PoS struct {
	BaseReward float64
}

// NewPoS constructs a PoS engine with the given base reward.
func NewPoS(baseReward float64) *PoS {
	return &PoS{BaseReward: baseReward}
}

// SelectProposer forms the cumulative stake distribution, draws
// u ~ Uniform(0, Σstake) from a PRNG seeded with the 32-byte seed, and
// picks the first validator whose cumulative share exceeds u.
func (p *PoS) SelectProposer(validators []Validator, seed [32]byte, ch *chain.Blockchain) (Validator, error) {
	if len(validators) == 0 {
		return Validator{}, ErrNoValidator
	}
	var total float64
	for _, v := range validators {
		total += v.Stake
	}
	if total <= 0 {
		return Validator{}, ErrNoValidator
	}

	src := rand.New(rand.NewSource(seedToInt64(seed)))
	u := src.Float64() * total

	var cumulative float64
	for _, v := range validators {
		cumulative += v.Stake
		if u < cumulative {
			return v, nil
		}
	}
	return validators[len(validators)-1], nil
}

// OnEpochEnd is a no-op for PoS: it carries no epoch-tuned parameters.
func (p *PoS) OnEpochEnd(blocksOfClosedEpoch []*chain.Block) {}

// NextSlot is a no-op for PoS: it has no continuous background work.
func (p *PoS) NextSlot(validators []Validator, blockIndex uint64) {}

// DistributeRewards credits the miner base + sum of transaction fees in
// the block.
func (p *PoS) DistributeRewards(b *chain.Block, validators []Validator) map[string]float64 {
	feeSum := sumFees(b.Body.Transactions)
	return map[string]float64{string(b.Header.Miner): p.BaseReward + feeSum}
}

func (p *PoS) StateSummary() string {
	return fmt.Sprintf("pos(base_reward=%.2f)", p.BaseReward)
}

// seedToInt64 folds a 32-byte seed down to an int64 PRNG seed via simple
// XOR-folding of 8-byte words, giving deterministic per-seed draws.
func seedToInt64(seed [32]byte) int64 {
	var acc uint64
	for i := 0; i < 4; i++ {
		var word uint64
		for b := 0; b < 8; b++ {
			word = (word << 8) | uint64(seed[i*8+b])
		}
		acc ^= word
	}
	return int64(acc)
}
