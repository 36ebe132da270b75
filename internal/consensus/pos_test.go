package consensus_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
)

func TestPoSSelectProposerRejectsEmptyValidatorSet(t *testing.T) {
	p := consensus.NewPoS(10)
	_, err := p.SelectProposer(nil, [32]byte{}, nil)
	assert.ErrorIs(t, err, consensus.ErrNoValidator)
}

func TestPoSSelectProposerRejectsZeroStake(t *testing.T) {
	p := consensus.NewPoS(10)
	validators := []consensus.Validator{{Address: "a", Stake: 0}, {Address: "b", Stake: 0}}
	_, err := p.SelectProposer(validators, [32]byte{}, nil)
	assert.ErrorIs(t, err, consensus.ErrNoValidator)
}

func TestPoSSelectProposerIsDeterministicPerSeed(t *testing.T) {
	p := consensus.NewPoS(10)
	validators := []consensus.Validator{
		{Address: "a", Stake: 1},
		{Address: "b", Stake: 2},
		{Address: "c", Stake: 3},
	}
	seed := [32]byte{1, 2, 3}

	first, err := p.SelectProposer(validators, seed, nil)
	require.NoError(t, err)
	second, err := p.SelectProposer(validators, seed, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
}

func TestPoSSelectProposerOnlyPicksPositiveStakeHolders(t *testing.T) {
	p := consensus.NewPoS(10)
	validators := []consensus.Validator{{Address: "a", Stake: 0}, {Address: "b", Stake: 5}}

	for seedByte := byte(0); seedByte < 10; seedByte++ {
		seed := [32]byte{seedByte}
		v, err := p.SelectProposer(validators, seed, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", v.Address)
	}
}

func TestPoSDistributeRewardsCreditsMinerBaseAndFees(t *testing.T) {
	p := consensus.NewPoS(10)
	b := &chain.Block{Header: chain.Header{Miner: "miner"}}
	rewards := p.DistributeRewards(b, nil)
	assert.InDelta(t, 10.0, rewards["miner"], 1e-9)
}

func TestPoSStateSummary(t *testing.T) {
	p := consensus.NewPoS(7.5)
	assert.Contains(t, p.StateSummary(), "pos(")
}

func TestPoSSelectionFrequencyMatchesStakeShare(t *testing.T) {
	const validatorCount = 100
	const rounds = 5000

	p := consensus.NewPoS(10)
	validators := make([]consensus.Validator, validatorCount)
	for i := range validators {
		validators[i] = consensus.Validator{Address: fmt.Sprintf("v%03d", i), Stake: 32}
	}

	seedSrc := rand.New(rand.NewSource(7))
	counts := make(map[string]int, validatorCount)
	for i := 0; i < rounds; i++ {
		var seed [32]byte
		seedSrc.Read(seed[:])
		v, err := p.SelectProposer(validators, seed, nil)
		require.NoError(t, err)
		counts[v.Address]++
	}

	// Each validator's count is Binomial(rounds, 1/validatorCount);
	// a five-sigma band keeps the simultaneous check over all 100
	// validators comfortably reliable.
	mean := float64(rounds) / float64(validatorCount)
	sigma := math.Sqrt(float64(rounds) * (1.0 / validatorCount) * (1.0 - 1.0/validatorCount))
	for _, v := range validators {
		assert.InDelta(t, mean, float64(counts[v.Address]), 5*sigma, "validator %s", v.Address)
	}
}
