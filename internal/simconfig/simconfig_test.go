package simconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pog-sim/pogsim/internal/simconfig"
)

func TestDefaultConfigIsInternallyConsistent(t *testing.T) {
	cfg := simconfig.Default()
	assert.Greater(t, cfg.NodeNum, 0)
	assert.Equal(t, simconfig.ConsensusPoG, cfg.Consensus)
	assert.Equal(t, simconfig.TopologyER, cfg.Topology)
	assert.Greater(t, cfg.SlotsPerEpoch, 0)
}

func TestGenerateStakesSumsToTotal(t *testing.T) {
	stakes := simconfig.GenerateStakes(10, 0.3, 1000, 5)
	var sum float64
	for _, s := range stakes {
		sum += s
	}
	assert.InDelta(t, 1000.0, sum, 1e-6)
	assert.Len(t, stakes, 10)
}

func TestGenerateStakesZeroGiniSplitsEvenly(t *testing.T) {
	stakes := simconfig.GenerateStakes(4, 0, 400, 1)
	for _, s := range stakes {
		assert.InDelta(t, 100.0, s, 1e-9)
	}
}

func TestGenerateStakesIsDeterministicPerSeed(t *testing.T) {
	a := simconfig.GenerateStakes(10, 0.4, 1000, 99)
	b := simconfig.GenerateStakes(10, 0.4, 1000, 99)
	assert.Equal(t, a, b)
}

func TestGenerateStakesHandlesZeroCount(t *testing.T) {
	assert.Nil(t, simconfig.GenerateStakes(0, 0.3, 1000, 1))
}

func TestGenerateStakesHigherGiniIsMoreUnequal(t *testing.T) {
	low := simconfig.GenerateStakes(50, 0.1, 1000, 3)
	high := simconfig.GenerateStakes(50, 0.8, 1000, 3)

	maxOf := func(vals []float64) float64 {
		m := 0.0
		for _, v := range vals {
			if v > m {
				m = v
			}
		}
		return m
	}
	assert.Greater(t, maxOf(high), maxOf(low))
}
