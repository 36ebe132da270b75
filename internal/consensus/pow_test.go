package consensus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
)

func TestPoWSelectProposerRejectsEmptyValidatorSet(t *testing.T) {
	p := consensus.NewPoW(1, 50*time.Millisecond, 10, 4)
	_, err := p.SelectProposer(nil, [32]byte{}, nil)
	assert.ErrorIs(t, err, consensus.ErrNoValidator)
}

func TestPoWSelectProposerFindsAWinnerAtLowDifficulty(t *testing.T) {
	p := consensus.NewPoW(1, 200*time.Millisecond, 10, 4)
	validators := []consensus.Validator{{Address: "a"}, {Address: "b"}, {Address: "c"}}

	v, err := p.SelectProposer(validators, [32]byte{9, 9, 9}, nil)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b", "c"}, v.Address)
}

func TestPoWOnEpochEndRaisesDifficultyWhenBlocksComeFast(t *testing.T) {
	p := consensus.NewPoW(1, 100*time.Millisecond, 10, 4)
	blocks := []*chain.Block{
		{Header: chain.Header{Timestamp: 0}},
		{Header: chain.Header{Timestamp: int64(10 * time.Millisecond)}},
	}
	p.OnEpochEnd(blocks)
	assert.Contains(t, p.StateSummary(), "pow(difficulty=2")
}

func TestPoWOnEpochEndLowersDifficultyWhenBlocksComeSlow(t *testing.T) {
	p := consensus.NewPoW(3, 10*time.Millisecond, 10, 4)
	blocks := []*chain.Block{
		{Header: chain.Header{Timestamp: 0}},
		{Header: chain.Header{Timestamp: int64(500 * time.Millisecond)}},
	}
	p.OnEpochEnd(blocks)
	assert.Contains(t, p.StateSummary(), "pow(difficulty=2")
}

func TestPoWStateSummary(t *testing.T) {
	p := consensus.NewPoW(3, time.Second, 10, 4)
	assert.Contains(t, p.StateSummary(), "pow(difficulty=3")
}
