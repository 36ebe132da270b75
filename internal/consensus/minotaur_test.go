package consensus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
)

func TestMinotaurSelectProposerRejectsEmptyValidatorSet(t *testing.T) {
	m := consensus.NewMinotaur(50*time.Millisecond, 10)
	_, err := m.SelectProposer(nil, [32]byte{}, nil)
	assert.ErrorIs(t, err, consensus.ErrNoValidator)
}

func TestMinotaurSelectProposerFallsBackToStakeWithNoMiningRecords(t *testing.T) {
	m := consensus.NewMinotaur(50*time.Millisecond, 10)
	validators := []consensus.Validator{{Address: "a", Stake: 0}, {Address: "b", Stake: 5}}

	for seedByte := byte(0); seedByte < 10; seedByte++ {
		v, err := m.SelectProposer(validators, [32]byte{seedByte}, nil)
		require.NoError(t, err)
		assert.Equal(t, "b", v.Address)
	}
}

func TestMinotaurOnEpochEndEvictsStaleSlots(t *testing.T) {
	m := consensus.NewMinotaur(10*time.Millisecond, 10)
	validators := []consensus.Validator{{Address: "a", Stake: 1, HashPower: 1}}

	m.NextSlot(validators, 0)
	m.NextSlot(validators, 1)
	m.NextSlot(validators, 2)
	time.Sleep(5 * time.Millisecond)

	blocks := []*chain.Block{{Header: chain.Header{Index: 2}}}
	m.OnEpochEnd(blocks)
	// No assertion on internal cache state (unexported); this exercises
	// the eviction path without panicking on a live background miner.
}

func TestMinotaurStateSummary(t *testing.T) {
	m := consensus.NewMinotaur(time.Second, 10)
	assert.Contains(t, m.StateSummary(), "minotaur(omega=0.50")
}
