package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/chain"
)

func TestGenesisBuildsSingleBlockChain(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)

	assert.Equal(t, 1, bc.Len())
	assert.Equal(t, uint64(0), bc.Height())
	assert.Equal(t, chain.ZeroHash, bc.Tip().Header.ParentHash)
}

func TestNewFromGenesisSharesIdenticalTip(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	genesis := bc.Tip()

	other := chain.NewFromGenesis(genesis)
	assert.Equal(t, genesis.Header.Hash, other.Tip().Header.Hash)
	assert.Equal(t, 1, other.Len())
}

func TestAddBlockRejectsParentHashMismatch(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)

	miner := newTestWallet(t)
	var wrongParent chain.Hash
	wrongParent[0] = 0xAB
	b, err := chain.New(1, 0, 1, wrongParent, chain.Body{}, miner, true)
	require.NoError(t, err)

	err = bc.AddBlock(b)
	assert.ErrorIs(t, err, chain.ErrParentHashMismatch)
}

func TestAddBlockAcceptsValidSuccessor(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	tip := bc.Tip()

	miner := newTestWallet(t)
	b, err := chain.New(tip.Header.Index+1, 0, 1, tip.Header.Hash, chain.Body{}, miner, true)
	require.NoError(t, err)

	require.NoError(t, bc.AddBlock(b))
	assert.Equal(t, 2, bc.Len())
	assert.Equal(t, b.Header.Hash, bc.Tip().Header.Hash)
}

func TestAddBlockRejectsDuplicateTip(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	tip := bc.Tip()

	err = bc.AddBlock(tip)
	assert.ErrorIs(t, err, chain.ErrDuplicateBlocksReceived)
}

func TestAddBlockRejectsStaleSlotSameEpoch(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	tip := bc.Tip()
	miner := newTestWallet(t)

	b1, err := chain.New(tip.Header.Index+1, 0, 5, tip.Header.Hash, chain.Body{}, miner, true)
	require.NoError(t, err)
	require.NoError(t, bc.AddBlock(b1))

	b2, err := chain.New(b1.Header.Index+1, 0, 5, b1.Header.Hash, chain.Body{}, miner, true)
	require.NoError(t, err)
	err = bc.AddBlock(b2)
	assert.ErrorIs(t, err, chain.ErrSlotError)
}

func TestPopTipNeverRemovesGenesis(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)

	bc.PopTip()
	assert.Equal(t, 1, bc.Len())
}

func TestTailReturnsBlocksAfterIndex(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	tip := bc.Tip()
	miner := newTestWallet(t)

	b1, err := chain.New(tip.Header.Index+1, 0, 1, tip.Header.Hash, chain.Body{}, miner, true)
	require.NoError(t, err)
	require.NoError(t, bc.AddBlock(b1))

	tail := bc.Tail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, b1.Header.Hash, tail[0].Header.Hash)

	assert.Nil(t, bc.Tail(bc.Height()))
}
