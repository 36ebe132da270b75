package txpath_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/txpath"
	"github.com/pog-sim/pogsim/internal/wallet"
)

func TestTransactionPathsAddPathAndVerify(t *testing.T) {
	originator := newWallet(t)
	hop1 := newWallet(t)
	hop2 := newWallet(t)

	tx, err := txpath.NewTransaction(hop2.Address(), uint256.NewInt(10), uint256.NewInt(1), originator)
	require.NoError(t, err)

	tp := txpath.NewTransactionPaths(tx)
	assert.Equal(t, 0, tp.Len())

	tp, err = tp.AddPath(hop1.Address(), originator)
	require.NoError(t, err)
	tp, err = tp.AddPath(hop2.Address(), hop1)
	require.NoError(t, err)

	assert.Equal(t, 2, tp.Len())
	assert.True(t, tp.Verify(hop2.Address()))
	assert.False(t, tp.Verify(hop1.Address()))
	assert.Equal(t, []wallet.Address{originator.Address(), hop1.Address(), hop2.Address()}, tp.Hops())
}

func TestTransactionPathsAddPathIsCopyOnWrite(t *testing.T) {
	originator := newWallet(t)
	hop1 := newWallet(t)

	tx, err := txpath.NewTransaction(hop1.Address(), uint256.NewInt(1), uint256.NewInt(0), originator)
	require.NoError(t, err)

	tp := txpath.NewTransactionPaths(tx)
	extended, err := tp.AddPath(hop1.Address(), originator)
	require.NoError(t, err)

	assert.Equal(t, 0, tp.Len())
	assert.Equal(t, 1, extended.Len())
}

func TestAggregatedSignedPathsSealAndVerify(t *testing.T) {
	originator := newWallet(t)
	hop1 := newWallet(t)
	miner := newWallet(t)

	tx, err := txpath.NewTransaction(miner.Address(), uint256.NewInt(5), uint256.NewInt(1), originator)
	require.NoError(t, err)

	tp := txpath.NewTransactionPaths(tx)
	tp, err = tp.AddPath(hop1.Address(), originator)
	require.NoError(t, err)
	tp, err = tp.AddPath(miner.Address(), hop1)
	require.NoError(t, err)

	asp, err := txpath.FromTransactionPaths(tp)
	require.NoError(t, err)

	assert.True(t, asp.Verify(tx.Hash))
	assert.Equal(t, miner.Address(), asp.Miner())
	assert.Equal(t, originator.Address(), asp.Originator())
	assert.Equal(t, 2, asp.NonMinerLength())
	assert.Equal(t, []wallet.Address{originator.Address(), hop1.Address()}, asp.ScoredAddresses())
}

func TestFromTransactionPathsRejectsZeroHops(t *testing.T) {
	originator := newWallet(t)
	tx, err := txpath.NewTransaction(originator.Address(), uint256.NewInt(1), uint256.NewInt(0), originator)
	require.NoError(t, err)

	tp := txpath.NewTransactionPaths(tx)
	_, err = txpath.FromTransactionPaths(tp)
	assert.Error(t, err)
}

func TestAggregatedSignedPathsVerifyFailsOnWrongHash(t *testing.T) {
	originator := newWallet(t)
	hop1 := newWallet(t)
	miner := newWallet(t)

	tx, err := txpath.NewTransaction(miner.Address(), uint256.NewInt(5), uint256.NewInt(1), originator)
	require.NoError(t, err)

	tp := txpath.NewTransactionPaths(tx)
	tp, err = tp.AddPath(hop1.Address(), originator)
	require.NoError(t, err)
	tp, err = tp.AddPath(miner.Address(), hop1)
	require.NoError(t, err)

	asp, err := txpath.FromTransactionPaths(tp)
	require.NoError(t, err)

	var otherHash txpath.Hash
	otherHash[0] = 1
	assert.False(t, asp.Verify(otherHash))
}
