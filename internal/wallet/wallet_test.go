package wallet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/wallet"
)

func TestNewDerivesValidAddressAndRegistersBLSKey(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	assert.True(t, wallet.ValidAddress(string(w.Address())))
	assert.True(t, wallet.Registry.Has(w.Address()))

	pk, err := wallet.Registry.Get(w.Address())
	require.NoError(t, err)
	assert.Equal(t, w.BLSPublicKey(), pk)
}

func TestSignAndRecoverAddress(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	msg := []byte("pogsim transaction digest")
	sig, err := w.Sign(msg)
	require.NoError(t, err)

	assert.True(t, wallet.VerifyByAddress(msg, sig, w.Address()))

	other, err := wallet.New()
	require.NoError(t, err)
	assert.False(t, wallet.VerifyByAddress(msg, sig, other.Address()))
}

func TestSignRejectsTamperedMessage(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	sig, err := w.Sign([]byte("original"))
	require.NoError(t, err)

	assert.False(t, wallet.VerifyByAddress([]byte("tampered"), sig, w.Address()))
}

func TestBLSSignAndVerify(t *testing.T) {
	w, err := wallet.New()
	require.NoError(t, err)

	msg := []byte("hop message")
	sig, err := w.SignBLS(msg)
	require.NoError(t, err)

	assert.True(t, wallet.VerifyBLSWithPK(msg, sig, w.BLSPublicKey()))
	assert.False(t, wallet.VerifyBLSWithPK([]byte("different"), sig, w.BLSPublicKey()))
}

func TestBLSAggregateVerify(t *testing.T) {
	a, err := wallet.New()
	require.NoError(t, err)
	b, err := wallet.New()
	require.NoError(t, err)

	msgA := []byte("hop to a")
	msgB := []byte("hop to b")

	sigA, err := a.SignBLS(msgA)
	require.NoError(t, err)
	sigB, err := b.SignBLS(msgB)
	require.NoError(t, err)

	agg, err := wallet.BLSAggregate([]wallet.BLSSignature{sigA, sigB})
	require.NoError(t, err)

	ok := wallet.BLSAggregateVerify(
		[][]byte{msgA, msgB},
		[]wallet.BLSPublicKey{a.BLSPublicKey(), b.BLSPublicKey()},
		agg,
	)
	assert.True(t, ok)

	// Swapping which key verifies which message must fail.
	ok = wallet.BLSAggregateVerify(
		[][]byte{msgA, msgB},
		[]wallet.BLSPublicKey{b.BLSPublicKey(), a.BLSPublicKey()},
		agg,
	)
	assert.False(t, ok)
}

func TestBLSAggregateRejectsEmpty(t *testing.T) {
	_, err := wallet.BLSAggregate(nil)
	assert.ErrorIs(t, err, wallet.ErrEmptyAggregate)
}

func TestValidAddress(t *testing.T) {
	assert.False(t, wallet.ValidAddress("not-an-address"))
	assert.False(t, wallet.ValidAddress("0x1234"))
	w, err := wallet.New()
	require.NoError(t, err)
	assert.True(t, wallet.ValidAddress(string(w.Address())))
}
