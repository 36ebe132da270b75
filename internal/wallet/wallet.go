// Package wallet contains the core logic for pogsim wallets: ECDSA address
// derivation, BLS individual and aggregate signing, and the process-wide
// BLS public-key registry that stands in for an on-chain registration
// contract.
package wallet

import (
	"crypto/elliptic"
	goecdsa "crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidSignatureEncoding is returned when a recoverable signature
	// is malformed (wrong length or bad v byte).
	ErrInvalidSignatureEncoding = errors.New("wallet: invalid ECDSA signature encoding")
	// ErrRecoveryFailed is returned when a public key cannot be recovered
	// from a signature and message.
	ErrRecoveryFailed = errors.New("wallet: signature-to-public-key recovery failed")
	// ErrUnknownBLSKey is returned when the registry has no BLS public key
	// for a requested address.
	ErrUnknownBLSKey = errors.New("wallet: no BLS public key registered for address")
	// ErrEmptyAggregate is returned when aggregating zero signatures.
	ErrEmptyAggregate = errors.New("wallet: cannot aggregate zero signatures")
)

// Address is a 0x-prefixed, 40-hex-character string: the last 20 bytes of
// SHA3-256 of the uncompressed ECDSA public key.
type Address string

// Signature is an ECDSA recoverable signature, 65 bytes: r (32) || s (32)
// || v (1), v = 27 + recovery_id. String() renders it 0x-prefixed hex.
type Signature [65]byte

func (s Signature) String() string { return "0x" + hex.EncodeToString(s[:]) }

// BLSSignature is a compressed G1 point (min-sig scheme: short
// signatures, long public keys in G2).
type BLSSignature []byte

// BLSPublicKey is a compressed G2 point.
type BLSPublicKey []byte

// Wallet owns one ECDSA keypair and one BLS keypair, and derives the
// address nodes identify each other by. Immutable after construction.
type Wallet struct {
	ecdsaPriv *secp256k1.PrivateKey
	blsPriv   fr.Element
	blsPub    *bls12381.G2Affine
	address   Address
}

// New generates a fresh ECDSA + BLS keypair, derives the address, and
// registers the BLS public key in the process-wide registry.
func New() (*Wallet, error) {
	ecdsaKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate ECDSA key: %w", err)
	}
	w, err := newFromECDSA(ecdsaKey)
	if err != nil {
		return nil, err
	}
	Registry.Insert(w.address, w.blsPub)
	return w, nil
}

// NewFromECDSAKey builds a Wallet from a fixed ECDSA private scalar, with
// a BLS keypair deterministically derived from the same seed, for fixed,
// reproducible stakeholders. Nothing in this module calls it.
func NewFromECDSAKey(d *big.Int) (*Wallet, error) {
	var scalar secp256k1.ModNScalar
	overflow := scalar.SetByteSlice(padTo32(d.Bytes()))
	if overflow {
		return nil, fmt.Errorf("wallet: ECDSA scalar overflow")
	}
	priv := secp256k1.NewPrivateKey(&scalar)
	w, err := newFromECDSA(priv)
	if err != nil {
		return nil, err
	}
	Registry.Insert(w.address, w.blsPub)
	return w, nil
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func newFromECDSA(priv *secp256k1.PrivateKey) (*Wallet, error) {
	var pub *goecdsa.PublicKey = priv.PubKey().ToECDSA()
	pubBytes := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	digest := sha3.Sum256(pubBytes)
	addr := "0x" + hex.EncodeToString(digest[12:])

	var blsPriv fr.Element
	blsPriv.SetBytes(digest[:])
	if blsPriv.IsZero() {
		blsPriv.SetUint64(1)
	}

	_, _, _, g2Gen := bls12381.Generators()
	var blsPub bls12381.G2Affine
	sk := blsPriv.BigInt(new(big.Int))
	blsPub.ScalarMultiplication(&g2Gen, sk)

	return &Wallet{
		ecdsaPriv: priv,
		blsPriv:   blsPriv,
		blsPub:    &blsPub,
		address:   Address(addr),
	}, nil
}

// Address returns the wallet's derived address.
func (w *Wallet) Address() Address { return w.address }

// BLSPublicKey returns the compressed G2 public key.
func (w *Wallet) BLSPublicKey() BLSPublicKey {
	b := w.blsPub.Bytes()
	return BLSPublicKey(b[:])
}

// Sign produces an ECDSA recoverable signature over msg (msg is expected
// to already be a digest; callers hash their payload first).
func (w *Wallet) Sign(msg []byte) (Signature, error) {
	sig := ecdsa.SignCompact(w.ecdsaPriv, msg, false)
	if len(sig) != 65 {
		return Signature{}, ErrInvalidSignatureEncoding
	}
	// dcrd's SignCompact puts the recovery byte first (27+i); pogsim's
	// wire format puts v last, matching Ethereum-style (r,s,v) ordering.
	var out Signature
	copy(out[:64], sig[1:])
	out[64] = sig[0]
	return out, nil
}

// SignBLS signs msg with the wallet's BLS private key, hashing msg to a
// G1 point (min-sig scheme: signatures live in G1).
func (w *Wallet) SignBLS(msg []byte) (BLSSignature, error) {
	hp, err := hashToG1(msg)
	if err != nil {
		return nil, err
	}
	var sigPoint bls12381.G1Affine
	sk := w.blsPriv.BigInt(new(big.Int))
	sigPoint.ScalarMultiplication(&hp, sk)
	b := sigPoint.Bytes()
	return BLSSignature(b[:]), nil
}

// VerifyByAddress recovers the signer's public key from sig over msg,
// derives its address, and checks it equals addr. Never panics; all
// failures return false, since adversaries may feed malformed input.
func VerifyByAddress(msg []byte, sig Signature, addr Address) bool {
	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		return false
	}
	return recovered == addr
}

// RecoverAddress recovers the signer address from a message and a
// recoverable signature.
func RecoverAddress(msg []byte, sig Signature) (Address, error) {
	if sig[64] < 27 || sig[64] > 30 {
		return "", ErrInvalidSignatureEncoding
	}
	compact := make([]byte, 65)
	compact[0] = sig[64]
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	ecPub := pub.ToECDSA()
	pubBytes := elliptic.Marshal(ecPub.Curve, ecPub.X, ecPub.Y)
	digest := sha3.Sum256(pubBytes)
	return Address("0x" + hex.EncodeToString(digest[12:])), nil
}

// VerifyBLSWithPK checks a single BLS signature against a known public key.
func VerifyBLSWithPK(msg []byte, sig BLSSignature, pk BLSPublicKey) bool {
	var sigPoint bls12381.G1Affine
	if _, err := sigPoint.SetBytes(sig); err != nil {
		return false
	}
	var pubPoint bls12381.G2Affine
	if _, err := pubPoint.SetBytes(pk); err != nil {
		return false
	}
	hp, err := hashToG1(msg)
	if err != nil {
		return false
	}
	_, _, _, g2Gen := bls12381.Generators()

	var negSig bls12381.G1Affine
	negSig.Neg(&sigPoint)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{hp, negSig},
		[]bls12381.G2Affine{pubPoint, g2Gen},
	)
	if err != nil {
		return false
	}
	return ok
}

// BLSAggregate sums a slice of G1 signatures into a single aggregate
// signature (point addition in G1, min-sig scheme).
func BLSAggregate(sigs []BLSSignature) (BLSSignature, error) {
	if len(sigs) == 0 {
		return nil, ErrEmptyAggregate
	}
	var acc bls12381.G1Jac
	for _, s := range sigs {
		var p bls12381.G1Affine
		if _, err := p.SetBytes(s); err != nil {
			return nil, fmt.Errorf("wallet: invalid signature in aggregate: %w", err)
		}
		var pj bls12381.G1Jac
		pj.FromAffine(&p)
		acc.AddAssign(&pj)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	b := result.Bytes()
	return BLSSignature(b[:]), nil
}

// BLSAggregateVerify checks an aggregate signature over distinct messages
// signed by distinct public keys (path hops differ per recipient).
func BLSAggregateVerify(messages [][]byte, pks []BLSPublicKey, agg BLSSignature) bool {
	if len(messages) != len(pks) {
		return false
	}
	if len(messages) == 0 {
		return false
	}
	var aggPoint bls12381.G1Affine
	if _, err := aggPoint.SetBytes(agg); err != nil {
		return false
	}

	g1s := make([]bls12381.G1Affine, 0, len(messages)+1)
	g2s := make([]bls12381.G2Affine, 0, len(messages)+1)

	for i, m := range messages {
		hp, err := hashToG1(m)
		if err != nil {
			return false
		}
		var pub bls12381.G2Affine
		if _, err := pub.SetBytes(pks[i]); err != nil {
			return false
		}
		g1s = append(g1s, hp)
		g2s = append(g2s, pub)
	}

	_, _, _, g2Gen := bls12381.Generators()
	var negAgg bls12381.G1Affine
	negAgg.Neg(&aggPoint)
	g1s = append(g1s, negAgg)
	g2s = append(g2s, g2Gen)

	ok, err := bls12381.PairingCheck(g1s, g2s)
	if err != nil {
		return false
	}
	return ok
}

// hashToG1 deterministically maps an arbitrary message to a G1 point
// using gnark-crypto's SSWU-based hash-to-curve (RFC 9380 suite), the
// standard construction for BLS message hashing.
func hashToG1(msg []byte) (bls12381.G1Affine, error) {
	const dst = "POGSIM_BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"
	return bls12381.HashToG1(msg, []byte(dst))
}

// --- BLS public-key registry ---------------------------------------------

// KeyRegistry is a process-wide, read-mostly concurrent map from address
// to BLS public key. It replaces a registration smart contract: every
// wallet inserts itself once at construction.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[Address]BLSPublicKey
}

// Registry is the single shared instance used by the whole simulation run.
var Registry = &KeyRegistry{keys: make(map[Address]BLSPublicKey)}

// Insert registers addr's BLS public key. Called once per wallet at
// construction; safe to call again with the same key (idempotent).
func (r *KeyRegistry) Insert(addr Address, pub *bls12381.G2Affine) {
	b := pub.Bytes()
	r.mu.Lock()
	r.keys[addr] = BLSPublicKey(b[:])
	r.mu.Unlock()
}

// InsertRaw registers a raw compressed BLS public key, for callers that
// hold no G2Affine. Nothing in this module calls it.
func (r *KeyRegistry) InsertRaw(addr Address, pub BLSPublicKey) {
	r.mu.Lock()
	r.keys[addr] = pub
	r.mu.Unlock()
}

// Get looks up addr's BLS public key.
func (r *KeyRegistry) Get(addr Address) (BLSPublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pk, ok := r.keys[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBLSKey, addr)
	}
	return pk, nil
}

// Has reports whether addr has a registered BLS public key.
func (r *KeyRegistry) Has(addr Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[addr]
	return ok
}

// Print renders a short debug summary of the wallet.
func (w *Wallet) Print() string {
	return fmt.Sprintf("wallet(address=%s)", w.address)
}

func (w *Wallet) String() string { return w.Print() }

// ValidAddress reports whether s is a syntactically valid pogsim address.
func ValidAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// RandomSeed generates the 32 fresh random bytes a node signs each slot
// for its RANDAO contribution.
func RandomSeed() ([32]byte, error) {
	var b [32]byte
	_, err := rand.Read(b[:])
	return b, err
}
