// Package txpath implements pogsim's path-traced transaction model:
// Transaction construction and self-verification, per-hop Path signing,
// and the aggregated BLS signature sealed by a miner at block-assembly
// time.
package txpath

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/pog-sim/pogsim/internal/wallet"
)

// Hash is a 32-byte SHA3-256 digest, hex-encoded in its String form.
type Hash [32]byte

func (h Hash) String() string  { return hex.EncodeToString(h[:]) }
func (h Hash) Bytes() []byte   { return h[:] }
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return h, fmt.Errorf("txpath: invalid hash hex %q", s)
	}
	copy(h[:], b)
	return h, nil
}

// Transaction is an immutable value-transfer record: (from, to, amount,
// fee, timestamp, hash, signature).
type Transaction struct {
	From      wallet.Address
	To        wallet.Address
	Amount    *uint256.Int
	Fee       *uint256.Int
	Timestamp int64
	Hash      Hash
	Signature wallet.Signature
}

// NewTransaction constructs, hashes and signs a transaction from w to
// `to`. The hash is computed over the canonical serialization with hash
// and signature fields blanked, then w signs that hash.
func NewTransaction(to wallet.Address, amount, fee *uint256.Int, w *wallet.Wallet) (*Transaction, error) {
	tx := &Transaction{
		From:      w.Address(),
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
	}
	tx.Hash = tx.computeHash()
	sig, err := w.Sign(tx.Hash[:])
	if err != nil {
		return nil, fmt.Errorf("txpath: sign transaction: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// canonicalBytes serializes the transaction fields in a fixed order for
// hashing, excluding Hash and Signature (which are blanked).
func (tx *Transaction) canonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(tx.From))
	buf.WriteString(string(tx.To))
	if tx.Amount != nil {
		buf.Write(tx.Amount.Bytes())
	}
	if tx.Fee != nil {
		buf.Write(tx.Fee.Bytes())
	}
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(tx.Timestamp))
	buf.Write(tsBuf[:])
	return buf.Bytes()
}

func (tx *Transaction) computeHash() Hash {
	return sha3.Sum256(tx.canonicalBytes())
}

// Verify recomputes the transaction hash and recovers the signer from
// Signature, checking it equals From. Never panics.
func (tx *Transaction) Verify() bool {
	if tx.Amount == nil || tx.Fee == nil {
		return false
	}
	expected := tx.computeHash()
	if expected != tx.Hash {
		return false
	}
	return wallet.VerifyByAddress(tx.Hash[:], tx.Signature, tx.From)
}

// HashAddress returns H(addr) as used in the per-hop BLS message
// construction.
func HashAddress(addr wallet.Address) Hash {
	return sha3.Sum256([]byte(addr))
}

// HopMessage builds the message a forwarder signs when relaying tx to
// `to`: H(tx) ∥ H(to).
func HopMessage(txHash Hash, to wallet.Address) []byte {
	toHash := HashAddress(to)
	msg := make([]byte, 0, 64)
	msg = append(msg, txHash[:]...)
	msg = append(msg, toHash[:]...)
	return msg
}
