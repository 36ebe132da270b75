// Package chain implements pogsim's Block and Blockchain: block
// assembly, Merkle root computation, header hashing and strict linear
// append.
package chain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/pog-sim/pogsim/internal/txpath"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// Hash is a 32-byte SHA3-256 digest.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

var ZeroHash Hash

// Header carries everything but the block body: index, epoch, slot,
// self-referential hash, parent hash, timestamp, Merkle root, miner.
type Header struct {
	Index      uint64
	Epoch      uint64
	Slot       uint64
	Hash       Hash
	ParentHash Hash
	Timestamp  int64
	MerkleRoot Hash
	Miner      wallet.Address
}

// Body holds the transactions and their sealed aggregated paths, with
// the invariant |Transactions| == |AggregatedPaths|.
type Body struct {
	Transactions    []*txpath.Transaction
	AggregatedPaths []*txpath.AggregatedSignedPaths
}

// Block is (Header, Body).
type Block struct {
	Header Header
	Body   Body
}

// New validates body length parity, verifies every embedded
// AggregatedSignedPaths against its transaction and the miner's address,
// computes the Merkle root, and builds a self-hashing Header.
// skipPathVerify lets the block's own producer skip re-verifying paths
// it just built itself; receivers always re-verify on ingest via
// AddBlock.
func New(index, epoch, slot uint64, parentHash Hash, body Body, miner *wallet.Wallet, skipPathVerify bool) (*Block, error) {
	if len(body.Transactions) != len(body.AggregatedPaths) {
		return nil, fmt.Errorf("chain: body length mismatch: %d transactions, %d aggregated paths",
			len(body.Transactions), len(body.AggregatedPaths))
	}
	if !skipPathVerify {
		for i, tx := range body.Transactions {
			asp := body.AggregatedPaths[i]
			if asp.Miner() != miner.Address() {
				return nil, fmt.Errorf("chain: aggregated path %d terminates in %s, not miner %s", i, asp.Miner(), miner.Address())
			}
			if !asp.Verify(tx.Hash) {
				return nil, fmt.Errorf("chain: aggregated path %d failed BLS verification", i)
			}
		}
	}

	txHashes := make([]Hash, len(body.Transactions))
	for i, tx := range body.Transactions {
		txHashes[i] = Hash(tx.Hash)
	}
	merkleRoot := MerkleRoot(txHashes)

	h := Header{
		Index:      index,
		Epoch:      epoch,
		Slot:       slot,
		ParentHash: parentHash,
		Timestamp:  nowFn(),
		MerkleRoot: merkleRoot,
		Miner:      miner.Address(),
	}
	h.Hash = hashHeader(h)

	return &Block{Header: h, Body: body}, nil
}

// nowFn is indirected so tests can pin block timestamps deterministically.
var nowFn = func() int64 { return time.Now().UnixNano() }

// hashHeader computes the header's self-referential hash with the Hash
// field itself blanked.
func hashHeader(h Header) Hash {
	var buf bytes.Buffer
	var idxBuf [8]byte
	binary.BigEndian.PutUint64(idxBuf[:], h.Index)
	buf.Write(idxBuf[:])
	binary.BigEndian.PutUint64(idxBuf[:], h.Epoch)
	buf.Write(idxBuf[:])
	binary.BigEndian.PutUint64(idxBuf[:], h.Slot)
	buf.Write(idxBuf[:])
	buf.Write(h.ParentHash[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(h.Timestamp))
	buf.Write(tsBuf[:])
	buf.Write(h.MerkleRoot[:])
	buf.WriteString(string(h.Miner))
	return sha3.Sum256(buf.Bytes())
}

// MerkleRoot computes a standard pairwise SHA3-256 tree over leaf
// hashes, duplicating the last leaf when the level has odd length.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return sha3.Sum256([]byte{})
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			var buf bytes.Buffer
			buf.Write(level[i][:])
			buf.Write(level[i+1][:])
			next = append(next, sha3.Sum256(buf.Bytes()))
		}
		level = next
	}
	return level[0]
}
