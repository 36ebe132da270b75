package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/pog-sim/pogsim/internal/txpath"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// Append rejection taxonomy. A ParentHashMismatch is the signal for a
// receiver to initiate block-sync.
var (
	ErrInvalidBlock            = errors.New("chain: invalid block")
	ErrDuplicateBlocksReceived = errors.New("chain: duplicate block (same hash as current tip)")
	ErrParentHashMismatch      = errors.New("chain: parent hash mismatch")
	ErrIndexMismatch           = errors.New("chain: index mismatch")
	ErrIndexTooSmall           = errors.New("chain: index too small")
	ErrEpochError              = errors.New("chain: new epoch is less than current")
	ErrSlotError               = errors.New("chain: same epoch, slot not greater than current")
	ErrTransactionExists       = errors.New("chain: transaction hash already seen in this chain")
)

// Blockchain is an ordered sequence of blocks plus a seen-transaction-hash
// set for duplicate detection. Every node in the simulator holds its own
// independent copy; the simulation studies convergence under gossip, not
// a single shared ledger.
type Blockchain struct {
	mu      sync.RWMutex
	blocks  []*Block
	seenTxs map[txpath.Hash]struct{}
}

// Genesis builds block 0: all-zero parent, a single self-transaction by
// a throwaway miner wallet.
func Genesis() (*Blockchain, error) {
	throwaway, err := wallet.New()
	if err != nil {
		return nil, fmt.Errorf("chain: create genesis miner wallet: %w", err)
	}
	tx, err := txpath.NewTransaction(throwaway.Address(), uint256.NewInt(0), uint256.NewInt(0), throwaway)
	if err != nil {
		return nil, fmt.Errorf("chain: create genesis transaction: %w", err)
	}
	tp := txpath.NewTransactionPaths(tx)
	tp, err = tp.AddPath(throwaway.Address(), throwaway)
	if err != nil {
		return nil, fmt.Errorf("chain: seal genesis path: %w", err)
	}
	asp, err := txpath.FromTransactionPaths(tp)
	if err != nil {
		return nil, fmt.Errorf("chain: seal genesis aggregated path: %w", err)
	}

	body := Body{
		Transactions:    []*txpath.Transaction{tx},
		AggregatedPaths: []*txpath.AggregatedSignedPaths{asp},
	}
	genesisBlock, err := New(0, 0, 0, ZeroHash, body, throwaway, true)
	if err != nil {
		return nil, fmt.Errorf("chain: build genesis block: %w", err)
	}

	bc := &Blockchain{
		blocks:  []*Block{genesisBlock},
		seenTxs: map[txpath.Hash]struct{}{tx.Hash: {}},
	}
	return bc, nil
}

// NewFromGenesis builds an independent Blockchain copy seeded with an
// already-constructed genesis block. Every node's copy must start from
// the identical genesis hash or later ParentHash checks disagree across
// the network.
func NewFromGenesis(genesis *Block) *Blockchain {
	seen := make(map[txpath.Hash]struct{}, len(genesis.Body.Transactions))
	for _, tx := range genesis.Body.Transactions {
		seen[tx.Hash] = struct{}{}
	}
	return &Blockchain{
		blocks:  []*Block{genesis},
		seenTxs: seen,
	}
}

// AddBlock validates and appends b.
func (bc *Blockchain) AddBlock(b *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tip := bc.blocks[len(bc.blocks)-1]

	if b.Header.Hash == tip.Header.Hash {
		return ErrDuplicateBlocksReceived
	}
	if !verifyIntrinsic(b) {
		return ErrInvalidBlock
	}
	if b.Header.ParentHash != tip.Header.Hash {
		return ErrParentHashMismatch
	}
	if b.Header.Index < tip.Header.Index+1 {
		return ErrIndexTooSmall
	}
	if b.Header.Index != tip.Header.Index+1 {
		return ErrIndexMismatch
	}
	if b.Header.Epoch < tip.Header.Epoch {
		return ErrEpochError
	}
	if b.Header.Epoch == tip.Header.Epoch && b.Header.Slot <= tip.Header.Slot {
		return ErrSlotError
	}
	for _, tx := range b.Body.Transactions {
		if _, seen := bc.seenTxs[tx.Hash]; seen {
			return ErrTransactionExists
		}
	}

	bc.blocks = append(bc.blocks, b)
	for _, tx := range b.Body.Transactions {
		bc.seenTxs[tx.Hash] = struct{}{}
	}
	return nil
}

// verifyIntrinsic recomputes b's header hash, checks each transaction
// self-verifies and the Merkle root matches, and verifies every embedded
// aggregated path terminates in the block's miner and passes BLS
// aggregate verification. This runs on every ingest, so a producer that
// built its block with skipPathVerify still has its paths checked by
// every receiver.
func verifyIntrinsic(b *Block) bool {
	h := b.Header
	h.Hash = ZeroHash
	if hashHeader(h) != b.Header.Hash {
		return false
	}
	if len(b.Body.Transactions) != len(b.Body.AggregatedPaths) {
		return false
	}
	txHashes := make([]Hash, len(b.Body.Transactions))
	for i, tx := range b.Body.Transactions {
		if !tx.Verify() {
			return false
		}
		txHashes[i] = Hash(tx.Hash)
	}
	if MerkleRoot(txHashes) != b.Header.MerkleRoot {
		return false
	}
	for i, asp := range b.Body.AggregatedPaths {
		if asp == nil || asp.Miner() != b.Header.Miner {
			return false
		}
		if !asp.Verify(b.Body.Transactions[i].Hash) {
			return false
		}
	}
	return true
}

// Tip returns the last block of the chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.blocks[len(bc.blocks)-1]
}

// Height returns the index of the tip block.
func (bc *Blockchain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.blocks[len(bc.blocks)-1].Header.Index
}

// Len returns the number of blocks in the chain (including genesis).
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// BlockAt returns the block at index i, or nil if out of range.
func (bc *Blockchain) BlockAt(i uint64) *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if i >= uint64(len(bc.blocks)) {
		return nil
	}
	return bc.blocks[i]
}

// Tail returns blocks[fromIndex+1:], the suffix a block-sync responder
// hands back to a lagging requester.
func (bc *Blockchain) Tail(fromIndex uint64) []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	start := fromIndex + 1
	if start >= uint64(len(bc.blocks)) {
		return nil
	}
	out := make([]*Block, len(bc.blocks)-int(start))
	copy(out, bc.blocks[start:])
	return out
}

// HasTransaction reports whether txHash has already been included in
// this chain (used by node actors to filter the mempool/path cache).
func (bc *Blockchain) HasTransaction(txHash txpath.Hash) bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	_, ok := bc.seenTxs[txHash]
	return ok
}

// PopTip removes the last block, the bounded one-block rewind used by
// block-sync retry. Never pops genesis.
func (bc *Blockchain) PopTip() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.blocks) <= 1 {
		return
	}
	popped := bc.blocks[len(bc.blocks)-1]
	bc.blocks = bc.blocks[:len(bc.blocks)-1]
	for _, tx := range popped.Body.Transactions {
		delete(bc.seenTxs, tx.Hash)
	}
}

// Blocks returns a snapshot copy of the chain, newest last.
func (bc *Blockchain) Blocks() []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	out := make([]*Block, len(bc.blocks))
	copy(out, bc.blocks)
	return out
}

// BlocksInEpoch returns the blocks whose header.Epoch == epoch, used by
// the consensus engines' epoch-boundary callbacks.
func (bc *Blockchain) BlocksInEpoch(epoch uint64) []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	var out []*Block
	for _, b := range bc.blocks {
		if b.Header.Epoch == epoch {
			out = append(out, b)
		}
	}
	return out
}
