package node

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/holiman/uint256"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/simlog"
	"github.com/pog-sim/pogsim/internal/txpath"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// Type is a node's behavioral variant.
type Type int

const (
	Honest Type = iota
	Selfish
	Malicious
	Unstable
)

func (t Type) String() string {
	switch t {
	case Honest:
		return "honest"
	case Selfish:
		return "selfish"
	case Malicious:
		return "malicious"
	case Unstable:
		return "unstable"
	default:
		return "unknown"
	}
}

// pathCacheCapacity bounds the transaction-paths cache (newest variant
// per tx hash).
const pathCacheCapacity = 4096

// Node is one actor in the simulated peer-to-peer network: index,
// wallet, a private Blockchain copy, an inbound mailbox, outbound
// senders to every neighbor, a WorldState handle, a transaction-paths
// cache, behavioral type, Sybil sub-identities (Malicious only), online
// flag and offline-until-epoch (Unstable), sync-in-progress flag,
// balance and configured fee.
type Node struct {
	Index  int
	Wallet *wallet.Wallet
	Chain  *chain.Blockchain

	Inbox     chan Message
	neighbors map[wallet.Address]chan<- Message
	worldCh   chan<- Message

	pathCache *lru.Cache[txpath.Hash, *txpath.TransactionPaths]

	NodeType          Type
	SybilWallets      []*wallet.Wallet
	Online            bool
	OfflineUntilEpoch uint64
	SyncInProgress    bool

	Balance        float64
	TransactionFee float64

	OfflineProbability float64

	currentEpoch uint64
	currentSlot  uint64

	mu     sync.Mutex
	log    *simlog.Logger
	rng    *rand.Rand
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config bundles the construction-time parameters for a Node.
type Config struct {
	Index              int
	Wallet             *wallet.Wallet
	Chain              *chain.Blockchain
	WorldStateInbox    chan<- Message
	NodeType           Type
	SybilCount         int
	TransactionFee     float64
	OfflineProbability float64
	Logger             *simlog.Logger
	Seed               int64
}

// New constructs a Node. Malicious nodes are given SybilCount fresh
// sub-identity wallets, each registered in the BLS key registry.
func New(cfg Config) (*Node, error) {
	n := &Node{
		Index:              cfg.Index,
		Wallet:             cfg.Wallet,
		Chain:              cfg.Chain,
		Inbox:              make(chan Message, 1024),
		neighbors:          make(map[wallet.Address]chan<- Message),
		worldCh:            cfg.WorldStateInbox,
		NodeType:           cfg.NodeType,
		Online:             true,
		TransactionFee:     cfg.TransactionFee,
		OfflineProbability: cfg.OfflineProbability,
		log:                cfg.Logger.With("component", "node", "index", cfg.Index),
		rng:                rand.New(rand.NewSource(cfg.Seed)),
		stopCh:             make(chan struct{}),
	}
	cache, err := lru.New[txpath.Hash, *txpath.TransactionPaths](pathCacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("node: create path cache: %w", err)
	}
	n.pathCache = cache

	if cfg.NodeType == Malicious {
		for i := 0; i < cfg.SybilCount; i++ {
			w, err := wallet.New()
			if err != nil {
				return nil, fmt.Errorf("node: create sybil wallet %d: %w", i, err)
			}
			n.SybilWallets = append(n.SybilWallets, w)
		}
	}
	return n, nil
}

// AddNeighbor registers an outbound channel to a neighbor's mailbox.
func (n *Node) AddNeighbor(addr wallet.Address, ch chan<- Message) {
	n.neighbors[addr] = ch
}

// Address returns this node's wallet address.
func (n *Node) Address() wallet.Address { return n.Wallet.Address() }

// Run starts the node's mailbox loop. Blocking receive from the mailbox
// is the node's only suspension point besides neighbor back-pressure.
func (n *Node) Run() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.stopCh:
				return
			case msg := <-n.Inbox:
				n.handle(msg)
			}
		}
	}()
}

// Stop signals the node's loop to exit and waits for it.
func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func (n *Node) handle(msg Message) {
	n.mu.Lock()
	online := n.Online
	n.mu.Unlock()

	// Offline nodes skip all messages except UpdateSlot.
	if !online && msg.Kind != UpdateSlot {
		if msg.Kind == GenerateBlock {
			n.sendWorldState(Message{Kind: BlockProductionFailed, From: n.Address(), Epoch: msg.Epoch, Slot: msg.Slot, Reason: "node offline"})
		}
		return
	}

	switch msg.Kind {
	case GenerateTransactionPaths:
		n.handleGenerateTransactionPaths(msg)
	case SendTransactionPaths:
		n.handleSendTransactionPaths(msg)
	case SendBlock:
		n.handleSendBlock(msg)
	case GenerateBlock:
		n.handleGenerateBlock(msg)
	case SendRandaoSeed:
		n.handleSendRandaoSeed(msg)
	case BecomeValidator:
		n.handleBecomeValidator(msg)
	case UpdateSlot:
		n.handleUpdateSlot(msg)
	case RequestBlockSync:
		n.handleRequestBlockSync(msg)
	case ResponseBlockSync:
		n.handleResponseBlockSync(msg)
	case UpdateValidatorStake:
		n.handleUpdateValidatorStake(msg)
	case UpdateNodeBalance:
		n.handleUpdateNodeBalance(msg)
	case PrintBlockchain:
		n.log.Info("blockchain", "height", n.Chain.Height(), "len", n.Chain.Len())
	default:
		n.log.Warn("dropping unhandled message", "kind", msg.Kind.String())
	}
}

func (n *Node) sendWorldState(msg Message) {
	select {
	case n.worldCh <- msg:
	default:
		n.log.Warn("worldstate inbox full, dropping", "kind", msg.Kind.String())
	}
}

// broadcast fans out msg to every neighbor except `exclude`. Each
// neighbor gets its own message value via build(addr), so callers can
// append a distinct hop per recipient.
func (n *Node) broadcast(exclude wallet.Address, build func(addr wallet.Address) (Message, bool)) {
	var g errgroup.Group
	for addr, ch := range n.neighbors {
		if addr == exclude {
			continue
		}
		addr, ch := addr, ch
		g.Go(func() error {
			msg, ok := build(addr)
			if !ok {
				return nil
			}
			select {
			case ch <- msg:
			case <-time.After(time.Second):
				n.log.Warn("neighbor mailbox full, dropping send", "to", string(addr))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// --- GenerateTransactionPaths --------------------------------------------

// handleGenerateTransactionPaths pays the configured fee from balance
// (drop if insufficient), forms a Transaction, caches a fresh
// TransactionPaths, and fans out to every neighbor, each copy extended
// with one hop signed by self for that neighbor.
func (n *Node) handleGenerateTransactionPaths(msg Message) {
	n.mu.Lock()
	if n.Balance < n.TransactionFee {
		n.mu.Unlock()
		n.log.Debug("insufficient balance for transaction fee, dropping", "balance", n.Balance, "fee", n.TransactionFee)
		return
	}
	n.Balance -= n.TransactionFee
	n.mu.Unlock()

	to := msg.Validator.Address
	if to == "" {
		to = string(n.pickNeighbor())
	}
	amount := uint256.NewInt(1)
	fee := uint256.NewInt(uint64(n.TransactionFee))

	tx, err := txpath.NewTransaction(wallet.Address(to), amount, fee, n.Wallet)
	if err != nil {
		n.log.Warn("failed to create transaction", "err", err)
		return
	}
	tp := txpath.NewTransactionPaths(tx)
	n.pathCache.Add(tx.Hash, tp)

	n.relayPaths(n.Address(), tp)
}

func (n *Node) pickNeighbor() wallet.Address {
	for addr := range n.neighbors {
		return addr
	}
	return n.Address()
}

// relayPaths extends tp with one hop per neighbor (applying Malicious
// Sybil inflation, and the Selfish drop when relaying another node's
// paths) and sends each extension, excluding `exclude` from the
// recipient set. Origination passes the node's own address as exclude.
func (n *Node) relayPaths(exclude wallet.Address, tp *txpath.TransactionPaths) {
	if n.NodeType == Selfish && exclude != n.Address() && n.rng.Float64() < 0.5 {
		n.log.Debug("selfish node dropping relay", "tx", tp.Transaction.Hash.String())
		return
	}

	base := tp
	if n.NodeType == Malicious && len(n.SybilWallets) > 0 {
		base = n.injectSybilHops(tp)
	}

	n.broadcast(exclude, func(addr wallet.Address) (Message, bool) {
		extended, err := base.AddPath(addr, n.Wallet)
		if err != nil {
			n.log.Warn("failed to sign hop", "err", err)
			return Message{}, false
		}
		return Message{Kind: SendTransactionPaths, From: n.Address(), TransactionPaths: extended}, true
	})
}

// injectSybilHops threads the path through every Sybil identity and back
// to this node before relay, inflating apparent path length and thus PoG
// score. Each hop is signed by the previous hop's recipient so the whole
// chain still passes BLS verification.
func (n *Node) injectSybilHops(tp *txpath.TransactionPaths) *txpath.TransactionPaths {
	current := tp
	signer := n.Wallet
	for _, sybil := range n.SybilWallets {
		extended, err := current.AddPath(sybil.Address(), signer)
		if err != nil {
			n.log.Warn("failed to inject sybil hop", "err", err)
			return current
		}
		current = extended
		signer = sybil
	}
	extended, err := current.AddPath(n.Address(), signer)
	if err != nil {
		n.log.Warn("failed to close sybil hop chain", "err", err)
		return current
	}
	return extended
}

// --- SendTransactionPaths -------------------------------------------------

// handleSendTransactionPaths drops if the transaction is already in the
// chain, drops if the cache holds an equal-or-shorter path (shortest-
// path preference), else caches (replacing the older entry) and
// broadcasts to neighbors other than the sender, each copy appended
// with a hop signed by self for that neighbor.
func (n *Node) handleSendTransactionPaths(msg Message) {
	tp := msg.TransactionPaths
	if tp == nil || tp.Transaction == nil {
		return
	}
	txHash := tp.Transaction.Hash

	if n.Chain.HasTransaction(txHash) {
		n.log.Debug("transaction already in chain, dropping", "tx", txHash.String())
		return
	}

	if existing, ok := n.pathCache.Get(txHash); ok {
		if existing.Len() <= tp.Len() {
			n.log.Debug("cache holds equal-or-shorter path, dropping", "tx", txHash.String())
			return
		}
	}

	if !tp.VerifyLast() {
		n.log.Debug("hop signature failed verification, dropping", "tx", txHash.String())
		return
	}

	n.pathCache.Add(txHash, tp)
	n.relayPaths(msg.From, tp)
}

// --- SendBlock -------------------------------------------------------------

// handleSendBlock tries to append b. On ParentHashMismatch it initiates
// block-sync; on success it evicts cached paths for included
// transactions and rebroadcasts, excluding the original sender.
func (n *Node) handleSendBlock(msg Message) {
	b := msg.Block
	if b == nil {
		return
	}
	err := n.Chain.AddBlock(b)
	switch {
	case err == nil:
		for _, tx := range b.Body.Transactions {
			n.pathCache.Remove(tx.Hash)
		}
		n.broadcast(msg.From, func(addr wallet.Address) (Message, bool) {
			return Message{Kind: SendBlock, From: n.Address(), Block: b}, true
		})
	case err == chain.ErrParentHashMismatch:
		n.log.Warn("parent hash mismatch, initiating block-sync", "local_height", n.Chain.Height())
		n.mu.Lock()
		n.SyncInProgress = true
		n.mu.Unlock()
		n.broadcast(wallet.Address(""), func(addr wallet.Address) (Message, bool) {
			return Message{Kind: RequestBlockSync, From: n.Address(), FromIndex: n.Chain.Height()}, true
		})
	case err == chain.ErrDuplicateBlocksReceived:
		n.log.Debug("duplicate block, ignoring", "hash", b.Header.Hash.String())
	default:
		n.log.Warn("failed to append block", "err", err)
	}
}

// --- GenerateBlock ---------------------------------------------------------

// handleGenerateBlock refuses if sync-in-progress. Drains the cache,
// filters out transactions already in the chain, builds a block,
// appends locally, broadcasts, and notifies WorldState.
func (n *Node) handleGenerateBlock(msg Message) {
	n.mu.Lock()
	syncing := n.SyncInProgress
	n.mu.Unlock()
	if syncing {
		n.log.Warn("refusing to generate block while sync in progress")
		n.sendWorldState(Message{Kind: BlockProductionFailed, From: n.Address(), Epoch: msg.Epoch, Slot: msg.Slot, Reason: "sync in progress"})
		return
	}

	var txs []*txpath.Transaction
	var paths []*txpath.AggregatedSignedPaths
	for _, key := range n.pathCache.Keys() {
		tp, ok := n.pathCache.Get(key)
		if !ok {
			continue
		}
		if n.Chain.HasTransaction(tp.Transaction.Hash) {
			n.pathCache.Remove(key)
			continue
		}
		// Relayed paths already terminate at this node; only a
		// self-originated transaction that never left needs a closing hop.
		sealed := tp
		if len(tp.Paths) == 0 || tp.Paths[len(tp.Paths)-1].To != n.Address() {
			var err error
			sealed, err = tp.AddPath(n.Address(), n.Wallet)
			if err != nil {
				n.log.Warn("failed to seal path at miner", "err", err)
				continue
			}
		}
		asp, err := txpath.FromTransactionPaths(sealed)
		if err != nil {
			n.log.Warn("failed to aggregate path", "err", err)
			continue
		}
		txs = append(txs, tp.Transaction)
		paths = append(paths, asp)
	}

	tip := n.Chain.Tip()
	body := chain.Body{Transactions: txs, AggregatedPaths: paths}
	b, err := chain.New(tip.Header.Index+1, msg.Epoch, msg.Slot, tip.Header.Hash, body, n.Wallet, true)
	if err != nil {
		n.log.Warn("failed to build block", "err", err)
		n.sendWorldState(Message{Kind: BlockProductionFailed, From: n.Address(), Epoch: msg.Epoch, Slot: msg.Slot, Reason: err.Error()})
		return
	}
	if err := n.Chain.AddBlock(b); err != nil {
		n.log.Warn("failed to append own block", "err", err)
		n.sendWorldState(Message{Kind: BlockProductionFailed, From: n.Address(), Epoch: msg.Epoch, Slot: msg.Slot, Reason: err.Error()})
		return
	}
	for _, tx := range txs {
		n.pathCache.Remove(tx.Hash)
	}

	n.broadcast(wallet.Address(""), func(addr wallet.Address) (Message, bool) {
		return Message{Kind: SendBlock, From: n.Address(), Block: b}, true
	})
	n.sendWorldState(Message{Kind: SendBlock, From: n.Address(), Block: b, Epoch: msg.Epoch, Slot: msg.Slot})
}

// --- RANDAO / validator registration ---------------------------------------

// handleSendRandaoSeed generates fresh 32 random bytes, signs them with
// ECDSA, and returns them to WorldState.
func (n *Node) handleSendRandaoSeed(msg Message) {
	seed, err := wallet.RandomSeed()
	if err != nil {
		n.log.Warn("failed to generate randao seed", "err", err)
		return
	}
	sig, err := n.Wallet.Sign(seed[:])
	if err != nil {
		n.log.Warn("failed to sign randao seed", "err", err)
		return
	}
	n.sendWorldState(Message{
		Kind:            ReceiveRandaoSeed,
		From:            n.Address(),
		RandaoSeed:      seed,
		RandaoSignature: sig,
	})
}

// handleBecomeValidator parses the stake map; sets own balance to the
// assigned stake; sends ReceiveBecomeValidator to WorldState. Malicious
// nodes split the stake across Sybil identities and register all.
func (n *Node) handleBecomeValidator(msg Message) {
	stake, ok := msg.StakeMap[n.Address()]
	if !ok {
		n.log.Debug("no stake assigned in BecomeValidator message")
		return
	}
	n.mu.Lock()
	n.Balance = stake
	n.mu.Unlock()

	if n.NodeType == Malicious && len(n.SybilWallets) > 0 {
		share := stake / float64(len(n.SybilWallets)+1)
		n.sendWorldState(Message{
			Kind: ReceiveBecomeValidator,
			From: n.Address(),
			Validator: consensus.Validator{
				Address: string(n.Address()),
				Stake:   share,
			},
		})
		for _, sw := range n.SybilWallets {
			n.sendWorldState(Message{
				Kind: ReceiveBecomeValidator,
				From: n.Address(),
				Validator: consensus.Validator{
					Address: string(sw.Address()),
					Stake:   share,
				},
			})
		}
		return
	}

	n.sendWorldState(Message{
		Kind: ReceiveBecomeValidator,
		From: n.Address(),
		Validator: consensus.Validator{
			Address: string(n.Address()),
			Stake:   stake,
		},
	})
}

// --- Slot clock / churn -----------------------------------------------------

// handleUpdateSlot advances the node's local (epoch, slot). For
// Unstable nodes, it implements Bernoulli-trial churn at each epoch
// boundary using OfflineProbability, comes back online at
// OfflineUntilEpoch and immediately requests block-sync to catch up.
func (n *Node) handleUpdateSlot(msg Message) {
	n.mu.Lock()
	epochBoundary := msg.Epoch != n.currentEpoch
	n.currentEpoch = msg.Epoch
	n.currentSlot = msg.Slot
	n.mu.Unlock()

	if n.NodeType != Unstable || !epochBoundary {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.Online {
		if msg.Epoch >= n.OfflineUntilEpoch {
			n.Online = true
			n.SyncInProgress = true
			go n.broadcast(wallet.Address(""), func(addr wallet.Address) (Message, bool) {
				return Message{Kind: RequestBlockSync, From: n.Address(), FromIndex: n.Chain.Height()}, true
			})
		}
		return
	}
	if n.rng.Float64() < n.OfflineProbability {
		n.Online = false
		n.OfflineUntilEpoch = msg.Epoch + 1
	}
}

// --- Block sync --------------------------------------------------------------

// handleRequestBlockSync returns the chain tail after the requester's
// last known index.
func (n *Node) handleRequestBlockSync(msg Message) {
	tail := n.Chain.Tail(msg.FromIndex)
	if len(tail) == 0 {
		return
	}
	ch, ok := n.neighbors[msg.From]
	if !ok {
		return
	}
	select {
	case ch <- Message{Kind: ResponseBlockSync, From: n.Address(), SyncBlocks: tail}:
	case <-time.After(time.Second):
		n.log.Warn("failed to send sync response, neighbor mailbox full")
	}
}

// handleResponseBlockSync appends blocks in order, handling index
// mismatch and parent mismatch by popping the local tip once and
// retrying (bounded rewind).
func (n *Node) handleResponseBlockSync(msg Message) {
	poppedOnce := false
	for _, b := range msg.SyncBlocks {
		err := n.Chain.AddBlock(b)
		if err == nil {
			continue
		}
		if (err == chain.ErrParentHashMismatch || err == chain.ErrIndexMismatch) && !poppedOnce {
			n.Chain.PopTip()
			poppedOnce = true
			if retryErr := n.Chain.AddBlock(b); retryErr != nil {
				n.log.Warn("block-sync retry failed, dropping and waiting for next slot", "err", retryErr)
				break
			}
			continue
		}
		n.log.Debug("block-sync append failed", "err", err)
		break
	}
	n.mu.Lock()
	n.SyncInProgress = false
	n.mu.Unlock()
}

// --- Stake / balance updates --------------------------------------------------

func (n *Node) handleUpdateValidatorStake(msg Message) {
	// Informational in this node implementation: authoritative stake
	// lives in worldstate's validator registry; nodes only track their
	// own balance locally.
}

func (n *Node) handleUpdateNodeBalance(msg Message) {
	n.mu.Lock()
	n.Balance = msg.NewBalance
	n.mu.Unlock()
}
