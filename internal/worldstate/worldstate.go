// Package worldstate implements the WorldState coordinator: slot clock,
// RANDAO seed collection, validator registry, proposer election, epoch
// transitions, and metrics emission.
package worldstate

import (
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/contribution"
	"github.com/pog-sim/pogsim/internal/node"
	"github.com/pog-sim/pogsim/internal/simlog"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// pathIngester is implemented only by the PoG engine. Other engines don't
// declare IngestSlotPaths, so the type assertion in ingestContributionPaths simply
// misses for them.
type pathIngester interface {
	IngestSlotPaths(paths []contribution.Path, validators []consensus.Validator, stakeOf func(wallet.Address) float64)
}

// SlotManager tracks the slot clock and the RANDAO contributions
// collected during the current slot window.
type SlotManager struct {
	CurrentEpoch   uint64
	CurrentSlot    uint64
	SlotsPerEpoch  uint64
	SlotDuration   time.Duration
	StartTimestamp time.Time

	seeds map[wallet.Address][32]byte
}

func newSlotManager(slotsPerEpoch uint64, slotDuration time.Duration) *SlotManager {
	return &SlotManager{
		SlotsPerEpoch:  slotsPerEpoch,
		SlotDuration:   slotDuration,
		StartTimestamp: time.Now(),
		seeds:          make(map[wallet.Address][32]byte),
	}
}

// SlotRecord and EpochRecord are the minimal shapes WorldState hands to
// its metrics sink without importing internal/metrics directly, so
// tests can inject a fake sink.
type SlotRecord struct {
	Epoch, Slot    uint64
	Miner          wallet.Address
	ProposerStake  float64
	Timestamp      int64
	BlockHash      string
	TxCount        int
	ConsensusState string
	Success        bool
	Block          *chain.Block
	Stakes         []float64
}

type EpochRecord struct {
	Epoch          uint64
	BlockCount     int
	ConsensusState string
	Blocks         []*chain.Block
	Successes      int
	Failures       int
}

type MetricsSink interface {
	RecordSlot(SlotRecord)
	RecordEpoch(EpochRecord)
}

// WorldState owns the slot clock, write-protected validator set,
// nodes-sender map, and the authoritative Blockchain used for metrics.
type WorldState struct {
	mu sync.RWMutex

	slot       *SlotManager
	validators map[string]consensus.Validator
	nodes      map[wallet.Address]chan<- node.Message
	engine     consensus.Engine
	chain      *chain.Blockchain
	sink       MetricsSink
	log        *simlog.Logger

	Inbox chan node.Message

	slotSuccesses int
	slotFailures  int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config bundles WorldState construction parameters.
type Config struct {
	SlotsPerEpoch uint64
	SlotDuration  time.Duration
	Engine        consensus.Engine
	Chain         *chain.Blockchain
	Sink          MetricsSink
	Logger        *simlog.Logger
}

// New constructs a WorldState ready to register validators and nodes.
func New(cfg Config) *WorldState {
	return &WorldState{
		slot:       newSlotManager(cfg.SlotsPerEpoch, cfg.SlotDuration),
		validators: make(map[string]consensus.Validator),
		nodes:      make(map[wallet.Address]chan<- node.Message),
		engine:     cfg.Engine,
		chain:      cfg.Chain,
		sink:       cfg.Sink,
		log:        cfg.Logger.With("component", "worldstate"),
		Inbox:      make(chan node.Message, 100),
		stopCh:     make(chan struct{}),
	}
}

// RegisterNode adds a node's inbound channel to the broadcast set.
func (ws *WorldState) RegisterNode(addr wallet.Address, ch chan<- node.Message) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.nodes[addr] = ch
}

// Run starts the receiver task and the timer task.
func (ws *WorldState) Run() {
	ws.wg.Add(2)
	go ws.receiverLoop()
	go ws.timerLoop()
}

// Stop signals both tasks to exit and waits for them.
func (ws *WorldState) Stop() {
	close(ws.stopCh)
	ws.wg.Wait()
}

// receiverLoop consumes inbound messages: accumulates RANDAO
// contributions for the current slot, registers validators, ingests
// produced blocks for the authoritative view, records failure events.
func (ws *WorldState) receiverLoop() {
	defer ws.wg.Done()
	for {
		select {
		case <-ws.stopCh:
			return
		case msg := <-ws.Inbox:
			ws.handleInbound(msg)
		}
	}
}

func (ws *WorldState) handleInbound(msg node.Message) {
	switch msg.Kind {
	case node.ReceiveRandaoSeed:
		ws.ingestRandaoSeed(msg)
	case node.ReceiveBecomeValidator:
		ws.mu.Lock()
		ws.validators[msg.Validator.Address] = msg.Validator
		ws.mu.Unlock()
	case node.SendBlock:
		if msg.Block != nil {
			if err := ws.chain.AddBlock(msg.Block); err != nil {
				ws.log.Debug("authoritative chain rejected block", "err", err)
				ws.recordSlotOutcome(msg, false)
			} else {
				ws.mu.Lock()
				ws.slotSuccesses++
				ws.mu.Unlock()
				ws.ingestContributionPaths(msg.Block)
				ws.distributeRewards(msg.Block)
				ws.recordSlotOutcome(msg, true)
			}
		}
	case node.BlockProductionFailed:
		ws.mu.Lock()
		ws.slotFailures++
		ws.mu.Unlock()
		ws.log.Warn("block production failed", "from", string(msg.From), "reason", msg.Reason)
		ws.recordSlotOutcome(msg, false)
	}
}

// ingestRandaoSeed accumulates a seed share only if the signer is a
// current validator and its ECDSA signature over the seed verifies.
func (ws *WorldState) ingestRandaoSeed(msg node.Message) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, isValidator := ws.validators[string(msg.From)]; !isValidator {
		return
	}
	if !wallet.VerifyByAddress(msg.RandaoSeed[:], msg.RandaoSignature, msg.From) {
		ws.log.Warn("randao seed signature verification failed", "from", string(msg.From))
		return
	}
	ws.slot.seeds[msg.From] = msg.RandaoSeed
}

// timerLoop ticks on the slot deadline: rolls over slot/epoch, folds
// RANDAO contributions into the next seed, broadcasts UpdateSlot and
// SendRandaoSeed, elects a proposer, sends GenerateBlock, records
// metrics.
func (ws *WorldState) timerLoop() {
	defer ws.wg.Done()
	ticker := time.NewTicker(ws.slot.SlotDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ws.stopCh:
			return
		case <-ticker.C:
			ws.tick()
		}
	}
}

func (ws *WorldState) tick() {
	seed := ws.foldSeed()

	ws.mu.Lock()
	epochBoundary := ws.slot.CurrentSlot+1 >= ws.slot.SlotsPerEpoch
	if epochBoundary {
		ws.slot.CurrentEpoch++
		ws.slot.CurrentSlot = 0
	} else {
		ws.slot.CurrentSlot++
	}
	epoch, slot := ws.slot.CurrentEpoch, ws.slot.CurrentSlot
	ws.slot.seeds = make(map[wallet.Address][32]byte)
	validators := ws.snapshotValidators()
	ws.mu.Unlock()

	ws.broadcastAll(node.Message{Kind: node.UpdateSlot, Epoch: epoch, Slot: slot})
	for _, v := range validators {
		ws.sendTo(wallet.Address(v.Address), node.Message{Kind: node.SendRandaoSeed})
	}

	proposer, err := ws.engine.SelectProposer(validators, seed, ws.chain)
	success := err == nil
	if success {
		ws.sendTo(wallet.Address(proposer.Address), node.Message{Kind: node.GenerateBlock, Epoch: epoch, Slot: slot})
	} else {
		// No eligible proposer at all: record the miss here directly, since
		// no node will ever report back for this slot.
		ws.log.Warn("no eligible proposer this slot", "epoch", epoch, "slot", slot)
		if ws.sink != nil {
			ws.sink.RecordSlot(SlotRecord{Epoch: epoch, Slot: slot, ConsensusState: ws.engine.StateSummary(), Success: false})
		}
	}
	ws.engine.NextSlot(validators, ws.chain.Height())

	if epochBoundary {
		ws.runEpochEnd(epoch - 1)
	}
}

// recordSlotOutcome builds and emits the SlotRecord for a proposer's
// reported outcome (success or failure), keyed by the epoch/slot the
// originating GenerateBlock carried, independent of whatever slot the
// timer loop has since advanced to.
func (ws *WorldState) recordSlotOutcome(msg node.Message, success bool) {
	if ws.sink == nil {
		return
	}
	record := SlotRecord{
		Epoch:          msg.Epoch,
		Slot:           msg.Slot,
		ConsensusState: ws.engine.StateSummary(),
		Success:        success,
	}
	ws.mu.RLock()
	for _, v := range ws.validators {
		record.Stakes = append(record.Stakes, v.Stake)
	}
	if success && msg.Block != nil {
		record.Block = msg.Block
		record.Miner = msg.Block.Header.Miner
		record.Timestamp = msg.Block.Header.Timestamp
		record.BlockHash = msg.Block.Header.Hash.String()
		record.TxCount = len(msg.Block.Body.Transactions)
		if v, ok := ws.validators[string(record.Miner)]; ok {
			record.ProposerStake = v.Stake
		}
	}
	ws.mu.RUnlock()
	ws.sink.RecordSlot(record)
}

// ingestContributionPaths feeds a newly accepted block's non-miner
// address chains into the PoG engine's EMA score update, a no-op for
// every other engine.
func (ws *WorldState) ingestContributionPaths(b *chain.Block) {
	ing, ok := ws.engine.(pathIngester)
	if !ok {
		return
	}
	paths := make([]contribution.Path, 0, len(b.Body.AggregatedPaths))
	for _, asp := range b.Body.AggregatedPaths {
		paths = append(paths, contribution.Path{Addresses: asp.ScoredAddresses()})
	}

	ws.mu.RLock()
	validators := ws.snapshotValidators()
	stakes := make(map[string]float64, len(validators))
	for _, v := range validators {
		stakes[v.Address] = v.Stake
	}
	ws.mu.RUnlock()

	stakeOf := func(addr wallet.Address) float64 { return stakes[string(addr)] }
	ing.IngestSlotPaths(paths, validators, stakeOf)
}

// distributeRewards asks the engine for each validator's reward delta
// on a newly accepted block, credits it to the authoritative stake
// registry, and pushes each affected node its new balance.
func (ws *WorldState) distributeRewards(b *chain.Block) {
	ws.mu.Lock()
	validators := ws.snapshotValidators()
	ws.mu.Unlock()

	deltas := ws.engine.DistributeRewards(b, validators)
	if len(deltas) == 0 {
		return
	}

	ws.mu.Lock()
	for addr, delta := range deltas {
		v := ws.validators[addr]
		v.Address = addr
		v.Stake += delta
		ws.validators[addr] = v
	}
	updated := make(map[wallet.Address]float64, len(deltas))
	for addr := range deltas {
		updated[wallet.Address(addr)] = ws.validators[addr].Stake
	}
	ws.mu.Unlock()

	for addr, newBalance := range updated {
		ws.sendTo(addr, node.Message{Kind: node.UpdateNodeBalance, NewBalance: newBalance})
	}
}

// foldSeed combines the slot's accumulated RANDAO contributions via
// H(XOR(verified_seeds)).
func (ws *WorldState) foldSeed() [32]byte {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	var acc [32]byte
	for _, s := range ws.slot.seeds {
		for i := range acc {
			acc[i] ^= s[i]
		}
	}
	return sha3.Sum256(acc[:])
}

func (ws *WorldState) snapshotValidators() []consensus.Validator {
	out := make([]consensus.Validator, 0, len(ws.validators))
	for _, v := range ws.validators {
		out = append(out, v)
	}
	return out
}

func (ws *WorldState) broadcastAll(msg node.Message) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, ch := range ws.nodes {
		select {
		case ch <- msg:
		case <-time.After(time.Second):
			ws.log.Warn("node mailbox full while broadcasting", "kind", msg.Kind.String())
		}
	}
}

func (ws *WorldState) sendTo(addr wallet.Address, msg node.Message) {
	ws.mu.RLock()
	ch, ok := ws.nodes[addr]
	ws.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	case <-time.After(time.Second):
		ws.log.Warn("node mailbox full", "to", string(addr), "kind", msg.Kind.String())
	}
}

// runEpochEnd calls the consensus engine's OnEpochEnd for the
// just-closed epoch's blocks, then writes epoch metrics and resets the
// block-production counters.
func (ws *WorldState) runEpochEnd(closedEpoch uint64) {
	blocks := ws.chain.BlocksInEpoch(closedEpoch)
	ws.engine.OnEpochEnd(blocks)

	ws.mu.Lock()
	record := EpochRecord{
		Epoch:          closedEpoch,
		BlockCount:     len(blocks),
		ConsensusState: ws.engine.StateSummary(),
		Blocks:         blocks,
		Successes:      ws.slotSuccesses,
		Failures:       ws.slotFailures,
	}
	ws.slotSuccesses = 0
	ws.slotFailures = 0
	ws.mu.Unlock()

	ws.log.Info("epoch closed",
		"epoch", closedEpoch,
		"blocks", record.BlockCount,
		"produced", record.Successes,
		"failed", record.Failures,
		"consensus", record.ConsensusState)
	if ws.sink != nil {
		ws.sink.RecordEpoch(record)
	}
}

// Validators returns a snapshot of the current validator set, for
// external callers such as the CLI's metrics sink that need it to compute
// PoG contribution/virtual-stake statistics at epoch boundaries.
func (ws *WorldState) Validators() []consensus.Validator {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.snapshotValidators()
}

// BecomeValidatorAll broadcasts a BecomeValidator message with the given
// stake map to every registered node, used by the CLI entrypoint during
// startup validator assignment.
func (ws *WorldState) BecomeValidatorAll(stakeMap map[wallet.Address]float64) {
	ws.broadcastAll(node.Message{Kind: node.BecomeValidator, StakeMap: stakeMap})
}
