package consensus

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pog-sim/pogsim/internal/chain"
)

// slotMiners tracks the cancel function for a slot's background mining
// goroutine set and each validator's best difficulty collected so far.
type slotMiners struct {
	mu      sync.Mutex
	records map[string]int
	cancel  context.CancelFunc
}

// Minotaur is the hybrid PoW/PoS engine: continuous per-slot background
// mining keyed by slot index, hybrid weighting at selection time.
// powBlocks is an LRU cache keyed by slot index so stale mining windows
// age out even if epoch-end eviction misses them.
type Minotaur struct {
	mu           sync.Mutex
	Omega        float64 // hybrid weight, default 0.5
	SlotDuration time.Duration
	BaseReward   float64
	BaseSleep    time.Duration

	powBlocks *lru.Cache[uint64, *slotMiners]
	current   *slotMiners
	currentAt uint64
}

// NewMinotaur constructs a Minotaur engine with the default hybrid
// weight omega=0.5.
func NewMinotaur(slotDuration time.Duration, baseReward float64) *Minotaur {
	cache, _ := lru.New[uint64, *slotMiners](64)
	return &Minotaur{
		Omega:        0.5,
		SlotDuration: slotDuration,
		BaseReward:   baseReward,
		BaseSleep:    time.Millisecond,
		powBlocks:    cache,
	}
}

// NextSlot stops the previous slot's background mining set, records it
// in powBlocks keyed by the previous slot index, and spawns a new set of
// miners for the current slot parameterized by each validator's hash
// power (micro-sleep = base/hash_power per batch), running until the
// next slot tick.
func (m *Minotaur) NextSlot(validators []Validator, blockIndex uint64) {
	m.mu.Lock()
	prev := m.current
	prevIndex := m.currentAt
	if prev != nil {
		prev.cancel()
		m.powBlocks.Add(prevIndex, prev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	next := &slotMiners{records: make(map[string]int), cancel: cancel}
	m.current = next
	m.currentAt = blockIndex
	m.mu.Unlock()

	for _, v := range validators {
		go m.backgroundMine(ctx, v, next)
	}
}

func (m *Minotaur) backgroundMine(ctx context.Context, v Validator, slot *slotMiners) {
	sleep := m.BaseSleep
	if v.HashPower > 0 {
		sleep = time.Duration(float64(m.BaseSleep) / v.HashPower)
	}
	var nonce uint64
	var seed [32]byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for b := 0; b < hashBatch; b++ {
			h := hashAttempt(seed, v.Address, nonce)
			d := leadingZeroBits(h[:])
			slot.mu.Lock()
			if d > slot.records[v.Address] {
				slot.records[v.Address] = d
			}
			slot.mu.Unlock()
			nonce++
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// SelectProposer uses the PoW records captured during the prior slot's
// mining window: each validator's PoW score is 2^max_difficulty,
// normalized; stake share is also normalized; hybrid weight =
// omega*pow_share + (1-omega)*stake_share; weighted random pick using
// the seed.
func (m *Minotaur) SelectProposer(validators []Validator, seed [32]byte, ch *chain.Blockchain) (Validator, error) {
	if len(validators) == 0 {
		return Validator{}, ErrNoValidator
	}

	m.mu.Lock()
	// worldstate elects before calling NextSlot, so the window that mined
	// through the prior slot is still m.current, not yet in powBlocks.
	var priorRecords map[string]int
	if prior := m.current; prior != nil {
		prior.mu.Lock()
		priorRecords = make(map[string]int, len(prior.records))
		for k, v := range prior.records {
			priorRecords[k] = v
		}
		prior.mu.Unlock()
	}
	omega := m.Omega
	m.mu.Unlock()

	powScore := make(map[string]float64, len(validators))
	var powTotal, stakeTotal float64
	for _, v := range validators {
		score := math.Pow(2, float64(priorRecords[v.Address]))
		if priorRecords[v.Address] == 0 {
			score = 0
		}
		powScore[v.Address] = score
		powTotal += score
		stakeTotal += v.Stake
	}

	weights := make([]float64, len(validators))
	var weightSum float64
	for i, v := range validators {
		var powShare, stakeShare float64
		if powTotal > 0 {
			powShare = powScore[v.Address] / powTotal
		}
		if stakeTotal > 0 {
			stakeShare = v.Stake / stakeTotal
		}
		w := omega*powShare + (1-omega)*stakeShare
		weights[i] = w
		weightSum += w
	}
	if weightSum <= 0 {
		idx := rand.New(rand.NewSource(seedToInt64(seed))).Intn(len(validators))
		return validators[idx], nil
	}

	src := rand.New(rand.NewSource(seedToInt64(seed)))
	u := src.Float64() * weightSum
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if u < cumulative {
			return validators[i], nil
		}
	}
	return validators[len(validators)-1], nil
}

// OnEpochEnd evicts per-slot mining records older than the closed
// epoch's window.
func (m *Minotaur) OnEpochEnd(blocksOfClosedEpoch []*chain.Block) {
	if len(blocksOfClosedEpoch) == 0 {
		return
	}
	minIndex := blocksOfClosedEpoch[0].Header.Index
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.powBlocks.Keys() {
		if key < minIndex {
			m.powBlocks.Remove(key)
		}
	}
}

// DistributeRewards credits the miner base + sum of transaction fees,
// same reward schedule as PoS/PoW.
func (m *Minotaur) DistributeRewards(b *chain.Block, validators []Validator) map[string]float64 {
	feeSum := sumFees(b.Body.Transactions)
	return map[string]float64{string(b.Header.Miner): m.BaseReward + feeSum}
}

func (m *Minotaur) StateSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("minotaur(omega=%.2f)", m.Omega)
}
