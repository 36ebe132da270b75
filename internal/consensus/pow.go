package consensus

import (
	"context"
	"fmt"
	"math/bits"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/pog-sim/pogsim/internal/chain"
)

// hashBatch is the number of nonces a PoW miner hashes between checks of
// the shared stop flag; a miner observes cancellation within one batch.
const hashBatch = 5000

// PoW implements the simulated bounded multi-goroutine mining race.
type PoW struct {
	mu           sync.Mutex
	Difficulty   int
	SlotDuration time.Duration
	BaseReward   float64
	MaxThreads   int
}

// NewPoW constructs a PoW engine with the given starting difficulty
// (leading-zero-bit target) and slot duration.
func NewPoW(difficulty int, slotDuration time.Duration, baseReward float64, maxThreads int) *PoW {
	return &PoW{Difficulty: difficulty, SlotDuration: slotDuration, BaseReward: baseReward, MaxThreads: maxThreads}
}

// SelectProposer runs one bounded race: every validator's goroutine
// hashes seed||address||nonce searching for `Difficulty` leading zero
// bits; the first success (under a mutex) sets the winner and the
// shared stop flag halts the rest. A wall-clock timeout of 2x slot
// duration enforces progress; on timeout a random validator is picked
// and difficulty decays by one.
func (p *PoW) SelectProposer(validators []Validator, seed [32]byte, ch *chain.Blockchain) (Validator, error) {
	if len(validators) == 0 {
		return Validator{}, ErrNoValidator
	}

	p.mu.Lock()
	difficulty := p.Difficulty
	timeout := 2 * p.SlotDuration
	p.mu.Unlock()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stopped int32
	var winnerMu sync.Mutex
	var winner *Validator

	g, gctx := errgroup.WithContext(ctx)
	limiter := p.MaxThreads
	if limiter <= 0 {
		limiter = len(validators)
	}
	sem := make(chan struct{}, limiter)

	for i := range validators {
		v := validators[i]
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			mine(gctx, seed, v, difficulty, &stopped, &winnerMu, &winner)
			return nil
		})
	}
	_ = g.Wait()

	if winner != nil {
		return *winner, nil
	}

	// Timeout: pick a random validator and decay difficulty by one.
	p.mu.Lock()
	if p.Difficulty > 1 {
		p.Difficulty--
	}
	p.mu.Unlock()
	idx := rand.New(rand.NewSource(seedToInt64(seed))).Intn(len(validators))
	return validators[idx], nil
}

func mine(ctx context.Context, seed [32]byte, v Validator, difficulty int, stopped *int32, winnerMu *sync.Mutex, winner **Validator) {
	var nonce uint64
	for {
		for b := 0; b < hashBatch; b++ {
			if atomic.LoadInt32(stopped) != 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			h := hashAttempt(seed, v.Address, nonce)
			if leadingZeroBits(h[:]) >= difficulty {
				winnerMu.Lock()
				if *winner == nil {
					vv := v
					*winner = &vv
					atomic.StoreInt32(stopped, 1)
				}
				winnerMu.Unlock()
				return
			}
			nonce++
		}
	}
}

func hashAttempt(seed [32]byte, address string, nonce uint64) [32]byte {
	buf := make([]byte, 0, 32+len(address)+8)
	buf = append(buf, seed[:]...)
	buf = append(buf, []byte(address)...)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(nonce>>(8*uint(i))))
	}
	return sha3.Sum256(buf)
}

func leadingZeroBits(h []byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

// OnEpochEnd re-tunes difficulty from the average observed block
// interval versus the target (slot duration): faster -> +1, slower ->
// -1 (saturating at 1).
func (p *PoW) OnEpochEnd(blocksOfClosedEpoch []*chain.Block) {
	if len(blocksOfClosedEpoch) < 2 {
		return
	}
	first := blocksOfClosedEpoch[0].Header.Timestamp
	last := blocksOfClosedEpoch[len(blocksOfClosedEpoch)-1].Header.Timestamp
	span := time.Duration(last - first)
	avgInterval := span / time.Duration(len(blocksOfClosedEpoch)-1)

	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.SlotDuration
	if target <= 0 {
		return
	}
	switch {
	case avgInterval < target:
		p.Difficulty++
	case avgInterval > target && p.Difficulty > 1:
		p.Difficulty--
	}
}

// NextSlot is a no-op for PoW: the mining race happens entirely inside
// SelectProposer, with no continuous background work between slots.
func (p *PoW) NextSlot(validators []Validator, blockIndex uint64) {}

// DistributeRewards credits the miner base + sum of transaction fees,
// the same schedule as PoS.
func (p *PoW) DistributeRewards(b *chain.Block, validators []Validator) map[string]float64 {
	feeSum := sumFees(b.Body.Transactions)
	return map[string]float64{string(b.Header.Miner): p.BaseReward + feeSum}
}

func (p *PoW) StateSummary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("pow(difficulty=%d)", p.Difficulty)
}
