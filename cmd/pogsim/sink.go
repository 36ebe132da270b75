package main

import (
	"sort"
	"time"

	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/metrics"
	"github.com/pog-sim/pogsim/internal/wallet"
	"github.com/pog-sim/pogsim/internal/worldstate"
)

// pogSnapshotter is implemented only by *consensus.PoG; the type assertion
// in RecordEpoch simply misses for the other three engines.
type pogSnapshotter interface {
	Snapshot(validators []consensus.Validator) (ntd int, scores map[wallet.Address]float64, virtualStakes map[wallet.Address]float64)
}

// metricsSink adapts worldstate.MetricsSink to the CSV schemas of
// internal/metrics, pulling in the validator snapshot and (for PoG) the
// contribution/virtual-stake state that a bare SlotRecord/EpochRecord
// doesn't carry.
type metricsSink struct {
	writer        *metrics.CSVWriter
	consensusType string
	engine        consensus.Engine
	ws            *worldstate.WorldState
	slotDuration  time.Duration

	epochStart time.Time
}

func (s *metricsSink) RecordSlot(r worldstate.SlotRecord) {
	row := metrics.SlotRow{
		Epoch:                 r.Epoch,
		Slot:                  r.Slot,
		Miner:                 string(r.Miner),
		ProposerStake:         r.ProposerStake,
		Timestamp:             r.Timestamp,
		BlockHash:             r.BlockHash,
		TxCount:               r.TxCount,
		StakeConcentration:    metrics.Herfindahl(r.Stakes),
		GiniCoefficient:       metrics.Gini(r.Stakes),
		ConsensusType:         s.consensusType,
		ConsensusState:        r.ConsensusState,
		BlockProductionOK:     r.Success,
		BlockProductionFailed: !r.Success,
	}
	if s.slotDuration > 0 {
		row.Throughput = float64(r.TxCount) / s.slotDuration.Seconds()
	}
	if r.Block != nil {
		var lengths []int
		for _, asp := range r.Block.Body.AggregatedPaths {
			lengths = append(lengths, asp.NonMinerLength())
		}
		stats := metrics.PathStats(lengths)
		row.AvgPathLength = stats.Mean
		row.MinPathLength = stats.Min
		row.MaxPathLength = stats.Max
		row.MedianPathLength = stats.Median

		txTimes := make([]int64, 0, len(r.Block.Body.Transactions))
		for _, tx := range r.Block.Body.Transactions {
			txTimes = append(txTimes, tx.Timestamp)
		}
		row.AvgTxDelayMs = metrics.AvgTxDelayMs(r.Block.Header.Timestamp, txTimes)
	}
	_ = s.writer.WriteSlot(row)
}

func (s *metricsSink) RecordEpoch(r worldstate.EpochRecord) {
	if s.epochStart.IsZero() {
		s.epochStart = time.Now()
	}
	duration := time.Since(s.epochStart)
	s.epochStart = time.Now()

	var pathLengths []int
	var txCount int
	for _, b := range r.Blocks {
		txCount += len(b.Body.Transactions)
		for _, asp := range b.Body.AggregatedPaths {
			pathLengths = append(pathLengths, asp.NonMinerLength())
		}
	}
	stats := metrics.PathStats(pathLengths)

	throughput := 0.0
	if duration > 0 {
		throughput = float64(txCount) / duration.Seconds()
	}

	var stakes []float64
	var validators []consensus.Validator
	if s.ws != nil {
		validators = s.ws.Validators()
		for _, v := range validators {
			stakes = append(stakes, v.Stake)
		}
	}

	row := metrics.EpochRow{
		Epoch:              r.Epoch,
		DurationMs:         float64(duration.Milliseconds()),
		BlockCount:         r.BlockCount,
		Throughput:         throughput,
		AvgPathLength:      stats.Mean,
		MinPathLength:      stats.Min,
		MaxPathLength:      stats.Max,
		StakeConcentration: metrics.Herfindahl(stakes),
		ConsensusState:     r.ConsensusState,
	}

	if snap, ok := s.engine.(pogSnapshotter); ok {
		ntd, scores, virtualStakes := snap.Snapshot(validators)
		row.NTD = ntd
		row.MeanContribution, row.MinContribution, row.MaxContribution = contributionStats(scores)
		row.MeanVirtualStake, row.MinVirtualStake, row.MaxVirtualStake = contributionStats(virtualStakes)
	}

	_ = s.writer.WriteEpoch(row)
}

// contributionStats computes mean/min/max over a per-address value map,
// sorted by address first so results are deterministic across map
// iteration order.
func contributionStats(values map[wallet.Address]float64) (mean, min, max float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	min, max = values[wallet.Address(keys[0])], values[wallet.Address(keys[0])]
	var sum float64
	for _, k := range keys {
		v := values[wallet.Address(k)]
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(len(keys)), min, max
}
