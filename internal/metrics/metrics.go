// Package metrics implements pogsim's pure statistical functions
// (Gini, Herfindahl, path-length stats, packing delay) and the two CSV
// record schemas the simulator appends to per slot and per epoch.
package metrics

import (
	"encoding/csv"
	"os"
	"sort"
)

// Herfindahl computes the Herfindahl-Hirschman concentration index
// Σ(sᵢ/Σs)² over a set of stake-like shares.
func Herfindahl(shares []float64) float64 {
	var total float64
	for _, s := range shares {
		total += s
	}
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, s := range shares {
		r := s / total
		sum += r * r
	}
	return sum
}

// Gini computes the Gini coefficient by the standard sorted-index
// formula, clamped to [0,1].
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sumOfDiffs, sum float64
	for i, v := range sorted {
		sumOfDiffs += float64(2*(i+1)-n-1) * v
		sum += v
	}
	if sum <= 0 {
		return 0
	}
	g := sumOfDiffs / (float64(n) * sum)
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// PathLengthStats holds mean/min/max/median over a set of path lengths.
type PathLengthStats struct {
	Mean, Min, Max, Median float64
}

// PathStats computes mean/min/max/median over a path-length set.
func PathStats(lengths []int) PathLengthStats {
	if len(lengths) == 0 {
		return PathLengthStats{}
	}
	sorted := make([]int, len(lengths))
	copy(sorted, lengths)
	sort.Ints(sorted)

	var sum int
	for _, l := range sorted {
		sum += l
	}
	mean := float64(sum) / float64(len(sorted))

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = float64(sorted[mid-1]+sorted[mid]) / 2.0
	} else {
		median = float64(sorted[mid])
	}

	return PathLengthStats{
		Mean:   mean,
		Min:    float64(sorted[0]),
		Max:    float64(sorted[len(sorted)-1]),
		Median: median,
	}
}

// AvgTxDelayMs computes the mean packing delay (block timestamp minus
// transaction timestamp) in milliseconds, over nanosecond unix
// timestamps.
func AvgTxDelayMs(blockTimestamp int64, txTimestamps []int64) float64 {
	if len(txTimestamps) == 0 {
		return 0
	}
	var sum int64
	for _, ts := range txTimestamps {
		sum += blockTimestamp - ts
	}
	meanNanos := float64(sum) / float64(len(txTimestamps))
	return meanNanos / 1e6
}

// SlotRow is one metrics_slots.csv row; the column order is fixed.
type SlotRow struct {
	Epoch                 uint64
	Slot                  uint64
	Miner                 string
	ProposerStake         float64
	Timestamp             int64
	BlockHash             string
	TxCount               int
	Throughput            float64
	AvgPathLength         float64
	MinPathLength         float64
	MaxPathLength         float64
	MedianPathLength      float64
	StakeConcentration    float64
	GiniCoefficient       float64
	ConsensusType         string
	ConsensusState        string
	AvgTxDelayMs          float64
	BlockProductionOK     bool
	BlockProductionFailed bool
}

var slotHeader = []string{
	"epoch", "slot", "miner", "proposer_stake", "timestamp", "block_hash",
	"tx_count", "throughput", "avg_path_length", "min_path_length",
	"max_path_length", "median_path_length", "stake_concentration",
	"gini_coefficient", "consensus_type", "consensus_state",
	"avg_tx_delay_ms", "block_production_success", "block_production_failed",
}

// EpochRow is one metrics_epochs.csv row; the column order is fixed.
// The NTD/contribution/virtual-stake columns stay zero for non-PoG runs.
type EpochRow struct {
	Epoch              uint64
	DurationMs         float64
	BlockCount         int
	Throughput         float64
	AvgPathLength      float64
	MinPathLength      float64
	MaxPathLength      float64
	StakeConcentration float64
	ConsensusState     string
	NTD                int
	MeanContribution   float64
	MinContribution    float64
	MaxContribution    float64
	MeanVirtualStake   float64
	MinVirtualStake    float64
	MaxVirtualStake    float64
}

var epochHeader = []string{
	"epoch", "duration_ms", "block_count", "throughput", "avg_path_length",
	"min_path_length", "max_path_length", "stake_concentration",
	"consensus_state", "ntd", "mean_contribution", "min_contribution",
	"max_contribution", "mean_virtual_stake", "min_virtual_stake",
	"max_virtual_stake",
}

// CSVWriter appends SlotRow/EpochRow records to two CSV files, writing
// the header iff the file is empty on open.
type CSVWriter struct {
	slotsFile  *os.File
	epochsFile *os.File
	slotsW     *csv.Writer
	epochsW    *csv.Writer
}

// NewCSVWriter opens (creating if needed) the slot and epoch CSV files at
// slotsPath and epochsPath.
func NewCSVWriter(slotsPath, epochsPath string) (*CSVWriter, error) {
	w := &CSVWriter{}

	slotsFile, slotsNew, err := openForAppend(slotsPath)
	if err != nil {
		return nil, err
	}
	w.slotsFile = slotsFile
	w.slotsW = csv.NewWriter(slotsFile)
	if slotsNew {
		_ = w.slotsW.Write(slotHeader)
		w.slotsW.Flush()
	}

	epochsFile, epochsNew, err := openForAppend(epochsPath)
	if err != nil {
		slotsFile.Close()
		return nil, err
	}
	w.epochsFile = epochsFile
	w.epochsW = csv.NewWriter(epochsFile)
	if epochsNew {
		_ = w.epochsW.Write(epochHeader)
		w.epochsW.Flush()
	}

	return w, nil
}

func openForAppend(path string) (*os.File, bool, error) {
	info, statErr := os.Stat(path)
	empty := statErr != nil || info.Size() == 0
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, false, err
	}
	return f, empty, nil
}

// WriteSlot appends one slot row and flushes.
func (w *CSVWriter) WriteSlot(r SlotRow) error {
	record := []string{
		fmtUint(r.Epoch), fmtUint(r.Slot), r.Miner, fmtFloat(r.ProposerStake),
		fmtInt64(r.Timestamp), r.BlockHash, fmtInt(r.TxCount), fmtFloat(r.Throughput),
		fmtFloat(r.AvgPathLength), fmtFloat(r.MinPathLength), fmtFloat(r.MaxPathLength),
		fmtFloat(r.MedianPathLength), fmtFloat(r.StakeConcentration), fmtFloat(r.GiniCoefficient),
		r.ConsensusType, r.ConsensusState, fmtFloat(r.AvgTxDelayMs),
		fmtBool(r.BlockProductionOK), fmtBool(r.BlockProductionFailed),
	}
	if err := w.slotsW.Write(record); err != nil {
		return err
	}
	w.slotsW.Flush()
	return w.slotsW.Error()
}

// WriteEpoch appends one epoch row and flushes.
func (w *CSVWriter) WriteEpoch(r EpochRow) error {
	record := []string{
		fmtUint(r.Epoch), fmtFloat(r.DurationMs), fmtInt(r.BlockCount), fmtFloat(r.Throughput),
		fmtFloat(r.AvgPathLength), fmtFloat(r.MinPathLength), fmtFloat(r.MaxPathLength),
		fmtFloat(r.StakeConcentration), r.ConsensusState, fmtInt(r.NTD),
		fmtFloat(r.MeanContribution), fmtFloat(r.MinContribution), fmtFloat(r.MaxContribution),
		fmtFloat(r.MeanVirtualStake), fmtFloat(r.MinVirtualStake), fmtFloat(r.MaxVirtualStake),
	}
	if err := w.epochsW.Write(record); err != nil {
		return err
	}
	w.epochsW.Flush()
	return w.epochsW.Error()
}

// Close flushes and closes both underlying files.
func (w *CSVWriter) Close() error {
	w.slotsW.Flush()
	w.epochsW.Flush()
	if err := w.slotsFile.Close(); err != nil {
		return err
	}
	return w.epochsFile.Close()
}
