package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/metrics"
)

func TestHerfindahlFullConcentrationIsOne(t *testing.T) {
	assert.InDelta(t, 1.0, metrics.Herfindahl([]float64{10, 0, 0}), 1e-9)
}

func TestHerfindahlEvenSplitIsOneOverN(t *testing.T) {
	h := metrics.Herfindahl([]float64{1, 1, 1, 1})
	assert.InDelta(t, 0.25, h, 1e-9)
}

func TestHerfindahlEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, metrics.Herfindahl(nil))
}

func TestGiniEqualDistributionIsZero(t *testing.T) {
	g := metrics.Gini([]float64{5, 5, 5, 5})
	assert.InDelta(t, 0.0, g, 1e-9)
}

func TestGiniIsClampedToUnitInterval(t *testing.T) {
	g := metrics.Gini([]float64{0, 0, 0, 100})
	assert.GreaterOrEqual(t, g, 0.0)
	assert.LessOrEqual(t, g, 1.0)
}

func TestPathStatsComputesMeanMinMaxMedian(t *testing.T) {
	stats := metrics.PathStats([]int{1, 2, 3, 4})
	assert.InDelta(t, 2.5, stats.Mean, 1e-9)
	assert.InDelta(t, 1.0, stats.Min, 1e-9)
	assert.InDelta(t, 4.0, stats.Max, 1e-9)
	assert.InDelta(t, 2.5, stats.Median, 1e-9)
}

func TestPathStatsEmptyIsZeroValue(t *testing.T) {
	assert.Equal(t, metrics.PathLengthStats{}, metrics.PathStats(nil))
}

func TestAvgTxDelayMs(t *testing.T) {
	blockTs := int64(10_000_000) // 10ms in nanoseconds
	txTimestamps := []int64{0, 5_000_000}
	got := metrics.AvgTxDelayMs(blockTs, txTimestamps)
	assert.InDelta(t, 7.5, got, 1e-6)
}

func TestCSVWriterWritesHeaderOnceAndAppendsRows(t *testing.T) {
	dir := t.TempDir()
	slotsPath := filepath.Join(dir, "metrics_slots.csv")
	epochsPath := filepath.Join(dir, "metrics_epochs.csv")

	w, err := metrics.NewCSVWriter(slotsPath, epochsPath)
	require.NoError(t, err)

	require.NoError(t, w.WriteSlot(metrics.SlotRow{Epoch: 1, Slot: 2, Miner: "0xaaa"}))
	require.NoError(t, w.WriteEpoch(metrics.EpochRow{Epoch: 1, BlockCount: 3}))
	require.NoError(t, w.Close())

	slotsContent, err := os.ReadFile(slotsPath)
	require.NoError(t, err)
	assert.Contains(t, string(slotsContent), "epoch,slot,miner")
	assert.Contains(t, string(slotsContent), "0xaaa")

	epochsContent, err := os.ReadFile(epochsPath)
	require.NoError(t, err)
	assert.Contains(t, string(epochsContent), "epoch,duration_ms")

	// Reopening an existing file must not duplicate the header.
	w2, err := metrics.NewCSVWriter(slotsPath, epochsPath)
	require.NoError(t, err)
	require.NoError(t, w2.WriteSlot(metrics.SlotRow{Epoch: 2, Slot: 1}))
	require.NoError(t, w2.Close())

	reopened, err := os.ReadFile(slotsPath)
	require.NoError(t, err)
	assert.Equal(t, 1, countOccurrences(string(reopened), "epoch,slot,miner"))
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
