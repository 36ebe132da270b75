package simconfig

import (
	"math"
	"math/rand"
	"sort"
)

// GenerateStakes produces n positive stake values whose population
// approximately matches the target Gini coefficient, by drawing from a
// Pareto distribution whose shape parameter is solved to hit the
// target. totalStake is the sum to normalize to.
func GenerateStakes(n int, targetGini float64, totalStake float64, seed int64) []float64 {
	if n <= 0 {
		return nil
	}
	if targetGini <= 0 {
		equal := totalStake / float64(n)
		out := make([]float64, n)
		for i := range out {
			out[i] = equal
		}
		return out
	}

	// Pareto Gini = 1/(2*alpha-1) for alpha>0.5; solve for alpha.
	g := targetGini
	if g > 0.95 {
		g = 0.95
	}
	alpha := (1.0/g + 1.0) / 2.0

	rng := rand.New(rand.NewSource(seed))
	raw := make([]float64, n)
	for i := range raw {
		u := rng.Float64()
		raw[i] = math.Pow(1-u, -1.0/alpha)
	}
	sort.Float64s(raw)

	var sum float64
	for _, v := range raw {
		sum += v
	}
	out := make([]float64, n)
	for i, v := range raw {
		out[i] = v / sum * totalStake
	}
	return out
}
