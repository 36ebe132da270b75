// Package contribution implements the pure per-slot network-contribution
// math that underlies PoG's virtual-stake derivation: path scoring with
// position and stake weighting, logarithmic saturation, EMA smoothing,
// virtual-stake blending, and the NTD/omega epoch-boundary controllers.
// Kept separate from internal/consensus so the math can be tested
// without reaching into engine internals.
package contribution

import (
	"math"

	"github.com/pog-sim/pogsim/internal/wallet"
)

// Path is the minimal shape contribution scoring needs from a block's
// embedded path: the non-miner address chain n_1..n_L, in order.
type Path struct {
	Addresses []wallet.Address
}

// Len returns L, the non-miner hop count.
func (p Path) Len() int { return len(p.Addresses) }

// PathValue is c(p): 1 if L <= ntd, else 1/(1+(L-ntd)).
func PathValue(length int, ntd int) float64 {
	if length <= ntd {
		return 1.0
	}
	return 1.0 / (1.0 + float64(length-ntd))
}

// PositionWeight is α_k = 2*(L-k+1) / (L*(L+1)) for position k in
// [1, L] (1-indexed, earlier forwarders worth more).
func PositionWeight(k, length int) float64 {
	if length <= 0 {
		return 0
	}
	return 2.0 * float64(length-k+1) / float64(length*(length+1))
}

// RawScores walks every path in a slot and accumulates the atomic score
// c(p)*α_k*ŝ_k into each scored node's raw accumulator. stakeOf must
// return a node's real stake; nodes absent from stakeOf are treated as
// stake 0, so their ŝ_k and hence their score from the path are 0.
func RawScores(paths []Path, ntd int, stakeOf func(wallet.Address) float64) map[wallet.Address]float64 {
	raw := make(map[wallet.Address]float64)
	for _, p := range paths {
		L := p.Len()
		if L == 0 {
			continue
		}
		cp := PathValue(L, ntd)
		var totalStake float64
		for _, addr := range p.Addresses {
			totalStake += stakeOf(addr)
		}
		for k := 1; k <= L; k++ {
			addr := p.Addresses[k-1]
			alphaK := PositionWeight(k, L)
			var sHat float64
			if totalStake > 0 {
				sHat = stakeOf(addr) / totalStake
			}
			raw[addr] += cp * alphaK * sHat
		}
	}
	return raw
}

// Saturate applies the logarithmic saturation C_slot(n) = Ksat *
// ln(1 + raw(n)/Kbase), preventing linear inflation from spam.
func Saturate(raw map[wallet.Address]float64, kSat, kBase float64) map[wallet.Address]float64 {
	out := make(map[wallet.Address]float64, len(raw))
	for addr, r := range raw {
		out[addr] = kSat * math.Log(1.0+r/kBase)
	}
	return out
}

// EMAUpdate applies Score(n,t) = alpha*Cslot(n,t) + (1-alpha)*Score(n,t-1)
// for every validator in the registry, including those with no slot
// score this round (their Cslot is treated as 0, letting scores decay).
func EMAUpdate(prevScores map[wallet.Address]float64, slotScores map[wallet.Address]float64, validators []wallet.Address, alpha float64) map[wallet.Address]float64 {
	next := make(map[wallet.Address]float64, len(validators))
	for _, v := range validators {
		cSlot := slotScores[v]
		prev := prevScores[v]
		next[v] = alpha*cSlot + (1-alpha)*prev
	}
	return next
}

// Normalize scales values to sum to 1. If the total is zero, every
// validator gets an equal share, which avoids division by zero while
// score history is still empty at genesis.
func Normalize(values map[wallet.Address]float64, keys []wallet.Address) map[wallet.Address]float64 {
	var total float64
	for _, k := range keys {
		total += values[k]
	}
	out := make(map[wallet.Address]float64, len(keys))
	if total <= 0 {
		if len(keys) == 0 {
			return out
		}
		share := 1.0 / float64(len(keys))
		for _, k := range keys {
			out[k] = share
		}
		return out
	}
	for _, k := range keys {
		out[k] = values[k] / total
	}
	return out
}

// VirtualStake computes S_v(n) = omega*normScore(n) + (1-omega)*normStake(n)
// for every validator.
func VirtualStake(normScore, normStake map[wallet.Address]float64, validators []wallet.Address, omega float64) map[wallet.Address]float64 {
	out := make(map[wallet.Address]float64, len(validators))
	for _, v := range validators {
		out[v] = omega*normScore[v] + (1-omega)*normStake[v]
	}
	return out
}

// NextNTD is the single-step NTD tracking controller: target =
// ceil(avgPathLength); if ntd > target, ntd--; if ntd < target, ntd++;
// else unchanged. Deliberately slow to avoid oscillation.
func NextNTD(currentNTD int, avgPathLength float64) int {
	target := int(math.Ceil(avgPathLength))
	switch {
	case currentNTD > target:
		return currentNTD - 1
	case currentNTD < target:
		return currentNTD + 1
	default:
		return currentNTD
	}
}

// NextOmega evolves omega += 0.1 per epoch boundary, clamped to [0,1]:
// election weight transfers gradually from pure stake to contribution.
func NextOmega(current float64) float64 {
	next := current + 0.1
	if next > 1.0 {
		return 1.0
	}
	if next < 0.0 {
		return 0.0
	}
	return next
}

// PenaltyFactor is P(B) = 1 if Lavg <= ntd, else (ntd/Lavg)^2, used in
// reward splitting between miner and the network-fee pool.
func PenaltyFactor(avgPathLength float64, ntd int) float64 {
	if avgPathLength <= float64(ntd) {
		return 1.0
	}
	ratio := float64(ntd) / avgPathLength
	return ratio * ratio
}

// SplitFees returns (minerFee, networkFee) given total fees F and
// penalty P: F_miner = 0.5*F*P, F_net = F*(1-0.5*P).
func SplitFees(totalFees float64, penalty float64) (minerFee, networkFee float64) {
	minerFee = 0.5 * totalFees * penalty
	networkFee = totalFees * (1 - 0.5*penalty)
	return
}

// AveragePathLength returns the mean non-miner length across paths,
// used both for NTD adaptation and reward penalty computation. Returns
// 0 for an empty path set.
func AveragePathLength(paths []Path) float64 {
	if len(paths) == 0 {
		return 0
	}
	var sum int
	for _, p := range paths {
		sum += p.Len()
	}
	return float64(sum) / float64(len(paths))
}

// ContributionBound returns the per-node upper bound
// Ksat*ln(1 + sum(c(p)*alpha_k)/Kbase) across a set of paths that
// include the node, used by tests asserting 0 <= Cslot(n,t) <= bound.
func ContributionBound(sumWeighted float64, kSat, kBase float64) float64 {
	return kSat * math.Log(1.0+sumWeighted/kBase)
}
