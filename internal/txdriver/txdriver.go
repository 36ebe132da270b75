// Package txdriver implements a minimal Poisson-process transaction-rate
// driver: it generates origination events and enqueues them at randomly
// chosen nodes, nothing more.
package txdriver

import (
	"math"
	"math/rand"
	"time"

	"github.com/pog-sim/pogsim/internal/node"
	"github.com/pog-sim/pogsim/internal/wallet"
)

// Driver fires GenerateTransactionPaths messages at randomly chosen
// nodes following a Poisson process with mean rate meanPerSecond.
type Driver struct {
	meanPerSecond float64
	rng           *rand.Rand
	nodes         []chan<- node.Message
	stopCh        chan struct{}
}

// New constructs a Driver targeting the given node inboxes.
func New(meanPerSecond float64, seed int64, nodeInboxes []chan<- node.Message) *Driver {
	return &Driver{
		meanPerSecond: meanPerSecond,
		rng:           rand.New(rand.NewSource(seed)),
		nodes:         nodeInboxes,
		stopCh:        make(chan struct{}),
	}
}

// Run drives Poisson-spaced transaction origination until Stop is
// called. Each firing picks one random node to originate a transaction.
func (d *Driver) Run() {
	if d.meanPerSecond <= 0 || len(d.nodes) == 0 {
		return
	}
	for {
		interval := d.nextInterval()
		select {
		case <-d.stopCh:
			return
		case <-time.After(interval):
			target := d.nodes[d.rng.Intn(len(d.nodes))]
			select {
			case target <- node.Message{Kind: node.GenerateTransactionPaths, From: wallet.Address("")}:
			default:
			}
		}
	}
}

// Stop halts the driver.
func (d *Driver) Stop() { close(d.stopCh) }

// nextInterval draws the next inter-arrival time for a Poisson process
// with rate meanPerSecond, via the standard exponential-distribution
// inverse-CDF sampling.
func (d *Driver) nextInterval() time.Duration {
	u := d.rng.Float64()
	seconds := -math.Log(1-u) / d.meanPerSecond
	return time.Duration(seconds * float64(time.Second))
}
