package worldstate_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/chain"
	"github.com/pog-sim/pogsim/internal/consensus"
	"github.com/pog-sim/pogsim/internal/node"
	"github.com/pog-sim/pogsim/internal/simlog"
	"github.com/pog-sim/pogsim/internal/wallet"
	"github.com/pog-sim/pogsim/internal/worldstate"
)

type fakeSink struct {
	slots  []worldstate.SlotRecord
	epochs []worldstate.EpochRecord
}

func (f *fakeSink) RecordSlot(r worldstate.SlotRecord)   { f.slots = append(f.slots, r) }
func (f *fakeSink) RecordEpoch(r worldstate.EpochRecord) { f.epochs = append(f.epochs, r) }

func testLogger() *simlog.Logger {
	return simlog.New(io.Discard, simlog.LevelError)
}

func TestBecomeValidatorAllBroadcastsToRegisteredNodes(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)

	ws := worldstate.New(worldstate.Config{
		SlotsPerEpoch: 10,
		SlotDuration:  time.Hour,
		Engine:        consensus.NewPoS(10),
		Chain:         bc,
		Sink:          &fakeSink{},
		Logger:        testLogger(),
	})

	w, err := wallet.New()
	require.NoError(t, err)
	ch := make(chan node.Message, 4)
	ws.RegisterNode(w.Address(), ch)

	ws.BecomeValidatorAll(map[wallet.Address]float64{w.Address(): 5})

	select {
	case msg := <-ch:
		assert.Equal(t, node.BecomeValidator, msg.Kind)
		assert.InDelta(t, 5.0, msg.StakeMap[w.Address()], 1e-9)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BecomeValidator broadcast")
	}
}

func TestReceiveBecomeValidatorRegistersValidator(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	ws := worldstate.New(worldstate.Config{
		SlotsPerEpoch: 10,
		SlotDuration:  time.Hour,
		Engine:        consensus.NewPoS(10),
		Chain:         bc,
		Sink:          &fakeSink{},
		Logger:        testLogger(),
	})
	ws.Run()
	defer ws.Stop()

	ws.Inbox <- node.Message{
		Kind:      node.ReceiveBecomeValidator,
		Validator: consensus.Validator{Address: "0xaaa", Stake: 9},
	}

	require.Eventually(t, func() bool {
		for _, v := range ws.Validators() {
			if v.Address == "0xaaa" && v.Stake == 9 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestBlockProductionFailedRecordsSlotOutcome(t *testing.T) {
	bc, err := chain.Genesis()
	require.NoError(t, err)
	sink := &fakeSink{}
	ws := worldstate.New(worldstate.Config{
		SlotsPerEpoch: 10,
		SlotDuration:  time.Hour,
		Engine:        consensus.NewPoS(10),
		Chain:         bc,
		Sink:          sink,
		Logger:        testLogger(),
	})
	ws.Run()
	defer ws.Stop()

	ws.Inbox <- node.Message{Kind: node.BlockProductionFailed, Epoch: 3, Slot: 7, Reason: "no eligible validator"}

	require.Eventually(t, func() bool {
		for _, s := range sink.slots {
			if s.Epoch == 3 && s.Slot == 7 && !s.Success {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
