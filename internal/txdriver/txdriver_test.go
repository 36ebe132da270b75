package txdriver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pog-sim/pogsim/internal/node"
	"github.com/pog-sim/pogsim/internal/txdriver"
)

func TestDriverFiresGenerateTransactionPaths(t *testing.T) {
	inbox := make(chan node.Message, 16)
	d := txdriver.New(200, 1, []chan<- node.Message{inbox})

	go d.Run()
	defer d.Stop()

	select {
	case msg := <-inbox:
		assert.Equal(t, node.GenerateTransactionPaths, msg.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a driven transaction")
	}
}

func TestDriverWithZeroRateNeverFires(t *testing.T) {
	inbox := make(chan node.Message, 16)
	d := txdriver.New(0, 1, []chan<- node.Message{inbox})

	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run with zero rate should return immediately")
	}

	select {
	case <-inbox:
		t.Fatal("zero-rate driver should never fire")
	default:
	}
}

func TestDriverWithNoNodesNeverFires(t *testing.T) {
	d := txdriver.New(100, 1, nil)
	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run with no node inboxes should return immediately")
	}
}
