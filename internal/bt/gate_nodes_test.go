package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
)

func TestSamplingGateTicksChildOnlyWithinRate(t *testing.T) {
	q := NewQueue()
	q.Push("p1")
	q.Push("p2")
	q.Push("p3")
	q.Push("p4")
	// BatchSize=4, queue len=4 -> product_index = 0 -> 0 % 100 = 0 < rate(50) -> tick
	child := &fakeNode{status: core.Success}
	gate := NewSamplingGate("g1", 50, 4, q, child)
	assert.Equal(t, core.Success, gate.Tick())

	q.Pop() // len now 3 -> product_index = 1 -> 1 < 50 -> tick
	assert.Equal(t, core.Success, gate.Tick())
}

func TestSamplingGateSkipsChildOutsideRate(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 10; i++ {
		q.Push("p")
	}
	// BatchSize=10, queue len=10 -> product_index=0 -> 0 < rate(0) is false -> skip, return SUCCESS without ticking
	child := &fakeNode{status: core.Failure}
	gate := NewSamplingGate("g2", 0, 10, q, child)
	assert.Equal(t, core.Success, gate.Tick(), "child must not be ticked when outside the sampled rate")
}

func TestClampRateBounds(t *testing.T) {
	assert.Equal(t, 0, clampRate(-5))
	assert.Equal(t, 100, clampRate(150))
	assert.Equal(t, 42, clampRate(42))
}

func TestKeepRunningUntilEmptyReturnsIfEmptyWhenQueueDrained(t *testing.T) {
	q := NewQueue()
	child := &fakeNode{status: core.Success}
	node := NewKeepRunningUntilEmpty("k1", q, child, core.Skipped)
	assert.Equal(t, core.Skipped, node.Tick())
}

func TestKeepRunningUntilEmptyResetsChildOnSuccessAndKeepsRunning(t *testing.T) {
	q := NewQueue()
	q.Push("p1")
	child := &fakeNode{status: core.Success}
	node := NewKeepRunningUntilEmpty("k2", q, child, core.Success)
	assert.Equal(t, core.Running, node.Tick())
	assert.True(t, child.halted, "child must be reset (halted) after reporting SUCCESS")
}
