package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
)

type scriptedNode struct {
	core.Leaf
	seq    []core.Status
	idx    int
	halted bool
}

func (s *scriptedNode) Tick() core.Status {
	st := s.seq[s.idx]
	if s.idx < len(s.seq)-1 {
		s.idx++
	}
	return st
}

func (s *scriptedNode) Halt() { s.halted = true }

// TestBCFallbackBacktracksOnPostConditionFailure exercises the spec
// scenario: children [cond, a, b]; cond FAILURE initially. a SUCCESS ->
// cond still FAILURE -> try b. b SUCCESS -> cond SUCCESS -> SUCCESS.
func TestBCFallbackBacktracksOnPostConditionFailure(t *testing.T) {
	cond := &scriptedNode{seq: []core.Status{core.Failure, core.Success}}
	a := &scriptedNode{seq: []core.Status{core.Success}}
	b := &scriptedNode{seq: []core.Status{core.Success}}

	node := NewBCFallback("bc1", cond, []core.Node{a, b}, false)

	assert.Equal(t, core.Success, node.Tick())
	assert.Equal(t, 1, cond.idx, "post-condition checked twice: once after a, once after b")
}

// TestBCFallbackAsyncYieldsBetweenSiblings verifies the asynch=true
// variant returns RUNNING once per failed sibling instead of falling
// through to the next child within the same tick.
func TestBCFallbackAsyncYieldsBetweenSiblings(t *testing.T) {
	cond := &scriptedNode{seq: []core.Status{core.Success}}
	a := &scriptedNode{seq: []core.Status{core.Failure}}
	b := &scriptedNode{seq: []core.Status{core.Success}}

	node := NewBCFallback("bc2", cond, []core.Node{a, b}, true)

	assert.Equal(t, core.Running, node.Tick(), "async mode yields after a's failure instead of trying b immediately")
	assert.Equal(t, core.Success, node.Tick())
}

// TestBCFallbackAllSkippedReturnsSkipped verifies the all-skipped terminal
// case bypasses the post-condition entirely.
func TestBCFallbackAllSkippedReturnsSkipped(t *testing.T) {
	cond := &scriptedNode{seq: []core.Status{core.Failure}}
	a := &scriptedNode{seq: []core.Status{core.Skipped}}
	b := &scriptedNode{seq: []core.Status{core.Skipped}}

	node := NewBCFallback("bc3", cond, []core.Node{a, b}, false)

	assert.Equal(t, core.Skipped, node.Tick())
}

// TestBCFallbackRunningPostConditionResumesOnNextTick verifies a RUNNING
// post-condition suspends the fallback and is re-ticked, not the action,
// on the next entry.
func TestBCFallbackRunningPostConditionResumesOnNextTick(t *testing.T) {
	cond := &scriptedNode{seq: []core.Status{core.Running, core.Success}}
	a := &scriptedNode{seq: []core.Status{core.Success, core.Failure, core.Failure}}

	node := NewBCFallback("bc4", cond, []core.Node{a}, false)

	assert.Equal(t, core.Running, node.Tick())
	idxAfterFirstTick := a.idx
	assert.Equal(t, core.Success, node.Tick())
	assert.Equal(t, idxAfterFirstTick, a.idx, "action child must not be re-ticked while checking the post-condition")
}
