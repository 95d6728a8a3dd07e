package bt

import "github.com/aausmartlab/btorchestrator/internal/bt/core"

// BCFallback is the back-chained fallback control node: it tries each
// action child in turn, but treats an action's SUCCESS as merely a
// candidate — it re-checks a shared post-condition before accepting the
// action's result, backtracking to the next action if the post-condition
// still fails. asynch selects between the synchronous (BC_Fallback) and
// yielding (BC_Fallback_Async) variants, per SPEC_FULL §4.5.6.
type BCFallback struct {
	core.Leaf

	postCond core.Node
	actions  []core.Node
	asynch   bool

	current          int
	checkingPostCond bool
	skipCount        int
}

// NewBCFallback builds the node from children [postCond, a1, ..., aN].
func NewBCFallback(id string, postCond core.Node, actions []core.Node, asynch bool) *BCFallback {
	return &BCFallback{Leaf: core.Leaf{ID: id}, postCond: postCond, actions: actions, asynch: asynch}
}

// Tick implements core.Node.
func (b *BCFallback) Tick() core.Status {
	if b.checkingPostCond {
		switch b.postCond.Tick() {
		case core.Success:
			b.reset()
			return core.Success
		case core.Running:
			return core.Running
		default:
			b.checkingPostCond = false
			b.current++
		}
	}

	for b.current < len(b.actions) {
		switch b.actions[b.current].Tick() {
		case core.Running:
			return core.Running

		case core.Success:
			switch b.postCond.Tick() {
			case core.Success:
				b.reset()
				return core.Success
			case core.Running:
				b.checkingPostCond = true
				return core.Running
			default:
				b.current++
			}

		case core.Skipped:
			b.skipCount++
			b.current++
			if b.asynch {
				return core.Running
			}

		default: // Failure
			b.current++
			if b.asynch {
				return core.Running
			}
		}
	}

	skipped := b.skipCount == len(b.actions)
	b.reset()
	if skipped {
		return core.Skipped
	}
	return core.Failure
}

// Halt implements core.Node.
func (b *BCFallback) Halt() {
	if b.checkingPostCond {
		b.postCond.Halt()
	} else if b.current < len(b.actions) {
		b.actions[b.current].Halt()
	}
	b.reset()
}

func (b *BCFallback) reset() {
	b.current = 0
	b.checkingPostCond = false
	b.skipCount = 0
}
