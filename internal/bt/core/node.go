package core

// Node is the contract every tree element satisfies: leaves, decorators,
// and control nodes alike.
type Node interface {
	// Tick advances the node one step and returns its resulting status.
	Tick() Status
	// Halt aborts a RUNNING node, releasing any held resources. Halt is a
	// no-op on a node that isn't RUNNING.
	Halt()
	// Name returns the node's XML ID, for diagnostics and the distributor's
	// node-type registry.
	Name() string
}

// Children is embedded by control nodes and decorators that own child
// nodes and must propagate Halt.
type Children struct {
	Nodes []Node
}

func (c *Children) HaltAll() {
	for _, n := range c.Nodes {
		n.Halt()
	}
}

// Leaf is embedded by leaf nodes to satisfy the Name() method from a
// stored XML ID without repeating the plumbing in every node type.
type Leaf struct {
	ID string
}

func (l Leaf) Name() string { return l.ID }
