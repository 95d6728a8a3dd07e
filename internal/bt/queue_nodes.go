package bt

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// Queue is the shared FIFO of product identifiers the queue/gate
// decorators pop from, per SPEC_FULL §4.5.5. A single Queue instance is
// shared (via the blackboard) across every node in the tree watching the
// same asset's product feed.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

// getOrCreateQueue returns the *Queue stored under key on bb, creating
// and storing a fresh one on first access. Every decorator that shares a
// queue by name (KeepRunningUntilEmpty, GetProductFromQueue, the gates,
// ConfigurationNode) goes through this so tree construction order
// doesn't matter.
func getOrCreateQueue(bb *core.Blackboard, key string) *Queue {
	if v, ok := bb.Get(key); ok {
		if q, ok := v.(*Queue); ok {
			return q
		}
	}
	q := NewQueue()
	bb.Set(key, q)
	return q
}

// Push appends id to the back of the queue.
func (q *Queue) Push(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, id)
}

// Pop removes and returns the front of the queue.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

// Len reports the current queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// KeepRunningUntilEmpty ticks child while Queue is non-empty: on child
// SUCCESS it resets the child and keeps running, on FAILURE it returns
// FAILURE, and once the queue drains it halts the child and returns
// ifEmpty (default SUCCESS).
type KeepRunningUntilEmpty struct {
	core.Leaf
	queue   *Queue
	child   core.Node
	ifEmpty core.Status
}

// NewKeepRunningUntilEmpty builds the decorator.
func NewKeepRunningUntilEmpty(id string, queue *Queue, child core.Node, ifEmpty core.Status) *KeepRunningUntilEmpty {
	return &KeepRunningUntilEmpty{Leaf: core.Leaf{ID: id}, queue: queue, child: child, ifEmpty: ifEmpty}
}

// Tick implements core.Node.
func (k *KeepRunningUntilEmpty) Tick() core.Status {
	if k.queue.Len() == 0 {
		k.child.Halt()
		return k.ifEmpty
	}
	switch k.child.Tick() {
	case core.Success:
		k.child.Halt()
		return core.Running
	case core.Failure:
		return core.Failure
	default:
		return core.Running
	}
}

// Halt implements core.Node.
func (k *KeepRunningUntilEmpty) Halt() { k.child.Halt() }

// GetProductFromQueue pops one product id on entry from Idle, publishes it
// on the asset's ProductID interaction, writes it to the ProductID
// blackboard port, then ticks child every tick until it settles.
type GetProductFromQueue struct {
	core.Leaf

	assetID       string
	queue         *Queue
	child         core.Node
	ifEmpty       core.Status
	productIDPort string

	deps Deps
	bb   *core.Blackboard

	mu          sync.Mutex
	running     bool
	initialized bool
	desc        *interfacecache.TopicDescriptor
}

// NewGetProductFromQueue builds the decorator.
func NewGetProductFromQueue(id, assetID string, queue *Queue, child core.Node, ifEmpty core.Status, productIDPort string, deps Deps, bb *core.Blackboard) *GetProductFromQueue {
	return &GetProductFromQueue{
		Leaf:          core.Leaf{ID: id},
		assetID:       assetID,
		queue:         queue,
		child:         child,
		ifEmpty:       ifEmpty,
		productIDPort: productIDPort,
		deps:          deps,
		bb:            bb,
	}
}

func (g *GetProductFromQueue) ensureInitialized() {
	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		return
	}
	g.initialized = true
	g.mu.Unlock()

	desc, _ := resolveTopic(context.Background(), g.deps, g.assetID, "productid", "input")
	g.mu.Lock()
	g.desc = desc
	g.mu.Unlock()
}

// Tick implements core.Node.
func (g *GetProductFromQueue) Tick() core.Status {
	g.ensureInitialized()

	g.mu.Lock()
	running := g.running
	g.mu.Unlock()

	if !running {
		id, ok := g.queue.Pop()
		if !ok {
			return g.ifEmpty
		}
		g.bb.Set(g.productIDPort, id)
		g.publishProductID(id)
		g.mu.Lock()
		g.running = true
		g.mu.Unlock()
	}

	status := g.child.Tick()
	if status != core.Running {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}
	return status
}

// Halt implements core.Node.
func (g *GetProductFromQueue) Halt() {
	g.child.Halt()
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

func (g *GetProductFromQueue) publishProductID(id string) {
	g.mu.Lock()
	desc := g.desc
	g.mu.Unlock()
	if desc == nil || g.deps.Transport == nil {
		return
	}
	payload, err := NewMessage("").Set("ProductId", id).marshal()
	if err != nil {
		return
	}
	_ = g.deps.Transport.Publish(context.Background(), desc.Topic, desc.QoS, desc.Retain, payload)
}

// PopElementNode is the synchronous version of GetProductFromQueue: it
// pops and publishes without ticking a child.
type PopElementNode struct {
	core.Leaf

	assetID       string
	queue         *Queue
	ifEmpty       core.Status
	productIDPort string

	deps Deps
	bb   *core.Blackboard

	mu          sync.Mutex
	initialized bool
	desc        *interfacecache.TopicDescriptor
}

// NewPopElementNode builds the node.
func NewPopElementNode(id, assetID string, queue *Queue, ifEmpty core.Status, productIDPort string, deps Deps, bb *core.Blackboard) *PopElementNode {
	return &PopElementNode{
		Leaf:          core.Leaf{ID: id},
		assetID:       assetID,
		queue:         queue,
		ifEmpty:       ifEmpty,
		productIDPort: productIDPort,
		deps:          deps,
		bb:            bb,
	}
}

func (p *PopElementNode) ensureInitialized() {
	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return
	}
	p.initialized = true
	p.mu.Unlock()

	desc, _ := resolveTopic(context.Background(), p.deps, p.assetID, "productid", "input")
	p.mu.Lock()
	p.desc = desc
	p.mu.Unlock()
}

// Tick implements core.Node.
func (p *PopElementNode) Tick() core.Status {
	p.ensureInitialized()

	id, ok := p.queue.Pop()
	if !ok {
		return p.ifEmpty
	}
	p.bb.Set(p.productIDPort, id)

	p.mu.Lock()
	desc := p.desc
	p.mu.Unlock()
	if desc != nil && p.deps.Transport != nil {
		if payload, err := NewMessage("").Set("ProductId", id).marshal(); err == nil {
			_ = p.deps.Transport.Publish(context.Background(), desc.Topic, desc.QoS, desc.Retain, payload)
		}
	}
	return core.Success
}

// Halt implements core.Node. PopElementNode has no running state to clean
// up.
func (p *PopElementNode) Halt() {}

// ConfigurationNode subscribes to the asset's Configure interaction and
// pushes every ProductId it carries onto a shared queue. Per the
// authoritative reading of a source with two divergent definitions, this
// is the MQTT-async-subscribe behavior: it never ticks RUNNING waiting
// for a reply, it just feeds the queue as messages arrive.
type ConfigurationNode struct {
	core.Leaf

	assetID string
	queue   *Queue
	deps    Deps

	mu          sync.Mutex
	initialized bool
	desc        *interfacecache.TopicDescriptor
}

// NewConfigurationNode builds the node.
func NewConfigurationNode(id, assetID string, queue *Queue, deps Deps) *ConfigurationNode {
	return &ConfigurationNode{Leaf: core.Leaf{ID: id}, assetID: assetID, queue: queue, deps: deps}
}

// PrimeTopics implements bt.Primable.
func (c *ConfigurationNode) PrimeTopics() {
	c.ensureInitialized()
}

func (c *ConfigurationNode) ensureInitialized() {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	desc, _ := resolveTopic(context.Background(), c.deps, c.assetID, "configure", "output")
	c.mu.Lock()
	c.desc = desc
	c.mu.Unlock()
	if desc != nil && c.deps.Distributor != nil {
		c.deps.Distributor.Register(desc.Pattern, desc.QoS, c)
	}
}

// ProcessMessage implements distributor.Node.
func (c *ConfigurationNode) ProcessMessage(topic string, payload []byte, _ bool) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	if desc == nil || topic != desc.Topic {
		return
	}
	if err := desc.Validate(payload); err != nil {
		return
	}
	var body struct {
		ProductId string `json:"ProductId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ProductId == "" {
		return
	}
	c.queue.Push(body.ProductId)
}

// Tick implements core.Node: configuration is purely event-driven, so a
// tick always succeeds once subscriptions are armed.
func (c *ConfigurationNode) Tick() core.Status {
	c.ensureInitialized()
	return core.Success
}

// Halt implements core.Node. Nothing to clean up; the subscription stays
// armed for the lifetime of the tree.
func (c *ConfigurationNode) Halt() {}
