package bt

import "github.com/aausmartlab/btorchestrator/internal/bt/core"

// gate is the shared rate-gate logic behind SamplingGate and
// QualityControlGate: tick child iff (product_index mod 100) < rate,
// where product_index = BatchSize - current queue size. rate is clamped
// to [0, 100].
type gate struct {
	core.Leaf
	rate      int
	batchSize int
	queue     *Queue
	child     core.Node
}

func clampRate(rate int) int {
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

func (g *gate) shouldTick() bool {
	productIndex := g.batchSize - g.queue.Len()
	mod := productIndex % 100
	if mod < 0 {
		mod += 100
	}
	return mod < clampRate(g.rate)
}

func (g *gate) tick() core.Status {
	if !g.shouldTick() {
		return core.Success
	}
	return g.child.Tick()
}

func (g *gate) halt() { g.child.Halt() }

// SamplingGate lets a configured percentage of products through to child,
// based on position within the current batch.
type SamplingGate struct{ gate }

// NewSamplingGate builds the decorator. samplingRatePercent is clamped to
// [0, 100].
func NewSamplingGate(id string, samplingRatePercent, batchSize int, queue *Queue, child core.Node) *SamplingGate {
	return &SamplingGate{gate{Leaf: core.Leaf{ID: id}, rate: samplingRatePercent, batchSize: batchSize, queue: queue, child: child}}
}

// Tick implements core.Node.
func (s *SamplingGate) Tick() core.Status { return s.tick() }

// Halt implements core.Node.
func (s *SamplingGate) Halt() { s.halt() }

// QualityControlGate lets a configured percentage of products through to
// a quality-control child, based on position within the current batch.
type QualityControlGate struct{ gate }

// NewQualityControlGate builds the decorator. qcPercent is clamped to
// [0, 100].
func NewQualityControlGate(id string, qcPercent, batchSize int, queue *Queue, child core.Node) *QualityControlGate {
	return &QualityControlGate{gate{Leaf: core.Leaf{ID: id}, rate: qcPercent, batchSize: batchSize, queue: queue, child: child}}
}

// Tick implements core.Node.
func (q *QualityControlGate) Tick() core.Status { return q.tick() }

// Halt implements core.Node.
func (q *QualityControlGate) Halt() { q.halt() }
