// Package distributor connects incoming MQTT messages to the behavior
// tree's node instances: a topic-pattern registry plus MQTT-semantics
// dispatch, decoupled from any particular broker client via
// internal/transport.
package distributor

import (
	"context"
	"sync"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

// Node is the subset of a tree node's contract the distributor needs: the
// ability to receive a delivered message. Schema validation and logical-key
// comparison are the node's own responsibility.
type Node interface {
	ProcessMessage(topic string, payload []byte, retain bool)
}

type handlerEntry struct {
	pattern    string
	qos        byte
	nodes      []Node
	subscribed bool
	sub        transport.Subscription
}

// Distributor holds a pattern -> handler registry (armed against the
// transport) built fresh for each tree lifecycle.
type Distributor struct {
	registryMu sync.Mutex
	handlers   map[string]*handlerEntry // keyed by pattern

	handlersMu sync.RWMutex // guards each handler's nodes slice between Register and dispatch

	transport transport.Transport
	log       *logger.Logger
}

// New returns an empty Distributor bound to t. The controller creates
// exactly one per tree lifecycle.
func New(t transport.Transport, log *logger.Logger) *Distributor {
	return &Distributor{
		handlers:  make(map[string]*handlerEntry),
		transport: t,
		log:       log,
	}
}

// Register declares that node needs to receive messages matching pattern
// at qos. Multiple nodes may register the same pattern; the handler's
// effective QoS is the maximum across all registrants. Registering after
// Arm adds node at once to an already-subscribed pattern; a pattern not
// yet subscribed is subscribed only by a later Arm call.
func (d *Distributor) Register(pattern string, qos byte, node Node) {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	h, ok := d.handlers[pattern]
	if !ok {
		h = &handlerEntry{pattern: pattern}
		d.handlers[pattern] = h
	}
	if qos > h.qos {
		h.qos = qos
	}
	d.handlersMu.Lock()
	h.nodes = append(h.nodes, node)
	d.handlersMu.Unlock()
}

// Arm subscribes to every unique registered pattern. Each successful
// subscription triggers delivery of retained messages from the broker —
// the fan-in mechanism for late-initializing nodes — before Arm returns
// for that pattern.
func (d *Distributor) Arm(ctx context.Context) error {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	for pattern, h := range d.handlers {
		if h.subscribed {
			continue
		}
		entry := h
		sub, err := d.transport.Subscribe(pattern, entry.qos, func(msg transport.Message) {
			d.dispatch(entry, msg)
		})
		if err != nil {
			return err
		}
		entry.sub = sub
		entry.subscribed = true
	}
	_ = ctx
	return nil
}

func (d *Distributor) dispatch(h *handlerEntry, msg transport.Message) {
	d.handlersMu.RLock()
	nodes := append([]Node(nil), h.nodes...)
	d.handlersMu.RUnlock()

	for _, n := range nodes {
		n.ProcessMessage(msg.Topic, msg.Payload, msg.Retain)
	}
}

// Unarm unsubscribes from every handler it subscribed, per handler,
// exactly once — satisfying the testable property that every subscribe
// during tree arming has exactly one matching unsubscribe during
// RESETTING.
func (d *Distributor) Unarm() error {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	var firstErr error
	for _, h := range d.handlers {
		if h.subscribed && h.sub != nil {
			if err := h.sub.Unsubscribe(); err != nil && firstErr == nil {
				firstErr = err
			}
			h.subscribed = false
		}
	}
	d.handlers = make(map[string]*handlerEntry)
	return firstErr
}

// ActivePatterns returns every pattern currently subscribed, for
// diagnostics and tests.
func (d *Distributor) ActivePatterns() []string {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	patterns := make([]string, 0, len(d.handlers))
	for p, h := range d.handlers {
		if h.subscribed {
			patterns = append(patterns, p)
		}
	}
	return patterns
}
