package bt

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// ActionBehavior is implemented by each stateful-action specialization
// (MoveToPosition, Refill, ...). ResolveTopics is called once, lazily, on
// the action's first tick; BuildMessage is called every time the action
// restarts from Idle.
type ActionBehavior interface {
	ResolveTopics(ctx context.Context, deps Deps, bb *core.Blackboard) (request, halt, response *interfacecache.TopicDescriptor, err error)
	BuildMessage(bb *core.Blackboard, uuid string) Message
}

// StatefulMQTTAction is the shared runtime for every action node that
// issues a command over MQTT and waits for an asynchronous, UUID-
// correlated reply on a response topic: on_start publishes a fresh
// command, on_running simply reports the last known status, and a
// delivered response transitions the node to SUCCESS or FAILURE. Halt
// publishes to the halt topic and drops back to Idle so a later tick
// starts a new command.
type StatefulMQTTAction struct {
	core.Leaf

	deps     Deps
	bb       *core.Blackboard
	behavior ActionBehavior

	mu          sync.Mutex
	status      core.Status
	currentUUID string
	initialized bool
	initErr     error

	requestDesc  *interfacecache.TopicDescriptor
	haltDesc     *interfacecache.TopicDescriptor
	responseDesc *interfacecache.TopicDescriptor
}

// NewStatefulMQTTAction constructs the base. Topic resolution and the
// distributor registration for response delivery are deferred to the
// first Tick or PrimeTopics call, since the interface cache may not yet be
// populated at construction time during XML tree loading.
func NewStatefulMQTTAction(id string, behavior ActionBehavior, deps Deps, bb *core.Blackboard) *StatefulMQTTAction {
	return &StatefulMQTTAction{
		Leaf:     core.Leaf{ID: id},
		deps:     deps,
		bb:       bb,
		behavior: behavior,
		status:   core.Idle,
	}
}

// PrimeTopics implements Primable: it forces the topic resolution and
// distributor registration ensureInitialized would otherwise defer to
// this node's first Tick.
func (a *StatefulMQTTAction) PrimeTopics() {
	_ = a.ensureInitialized()
}

func (a *StatefulMQTTAction) ensureInitialized() error {
	a.mu.Lock()
	if a.initialized {
		err := a.initErr
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	request, halt, response, err := a.behavior.ResolveTopics(context.Background(), a.deps, a.bb)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = true
	if err != nil {
		a.initErr = err
		return err
	}
	a.requestDesc = request
	a.haltDesc = halt
	a.responseDesc = response
	if response != nil && a.deps.Distributor != nil {
		a.deps.Distributor.Register(response.Pattern, response.QoS, a)
	}
	return nil
}

// Tick implements core.Node.
func (a *StatefulMQTTAction) Tick() core.Status {
	if err := a.ensureInitialized(); err != nil {
		return core.Failure
	}

	a.mu.Lock()
	switch a.status {
	case core.Idle:
		id := uuid.New().String()
		msg := a.behavior.BuildMessage(a.bb, id)
		a.currentUUID = id
		a.status = core.Running
		a.mu.Unlock()
		a.publish(a.requestDesc, msg)
		return core.Running
	case core.Running:
		a.mu.Unlock()
		return core.Running
	default:
		final := a.status
		a.status = core.Idle
		a.currentUUID = ""
		a.mu.Unlock()
		return final
	}
}

// Halt implements core.Node: it cancels an in-flight command by
// publishing to the halt topic, if the node is currently running.
func (a *StatefulMQTTAction) Halt() {
	a.mu.Lock()
	if a.status != core.Running {
		a.mu.Unlock()
		return
	}
	id := a.currentUUID
	a.status = core.Idle
	a.currentUUID = ""
	a.mu.Unlock()

	if a.haltDesc != nil {
		a.publish(a.haltDesc, NewMessage(id))
	}
}

// ProcessMessage implements distributor.Node: it is invoked for every
// message delivered on the response topic, including retained replays
// from an earlier run, which are naturally discarded by the UUID check.
func (a *StatefulMQTTAction) ProcessMessage(topic string, payload []byte, _ bool) {
	a.mu.Lock()
	responseDesc := a.responseDesc
	wantUUID := a.currentUUID
	a.mu.Unlock()

	if responseDesc == nil || topic != responseDesc.Topic {
		return
	}
	if err := responseDesc.Validate(payload); err != nil {
		return
	}
	reply, err := ParseReply(payload)
	if err != nil || reply.Uuid == "" || reply.Uuid != wantUUID {
		return
	}

	a.mu.Lock()
	switch reply.State {
	case "SUCCESS":
		a.status = core.Success
	case "FAILURE":
		a.status = core.Failure
	default:
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.bb.WakeUp()
}

func (a *StatefulMQTTAction) publish(desc *interfacecache.TopicDescriptor, msg Message) {
	if desc == nil || a.deps.Transport == nil {
		return
	}
	payload, err := msg.marshal()
	if err != nil {
		return
	}
	_ = a.deps.Transport.Publish(context.Background(), desc.Topic, desc.QoS, desc.Retain, payload)
}
