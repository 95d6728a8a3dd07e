package bt

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

type useResourcePhase int

const (
	phaseIdle useResourcePhase = iota
	phaseStarting
	phaseExecute
	phaseCompleting
	phaseStopping
	phaseComplete
	phaseStopped
)

// UseResource decorates a single child with an occupy/release phase
// machine against one asset, per SPEC_FULL §4.5.3.
type UseResource struct {
	core.Leaf

	assetID string
	child   core.Node
	deps    Deps
	bb      *core.Blackboard

	mu          sync.Mutex
	phase       useResourcePhase
	currentUUID string
	replyState  string // last register/unregister reply for the current phase

	initialized      bool
	registerReq      *interfacecache.TopicDescriptor
	registerResp     *interfacecache.TopicDescriptor
	unregisterReq    *interfacecache.TopicDescriptor
	unregisterResp   *interfacecache.TopicDescriptor
}

// NewUseResource builds the decorator around child.
func NewUseResource(id, assetID string, child core.Node, deps Deps, bb *core.Blackboard) *UseResource {
	return &UseResource{
		Leaf:    core.Leaf{ID: id},
		assetID: assetID,
		child:   child,
		deps:    deps,
		bb:      bb,
	}
}

// PrimeTopics implements bt.Primable.
func (u *UseResource) PrimeTopics() {
	u.ensureInitialized()
}

func (u *UseResource) ensureInitialized() {
	u.mu.Lock()
	if u.initialized {
		u.mu.Unlock()
		return
	}
	u.initialized = true
	u.mu.Unlock()

	ctx := context.Background()
	registerReq, _ := resolveTopic(ctx, u.deps, u.assetID, "register", "input")
	registerResp, _ := resolveTopic(ctx, u.deps, u.assetID, "register", "output")
	unregisterReq, _ := resolveTopic(ctx, u.deps, u.assetID, "unregister", "input")
	unregisterResp, _ := resolveTopic(ctx, u.deps, u.assetID, "unregister", "output")

	u.mu.Lock()
	u.registerReq, u.registerResp = registerReq, registerResp
	u.unregisterReq, u.unregisterResp = unregisterReq, unregisterResp
	u.mu.Unlock()

	if u.deps.Distributor != nil {
		if registerResp != nil {
			u.deps.Distributor.Register(registerResp.Pattern, registerResp.QoS, &useResourceReplyListener{owner: u, desc: registerResp})
		}
		if unregisterResp != nil {
			u.deps.Distributor.Register(unregisterResp.Pattern, unregisterResp.QoS, &useResourceReplyListener{owner: u, desc: unregisterResp})
		}
	}
}

// Tick implements core.Node.
func (u *UseResource) Tick() core.Status {
	u.ensureInitialized()

	u.mu.Lock()
	phase := u.phase
	u.mu.Unlock()

	switch phase {
	case phaseIdle:
		id := uuid.New().String()
		u.mu.Lock()
		u.currentUUID = id
		u.replyState = ""
		u.phase = phaseStarting
		u.mu.Unlock()
		u.publish(u.registerReq, NewMessage(id))
		return core.Running

	case phaseStarting:
		u.mu.Lock()
		reply := u.replyState
		u.mu.Unlock()
		switch reply {
		case "SUCCESS":
			u.mu.Lock()
			u.phase = phaseExecute
			u.mu.Unlock()
			return core.Running
		case "FAILURE":
			u.mu.Lock()
			u.phase = phaseStopped
			u.mu.Unlock()
			return core.Failure
		default:
			return core.Running
		}

	case phaseExecute:
		status := u.child.Tick()
		switch status {
		case core.Success:
			u.mu.Lock()
			id := u.currentUUID
			u.replyState = ""
			u.phase = phaseCompleting
			u.mu.Unlock()
			u.publish(u.unregisterReq, NewMessage(id))
			return core.Running
		case core.Failure:
			u.mu.Lock()
			id := u.currentUUID
			u.replyState = ""
			u.phase = phaseStopping
			u.mu.Unlock()
			u.publish(u.unregisterReq, NewMessage(id))
			return core.Running
		default:
			return core.Running
		}

	case phaseCompleting:
		u.mu.Lock()
		reply := u.replyState
		u.mu.Unlock()
		if reply == "SUCCESS" {
			u.mu.Lock()
			u.phase = phaseComplete
			u.mu.Unlock()
			return core.Success
		}
		return core.Running

	case phaseStopping:
		u.mu.Lock()
		reply := u.replyState
		u.mu.Unlock()
		if reply != "" {
			u.mu.Lock()
			u.phase = phaseStopped
			u.mu.Unlock()
			return core.Failure
		}
		return core.Running

	default: // phaseComplete / phaseStopped: re-arm for the next run
		u.mu.Lock()
		u.phase = phaseIdle
		u.currentUUID = ""
		u.mu.Unlock()
		if phase == phaseComplete {
			return core.Success
		}
		return core.Failure
	}
}

// Halt implements core.Node: publishes an unregister for the current UUID
// regardless of phase.
func (u *UseResource) Halt() {
	u.child.Halt()

	u.mu.Lock()
	id := u.currentUUID
	phase := u.phase
	u.phase = phaseIdle
	u.currentUUID = ""
	u.mu.Unlock()

	if id != "" && phase != phaseIdle {
		u.publish(u.unregisterReq, NewMessage(id))
	}
}

func (u *UseResource) publish(desc *interfacecache.TopicDescriptor, msg Message) {
	if desc == nil || u.deps.Transport == nil {
		return
	}
	payload, err := msg.marshal()
	if err != nil {
		return
	}
	_ = u.deps.Transport.Publish(context.Background(), desc.Topic, desc.QoS, desc.Retain, payload)
}

func (u *UseResource) onReply(uuid string, state string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if uuid != u.currentUUID {
		return
	}
	u.replyState = state
}

type useResourceReplyListener struct {
	owner *UseResource
	desc  *interfacecache.TopicDescriptor
}

func (l *useResourceReplyListener) ProcessMessage(topic string, payload []byte, _ bool) {
	if topic != l.desc.Topic {
		return
	}
	if err := l.desc.Validate(payload); err != nil {
		return
	}
	reply, err := ParseReply(payload)
	if err != nil || reply.Uuid == "" {
		return
	}
	l.owner.onReply(reply.Uuid, reply.State)
	l.owner.bb.WakeUp()
}
