package bt

import (
	"context"
	"encoding/json"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// Refill is a StatefulMQTTAction specialization that, on top of the usual
// request/halt/response triple, tracks a live weight value fed by a third
// subscription so conditions elsewhere in the tree can read the current
// fill level from the blackboard.
type Refill struct {
	*StatefulMQTTAction

	assetID    string
	targetPort string
	weightKey  string
	weightDesc *interfacecache.TopicDescriptor
}

// NewRefill builds the node. targetPort names the blackboard key holding
// the requested target weight; weightKey is the blackboard key this node
// writes the live weight reading to.
func NewRefill(id, assetID, targetPort, weightKey string, deps Deps, bb *core.Blackboard) *Refill {
	r := &Refill{
		assetID:    assetID,
		targetPort: targetPort,
		weightKey:  weightKey,
	}
	r.StatefulMQTTAction = NewStatefulMQTTAction(id, r, deps, bb)
	return r
}

// ResolveTopics implements ActionBehavior. It additionally resolves and
// subscribes to the weight interaction's output topic.
func (r *Refill) ResolveTopics(ctx context.Context, deps Deps, bb *core.Blackboard) (request, halt, response *interfacecache.TopicDescriptor, err error) {
	request, err = resolveTopic(ctx, deps, r.assetID, "refill", "input")
	if err != nil {
		return nil, nil, nil, err
	}
	halt, _ = resolveTopic(ctx, deps, r.assetID, "refill_halt", "input")
	response, err = resolveTopic(ctx, deps, r.assetID, "refill", "output")
	if err != nil {
		return nil, nil, nil, err
	}

	if weightDesc, werr := resolveTopic(ctx, deps, r.assetID, "weight", "output"); werr == nil && weightDesc != nil {
		r.weightDesc = weightDesc
		if deps.Distributor != nil {
			deps.Distributor.Register(weightDesc.Pattern, weightDesc.QoS, &weightListener{desc: weightDesc, bb: bb, key: r.weightKey})
		}
	}

	return request, halt, response, nil
}

// BuildMessage implements ActionBehavior.
func (r *Refill) BuildMessage(bb *core.Blackboard, uuid string) Message {
	target, _ := bb.Get(r.targetPort)
	return NewMessage(uuid).Set("TargetWeight", target)
}

// weightListener is a distributor.Node adapter that writes every delivered
// weight reading straight to the blackboard, independent of the parent
// action's own current_uuid/status bookkeeping.
type weightListener struct {
	desc *interfacecache.TopicDescriptor
	bb   *core.Blackboard
	key  string
}

func (w *weightListener) ProcessMessage(topic string, payload []byte, _ bool) {
	if topic != w.desc.Topic {
		return
	}
	if err := w.desc.Validate(payload); err != nil {
		return
	}
	var body struct {
		Weight float64 `json:"Weight"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	w.bb.Set(w.key, body.Weight)
	w.bb.WakeUp()
}
