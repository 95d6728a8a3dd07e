package bt

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

type occupyPhase int

const (
	occupyIdle occupyPhase = iota
	occupyStarting
	occupyExecute
	occupyCompleting
	occupyStopping
	occupyComplete
	occupyStopped
)

type assetOccupyTopics struct {
	occupyReq, occupyResp   *interfacecache.TopicDescriptor
	releaseReq, releaseResp *interfacecache.TopicDescriptor
}

// Occupy decorates a child with a first-wins race across N assets: every
// listed asset is occupied simultaneously and the first SUCCESS reply wins.
// A later SUCCESS from another asset is released at once; assets that have
// not replied when the winner is chosen stay pending and are released by
// Halt, per SPEC_FULL §4.5.4.
type Occupy struct {
	core.Leaf

	assets            []string
	child             core.Node
	deps              Deps
	bb                *core.Blackboard
	selectedOutputKey string
	uuidOutputKey     string

	mu            sync.Mutex
	phase         occupyPhase
	uuidToAsset   map[string]string
	assetToUUID   map[string]string
	pending       map[string]bool
	selected      string
	selectedUUID  string
	releaseReply  string
	topicsByAsset map[string]assetOccupyTopics
	initialized   bool
}

// NewOccupy builds the decorator. selectedOutputKey/uuidOutputKey are the
// blackboard keys written with the winning asset and its occupy UUID.
func NewOccupy(id string, assets []string, child core.Node, selectedOutputKey, uuidOutputKey string, deps Deps, bb *core.Blackboard) *Occupy {
	return &Occupy{
		Leaf:              core.Leaf{ID: id},
		assets:            assets,
		child:             child,
		deps:              deps,
		bb:                bb,
		selectedOutputKey: selectedOutputKey,
		uuidOutputKey:     uuidOutputKey,
		uuidToAsset:       make(map[string]string),
		assetToUUID:       make(map[string]string),
		pending:           make(map[string]bool),
		topicsByAsset:     make(map[string]assetOccupyTopics),
	}
}

// PrimeTopics implements bt.Primable.
func (o *Occupy) PrimeTopics() {
	o.ensureInitialized()
}

func (o *Occupy) ensureInitialized() {
	o.mu.Lock()
	if o.initialized {
		o.mu.Unlock()
		return
	}
	o.initialized = true
	o.mu.Unlock()

	ctx := context.Background()
	for _, asset := range o.assets {
		occupyReq, _ := resolveTopic(ctx, o.deps, asset, "occupy", "input")
		occupyResp, _ := resolveTopic(ctx, o.deps, asset, "occupy", "output")
		releaseReq, _ := resolveTopic(ctx, o.deps, asset, "release", "input")
		releaseResp, _ := resolveTopic(ctx, o.deps, asset, "release", "output")

		o.mu.Lock()
		o.topicsByAsset[asset] = assetOccupyTopics{occupyReq, occupyResp, releaseReq, releaseResp}
		o.mu.Unlock()

		if o.deps.Distributor == nil {
			continue
		}
		if occupyResp != nil {
			o.deps.Distributor.Register(occupyResp.Pattern, occupyResp.QoS, &occupyReplyListener{owner: o, asset: asset, desc: occupyResp, release: false})
		}
		if releaseResp != nil {
			o.deps.Distributor.Register(releaseResp.Pattern, releaseResp.QoS, &occupyReplyListener{owner: o, asset: asset, desc: releaseResp, release: true})
		}
	}
}

// Tick implements core.Node.
func (o *Occupy) Tick() core.Status {
	o.ensureInitialized()

	o.mu.Lock()
	phase := o.phase
	o.mu.Unlock()

	switch phase {
	case occupyIdle:
		if len(o.assets) == 0 {
			return core.Failure
		}
		o.mu.Lock()
		for _, asset := range o.assets {
			id := uuid.New().String()
			o.uuidToAsset[id] = asset
			o.assetToUUID[asset] = id
			o.pending[asset] = true
		}
		o.phase = occupyStarting
		topics := make(map[string]assetOccupyTopics, len(o.topicsByAsset))
		for k, v := range o.topicsByAsset {
			topics[k] = v
		}
		assetToUUID := make(map[string]string, len(o.assetToUUID))
		for k, v := range o.assetToUUID {
			assetToUUID[k] = v
		}
		o.mu.Unlock()
		for asset, id := range assetToUUID {
			o.publish(topics[asset].occupyReq, NewMessage(id))
		}
		return core.Running

	case occupyStarting:
		o.mu.Lock()
		selected := o.selected
		pendingCount := len(o.pending)
		o.mu.Unlock()
		if selected != "" {
			o.mu.Lock()
			o.phase = occupyExecute
			o.mu.Unlock()
			return core.Running
		}
		if pendingCount == 0 {
			o.mu.Lock()
			o.phase = occupyStopped
			o.mu.Unlock()
			return core.Failure
		}
		return core.Running

	case occupyExecute:
		status := o.child.Tick()
		switch status {
		case core.Success, core.Failure:
			o.mu.Lock()
			id := o.selectedUUID
			topics := o.topicsByAsset[o.selected]
			o.releaseReply = ""
			if status == core.Success {
				o.phase = occupyCompleting
			} else {
				o.phase = occupyStopping
			}
			o.mu.Unlock()
			o.publish(topics.releaseReq, NewMessage(id))
			return core.Running
		default:
			return core.Running
		}

	case occupyCompleting:
		o.mu.Lock()
		reply := o.releaseReply
		o.mu.Unlock()
		if reply == "SUCCESS" {
			o.mu.Lock()
			o.phase = occupyComplete
			o.mu.Unlock()
			return core.Success
		}
		return core.Running

	case occupyStopping:
		o.mu.Lock()
		reply := o.releaseReply
		o.mu.Unlock()
		if reply != "" {
			o.mu.Lock()
			o.phase = occupyStopped
			o.mu.Unlock()
			return core.Failure
		}
		return core.Running

	default: // occupyComplete / occupyStopped: reset for next run
		o.mu.Lock()
		o.phase = occupyIdle
		o.uuidToAsset = make(map[string]string)
		o.assetToUUID = make(map[string]string)
		o.pending = make(map[string]bool)
		o.selected = ""
		o.selectedUUID = ""
		o.mu.Unlock()
		if phase == occupyComplete {
			return core.Success
		}
		return core.Failure
	}
}

// Halt implements core.Node: releases the selected asset (if any) and
// every asset still pending or otherwise un-released.
func (o *Occupy) Halt() {
	o.child.Halt()

	o.mu.Lock()
	toRelease := make(map[string]string)
	if o.selected != "" {
		toRelease[o.selected] = o.selectedUUID
	}
	for asset := range o.pending {
		toRelease[asset] = o.assetToUUID[asset]
	}
	topics := o.topicsByAsset
	o.phase = occupyIdle
	o.uuidToAsset = make(map[string]string)
	o.assetToUUID = make(map[string]string)
	o.pending = make(map[string]bool)
	o.selected = ""
	o.selectedUUID = ""
	o.mu.Unlock()

	for asset, id := range toRelease {
		o.publish(topics[asset].releaseReq, NewMessage(id))
	}
}

func (o *Occupy) publish(desc *interfacecache.TopicDescriptor, msg Message) {
	if desc == nil || o.deps.Transport == nil {
		return
	}
	payload, err := msg.marshal()
	if err != nil {
		return
	}
	_ = o.deps.Transport.Publish(context.Background(), desc.Topic, desc.QoS, desc.Retain, payload)
}

func (o *Occupy) onOccupyReply(asset, replyUUID, state string) {
	o.mu.Lock()
	mapped, ok := o.uuidToAsset[replyUUID]
	if !ok || mapped != asset {
		o.mu.Unlock()
		return
	}
	var toRelease []string
	var releaseTopics map[string]assetOccupyTopics
	justSelected := false
	switch state {
	case "FAILURE":
		delete(o.pending, asset)
	case "SUCCESS":
		if o.selected == "" {
			o.selected = asset
			o.selectedUUID = replyUUID
			justSelected = true
			delete(o.pending, asset)
		} else if asset != o.selected {
			delete(o.pending, asset)
			toRelease = append(toRelease, asset)
			releaseTopics = o.topicsByAsset
		}
	}
	assetToUUID := o.assetToUUID
	o.mu.Unlock()

	if justSelected && o.selectedOutputKey != "" && o.bb != nil {
		o.bb.Set(o.selectedOutputKey, asset)
		if o.uuidOutputKey != "" {
			o.bb.Set(o.uuidOutputKey, replyUUID)
		}
	}
	for _, other := range toRelease {
		o.publish(releaseTopics[other].releaseReq, NewMessage(assetToUUID[other]))
	}
	if o.bb != nil {
		o.bb.WakeUp()
	}
}

func (o *Occupy) onReleaseReply(asset, state string) {
	o.mu.Lock()
	if asset == o.selected {
		o.releaseReply = state
	}
	o.mu.Unlock()
	if o.bb != nil {
		o.bb.WakeUp()
	}
}

type occupyReplyListener struct {
	owner   *Occupy
	asset   string
	desc    *interfacecache.TopicDescriptor
	release bool
}

func (l *occupyReplyListener) ProcessMessage(topic string, payload []byte, _ bool) {
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
	if l.release {
		l.owner.onReleaseReply(l.asset, reply.State)
		return
	}
	l.owner.onOccupyReply(l.asset, reply.Uuid, reply.State)
}
