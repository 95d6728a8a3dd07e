package bt

import (
	"context"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/bt/core"
)

// RetrieveAASPropertiesNode resolves a list of AAS property paths
// ("<submodelId>/<prop>/...") through the aas.Provider and writes each
// result to a blackboard port, returning FAILURE if any lookup fails.
type RetrieveAASPropertiesNode struct {
	core.Leaf

	provider *aas.Provider
	lookups  map[string]string // blackboard output port -> "submodelId/prop/path"
	bb       *core.Blackboard
}

// NewRetrieveAASPropertiesNode builds the node.
func NewRetrieveAASPropertiesNode(id string, provider *aas.Provider, lookups map[string]string, bb *core.Blackboard) *RetrieveAASPropertiesNode {
	return &RetrieveAASPropertiesNode{Leaf: core.Leaf{ID: id}, provider: provider, lookups: lookups, bb: bb}
}

// Tick implements core.Node: a synchronous, immediate-verdict lookup.
func (r *RetrieveAASPropertiesNode) Tick() core.Status {
	for port, path := range r.lookups {
		value, err := r.provider.Resolve(context.Background(), path)
		if err != nil {
			return core.Failure
		}
		r.bb.Set(port, value)
	}
	return core.Success
}

// Halt implements core.Node. RetrieveAASPropertiesNode never enters
// RUNNING, so there is nothing to cancel.
func (r *RetrieveAASPropertiesNode) Halt() {}
