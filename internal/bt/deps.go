// Package bt implements the orchestrator's behavior-tree node library:
// the stateful MQTT action and its specializations, the sync condition,
// the occupy/use-resource decorators, the queue/gate decorators, and the
// back-chained fallback control node, all built on the minimal engine in
// internal/bt/core.
package bt

import (
	"context"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/distributor"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

// Deps are the non-owning handles every node receives at construction
// time, per the design-notes strategy of passing a handle into the tree
// builder rather than reaching for process-wide state.
type Deps struct {
	Transport   transport.Transport
	Cache       *interfacecache.Cache
	AASClient   *aas.Client
	AASProvider *aas.Provider
	Distributor *distributor.Distributor
	Log         *logger.Logger
}

// Primable is implemented by every node type that resolves its MQTT
// topics and registers with the distributor lazily, on its own first
// Tick, rather than at construction. PrimeTopics forces that resolution
// immediately after the tree is built, so every node's distributor
// registration exists before the distributor arms — otherwise a node
// that only registers on its first Tick would never get subscribed,
// since Arm runs exactly once per tree lifecycle, before EXECUTE.
type Primable interface {
	PrimeTopics()
}

// resolveTopic looks up (assetID, interaction, direction) in the interface
// cache, falling back to a direct AAS interaction fetch on a cache miss.
func resolveTopic(ctx context.Context, deps Deps, assetID, interaction, direction string) (*interfacecache.TopicDescriptor, error) {
	if deps.Cache == nil {
		return nil, nil
	}
	if desc, ok := deps.Cache.Get(assetID, interaction, direction); ok {
		return desc, nil
	}
	// Direct AAS fallback: re-fetch just this asset's descriptor set and
	// populate the cache so subsequent lookups hit it.
	if err := deps.Cache.PreFetchAll(ctx, map[string]string{assetID: assetID}); err != nil {
		return nil, err
	}
	desc, ok := deps.Cache.Get(assetID, interaction, direction)
	if !ok {
		return nil, nil
	}
	return desc, nil
}
