package aas

import (
	"context"
	"strings"
	"time"

	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
)

// Provider resolves blackboard-style AAS paths for behavior-tree nodes:
// "<submodelId>/<seg1>/.../<segN>" fetches the submodel by id, then applies
// ResolvePropertyPath to the remaining segments. Reads are memoized with a
// 300s TTL cache, independent from the interface cache's schema cache.
type Provider struct {
	client *Client
	cache  *Cache[map[string]any]
}

// NewProvider returns a Provider backed by client with the default BT
// provider TTL (300s).
func NewProvider(client *Client) *Provider {
	return &Provider{client: client, cache: NewCache[map[string]any](300 * time.Second)}
}

// Resolve looks up path. AAS-shell-first paths (prefixed "…/aas/…" or
// "urn:aas:") are rejected: the AAS metamodel requires ModelReferences to
// begin with a submodel, not a shell.
func (p *Provider) Resolve(ctx context.Context, path string) (any, error) {
	if strings.Contains(path, "/aas/") || strings.HasPrefix(path, "urn:aas:") {
		return nil, apperrors.DiscoveryStructureError("aas.Provider.Resolve",
			"shell-first paths are rejected: ModelReferences must begin with a submodel")
	}

	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 {
		return nil, apperrors.DiscoveryStructureError("aas.Provider.Resolve",
			"path must contain a submodel id and at least one property segment")
	}
	submodelID, propPath := segs[0], segs[1:]

	sm, err := p.cache.GetOrLoad(submodelID, func() (map[string]any, error) {
		return p.client.FetchSubmodelByID(ctx, submodelID)
	})
	if err != nil {
		return nil, err
	}

	return ResolvePropertyPath(sm, propPath)
}
