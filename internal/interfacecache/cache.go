package interfacecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
)

// Cache holds every asset's pre-fetched interface set, built once during
// the controller's STARTING procedure from the equipment map.
type Cache struct {
	mu        sync.RWMutex
	assets    map[string]*AssetInterfaceSet
	client    *aas.Client
	schemaTTL *aas.Cache[[]byte]
	log       *logger.Logger
}

// New returns an empty Cache backed by client.
func New(client *aas.Client, log *logger.Logger) *Cache {
	return &Cache{
		assets:    make(map[string]*AssetInterfaceSet),
		client:    client,
		schemaTTL: aas.NewCache[[]byte](0), // schemas are cached indefinitely by URL
		log:       log,
	}
}

// PreFetchAll builds the interface set for every (name, shellID) pair. An
// individual asset's failure is logged and skipped; the run proceeds if at
// least one asset succeeds, per STARTING step 3.
func (c *Cache) PreFetchAll(ctx context.Context, equipment map[string]string) error {
	succeeded := 0
	for name, shellID := range equipment {
		set, err := c.preFetchOne(ctx, shellID)
		if err != nil {
			c.log.Warn("interface pre-fetch failed", zap.Error(err), zap.String("asset_id", name))
			continue
		}
		c.mu.Lock()
		c.assets[name] = set
		c.mu.Unlock()
		succeeded++
	}
	if succeeded == 0 && len(equipment) > 0 {
		return apperrors.DiscoveryHTTPError("interfacecache.PreFetchAll", fmt.Errorf("no asset interfaces resolved out of %d assets", len(equipment)))
	}
	return nil
}

func (c *Cache) preFetchOne(ctx context.Context, shellID string) (*AssetInterfaceSet, error) {
	submodel, err := c.client.FetchSubmodelData(ctx, shellID, "AssetInterfacesDescription")
	if err != nil {
		return nil, err
	}
	elements, _ := submodel["submodelElements"].([]any)

	ifaceMQTT, ok := findElement(elements, "InterfaceMQTT")
	if !ok {
		return nil, apperrors.DiscoveryStructureError("interfacecache.preFetchOne", "no InterfaceMQTT element")
	}

	base, ok := findElement(childElements(ifaceMQTT), "EndpointMetadata")
	if !ok {
		return nil, apperrors.DiscoveryStructureError("interfacecache.preFetchOne", "no EndpointMetadata element")
	}
	baseURLElem, ok := findElement(childElements(base), "base")
	if !ok {
		return nil, apperrors.DiscoveryStructureError("interfacecache.preFetchOne", "no base endpoint")
	}
	baseURL, _ := baseURLElem["value"].(string)
	baseTopic := stripMQTTAuthority(baseURL)

	set := &AssetInterfaceSet{
		BaseTopic:    baseTopic,
		Interactions: make(map[string]Interaction),
		Aliases:      make(map[string]string),
	}

	interactionMeta, ok := findElement(childElements(ifaceMQTT), "InteractionMetadata")
	if ok {
		for _, group := range []string{"actions", "properties"} {
			groupElem, ok := findElement(childElements(interactionMeta), group)
			if !ok {
				continue
			}
			for _, raw := range childElements(groupElem) {
				el, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				name, _ := el["idShort"].(string)
				if name == "" {
					continue
				}
				interaction, err := c.buildInteraction(ctx, baseTopic, el)
				if err != nil {
					c.log.Warn("interaction build failed", zap.Error(err))
					continue
				}
				set.Interactions[strings.ToLower(name)] = interaction
			}
		}
	}

	if variables, err := c.client.FetchSubmodelData(ctx, shellID, "Variables"); err == nil {
		varElements, _ := variables["submodelElements"].([]any)
		for _, raw := range varElements {
			el, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			varName, _ := el["idShort"].(string)
			ref, ok := findElement(childElements(el), "InterfaceReference")
			if !ok {
				continue
			}
			interactionName := lastKeyOf(ref)
			if varName != "" && interactionName != "" {
				set.Aliases[strings.ToLower(varName)] = strings.ToLower(interactionName)
			}
		}
	}

	return set, nil
}

func (c *Cache) buildInteraction(ctx context.Context, baseTopic string, el map[string]any) (Interaction, error) {
	forms, ok := findElement(childElements(el), "forms")
	if !ok {
		forms, ok = findElement(childElements(el), "Forms")
	}
	if !ok {
		return Interaction{}, apperrors.DiscoveryStructureError("interfacecache.buildInteraction", "no Forms collection")
	}
	formEls := childElements(forms)

	href := stringValue(formEls, "href")
	qos := qosValue(formEls, "mqv_qos")
	retain := boolValue(formEls, "mqv_retain")

	respHref := href
	respQos := qos
	respRetain := retain
	if resp, ok := findElement(formEls, "response"); ok {
		respEls := childElements(resp)
		if h := stringValue(respEls, "href"); h != "" {
			respHref = h
		}
		respQos = qosValue(respEls, "mqv_qos")
		respRetain = boolValue(respEls, "mqv_retain")
	}

	inputSchema := c.compileSchemaFromElement(ctx, formEls, "input")
	outputSchema := c.compileSchemaFromElement(ctx, formEls, "output")

	return Interaction{
		InputTopic: &TopicDescriptor{
			Topic:   joinTopic(baseTopic, href),
			Pattern: joinTopic(baseTopic, href),
			Schema:  inputSchema,
			QoS:     qos,
			Retain:  retain,
		},
		OutputTopic: &TopicDescriptor{
			Topic:   joinTopic(baseTopic, respHref),
			Pattern: joinTopic(baseTopic, respHref),
			Schema:  outputSchema,
			QoS:     respQos,
			Retain:  respRetain,
		},
	}, nil
}

func (c *Cache) compileSchemaFromElement(ctx context.Context, formEls []any, idShort string) *jsonschema.Schema {
	el, ok := findElement(formEls, idShort)
	if !ok {
		return nil
	}
	url, _ := el["value"].(string)
	if url == "" {
		return nil
	}
	body, err := c.schemaTTL.GetOrLoad(url, func() ([]byte, error) {
		return c.client.FetchBody(ctx, url)
	})
	if err != nil {
		c.log.Warn("schema fetch failed", zap.Error(err))
		return nil
	}
	schema, err := compileSchema(url, body)
	if err != nil {
		c.log.Warn("schema compile failed", zap.Error(err))
		return nil
	}
	return schema
}

// Get looks up interaction for assetID, resolving variable aliases and
// the requested direction ("input" or "output"). A missing entry returns
// (nil, false), never an error: callers fall back to a direct AAS query.
func (c *Cache) Get(assetID, interaction, direction string) (*TopicDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set, ok := c.assets[assetID]
	if !ok {
		return nil, false
	}
	name := strings.ToLower(interaction)
	if aliased, ok := set.Aliases[name]; ok {
		name = aliased
	}
	in, ok := set.Interactions[name]
	if !ok {
		return nil, false
	}
	if direction == "output" {
		if in.OutputTopic == nil {
			return nil, false
		}
		return in.OutputTopic, true
	}
	if in.InputTopic == nil {
		return nil, false
	}
	return in.InputTopic, true
}

// WildcardPatterns returns base_topic + "/#" for every cached asset, used
// by the distributor to listen for retained messages before specific node
// topics are computed.
func (c *Cache) WildcardPatterns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	patterns := make([]string, 0, len(c.assets))
	for _, set := range c.assets {
		patterns = append(patterns, set.BaseTopic+"/#")
	}
	return patterns
}

// Clear empties the cache, called during the controller's RESETTING
// procedure.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = make(map[string]*AssetInterfaceSet)
}

// Seed installs set as assetID's interface set directly, bypassing AAS
// discovery. Used by node-runtime tests that need a populated cache
// without a live AAS server.
func (c *Cache) Seed(assetID string, set *AssetInterfaceSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assets == nil {
		c.assets = make(map[string]*AssetInterfaceSet)
	}
	c.assets[assetID] = set
}

func stripMQTTAuthority(url string) string {
	for _, prefix := range []string{"mqtt://", "mqtts://"} {
		if strings.HasPrefix(url, prefix) {
			url = url[len(prefix):]
			break
		}
	}
	if idx := strings.Index(url, "/"); idx >= 0 {
		return strings.TrimPrefix(url[idx+1:], "/")
	}
	return ""
}

func joinTopic(base, rel string) string {
	base = strings.TrimSuffix(base, "/")
	rel = strings.TrimPrefix(rel, "/")
	if base == "" {
		return rel
	}
	if rel == "" {
		return base
	}
	return base + "/" + rel
}

func lastKeyOf(ref map[string]any) string {
	keys, _ := ref["keys"].([]any)
	if len(keys) == 0 {
		return ""
	}
	last, _ := keys[len(keys)-1].(map[string]any)
	v, _ := last["value"].(string)
	return v
}

func stringValue(elements []any, idShort string) string {
	el, ok := findElement(elements, idShort)
	if !ok {
		return ""
	}
	v, _ := el["value"].(string)
	return v
}

func boolValue(elements []any, idShort string) bool {
	el, ok := findElement(elements, idShort)
	if !ok {
		return false
	}
	switch v := el["value"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func qosValue(elements []any, idShort string) byte {
	el, ok := findElement(elements, idShort)
	if !ok {
		return 0
	}
	switch v := el["value"].(type) {
	case float64:
		return byte(v)
	case string:
		if v == "1" {
			return 1
		}
		if v == "2" {
			return 2
		}
	}
	return 0
}

// findElement looks for an element with the given idShort: every element
// of the current level is checked first, and only then does the search
// descend into collection "value"/entity "statements" arrays.
func findElement(elements []any, idShort string) (map[string]any, bool) {
	for _, raw := range elements {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := el["idShort"].(string); s == idShort {
			return el, true
		}
	}
	for _, raw := range elements {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if found, ok := findElement(childElements(el), idShort); ok {
			return found, true
		}
	}
	return nil, false
}

func childElements(el map[string]any) []any {
	if v, ok := el["value"].([]any); ok {
		return v
	}
	if v, ok := el["statements"].([]any); ok {
		return v
	}
	return nil
}

func compileSchema(url string, body []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	return c.Compile(url)
}

