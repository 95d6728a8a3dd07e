package bt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// operationalStates mirrors packml.OperationalStates as plain strings,
// since the condition compares against the wire representation rather
// than the packml.State enum.
var operationalStates = map[string]bool{
	"IDLE": true, "STARTING": true, "EXECUTE": true,
	"COMPLETING": true, "COMPLETE": true, "RESETTING": true,
}

// SyncMQTTCondition keeps the last matching payload per subscribed topic
// and evaluates a single field comparison on every tick, per SPEC_FULL
// §4.5.2.
type SyncMQTTCondition struct {
	core.Leaf

	assetID, interaction string
	field                string
	comparisonType       string
	expectedValue        string

	deps Deps
	bb   *core.Blackboard

	mu          sync.Mutex
	last        map[string]any
	desc        *interfacecache.TopicDescriptor
	initialized bool
}

// NewSyncMQTTCondition builds the node.
func NewSyncMQTTCondition(id, assetID, interaction, field, comparisonType, expectedValue string, deps Deps, bb *core.Blackboard) *SyncMQTTCondition {
	return &SyncMQTTCondition{
		Leaf:           core.Leaf{ID: id},
		assetID:        assetID,
		interaction:    interaction,
		field:          field,
		comparisonType: comparisonType,
		expectedValue:  expectedValue,
		deps:           deps,
		bb:             bb,
	}
}

// PrimeTopics implements bt.Primable.
func (c *SyncMQTTCondition) PrimeTopics() {
	c.ensureInitialized()
}

func (c *SyncMQTTCondition) ensureInitialized() {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	desc, err := resolveTopic(context.Background(), c.deps, c.assetID, c.interaction, "output")
	if err != nil || desc == nil {
		return
	}
	c.mu.Lock()
	c.desc = desc
	c.mu.Unlock()
	if c.deps.Distributor != nil {
		c.deps.Distributor.Register(desc.Pattern, desc.QoS, c)
	}
}

// ProcessMessage implements distributor.Node.
func (c *SyncMQTTCondition) ProcessMessage(topic string, payload []byte, _ bool) {
	c.mu.Lock()
	desc := c.desc
	c.mu.Unlock()
	if desc == nil || topic != desc.Topic {
		return
	}
	if err := desc.Validate(payload); err != nil {
		return
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return
	}
	c.mu.Lock()
	c.last = body
	c.mu.Unlock()
	c.bb.WakeUp()
}

// Tick implements core.Node.
func (c *SyncMQTTCondition) Tick() core.Status {
	c.ensureInitialized()

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last == nil {
		return core.Failure
	}
	value, ok := last[c.field]
	if !ok {
		return core.Failure
	}

	if c.comparisonType == "equal" && c.expectedValue == "operational" && c.field == "State" {
		s, _ := value.(string)
		if operationalStates[strings.ToUpper(s)] {
			return core.Success
		}
		return core.Failure
	}

	if compare(value, c.comparisonType, c.expectedValue) {
		return core.Success
	}
	return core.Failure
}

func compare(value any, comparisonType, expected string) bool {
	switch comparisonType {
	case "equal":
		return equalValue(value, expected)
	case "not_equal":
		return !equalValue(value, expected)
	case "greater":
		v, ok := numericValue(value)
		e, eerr := strconv.ParseFloat(expected, 64)
		return ok && eerr == nil && v > e
	case "less":
		v, ok := numericValue(value)
		e, eerr := strconv.ParseFloat(expected, 64)
		return ok && eerr == nil && v < e
	case "contains":
		switch v := value.(type) {
		case string:
			return strings.Contains(v, expected)
		case []any:
			for _, item := range v {
				if equalValue(item, expected) {
					return true
				}
			}
		}
		return false
	case "inside", "outside":
		min, max, ok := parseRange(expected)
		if !ok {
			return false
		}
		v, ok := numericValue(value)
		if !ok {
			return false
		}
		within := v >= min && v <= max
		if comparisonType == "outside" {
			return !within
		}
		return within
	default:
		return false
	}
}

func equalValue(value any, expected string) bool {
	switch v := value.(type) {
	case string:
		return v == expected
	case bool:
		b, err := strconv.ParseBool(expected)
		return err == nil && v == b
	case float64:
		e, err := strconv.ParseFloat(expected, 64)
		return err == nil && v == e
	default:
		return false
	}
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseRange(expected string) (min, max float64, ok bool) {
	parts := strings.SplitN(expected, ";", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var err1, err2 error
	min, err1 = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	max, err2 = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return min, max, err1 == nil && err2 == nil
}
