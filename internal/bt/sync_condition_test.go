package bt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
)

func TestSyncMQTTConditionMissingPayloadFails(t *testing.T) {
	c := NewSyncMQTTCondition("c1", "asset", "state", "State", "equal", "IDLE", Deps{}, core.NewBlackboard())
	assert.Equal(t, core.Failure, c.Tick())
}

func TestSyncMQTTConditionOperationalPseudoOperator(t *testing.T) {
	c := NewSyncMQTTCondition("c2", "asset", "state", "State", "equal", "operational", Deps{}, core.NewBlackboard())
	c.last = map[string]any{"State": "EXECUTE"}
	assert.Equal(t, core.Success, c.Tick())

	c.last = map[string]any{"State": "ABORTED"}
	assert.Equal(t, core.Failure, c.Tick())
}

func TestSyncMQTTConditionInsideOutsideRange(t *testing.T) {
	c := NewSyncMQTTCondition("c3", "asset", "weight", "Weight", "inside", "10;20", Deps{}, core.NewBlackboard())
	c.last = map[string]any{"Weight": 15.0}
	assert.Equal(t, core.Success, c.Tick())

	c.last = map[string]any{"Weight": 25.0}
	assert.Equal(t, core.Failure, c.Tick())

	c2 := NewSyncMQTTCondition("c4", "asset", "weight", "Weight", "outside", "10;20", Deps{}, core.NewBlackboard())
	c2.last = map[string]any{"Weight": 25.0}
	assert.Equal(t, core.Success, c2.Tick())
}

func TestSyncMQTTConditionContains(t *testing.T) {
	c := NewSyncMQTTCondition("c5", "asset", "tags", "Tags", "contains", "red", Deps{}, core.NewBlackboard())
	c.last = map[string]any{"Tags": []any{"blue", "red"}}
	assert.Equal(t, core.Success, c.Tick())
}
