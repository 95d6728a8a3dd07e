package bt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/distributor"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

type fixedBehavior struct {
	request, halt, response *interfacecache.TopicDescriptor
}

func (f *fixedBehavior) ResolveTopics(context.Context, Deps, *core.Blackboard) (*interfacecache.TopicDescriptor, *interfacecache.TopicDescriptor, *interfacecache.TopicDescriptor, error) {
	return f.request, f.halt, f.response, nil
}

func (f *fixedBehavior) BuildMessage(_ *core.Blackboard, uuid string) Message {
	return NewMessage(uuid).Set("Kind", "test")
}

func newTestActionTopics(base string) (req, halt, resp *interfacecache.TopicDescriptor) {
	req = &interfacecache.TopicDescriptor{Topic: base + "/CMD/Do", Pattern: base + "/CMD/Do"}
	halt = &interfacecache.TopicDescriptor{Topic: base + "/CMD/Halt", Pattern: base + "/CMD/Halt"}
	resp = &interfacecache.TopicDescriptor{Topic: base + "/DATA/Do", Pattern: base + "/DATA/Do"}
	return
}

func TestStatefulMQTTActionRunsThroughSuccessAndResetsToIdle(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := distributor.New(broker, logger.Default())
	req, halt, resp := newTestActionTopics("uns/x")
	behavior := &fixedBehavior{request: req, halt: halt, response: resp}
	deps := Deps{Transport: broker, Distributor: d, Log: logger.Default()}
	bb := core.NewBlackboard()

	var capturedUUID string
	_, err := broker.Subscribe(req.Pattern, 0, func(msg transport.Message) {
		var body struct {
			Uuid string `json:"Uuid"`
		}
		_ = json.Unmarshal(msg.Payload, &body)
		capturedUUID = body.Uuid
	})
	require.NoError(t, err)

	action := NewStatefulMQTTAction("a1", behavior, deps, bb)

	assert.Equal(t, core.Running, action.Tick())
	require.NoError(t, d.Arm(context.Background()))
	require.NotEmpty(t, capturedUUID)

	assert.Equal(t, core.Running, action.Tick(), "on_running reports RUNNING until a reply arrives")

	payload, _ := json.Marshal(map[string]string{"Uuid": capturedUUID, "State": "SUCCESS"})
	require.NoError(t, broker.Publish(context.Background(), resp.Topic, 0, false, payload))

	assert.Equal(t, core.Success, action.Tick(), "terminal status surfaces on the next tick")
	assert.Equal(t, core.Running, action.Tick(), "a fresh tick after a terminal result starts a new command")
}

func TestStatefulMQTTActionIgnoresReplyWithStaleUUID(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := distributor.New(broker, logger.Default())
	req, halt, resp := newTestActionTopics("uns/y")
	behavior := &fixedBehavior{request: req, halt: halt, response: resp}
	deps := Deps{Transport: broker, Distributor: d, Log: logger.Default()}
	bb := core.NewBlackboard()

	action := NewStatefulMQTTAction("a2", behavior, deps, bb)
	assert.Equal(t, core.Running, action.Tick())
	require.NoError(t, d.Arm(context.Background()))

	payload, _ := json.Marshal(map[string]string{"Uuid": "not-the-right-uuid", "State": "SUCCESS"})
	require.NoError(t, broker.Publish(context.Background(), resp.Topic, 0, false, payload))

	assert.Equal(t, core.Running, action.Tick(), "a reply for a foreign Uuid must not complete the action")
}

func TestStatefulMQTTActionHaltPublishesHaltMessage(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := distributor.New(broker, logger.Default())
	req, halt, resp := newTestActionTopics("uns/z")
	behavior := &fixedBehavior{request: req, halt: halt, response: resp}
	deps := Deps{Transport: broker, Distributor: d, Log: logger.Default()}
	bb := core.NewBlackboard()

	var haltedUUID string
	_, err := broker.Subscribe(halt.Pattern, 0, func(msg transport.Message) {
		var body struct {
			Uuid string `json:"Uuid"`
		}
		_ = json.Unmarshal(msg.Payload, &body)
		haltedUUID = body.Uuid
	})
	require.NoError(t, err)

	action := NewStatefulMQTTAction("a3", behavior, deps, bb)
	action.Tick()
	require.NoError(t, d.Arm(context.Background()))

	action.Halt()
	assert.NotEmpty(t, haltedUUID)
}
