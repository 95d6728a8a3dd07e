package bt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/distributor"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

type fakeNode struct {
	core.Leaf
	status core.Status
	halted bool
}

func (f *fakeNode) Tick() core.Status { return f.status }
func (f *fakeNode) Halt()             { f.halted = true }

type commandCapture struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *commandCapture) get(asset string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[asset]
}

func captureCommands(t *testing.T, broker *transport.MemoryBroker, pattern string) *commandCapture {
	c := &commandCapture{data: make(map[string]string)}
	_, err := broker.Subscribe(pattern, 0, func(msg transport.Message) {
		segs := strings.Split(msg.Topic, "/")
		if len(segs) < 2 {
			return
		}
		var body struct {
			Uuid string `json:"Uuid"`
		}
		_ = json.Unmarshal(msg.Payload, &body)
		c.mu.Lock()
		c.data[segs[1]] = body.Uuid
		c.mu.Unlock()
	})
	require.NoError(t, err)
	return c
}

func publishReply(t *testing.T, broker *transport.MemoryBroker, topic, uuid, state string) {
	payload, err := json.Marshal(map[string]string{"Uuid": uuid, "State": state})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), topic, 0, false, payload))
}

func seedOccupyAsset(cache *interfacecache.Cache, asset string) {
	base := "uns/" + asset
	cache.Seed(asset, &interfacecache.AssetInterfaceSet{
		BaseTopic: base,
		Interactions: map[string]interfacecache.Interaction{
			"occupy": {
				InputTopic:  &interfacecache.TopicDescriptor{Topic: base + "/CMD/Occupy", Pattern: base + "/CMD/Occupy"},
				OutputTopic: &interfacecache.TopicDescriptor{Topic: base + "/DATA/Occupy", Pattern: base + "/DATA/Occupy"},
			},
			"release": {
				InputTopic:  &interfacecache.TopicDescriptor{Topic: base + "/CMD/Release", Pattern: base + "/CMD/Release"},
				OutputTopic: &interfacecache.TopicDescriptor{Topic: base + "/DATA/Release", Pattern: base + "/DATA/Release"},
			},
		},
		Aliases: make(map[string]string),
	})
}

// TestOccupyRaceSelectsFirstSuccessAndReleasesOthers exercises the
// scenario: Occupy [A,B,C]; B replies SUCCESS first, then A. The node
// must select B, release A immediately, and release C on halt since it
// never responded.
func TestOccupyRaceSelectsFirstSuccessAndReleasesOthers(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := distributor.New(broker, logger.Default())
	cache := interfacecache.New(nil, logger.Default())
	for _, asset := range []string{"A", "B", "C"} {
		seedOccupyAsset(cache, asset)
	}

	deps := Deps{Transport: broker, Cache: cache, Distributor: d, Log: logger.Default()}
	bb := core.NewBlackboard()
	child := &fakeNode{status: core.Success}

	occupyCmds := captureCommands(t, broker, "uns/+/CMD/Occupy")
	releaseCmds := captureCommands(t, broker, "uns/+/CMD/Release")

	node := NewOccupy("occupy1", []string{"A", "B", "C"}, child, "SelectedAsset", "SelectedUuid", deps, bb)

	status := node.Tick()
	assert.Equal(t, core.Running, status)
	require.NoError(t, d.Arm(context.Background()))

	bUUID := occupyCmds.get("B")
	aUUID := occupyCmds.get("A")
	cUUID := occupyCmds.get("C")
	require.NotEmpty(t, bUUID)
	require.NotEmpty(t, aUUID)
	require.NotEmpty(t, cUUID)

	publishReply(t, broker, "uns/B/DATA/Occupy", bUUID, "SUCCESS")
	publishReply(t, broker, "uns/A/DATA/Occupy", aUUID, "SUCCESS")

	selected, ok := bb.Get("SelectedAsset")
	require.True(t, ok)
	assert.Equal(t, "B", selected)

	assert.Equal(t, aUUID, releaseCmds.get("A"), "A must be released with its own recorded Uuid")
	assert.Empty(t, releaseCmds.get("C"), "C has not been released yet, it never responded to Occupy")

	node.Halt()
	assert.Equal(t, cUUID, releaseCmds.get("C"), "C must be released on halt since it never responded")
}

func TestOccupyWithNoAssetsFails(t *testing.T) {
	broker := transport.NewMemoryBroker()
	d := distributor.New(broker, logger.Default())
	cache := interfacecache.New(nil, logger.Default())
	deps := Deps{Transport: broker, Cache: cache, Distributor: d, Log: logger.Default()}
	bb := core.NewBlackboard()

	node := NewOccupy("occupy-empty", nil, &fakeNode{status: core.Success}, "SelectedAsset", "SelectedUuid", deps, bb)
	assert.Equal(t, core.Failure, node.Tick())
}
