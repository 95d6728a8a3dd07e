package packml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// fakeAASServer serves one process AAS (RequiredCapabilities,
// ProcessInformation, Policy) with no equipment references, so STARTING
// exercises AAS fetch and tree-build without needing a full
// AssetInterfacesDescription fixture.
type fakeAASServer struct {
	server *httptest.Server
}

func newFakeAASServer(t *testing.T, processID string, treeXML []byte, failPolicy bool) *fakeAASServer {
	t.Helper()
	mux := http.NewServeMux()

	shellPath := "/shells/" + aas.EncodeID(processID)
	reqCapsRef := processID + "/submodels/instances/RequiredCapabilities"
	procInfoRef := processID + "/submodels/instances/ProcessInformation"
	policyRef := processID + "/submodels/instances/Policy"

	mux.HandleFunc(shellPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"id": processID,
			"submodels": []any{
				map[string]any{"keys": []any{map[string]any{"value": reqCapsRef}}},
				map[string]any{"keys": []any{map[string]any{"value": procInfoRef}}},
				map[string]any{"keys": []any{map[string]any{"value": policyRef}}},
			},
		})
	})

	mux.HandleFunc("/submodels/"+aas.EncodeID(reqCapsRef), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"submodelElements": []any{}})
	})
	mux.HandleFunc("/submodels/"+aas.EncodeID(procInfoRef), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"submodelElements": []any{}})
	})

	var fakeServerURL string
	policyHandler := func(w http.ResponseWriter, r *http.Request) {
		if failPolicy {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"submodelElements": []any{
				map[string]any{"idShort": "TreeUrl", "value": fakeServerURL + "/tree.xml"},
			},
		})
	}
	mux.HandleFunc("/submodels/"+aas.EncodeID(policyRef), policyHandler)

	mux.HandleFunc("/tree.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(treeXML)
	})

	srv := httptest.NewServer(mux)
	fakeServerURL = srv.URL
	t.Cleanup(srv.Close)
	return &fakeAASServer{server: srv}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// emptyTreeXML is a minimal BehaviorTree.CPP-shaped document whose root is
// a childless Fallback, which always reports FAILURE — enough to exercise
// a full STARTING -> EXECUTE -> COMPLETE cycle without registering any
// domain node type.
const emptyTreeXML = `<root BTCPP_format="4"><BehaviorTree ID="main"><Fallback name="root"/></BehaviorTree></root>`

type topicCapture struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (c *topicCapture) handle(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *topicCapture) last() (transport.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return transport.Message{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

func newController(t *testing.T, processID string, treeXML []byte, failPolicy bool) (*Controller, *transport.MemoryBroker, *fakeAASServer) {
	t.Helper()
	fake := newFakeAASServer(t, processID, treeXML, failPolicy)
	broker := transport.NewMemoryBroker()
	log := newTestLogger()
	client := aas.New(fake.server.URL, fake.server.URL)
	cache := interfacecache.New(client, log)
	ctrl := New("orch-1", "uns", broker, client, cache, log)
	require.NoError(t, ctrl.Arm(context.Background()))
	return ctrl, broker, fake
}

func publishCommand(t *testing.T, broker *transport.MemoryBroker, topic, uuid, processID string) {
	t.Helper()
	payload, err := json.Marshal(commandRequest{Uuid: uuid, Process: processID})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), topic, 2, false, payload))
}

func TestControllerHappyPathStartToComplete(t *testing.T) {
	ctrl, broker, _ := newController(t, "process-1", []byte(emptyTreeXML), false)

	startResp := &topicCapture{}
	_, err := broker.Subscribe("uns/orch-1/DATA/Start", 2, startResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u1", "process-1")
	assert.Equal(t, Idle, ctrl.CurrentState())

	ctx := context.Background()
	ctrl.step(ctx) // drives the full STARTING procedure synchronously

	assert.Equal(t, Execute, ctrl.CurrentState())
	msg, ok := startResp.last()
	require.True(t, ok)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "u1", resp.Uuid)
	assert.Equal(t, "SUCCESS", resp.State)

	ctrl.step(ctx) // ticks the (always-FAILURE) tree to completion
	assert.Equal(t, Complete, ctrl.CurrentState())
}

func TestControllerStartRejectedOutsideIdle(t *testing.T) {
	ctrl, broker, _ := newController(t, "process-1", []byte(emptyTreeXML), false)

	startResp := &topicCapture{}
	_, err := broker.Subscribe("uns/orch-1/DATA/Start", 2, startResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u1", "process-1")
	ctrl.step(context.Background())
	require.Equal(t, Execute, ctrl.CurrentState())

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u2", "process-1")
	msg, ok := startResp.last()
	require.True(t, ok)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "u2", resp.Uuid, "rejection is published immediately on arrival, not deferred to the next tick")
	assert.Equal(t, "FAILURE", resp.State)
	assert.Equal(t, Execute, ctrl.CurrentState(), "a rejected command causes no state transition")
}

func TestControllerSuspendAndUnsuspend(t *testing.T) {
	ctrl, broker, _ := newController(t, "process-1", []byte(emptyTreeXML), false)
	ctx := context.Background()

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u1", "process-1")
	ctrl.step(ctx)
	require.Equal(t, Execute, ctrl.CurrentState())

	suspendResp := &topicCapture{}
	_, err := broker.Subscribe("uns/orch-1/DATA/Suspend", 2, suspendResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Suspend", "u2", "")
	ctrl.step(ctx)
	assert.Equal(t, Suspended, ctrl.CurrentState())
	msg, ok := suspendResp.last()
	require.True(t, ok)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "SUCCESS", resp.State)

	unsuspendResp := &topicCapture{}
	_, err = broker.Subscribe("uns/orch-1/DATA/Unsuspend", 2, unsuspendResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Unsuspend", "u3", "")
	ctrl.step(ctx)
	assert.Equal(t, Execute, ctrl.CurrentState(), "unsuspend does not restore node progress, it re-enters EXECUTE fresh")
	msg, ok = unsuspendResp.last()
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "SUCCESS", resp.State)
}

func TestControllerResetAfterAborted(t *testing.T) {
	ctrl, broker, _ := newController(t, "process-1", []byte(emptyTreeXML), true) // Policy fetch fails
	ctx := context.Background()

	startResp := &topicCapture{}
	_, err := broker.Subscribe("uns/orch-1/DATA/Start", 2, startResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u1", "process-1")
	ctrl.step(ctx)
	assert.Equal(t, Aborted, ctrl.CurrentState())

	msg, ok := startResp.last()
	require.True(t, ok)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "FAILURE", resp.State)

	resetResp := &topicCapture{}
	_, err = broker.Subscribe("uns/orch-1/DATA/Reset", 2, resetResp.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Reset", "u2", "")
	ctrl.step(ctx)
	assert.Equal(t, Idle, ctrl.CurrentState())
	msg, ok = resetResp.last()
	require.True(t, ok)
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, "SUCCESS", resp.State)
}

// stationOccupyTreeXML drives a single StationStartNode against asset
// "Station1"'s "occupy" interaction — a StatefulMQTTAction specialization
// that genuinely stays RUNNING between publishing its request and
// receiving a correlated reply, unlike a bare SyncMQTTCondition (which
// reports FAILURE, not RUNNING, before any message has arrived and would
// therefore complete the tree on its very first tick regardless of
// whether the reply was ever delivered).
const stationOccupyTreeXML = `<root BTCPP_format="4"><BehaviorTree ID="main"><StationStartNode name="start" asset="Station1" uuid_output="uuid"/></BehaviorTree></root>`

// TestControllerStationReplyReachesNodeDuringExecute is the regression
// test for the STARTING ordering bug: every StatefulMQTTAction-derived
// node registers its response topic with the distributor lazily, on its
// own first Tick, but the distributor is armed once, during STARTING,
// before EXECUTE ever ticks the tree. Without priming those nodes ahead
// of Arm, the station's reply below would have no subscriber waiting for
// it and the tree would spin in RUNNING forever.
func TestControllerStationReplyReachesNodeDuringExecute(t *testing.T) {
	processID := "process-1"
	fake := newFakeAASServer(t, processID, []byte(stationOccupyTreeXML), false)
	broker := transport.NewMemoryBroker()
	log := newTestLogger()
	client := aas.New(fake.server.URL, fake.server.URL)
	cache := interfacecache.New(client, log)
	cache.Seed("Station1", &interfacecache.AssetInterfaceSet{
		BaseTopic: "uns/station-1",
		Interactions: map[string]interfacecache.Interaction{
			"occupy": {
				InputTopic:  &interfacecache.TopicDescriptor{Topic: "uns/station-1/CMD/Occupy", Pattern: "uns/station-1/CMD/Occupy", QoS: 2},
				OutputTopic: &interfacecache.TopicDescriptor{Topic: "uns/station-1/DATA/Occupy", Pattern: "uns/station-1/DATA/Occupy", QoS: 2},
			},
		},
	})

	ctrl := New("orch-1", "uns", broker, client, cache, log)
	require.NoError(t, ctrl.Arm(context.Background()))
	ctx := context.Background()

	occupyReq := &topicCapture{}
	_, err := broker.Subscribe("uns/station-1/CMD/Occupy", 2, occupyReq.handle)
	require.NoError(t, err)

	publishCommand(t, broker, "uns/orch-1/CMD/Start", "u1", processID)
	ctrl.step(ctx) // drives STARTING: builds the tree, primes StationStartNode, arms the distributor
	require.Equal(t, Execute, ctrl.CurrentState())

	ctrl.step(ctx) // first real tick: StationStartNode publishes CMD/Occupy and goes RUNNING
	assert.Equal(t, Execute, ctrl.CurrentState(), "a node awaiting a reply keeps the tree RUNNING")

	msg, ok := occupyReq.last()
	require.True(t, ok, "StationStartNode must publish its occupy request")
	var req struct {
		Uuid string `json:"Uuid"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &req))
	require.NotEmpty(t, req.Uuid)

	ctrl.treeMu.Lock()
	onBoard := ctrl.tree.Blackboard.GetString("uuid")
	ctrl.treeMu.Unlock()
	assert.Equal(t, req.Uuid, onBoard, "uuid_output records the same correlation id the node published")

	reply, err := json.Marshal(commandResponse{Uuid: req.Uuid, State: "SUCCESS"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, "uns/station-1/DATA/Occupy", 2, false, reply))

	ctrl.step(ctx) // the reply flipped status to SUCCESS; this tick observes it and completes the tree
	assert.Equal(t, Complete, ctrl.CurrentState(), "the station reply must have reached the node through the distributor")
}

func TestCommandAllowedGatingTable(t *testing.T) {
	assert.True(t, commandAllowed(cmdStart, Idle))
	assert.False(t, commandAllowed(cmdStart, Execute))
	assert.True(t, commandAllowed(cmdStop, Execute))
	assert.True(t, commandAllowed(cmdStop, Idle))
	assert.True(t, commandAllowed(cmdSuspend, Execute))
	assert.False(t, commandAllowed(cmdSuspend, Idle))
	assert.True(t, commandAllowed(cmdUnsuspend, Suspended))
	assert.False(t, commandAllowed(cmdUnsuspend, Execute))
	assert.True(t, commandAllowed(cmdReset, Stopped))
	assert.True(t, commandAllowed(cmdReset, Complete))
	assert.True(t, commandAllowed(cmdReset, Aborted))
	assert.False(t, commandAllowed(cmdReset, Idle))
}
