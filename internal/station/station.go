// Package station implements the station-side PackML core described in
// the wire contract: a queue of occupying-orchestrator UUIDs arbitrated
// through Occupy/Release, with an arbitrary set of (cmd_topic, data_topic,
// process_fn) bindings executed only for the queue's current head.
package station

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/packml"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

// ProcessFunc runs one accepted command for uuid against payload (the raw
// command message) and reports success or failure synchronously.
type ProcessFunc func(ctx context.Context, uuid string, payload json.RawMessage) error

// CommandBinding is one `(cmd_topic, data_topic, process_fn)` tuple
// registered at station setup, addressed by its own verb for logging.
type CommandBinding struct {
	Verb      string
	CmdTopic  string
	DataTopic string
	Process   ProcessFunc
}

type occupyRequest struct {
	Uuid string `json:"Uuid"`
}

type releaseRequest struct {
	Uuid string `json:"Uuid"`
}

type uuidResponse struct {
	Uuid  string `json:"Uuid"`
	State string `json:"State"`
}

type stateMessage struct {
	State        string   `json:"State"`
	TimeStamp    string   `json:"TimeStamp"`
	ProcessQueue []string `json:"ProcessQueue"`
}

// Station is one physical station's PackML core: the same state set as
// the orchestrator controller (internal/packml), parameterised by a base
// topic and a set of command bindings instead of a behavior tree.
type Station struct {
	clientID  string
	baseTopic string

	transportClient transport.Transport
	log             *logger.Logger
	bindings        []CommandBinding

	stateMu sync.RWMutex
	state   packml.State

	queueMu        sync.Mutex
	queue          []string
	processingUUID string
}

// New returns a Station publishing under baseTopic, executing the given
// command bindings only for the queue's current head.
func New(clientID, baseTopic string, t transport.Transport, log *logger.Logger, bindings []CommandBinding) *Station {
	return &Station{
		clientID:        clientID,
		baseTopic:       baseTopic,
		transportClient: t,
		log:             log,
		bindings:        bindings,
		state:           packml.Idle,
	}
}

// CurrentState returns the station's current PackML state.
func (s *Station) CurrentState() packml.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Station) setState(state packml.State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	s.queueMu.Lock()
	queue := append([]string(nil), s.queue...)
	s.queueMu.Unlock()

	msg := stateMessage{
		State:        state.String(),
		TimeStamp:    time.Now().UTC().Format(time.RFC3339Nano),
		ProcessQueue: queue,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal station state failed", zap.Error(err))
		return
	}
	topic := s.baseTopic + "/DATA/State"
	if err := s.transportClient.Publish(context.Background(), topic, 2, true, payload); err != nil {
		s.log.Error("publish station state failed", zap.Error(err), zap.String("topic", topic))
	}
	s.log.Info("station state transition", zap.String("client_id", s.clientID), zap.String("state", state.String()))
}

// Arm subscribes the Occupy/Release topics and every registered binding's
// command topic, then publishes the station's initial state.
func (s *Station) Arm(ctx context.Context) error {
	if _, err := s.transportClient.Subscribe(s.baseTopic+"/CMD/Occupy", 2, s.onOccupy); err != nil {
		return apperrors.TransportError("station.Arm", err)
	}
	if _, err := s.transportClient.Subscribe(s.baseTopic+"/CMD/Release", 2, s.onRelease); err != nil {
		return apperrors.TransportError("station.Arm", err)
	}
	for _, binding := range s.bindings {
		b := binding
		if _, err := s.transportClient.Subscribe(b.CmdTopic, 2, func(msg transport.Message) {
			s.onCommand(b, msg)
		}); err != nil {
			return apperrors.TransportError("station.Arm", err)
		}
	}
	s.setState(s.CurrentState())
	return nil
}

func (s *Station) onOccupy(msg transport.Message) {
	var req occupyRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.log.Warn("malformed occupy payload", zap.Error(err))
		return
	}

	s.queueMu.Lock()
	if s.processingUUID == req.Uuid {
		s.queueMu.Unlock()
		return
	}
	for _, u := range s.queue {
		if u == req.Uuid {
			s.queueMu.Unlock()
			return
		}
	}
	s.queue = append(s.queue, req.Uuid)
	becameOnlyEntry := len(s.queue) == 1
	s.queueMu.Unlock()

	s.publishOccupyResponse(req.Uuid, "RUNNING")

	if becameOnlyEntry && s.CurrentState() == packml.Idle {
		s.startHead()
	}
}

// startHead promotes the queue's current head: STARTING publishes a
// terminal SUCCESS for its pending Occupy, then the station moves to
// EXECUTE to accept that head's commands.
func (s *Station) startHead() {
	s.setState(packml.Starting)
	head := s.headUUID()
	if head == "" {
		s.setState(packml.Idle)
		return
	}
	s.publishOccupyResponse(head, "SUCCESS")
	s.setState(packml.Execute)
}

func (s *Station) headUUID() string {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return ""
	}
	return s.queue[0]
}

func (s *Station) onCommand(binding CommandBinding, msg transport.Message) {
	var env occupyRequest
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		s.log.Warn("malformed command payload", zap.String("verb", binding.Verb), zap.Error(err))
		return
	}
	if s.CurrentState() != packml.Execute {
		return
	}
	head := s.headUUID()
	if head == "" || env.Uuid != head {
		s.log.Info("command ignored, caller is not queue head", zap.String("verb", binding.Verb), zap.String("uuid", env.Uuid))
		return
	}
	s.executeCommand(binding, env.Uuid, msg.Payload)
}

// executeCommand runs process_fn synchronously for the queue's head,
// publishing RUNNING before and SUCCESS/FAILURE after per the wire
// contract. The station remains EXECUTE for uuid once it completes; a
// later Release dequeues it.
func (s *Station) executeCommand(binding CommandBinding, uuid string, payload json.RawMessage) {
	s.queueMu.Lock()
	s.processingUUID = uuid
	s.queueMu.Unlock()

	s.publishCommandResponse(binding, uuid, "RUNNING")

	err := binding.Process(context.Background(), uuid, payload)

	s.queueMu.Lock()
	s.processingUUID = ""
	s.queueMu.Unlock()

	if err != nil {
		s.log.Warn("command execution failed", zap.String("verb", binding.Verb), zap.String("uuid", uuid), zap.Error(err))
		s.publishCommandResponse(binding, uuid, "FAILURE")
		return
	}
	s.publishCommandResponse(binding, uuid, "SUCCESS")
}

// onRelease removes uuid from the queue unless it is currently mid-command,
// in which case the release is rejected. A successful release invalidates
// the uuid's original Occupy grant and, once the queue drains, resets the
// station to IDLE; releasing the head while others remain promotes the
// new head the same way startHead does.
func (s *Station) onRelease(msg transport.Message) {
	var req releaseRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.log.Warn("malformed release payload", zap.Error(err))
		return
	}

	s.queueMu.Lock()
	if s.processingUUID == req.Uuid {
		s.queueMu.Unlock()
		s.publishReleaseResponse(req.Uuid, "FAILURE")
		return
	}

	idx := -1
	for i, u := range s.queue {
		if u == req.Uuid {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.queueMu.Unlock()
		s.publishReleaseResponse(req.Uuid, "FAILURE")
		return
	}

	wasHead := idx == 0
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	remaining := len(s.queue) > 0
	s.queueMu.Unlock()

	s.publishOccupyResponse(req.Uuid, "FAILURE")
	s.publishReleaseResponse(req.Uuid, "SUCCESS")

	switch {
	case !remaining:
		s.drainToIdle()
	case wasHead:
		s.startHead()
	}
}

func (s *Station) drainToIdle() {
	s.setState(packml.Resetting)
	s.queueMu.Lock()
	s.processingUUID = ""
	s.queueMu.Unlock()
	s.setState(packml.Idle)
}

// Abort clears the queue, fails every pending Occupy, and transitions to
// ABORTED. It has no wire trigger of its own; callers invoke it directly
// on a station-level fault.
func (s *Station) Abort() {
	s.queueMu.Lock()
	uuids := append([]string(nil), s.queue...)
	s.queue = nil
	s.processingUUID = ""
	s.queueMu.Unlock()

	for _, u := range uuids {
		s.publishOccupyResponse(u, "FAILURE")
	}
	s.setState(packml.Aborted)
}

func (s *Station) publishOccupyResponse(uuid, state string) {
	s.publishUUIDResponse(s.baseTopic+"/DATA/Occupy", uuid, state)
}

func (s *Station) publishReleaseResponse(uuid, state string) {
	s.publishUUIDResponse(s.baseTopic+"/DATA/Release", uuid, state)
}

func (s *Station) publishCommandResponse(binding CommandBinding, uuid, state string) {
	s.publishUUIDResponse(binding.DataTopic, uuid, state)
}

func (s *Station) publishUUIDResponse(topic, uuid, state string) {
	payload, err := json.Marshal(uuidResponse{Uuid: uuid, State: state})
	if err != nil {
		s.log.Error("marshal station response failed", zap.Error(err))
		return
	}
	if err := s.transportClient.Publish(context.Background(), topic, 2, false, payload); err != nil {
		s.log.Error("publish station response failed", zap.Error(err), zap.String("topic", topic))
	}
}
