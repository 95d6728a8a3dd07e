package bt

import (
	"context"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// StationCommand is the generic StatefulMQTTAction specialization behind
// the orchestrator-side station-driving actions: it sends a single verb
// to a station asset's CMD/<Verb> topic and waits for a terminal reply on
// DATA/<Verb>, per the station wire contract in SPEC_FULL §4.6.
//
// uuidPort, when set, makes the node reuse an existing correlation id
// (read from the blackboard) instead of generating a fresh one — this is
// how StationCompleteNode releases the same Uuid a StationStartNode
// occupied with. uuidOutputPort, when set, records the Uuid actually used
// so a later node in the same run can pick it up.
type StationCommand struct {
	*StatefulMQTTAction

	assetID       string
	interaction   string
	uuidPort      string
	uuidOutputPort string
	extraPorts    map[string]string // blackboard key -> message field name
}

func newStationCommand(id, assetID, interaction, uuidPort, uuidOutputPort string, extraPorts map[string]string, deps Deps, bb *core.Blackboard) *StationCommand {
	s := &StationCommand{
		assetID:        assetID,
		interaction:    interaction,
		uuidPort:       uuidPort,
		uuidOutputPort: uuidOutputPort,
		extraPorts:     extraPorts,
	}
	s.StatefulMQTTAction = NewStatefulMQTTAction(id, s, deps, bb)
	return s
}

// ResolveTopics implements ActionBehavior. Station commands have no halt
// topic: in-flight commands are not recalled, per SPEC_FULL §5.
func (s *StationCommand) ResolveTopics(ctx context.Context, deps Deps, _ *core.Blackboard) (request, halt, response *interfacecache.TopicDescriptor, err error) {
	request, err = resolveTopic(ctx, deps, s.assetID, s.interaction, "input")
	if err != nil {
		return nil, nil, nil, err
	}
	response, err = resolveTopic(ctx, deps, s.assetID, s.interaction, "output")
	if err != nil {
		return nil, nil, nil, err
	}
	return request, nil, response, nil
}

// BuildMessage implements ActionBehavior.
func (s *StationCommand) BuildMessage(bb *core.Blackboard, generated string) Message {
	id := generated
	if s.uuidPort != "" {
		if v, ok := bb.Get(s.uuidPort); ok {
			if str, ok := v.(string); ok && str != "" {
				id = str
			}
		}
	}
	if s.uuidOutputPort != "" {
		bb.Set(s.uuidOutputPort, id)
	}
	msg := NewMessage(id)
	for port, field := range s.extraPorts {
		if v, ok := bb.Get(port); ok {
			msg.Set(field, v)
		}
	}
	return msg
}

// NewStationStartNode sends CMD/Occupy, records the generated Uuid on
// uuidOutputPort for a later StationCompleteNode to release.
func NewStationStartNode(id, assetID, uuidOutputPort string, deps Deps, bb *core.Blackboard) *StationCommand {
	return newStationCommand(id, assetID, "occupy", "", uuidOutputPort, nil, deps, bb)
}

// NewStationExecuteNode sends CMD/<verb> for the already-occupied Uuid
// (read from uuidPort), carrying extraPorts as additional message fields.
func NewStationExecuteNode(id, assetID, verb, uuidPort string, extraPorts map[string]string, deps Deps, bb *core.Blackboard) *StationCommand {
	return newStationCommand(id, assetID, verb, uuidPort, "", extraPorts, deps, bb)
}

// NewStationCompleteNode sends CMD/Release for the Uuid read from
// uuidPort, completing the occupy/release pair a StationStartNode began.
func NewStationCompleteNode(id, assetID, uuidPort string, deps Deps, bb *core.Blackboard) *StationCommand {
	return newStationCommand(id, assetID, "release", uuidPort, "", nil, deps, bb)
}

// NewStationUnregisterNode sends CMD/Unregister for the Uuid read from
// uuidPort. Per the normalized wire contract, the field is always named
// Uuid — no bridge for a CommandUuid variant is implemented.
func NewStationUnregisterNode(id, assetID, uuidPort string, deps Deps, bb *core.Blackboard) *StationCommand {
	return newStationCommand(id, assetID, "unregister", uuidPort, "", nil, deps, bb)
}
