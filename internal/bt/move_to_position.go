package bt

import (
	"context"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
)

// MoveToPosition is a StatefulMQTTAction specialization that translates a
// station-name blackboard input into an integer TargetPosition via a
// static station table, per SPEC_FULL's stateful-action specialization
// note.
type MoveToPosition struct {
	*StatefulMQTTAction

	assetID      string
	stationPort  string
	stationTable map[string]int
}

// NewMoveToPosition builds the node and its base. stationTable maps the
// station names that may appear on the stationPort blackboard key to the
// integer position the asset's move interaction expects.
func NewMoveToPosition(id, assetID, stationPort string, stationTable map[string]int, deps Deps, bb *core.Blackboard) *MoveToPosition {
	m := &MoveToPosition{
		assetID:      assetID,
		stationPort:  stationPort,
		stationTable: stationTable,
	}
	m.StatefulMQTTAction = NewStatefulMQTTAction(id, m, deps, bb)
	return m
}

// ResolveTopics implements ActionBehavior.
func (m *MoveToPosition) ResolveTopics(ctx context.Context, deps Deps, _ *core.Blackboard) (request, halt, response *interfacecache.TopicDescriptor, err error) {
	request, err = resolveTopic(ctx, deps, m.assetID, "move", "input")
	if err != nil {
		return nil, nil, nil, err
	}
	halt, _ = resolveTopic(ctx, deps, m.assetID, "move_halt", "input")
	response, err = resolveTopic(ctx, deps, m.assetID, "move", "output")
	if err != nil {
		return nil, nil, nil, err
	}
	return request, halt, response, nil
}

// BuildMessage implements ActionBehavior.
func (m *MoveToPosition) BuildMessage(bb *core.Blackboard, uuid string) Message {
	station := bb.GetString(m.stationPort)
	return NewMessage(uuid).Set("TargetPosition", m.stationTable[station])
}
