package bt

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
)

// RegisterNodeTypes wires every node type this package provides into r,
// closing over deps so each factory can construct its node's MQTT/AAS
// dependencies. The controller calls this once per tree lifecycle,
// before loading the tree's XML document.
func RegisterNodeTypes(r *core.Registry, deps Deps) {
	r.Register("MoveToPosition", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewMoveToPosition(id, attrs["asset"], attrs["station_port"], parseStationTable(attrs["station_table"]), deps, bb), nil
	})

	r.Register("Refill", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		weightKey := attrs["weight_port"]
		if weightKey == "" {
			weightKey = "Weight"
		}
		return NewRefill(id, attrs["asset"], attrs["target_port"], weightKey, deps, bb), nil
	})

	r.Register("SyncMQTTCondition", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewSyncMQTTCondition(id, attrs["asset"], attrs["interaction"], attrs["field"], attrs["comparison_type"], attrs["expected_value"], deps, bb), nil
	})

	r.Register("UseResource", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.UseResource", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		return NewUseResource(id, attrs["asset"], children[0], deps, bb), nil
	})

	r.Register("Occupy", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.Occupy", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		assets := splitCSV(attrs["assets"])
		return NewOccupy(id, assets, children[0], attrs["selected_output"], attrs["uuid_output"], deps, bb), nil
	})

	r.Register("KeepRunningUntilEmpty", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.KeepRunningUntilEmpty", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		queue := getOrCreateQueue(bb, attrs["queue"])
		return NewKeepRunningUntilEmpty(id, queue, children[0], parseIfEmpty(attrs["if_empty"])), nil
	})

	r.Register("GetProductFromQueue", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.GetProductFromQueue", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		queue := getOrCreateQueue(bb, attrs["queue"])
		return NewGetProductFromQueue(id, attrs["asset"], queue, children[0], parseIfEmpty(attrs["if_empty"]), attrs["product_id_port"], deps, bb), nil
	})

	r.Register("PopElementNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		queue := getOrCreateQueue(bb, attrs["queue"])
		return NewPopElementNode(id, attrs["asset"], queue, parseIfEmpty(attrs["if_empty"]), attrs["product_id_port"], deps, bb), nil
	})

	r.Register("ConfigurationNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		queue := getOrCreateQueue(bb, attrs["queue"])
		return NewConfigurationNode(id, attrs["asset"], queue, deps), nil
	})

	r.Register("SamplingGate", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.SamplingGate", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		queue := getOrCreateQueue(bb, attrs["queue"])
		rate := atoiDefault(attrs["sampling_rate"], 0)
		batch := atoiDefault(attrs["batch_size"], 0)
		return NewSamplingGate(id, rate, batch, queue, children[0]), nil
	})

	r.Register("QualityControlGate", func(id string, attrs core.Attrs, children []core.Node, bb *core.Blackboard) (core.Node, error) {
		if len(children) != 1 {
			return nil, apperrors.TreeBuildError("bt.QualityControlGate", fmt.Errorf("requires exactly 1 child, got %d", len(children)))
		}
		queue := getOrCreateQueue(bb, attrs["queue"])
		rate := atoiDefault(attrs["qc_percentage"], 0)
		batch := atoiDefault(attrs["batch_size"], 0)
		return NewQualityControlGate(id, rate, batch, queue, children[0]), nil
	})

	r.Register("BC_Fallback", func(id string, _ core.Attrs, children []core.Node, _ *core.Blackboard) (core.Node, error) {
		return buildBCFallback(id, children, false)
	})
	r.Register("BC_Fallback_Async", func(id string, _ core.Attrs, children []core.Node, _ *core.Blackboard) (core.Node, error) {
		return buildBCFallback(id, children, true)
	})

	r.Register("StationStartNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewStationStartNode(id, attrs["asset"], attrs["uuid_output"], deps, bb), nil
	})
	r.Register("StationExecuteNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewStationExecuteNode(id, attrs["asset"], attrs["verb"], attrs["uuid_port"], parseExtraPorts(attrs["extra_ports"]), deps, bb), nil
	})
	r.Register("StationCompleteNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewStationCompleteNode(id, attrs["asset"], attrs["uuid_port"], deps, bb), nil
	})
	r.Register("StationUnregisterNode", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewStationUnregisterNode(id, attrs["asset"], attrs["uuid_port"], deps, bb), nil
	})

	r.Register("RetrieveAASProperties", func(id string, attrs core.Attrs, _ []core.Node, bb *core.Blackboard) (core.Node, error) {
		return NewRetrieveAASPropertiesNode(id, deps.AASProvider, parseExtraPorts(attrs["lookups"]), bb), nil
	})
}

func buildBCFallback(id string, children []core.Node, asynch bool) (core.Node, error) {
	if len(children) < 2 {
		return nil, apperrors.TreeBuildError("bt.BC_Fallback", fmt.Errorf("requires a post-condition plus at least 1 action, got %d children", len(children)))
	}
	return NewBCFallback(id, children[0], children[1:], asynch), nil
}

func parseStationTable(raw string) map[string]int {
	table := make(map[string]int)
	for _, pair := range splitCSV(raw) {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		table[strings.TrimSpace(kv[0])] = n
	}
	return table
}

// parseExtraPorts parses a "blackboardKey:field,blackboardKey2:field2"
// attribute into a port-to-field map, used both for StationExecuteNode's
// extra payload fields and RetrieveAASProperties' lookups.
func parseExtraPorts(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitCSV(raw) {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiDefault(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func parseIfEmpty(raw string) core.Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SKIPPED":
		return core.Skipped
	case "FAILURE":
		return core.Failure
	default:
		return core.Success
	}
}

// nodeModel and treeNodesModel mirror the minimal subset of BT.CPP's
// TreeNodesModel XML schema consumed by Groot2-style editors: one entry
// per registered node type, generic Action-category (no dedicated
// Condition/Decorator/Control split is tracked by the registry).
type nodeModel struct {
	XMLName xml.Name `xml:"Action"`
	ID      string   `xml:"ID,attr"`
}

type treeNodesModel struct {
	XMLName xml.Name    `xml:"TreeNodesModel"`
	Nodes   []nodeModel `xml:"Action"`
}

type xmlRoot struct {
	XMLName xml.Name       `xml:"root"`
	Model   treeNodesModel `xml:"TreeNodesModel"`
}

// GenerateXML writes the registered node-type palette to path, for the
// orchestrator's "-g" model-generation mode.
func GenerateXML(r *core.Registry, path string) error {
	names := r.TypeNames()
	model := xmlRoot{Model: treeNodesModel{Nodes: make([]nodeModel, 0, len(names))}}
	for _, name := range names {
		model.Model.Nodes = append(model.Model.Nodes, nodeModel{ID: name})
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.FatalError("bt.GenerateXML", err)
	}
	defer f.Close()

	if _, err := f.WriteString(xml.Header); err != nil {
		return apperrors.FatalError("bt.GenerateXML", err)
	}
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(model); err != nil {
		return apperrors.FatalError("bt.GenerateXML", err)
	}
	return nil
}
