package core

import (
	"encoding/xml"
	"fmt"
)

// Attrs is the set of XML attributes on a tree node element.
type Attrs map[string]string

// Factory constructs a domain node from its XML element. children is empty
// for leaves, one entry for decorators, and one-or-more for control nodes
// that accept a registry-provided child list (this engine doesn't define
// any multi-child domain node types — Sequence/Fallback are builtins).
type Factory func(id string, attrs Attrs, children []Node, bb *Blackboard) (Node, error)

// Registry maps an XML element name to the domain Factory that builds it.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty node-type registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates an XML tag name with the factory that builds it.
func (r *Registry) Register(nodeType string, f Factory) {
	r.factories[nodeType] = f
}

// Has reports whether nodeType has a registered factory.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.factories[nodeType]
	return ok
}

// TypeNames returns every registered node-type name, for XML generation.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

type rawElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []rawElement `xml:",any"`
}

func (e rawElement) attrMap() Attrs {
	a := make(Attrs, len(e.Attrs))
	for _, at := range e.Attrs {
		a[at.Name.Local] = at.Value
	}
	return a
}

type rawRoot struct {
	XMLName       xml.Name      `xml:"root"`
	BehaviorTrees []rawElement  `xml:"BehaviorTree"`
}

// LoadXML parses a BehaviorTree.CPP-style tree description and builds it
// against r, seeding the returned Tree with bb. mainID selects which
// <BehaviorTree ID="..."> to build when the document declares more than
// one; an empty mainID selects the first.
func LoadXML(doc []byte, r *Registry, bb *Blackboard, mainID string) (*Tree, error) {
	var root rawRoot
	if err := xml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("parse tree xml: %w", err)
	}
	if len(root.BehaviorTrees) == 0 {
		return nil, fmt.Errorf("no BehaviorTree element in document")
	}

	chosen := root.BehaviorTrees[0]
	if mainID != "" {
		for _, bt := range root.BehaviorTrees {
			if attrMapID(bt) == mainID {
				chosen = bt
				break
			}
		}
	}
	if len(chosen.Children) != 1 {
		return nil, fmt.Errorf("BehaviorTree element must have exactly one root child, got %d", len(chosen.Children))
	}

	var nodes []Node
	rootNode, err := build(chosen.Children[0], r, bb, &nodes)
	if err != nil {
		return nil, err
	}
	return &Tree{Root: rootNode, Blackboard: bb, Nodes: nodes}, nil
}

func attrMapID(e rawElement) string {
	for _, a := range e.Attrs {
		if a.Name.Local == "ID" {
			return a.Value
		}
	}
	return ""
}

// build constructs the node for e and appends it to *all, so the caller
// ends up with every node in the subtree regardless of how deeply nested
// it is or whether a control node exposes its children.
func build(e rawElement, r *Registry, bb *Blackboard, all *[]Node) (Node, error) {
	attrs := e.attrMap()
	id := attrs["name"]
	if id == "" {
		id = e.XMLName.Local
	}

	var node Node
	switch e.XMLName.Local {
	case "Sequence", "SequenceStar":
		children, err := buildChildren(e, r, bb, all)
		if err != nil {
			return nil, err
		}
		node = NewSequence(id, children)
	case "Fallback":
		children, err := buildChildren(e, r, bb, all)
		if err != nil {
			return nil, err
		}
		node = NewFallback(id, children)
	case "Inverter":
		children, err := buildChildren(e, r, bb, all)
		if err != nil {
			return nil, err
		}
		if len(children) != 1 {
			return nil, fmt.Errorf("Inverter %q must have exactly one child", id)
		}
		node = NewInverter(id, children[0])
	default:
		f, ok := r.factories[e.XMLName.Local]
		if !ok {
			return nil, fmt.Errorf("unknown node type %q", e.XMLName.Local)
		}
		children, err := buildChildren(e, r, bb, all)
		if err != nil {
			return nil, err
		}
		n, err := f(id, attrs, children, bb)
		if err != nil {
			return nil, err
		}
		node = n
	}

	*all = append(*all, node)
	return node, nil
}

func buildChildren(e rawElement, r *Registry, bb *Blackboard, all *[]Node) ([]Node, error) {
	children := make([]Node, 0, len(e.Children))
	for _, c := range e.Children {
		n, err := build(c, r, bb, all)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return children, nil
}
