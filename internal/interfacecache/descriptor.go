// Package interfacecache pre-fetches and memoizes each asset's MQTT
// interface descriptors (topics, QoS, retain, schemas) from the AAS
// AssetInterfacesDescription submodel, sitting in front of the AAS client
// so behavior-tree nodes never issue a discovery HTTP call per tick.
package interfacecache

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// TopicDescriptor is a wire endpoint: the concrete topic (which may still
// carry MQTT wildcards when used as a subscription pattern), the original
// pattern before parameter substitution, an optional compiled schema, QoS,
// and the retain flag. Two descriptors with identical wildcard patterns
// compare equal as subscription keys.
type TopicDescriptor struct {
	Topic   string
	Pattern string
	Schema  *jsonschema.Schema
	QoS     byte
	Retain  bool
}

// Validate checks payload against the descriptor's schema, if any. A
// descriptor without a schema accepts every payload.
func (d *TopicDescriptor) Validate(payload []byte) error {
	if d.Schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	return d.Schema.Validate(v)
}

// Interaction is one named action or property an asset exposes, with its
// input (command) and output (response) topic descriptors.
type Interaction struct {
	InputTopic  *TopicDescriptor
	OutputTopic *TopicDescriptor
}

// AssetInterfaceSet holds one asset's full interaction set plus its base
// topic and variable-alias map.
type AssetInterfaceSet struct {
	BaseTopic    string
	Interactions map[string]Interaction // lowercased interaction name
	Aliases      map[string]string      // lowercased alias -> interaction name
}
