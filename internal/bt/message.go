package bt

import "encoding/json"

// Message is the generic envelope every action/condition node publishes
// and parses: a JSON object keyed by logical field name. Specializations
// add their own payload fields on top of Uuid/State.
type Message map[string]any

// NewMessage returns a Message carrying the command's correlation id.
func NewMessage(uuid string) Message {
	return Message{"Uuid": uuid}
}

// WithState returns m with State set, for replies.
func (m Message) WithState(state string) Message {
	m["State"] = state
	return m
}

// Set assigns an arbitrary field, returning m for chaining.
func (m Message) Set(key string, value any) Message {
	m[key] = value
	return m
}

func (m Message) marshal() ([]byte, error) {
	return json.Marshal(map[string]any(m))
}

// Reply is the parsed shape of an incoming response/state message: a
// correlation id plus the reported state. Extra fields are ignored.
type Reply struct {
	Uuid  string `json:"Uuid"`
	State string `json:"State"`
}

// ParseReply decodes payload into a Reply. Well-formed JSON that doesn't
// carry a Uuid/State pair (e.g. a publish from an unrelated asset) yields
// a zero-value Reply rather than an error, so callers can simply ignore
// anything that doesn't match their own current_uuid; a payload that is
// not valid JSON returns the decode error.
func ParseReply(payload []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reply{}, err
	}
	return r, nil
}
