// Package transport provides the MQTT pub/sub abstraction the orchestrator
// and each station core publish and subscribe through.
package transport

import (
	"context"
	"time"
)

// Message is a single incoming MQTT publication delivered to a handler.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Handler processes one delivered Message. Handlers run on the transport's
// delivery goroutine; they must not block and must take their own locks
// before mutating node state (§5 of the design).
type Handler func(msg Message)

// Subscription represents one active subscription to a topic pattern.
type Subscription interface {
	Unsubscribe() error
	Pattern() string
}

// Transport is the non-owning handle the controller, distributor, and
// station cores hold to talk to the MQTT broker. It mirrors the teacher's
// EventBus interface shape (Publish/Subscribe/Close/IsConnected), backed
// here by paho.mqtt.golang instead of NATS so that wildcard (+/#) and
// retained-message semantics are native rather than emulated.
type Transport interface {
	// Publish sends payload to topic at the given QoS, optionally retained.
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error

	// Subscribe registers handler for every topic matching pattern
	// (which may contain + / # wildcards), at the given QoS. A successful
	// subscription triggers delivery of any retained messages matching the
	// pattern before Subscribe returns control to new message delivery.
	Subscribe(pattern string, qos byte, handler Handler) (Subscription, error)

	// Close disconnects from the broker, waiting up to the given grace
	// period for in-flight publishes to settle.
	Close(grace time.Duration)

	// IsConnected reports current broker connectivity.
	IsConnected() bool
}
