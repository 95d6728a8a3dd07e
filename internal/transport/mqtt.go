package transport

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
)

// MQTTTransport is the Transport implementation backed by a real broker
// connection, mirroring the reconnect/backoff option set the teacher wires
// up for its NATS event bus (MaxReconnects, ReconnectWait, disconnect/
// reconnect/closed/error handlers) onto paho's client options.
type MQTTTransport struct {
	client mqtt.Client
	log    *logger.Logger
}

// Options configures the underlying paho client.
type Options struct {
	BrokerURI string
	ClientID  string
	Username  string
	Password  string
}

// Connect dials the broker and blocks until the connection handshake
// completes or the context is cancelled.
func Connect(ctx context.Context, opts Options, log *logger.Logger) (*MQTTTransport, error) {
	t := &MQTTTransport{log: log}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURI)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetMaxReconnectInterval(30 * time.Second)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	o.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("mqtt reconnecting")
	})
	o.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", opts.BrokerURI))
	})

	t.client = mqtt.NewClient(o)

	done := make(chan error, 1)
	go func() {
		token := t.client.Connect()
		token.Wait()
		done <- token.Error()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, apperrors.TransportError("transport.Connect", err)
		}
		return t, nil
	case <-ctx.Done():
		return nil, apperrors.TransportError("transport.Connect", ctx.Err())
	}
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return apperrors.TransportError("transport.Publish", fmt.Errorf("publish to %s timed out", topic))
	}
	if err := token.Error(); err != nil {
		return apperrors.TransportError("transport.Publish", err)
	}
	return nil
}

type mqttSubscription struct {
	client  mqtt.Client
	pattern string
}

func (s *mqttSubscription) Unsubscribe() error {
	token := s.client.Unsubscribe(s.pattern)
	token.Wait()
	return token.Error()
}

func (s *mqttSubscription) Pattern() string { return s.pattern }

func (t *MQTTTransport) Subscribe(pattern string, qos byte, handler Handler) (Subscription, error) {
	cb := func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{
			Topic:   m.Topic(),
			Payload: m.Payload(),
			QoS:     m.Qos(),
			Retain:  m.Retained(),
		})
	}
	token := t.client.Subscribe(pattern, qos, cb)
	if !token.WaitTimeout(10 * time.Second) {
		return nil, apperrors.TransportError("transport.Subscribe", fmt.Errorf("subscribe to %s timed out", pattern))
	}
	if err := token.Error(); err != nil {
		return nil, apperrors.TransportError("transport.Subscribe", err)
	}
	return &mqttSubscription{client: t.client, pattern: pattern}, nil
}

func (t *MQTTTransport) Close(grace time.Duration) {
	t.client.Disconnect(uint(grace.Milliseconds()))
}

func (t *MQTTTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}
