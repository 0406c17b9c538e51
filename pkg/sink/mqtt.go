package sink

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of an MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each torque as a raw payload with QoS 0. Publish tokens are
// not waited on, so a slow broker never stalls the cycle.
//
// The client queues payloads without copying them, so every Emit hands over
// a fresh 4-byte slice. Unlike Writer and Latest, this sink allocates on
// every cycle.
type MQTT struct {
	client Publisher
	topic  string
}

// NewMQTT creates a sink publishing to topic through client.
func NewMQTT(client Publisher, topic string) *MQTT {
	return &MQTT{client: client, topic: topic}
}

// Emit implements Sink.
func (s *MQTT) Emit(tau float32) error {
	payload := make([]byte, PayloadSize)
	Encode(payload, tau)
	s.client.Publish(s.topic, 0, false, payload)
	return nil
}

// DialMQTT connects to broker and returns the connected client.
func DialMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("MQTT connect to %s timed out after %v", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", err)
	}
	return client, nil
}
