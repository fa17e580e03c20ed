package telemetry

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/akriger/neveryawn/pkg/mqttconn"
)

// Link is the broker transport behind the publisher's state machine.
// A single Connect attempt; backoff and reconnection policy live in
// the publisher, not here.
type Link interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, payload []byte) error
	Close()
}

// mqttLink carries telemetry over paho MQTT. QoS 1: the broker ack is
// what lets a queued message be released.
type mqttLink struct {
	cfg    *mqttconn.Config
	client mqtt.Client
	pub    mqttconn.IPublisher
}

// NewMQTTLink returns a Link for the configured broker.
func NewMQTTLink(cfg *mqttconn.Config) Link {
	return &mqttLink{cfg: cfg}
}

func (l *mqttLink) Connect(ctx context.Context) error {
	client := mqtt.NewClient(mqttconn.NewClientOptions(l.cfg))
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		client.Disconnect(0)
		return err
	}
	l.client = client
	l.pub = mqttconn.NewPublisher(client, "", 1)
	return nil
}

func (l *mqttLink) Publish(topic string, qos byte, payload []byte) error {
	if l.client == nil || !l.client.IsConnected() {
		return fmt.Errorf("mqtt publish: not connected")
	}
	return l.pub.PublishTo(topic, qos, false, payload)
}

func (l *mqttLink) Close() {
	if l.pub != nil {
		l.pub.Close()
	} else if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(250)
	}
	l.client = nil
	l.pub = nil
}
