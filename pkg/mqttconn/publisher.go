package mqttconn

import (
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the outbound side of the broker link.
type IPublisher interface {
	Publish(payload []byte) error
	PublishTo(topic string, qos byte, retain bool, payload []byte) error
	Close()
}

// Publisher publishes on a fixed default topic through a shared client.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos}
}

// Publish sends payload on the publisher's default topic.
func (p *Publisher) Publish(payload []byte) error {
	return p.PublishTo(p.topic, p.qos, false, payload)
}

// PublishTo sends payload on an explicit topic/qos.
func (p *Publisher) PublishTo(topic string, qos byte, retain bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retain, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the underlying client if still connected.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Println("mqtt: publisher disconnected")
	}
}
