package mqttconn

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message from a subscribed topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer is the inbound side of the broker link.
type IConsumer interface {
	Consume(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer subscribes to a set of topics on a shared client and feeds
// every message through a single handler.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler Handler
}

func NewConsumer(client mqtt.Client, qos byte, handler Handler, topics ...string) *Consumer {
	return &Consumer{client: client, topics: topics, qos: qos, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// Consume subscribes to all topics and blocks until ctx is cancelled,
// then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) {
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
			if c.handler == nil {
				log.Printf("mqtt: no handler set for topic %s", topic)
				return
			}
			if err := c.handler(topic, msg); err != nil {
				log.Printf("mqtt: handler error on %s: %v", topic, err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			log.Printf("mqtt: subscribe %s failed: %v", topic, token.Error())
		} else {
			log.Printf("mqtt: subscribed to %s", topic)
		}
	}

	<-ctx.Done()

	for _, topic := range c.topics {
		c.client.Unsubscribe(topic).Wait()
	}
}
