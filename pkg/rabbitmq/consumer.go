package rabbitmq

import (
	"errors"
	"log"

	"github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false requeues the message.
type Handler func(body []byte) bool

// Consumer reads from a durable queue bound to a topic exchange.
type Consumer struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewConsumer dials RabbitMQ and opens a consuming channel.
func NewConsumer(amqpURL string) (*Consumer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares queueName, binds each routing key to its
// handler and starts delivering in a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}
	if err := declareTopicExchange(c.ch, exchange); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			dispatch(handlers, d)
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()
	return nil
}

func dispatch(handlers map[string]Handler, d amqp091.Delivery) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" routing_key=%s", d.RoutingKey)
		d.Ack(false)
		return
	}
	if handler(d.Body) {
		d.Ack(false)
		return
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; requeueing\" routing_key=%s", d.RoutingKey)
	d.Nack(false, true)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
