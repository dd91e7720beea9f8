// Package amqp adapts a RabbitMQ queue to the event producer and message
// consumer contracts.
package amqp

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the subset of *amqp.Channel used by the producer and
// consumer.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// Client owns the broker connection and the channel shared by a Producer
// and Consumer on the same queue.
type Client struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	logger    *slog.Logger
}

// Dial connects to the broker and declares a durable queue.
func Dial(uri, queueName string, logger *slog.Logger) (*Client, error) {
	if queueName == "" {
		return nil, fmt.Errorf("queue name cannot be empty")
	}
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declare(ch, queueName); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Client{
		conn:      conn,
		channel:   ch,
		queueName: queueName,
		logger:    logger.With("component", "RabbitMQClient", "queue", queueName),
	}
	go func() {
		if closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			c.logger.Error("RabbitMQ connection closed", "err", closeErr)
		}
	}()
	c.logger.Info("RabbitMQ client connected")
	return c, nil
}

func declare(ch amqpChannel, queueName string) error {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

// Producer returns a producer publishing to the client's queue.
func (c *Client) Producer() *Producer {
	return NewProducer(c.channel, c.queueName)
}

// Consumer returns a consumer reading the client's queue.
func (c *Client) Consumer(prefetch int) *Consumer {
	return NewConsumer(c.channel, c.queueName, prefetch, c.logger)
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	var finalErr error
	if err := c.channel.Close(); err != nil {
		finalErr = fmt.Errorf("channel close error: %w", err)
	}
	if err := c.conn.Close(); err != nil && finalErr == nil {
		finalErr = fmt.Errorf("connection close error: %w", err)
	}
	if finalErr == nil {
		c.logger.Info("RabbitMQ connection closed gracefully.")
	}
	return finalErr
}
