package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler is a function that processes a message body. The routing
// key the message arrived under is passed alongside the body.
type MessageHandler func(ctx context.Context, routingKey string, body []byte) error

// Consumer consumes messages from a queue bound to a topic exchange
type Consumer struct {
	conn             *Connection
	channel          *amqp.Channel
	queue            string
	dlqQueue         string
	exchange         string
	bindingKey       string
	prefetchCount    int
	logger           *zap.Logger
	messageProcessor MessageHandler
}

// ConsumerConfig holds consumer configuration. DLQQueue is optional; when
// empty, failed messages are dropped instead of dead-lettered.
type ConsumerConfig struct {
	Connection       *Connection
	Queue            string
	DLQQueue         string
	Exchange         string
	BindingKey       string
	PrefetchCount    int
	Logger           *zap.Logger
	MessageProcessor MessageHandler
}

// NewConsumer declares the exchange, queue and binding, and returns a
// consumer ready to start
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	ch, err := cfg.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	var args amqp.Table
	if cfg.DLQQueue != "" {
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": cfg.DLQQueue,
		}
	}

	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		// If the queue already exists with different args, retry without DLX
		cfg.Logger.Warn("failed to declare queue with DLX, trying without DLX", zap.Error(err))
		_, err = ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	if cfg.DLQQueue != "" {
		_, err = ch.QueueDeclare(cfg.DLQQueue, true, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to declare DLQ: %w", err)
		}
	}

	err = ch.QueueBind(cfg.Queue, cfg.BindingKey, cfg.Exchange, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Consumer{
		conn:             cfg.Connection,
		channel:          ch,
		queue:            cfg.Queue,
		dlqQueue:         cfg.DLQQueue,
		exchange:         cfg.Exchange,
		bindingKey:       cfg.BindingKey,
		prefetchCount:    cfg.PrefetchCount,
		logger:           cfg.Logger,
		messageProcessor: cfg.MessageProcessor,
	}, nil
}

// Start begins consuming until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started",
		zap.String("queue", c.queue),
		zap.String("binding_key", c.bindingKey),
	)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer context cancelled, stopping", zap.String("queue", c.queue))
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("message channel closed", zap.String("queue", c.queue))
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	err := c.messageProcessor(ctx, msg.RoutingKey, msg.Body)
	if err != nil {
		c.logger.Error("failed to process message",
			zap.Error(err),
			zap.String("queue", c.queue),
			zap.String("routing_key", msg.RoutingKey),
		)

		// NACK with requeue=false dead-letters the message when a DLQ is bound
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logger.Error("failed to NACK message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("failed to ACK message", zap.Error(ackErr))
	}
}

// Close closes the consumer channel
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
