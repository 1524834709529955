// Package events carries deferred-rate notifications over AMQP so a worker
// can repair multipliers outside the request path.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/mmynk/groupledger/internal/ledger"
)

const (
	// attemptsHeader counts failed deliveries of a republished message.
	attemptsHeader = "x-delivery-attempts"

	maxDeliveryAttempts = 5
)

// Client publishes and consumes rate.deferred messages.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string

	publish    func(context.Context, amqp091.Publishing) error
	retryDelay func(attempt int) time.Duration
}

var _ ledger.Notifier = (*Client)(nil)

// NewClient dials url and declares the exchange and queue.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		retryDelay:   exponentialBackoff,
	}
	client.publish = client.publishToQueue

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// The queue name doubles as the routing key on the direct exchange.
	err = c.channel.QueueBind(
		c.queueName,
		c.queueName,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return c.channel.Qos(1, 0, false)
}

// RateDeferred publishes d. It satisfies ledger.Notifier.
func (c *Client) RateDeferred(ctx context.Context, d ledger.DeferredRate) error {
	body, err := NewRateDeferredMessage(d).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = c.publish(ctx, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Type:         "rate.deferred",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	slog.DebugContext(ctx, "published rate deferred message",
		"group_id", d.GroupID,
		"transaction_id", d.TransactionID,
		"exchange", c.exchangeName,
	)
	return nil
}

func (c *Client) publishToQueue(ctx context.Context, msg amqp091.Publishing) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		msg,
	)
}

// ConsumeRateDeferred delivers messages to handler until ctx is done or the
// channel closes. Undecodable messages are dropped. A message whose handler
// fails is republished after a backoff and dropped once it has failed
// maxDeliveryAttempts times.
func (c *Client) ConsumeRateDeferred(ctx context.Context, handler func(context.Context, *RateDeferredMessage) error) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "consuming rate deferred messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			if err := c.handleDelivery(ctx, delivery, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles one delivery. It returns an error only when ctx is
// done while a retry is pending, in which case the delivery is requeued.
func (c *Client) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handler func(context.Context, *RateDeferredMessage) error) error {
	msg, err := RateDeferredMessageFromJSON(delivery.Body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to decode message", "error", err)
		delivery.Nack(false, false)
		return nil
	}

	err = handler(ctx, msg)
	if err == nil {
		delivery.Ack(false)
		return nil
	}

	attempt := deliveryAttempts(delivery.Headers) + 1
	logger := slog.With(
		"group_id", msg.GroupID,
		"transaction_id", msg.TransactionID,
		"attempt", attempt,
		"error", err,
	)
	if attempt >= maxDeliveryAttempts {
		logger.ErrorContext(ctx, "dropping message after repeated failures")
		delivery.Nack(false, false)
		return nil
	}
	logger.WarnContext(ctx, "failed to handle message, retrying")

	select {
	case <-ctx.Done():
		delivery.Nack(false, true)
		return ctx.Err()
	case <-time.After(c.retryDelay(attempt - 1)):
	}

	headers := amqp091.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(attempt)

	err = c.publish(ctx, amqp091.Publishing{
		Headers:      headers,
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Type:         delivery.Type,
		Body:         delivery.Body,
	})
	if err != nil {
		// The backoff has already elapsed, so requeueing does not spin.
		logger.ErrorContext(ctx, "failed to republish message", "publish_error", err)
		delivery.Nack(false, true)
		return nil
	}
	delivery.Ack(false)
	return nil
}

// deliveryAttempts reads the failure count from h. AMQP tables decode
// integers at their wire width.
func deliveryAttempts(h amqp091.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
