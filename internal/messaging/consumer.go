package messaging

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// requeueBackoff spaces redeliveries of a message whose handler hit a
// transient failure. Without it a dead database turns prefetch-1 consumption
// into a tight nack/redeliver loop.
const requeueBackoff = time.Second

// Handler processes one delivered event. A non-nil error negatively
// acknowledges the message; whether it is requeued depends on the consumer's
// configuration.
type Handler func(ctx context.Context, routingKey string, payload []byte) error

type consumerConfig struct {
	queue          string
	requeueOnError bool
}

type ConsumerOption func(*consumerConfig)

// WithDurableQueue binds a named durable queue, giving the subscription
// at-least-once delivery across consumer restarts. Without it the consumer
// gets an exclusive auto-named queue that vanishes with the connection.
func WithDurableQueue(name string) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.queue = name
	}
}

// WithRequeueOnError redelivers messages whose handler failed. Leave it off
// for consumers that treat handler failure as a poison message.
func WithRequeueOnError() ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.requeueOnError = true
	}
}

type Consumer struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	queue        string
	binding      string
	requeue      bool
	requeueDelay time.Duration
}

func NewConsumer(url, bindingKey string, opts ...ConsumerOption) (*Consumer, error) {
	cfg := consumerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var queue amqp.Queue
	if cfg.queue != "" {
		queue, err = ch.QueueDeclare(cfg.queue, true, false, false, false, nil)
	} else {
		queue, err = ch.QueueDeclare("", false, true, true, false, nil)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.QueueBind(queue.Name, bindingKey, Exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:         conn,
		ch:           ch,
		queue:        queue.Name,
		binding:      bindingKey,
		requeue:      cfg.requeueOnError,
		requeueDelay: requeueBackoff,
	}, nil
}

// Consume delivers messages to handler one at a time. Messages are acked
// only after the handler returns nil; the handler must therefore be
// idempotent under redelivery.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, delivery, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles one delivery. A requeueing nack waits out the
// backoff first so the broker does not redeliver immediately into the same
// transient failure.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) error {
	if err := c.process(ctx, delivery, handler); err != nil {
		if c.requeue {
			select {
			case <-ctx.Done():
			case <-time.After(c.requeueDelay):
			}
		}
		return delivery.Nack(false, c.requeue)
	}
	return delivery.Ack(false)
}

func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery, handler Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(delivery.Headers))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+delivery.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(Exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(delivery.RoutingKey),
		),
	)
	defer span.End()

	if err := handler(spanCtx, delivery.RoutingKey, delivery.Body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
