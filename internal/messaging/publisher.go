package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exchange is the durable topic exchange every lifecycle event flows through.
const Exchange = "pedidos.events"

var publisherTracer = otel.Tracer("messaging/publisher")

type Publisher struct {
	url string

	// AMQP channels are not safe for concurrent publishes. The mutex also
	// guards conn/ch replacement on redial.
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string) (*Publisher, error) {
	p := &Publisher{url: url}
	if err := p.dial(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) dial() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends a persistent JSON message to the topic exchange. Delivery to
// bound durable queues is the broker's responsibility; from the caller's
// perspective this is fire-and-forget. A dead connection gets one redial per
// publish, so a broker blip degrades individual publishes instead of wedging
// the publisher until process restart.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, span := publisherTracer.Start(ctx, "send "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemRabbitmq,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(Exchange),
			semconv.MessagingRabbitmqDestinationRoutingKey(routingKey),
		),
	)
	defer span.End()

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(headers))

	p.mu.Lock()
	err = p.send(ctx, routingKey, headers, data)
	if shouldRedial(err) {
		_ = p.conn.Close()
		if redialErr := p.dial(); redialErr == nil {
			err = p.send(ctx, routingKey, headers, data)
		}
	}
	p.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (p *Publisher) send(ctx context.Context, routingKey string, headers amqp.Table, data []byte) error {
	return p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         data,
	})
}

// shouldRedial reports whether a publish failure points at a dead channel or
// connection rather than at the message itself.
func shouldRedial(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.ChannelError || amqpErr.Code == amqp.ConnectionForced
	}
	return false
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
