package messaging

import amqp "github.com/rabbitmq/amqp091-go"

// HeaderCarrier adapts AMQP message headers to the otel TextMapCarrier
// interface so trace context survives the broker hop.
type HeaderCarrier struct {
	headers amqp.Table
}

func NewHeaderCarrier(headers amqp.Table) *HeaderCarrier {
	return &HeaderCarrier{headers: headers}
}

func (c *HeaderCarrier) Get(key string) string {
	if v, ok := c.headers[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
