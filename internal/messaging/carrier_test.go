package messaging

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestHeaderCarrier(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		carrier := NewHeaderCarrier(amqp.Table{})
		carrier.Set("traceparent", "00-abc-def-01")

		if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
			t.Errorf("expected propagated value, got %q", got)
		}
	})

	t.Run("missing key returns empty", func(t *testing.T) {
		carrier := NewHeaderCarrier(amqp.Table{})
		if got := carrier.Get("traceparent"); got != "" {
			t.Errorf("expected empty value, got %q", got)
		}
	})

	t.Run("non-string header returns empty", func(t *testing.T) {
		carrier := NewHeaderCarrier(amqp.Table{"retries": int32(3)})
		if got := carrier.Get("retries"); got != "" {
			t.Errorf("expected empty value for non-string header, got %q", got)
		}
	})

	t.Run("keys lists all headers", func(t *testing.T) {
		carrier := NewHeaderCarrier(amqp.Table{"a": "1", "b": "2"})
		keys := carrier.Keys()
		if len(keys) != 2 {
			t.Errorf("expected 2 keys, got %d", len(keys))
		}
	})
}
