package messaging

import (
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestShouldRedial(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		if shouldRedial(nil) {
			t.Error("expected no redial without an error")
		}
	})

	t.Run("closed channel", func(t *testing.T) {
		if !shouldRedial(amqp.ErrClosed) {
			t.Error("expected redial for a closed channel")
		}
	})

	t.Run("wrapped connection error", func(t *testing.T) {
		err := fmt.Errorf("publish: %w", &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"})
		if !shouldRedial(err) {
			t.Error("expected redial for a forced connection close")
		}
	})

	t.Run("channel-level error", func(t *testing.T) {
		err := &amqp.Error{Code: amqp.ChannelError, Reason: "unexpected frame"}
		if !shouldRedial(err) {
			t.Error("expected redial for a channel error")
		}
	})

	t.Run("non-transport error", func(t *testing.T) {
		if shouldRedial(errors.New("payload rejected")) {
			t.Error("expected no redial for a non-transport error")
		}
	})

	t.Run("routing-level amqp error", func(t *testing.T) {
		err := &amqp.Error{Code: amqp.NotFound, Reason: "no exchange"}
		if shouldRedial(err) {
			t.Error("expected no redial for a routing error")
		}
	})
}
