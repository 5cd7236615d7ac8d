package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(uint64, bool) error {
	return nil
}

func testDelivery(ack *fakeAcknowledger) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		RoutingKey:   "order.confirmed",
		Body:         []byte(`{"order_id":"order-1"}`),
	}
}

func TestConsumer_handleDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("acks on success", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c := &Consumer{requeueDelay: time.Millisecond}

		err := c.handleDelivery(ctx, testDelivery(ack), func(context.Context, string, []byte) error {
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ack.acks != 1 || ack.nacks != 0 {
			t.Errorf("expected 1 ack and 0 nacks, got %d/%d", ack.acks, ack.nacks)
		}
	})

	t.Run("requeueing nack waits out the backoff", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c := &Consumer{requeue: true, requeueDelay: 50 * time.Millisecond}

		start := time.Now()
		err := c.handleDelivery(ctx, testDelivery(ack), func(context.Context, string, []byte) error {
			return errors.New("connection reset")
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("expected nack to wait at least 50ms, took %v", elapsed)
		}
		if ack.nacks != 1 || !ack.requeue {
			t.Errorf("expected one requeueing nack, got nacks=%d requeue=%v", ack.nacks, ack.requeue)
		}
	})

	t.Run("non-requeueing nack is immediate", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c := &Consumer{requeueDelay: time.Second}

		start := time.Now()
		err := c.handleDelivery(ctx, testDelivery(ack), func(context.Context, string, []byte) error {
			return errors.New("malformed payload")
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("expected immediate nack, took %v", elapsed)
		}
		if ack.nacks != 1 || ack.requeue {
			t.Errorf("expected one non-requeueing nack, got nacks=%d requeue=%v", ack.nacks, ack.requeue)
		}
	})

	t.Run("cancelled context skips the backoff", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		c := &Consumer{requeue: true, requeueDelay: time.Minute}

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := c.handleDelivery(cancelled, testDelivery(ack), func(context.Context, string, []byte) error {
			return errors.New("connection reset")
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("expected shutdown to skip backoff, took %v", elapsed)
		}
		if ack.nacks != 1 {
			t.Errorf("expected the message to still be nacked, got %d", ack.nacks)
		}
	})
}
