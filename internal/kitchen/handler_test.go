package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pedidoslab/pedidos/internal/domain"
)

type fakeScheduleStore struct {
	startResult bool
	startErr    error
	started     []string
	readyAt     time.Time

	due        []string
	finishErr  error
	finished   []string
	transition bool
}

func (s *fakeScheduleStore) StartPreparation(_ context.Context, orderID string, readyAt time.Time) (bool, error) {
	if s.startErr != nil {
		return false, s.startErr
	}
	s.started = append(s.started, orderID)
	s.readyAt = readyAt
	return s.startResult, nil
}

func (s *fakeScheduleStore) DueOrders(context.Context, time.Time) ([]string, error) {
	return s.due, nil
}

func (s *fakeScheduleStore) FinishPreparation(_ context.Context, orderID string) (bool, error) {
	if s.finishErr != nil {
		return false, s.finishErr
	}
	s.finished = append(s.finished, orderID)
	return s.transition, nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, _ any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, routingKey)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func confirmedEvent(t *testing.T, orderID string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.OrderEvent{
		OrderID:   orderID,
		State:     domain.OrderStateConfirmed,
		Total:     3500,
		Items:     []domain.EventItem{{ProductID: "prod-a", Quantity: 2}},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func TestHandler_HandleConfirmed(t *testing.T) {
	ctx := context.Background()

	t.Run("advances order and publishes in_kitchen", func(t *testing.T) {
		store := &fakeScheduleStore{startResult: true}
		publisher := &fakePublisher{}
		handler := NewHandler(store, publisher, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, confirmedEvent(t, "order-1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(store.started) != 1 || store.started[0] != "order-1" {
			t.Fatalf("expected order-1 started, got %v", store.started)
		}
		if remaining := time.Until(store.readyAt); remaining < 4*time.Second || remaining > 6*time.Second {
			t.Errorf("expected ready_at about 5s out, got %v", remaining)
		}
		if len(publisher.published) != 1 || publisher.published[0] != domain.EventOrderInKitchen {
			t.Errorf("expected order.in_kitchen published, got %v", publisher.published)
		}
	})

	t.Run("acknowledges duplicate delivery without error", func(t *testing.T) {
		store := &fakeScheduleStore{startResult: false}
		publisher := &fakePublisher{}
		handler := NewHandler(store, publisher, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, confirmedEvent(t, "order-1"))
		if err != nil {
			t.Fatalf("expected duplicate to ack, got error: %v", err)
		}
		if len(publisher.published) != 0 {
			t.Errorf("expected no event for duplicate, got %v", publisher.published)
		}
	})

	t.Run("acknowledges missing order", func(t *testing.T) {
		store := &fakeScheduleStore{startErr: domain.ErrOrderNotFound}
		handler := NewHandler(store, &fakePublisher{}, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, confirmedEvent(t, "gone"))
		if err != nil {
			t.Fatalf("expected missing order to ack, got error: %v", err)
		}
	})

	t.Run("returns error on transient store failure", func(t *testing.T) {
		store := &fakeScheduleStore{startErr: errors.New("connection reset")}
		handler := NewHandler(store, &fakePublisher{}, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, confirmedEvent(t, "order-1"))
		if err == nil {
			t.Fatal("expected error so the broker redelivers")
		}
	})

	t.Run("acknowledges malformed payload", func(t *testing.T) {
		handler := NewHandler(&fakeScheduleStore{}, &fakePublisher{}, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, []byte("{not json"))
		if err != nil {
			t.Fatalf("expected malformed payload to ack, got error: %v", err)
		}
	})

	t.Run("publish failure does not fail the message", func(t *testing.T) {
		store := &fakeScheduleStore{startResult: true}
		publisher := &fakePublisher{err: errors.New("broker down")}
		handler := NewHandler(store, publisher, 5*time.Second, testLogger())

		err := handler.HandleConfirmed(ctx, domain.EventOrderConfirmed, confirmedEvent(t, "order-1"))
		if err != nil {
			t.Fatalf("expected publish failure to be swallowed, got: %v", err)
		}
	})
}

func TestPoller_fireDue(t *testing.T) {
	ctx := context.Background()

	t.Run("fires due transitions and publishes ready", func(t *testing.T) {
		store := &fakeScheduleStore{due: []string{"order-1", "order-2"}, transition: true}
		publisher := &fakePublisher{}
		poller := NewPoller(store, publisher, time.Second, testLogger())

		poller.fireDue(ctx)

		if len(store.finished) != 2 {
			t.Fatalf("expected 2 finished orders, got %d", len(store.finished))
		}
		if len(publisher.published) != 2 {
			t.Fatalf("expected 2 published events, got %d", len(publisher.published))
		}
		for _, key := range publisher.published {
			if key != domain.EventOrderReady {
				t.Errorf("expected order.ready, got %s", key)
			}
		}
	})

	t.Run("consumed entry without transition publishes nothing", func(t *testing.T) {
		store := &fakeScheduleStore{due: []string{"order-1"}, transition: false}
		publisher := &fakePublisher{}
		poller := NewPoller(store, publisher, time.Second, testLogger())

		poller.fireDue(ctx)

		if len(publisher.published) != 0 {
			t.Errorf("expected no events, got %v", publisher.published)
		}
	})
}
