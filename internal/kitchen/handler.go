package kitchen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pedidoslab/pedidos/internal/domain"
)

type scheduleStore interface {
	StartPreparation(ctx context.Context, orderID string, readyAt time.Time) (bool, error)
	DueOrders(ctx context.Context, now time.Time) ([]string, error)
	FinishPreparation(ctx context.Context, orderID string) (bool, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Handler consumes order.confirmed events and advances orders through the
// kitchen. Returning nil acknowledges the message; a non-nil return lets the
// broker redeliver it.
type Handler struct {
	store     scheduleStore
	publisher eventPublisher
	prepTime  time.Duration
	logger    *slog.Logger
}

func NewHandler(store scheduleStore, publisher eventPublisher, prepTime time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		prepTime:  prepTime,
		logger:    logger,
	}
}

func (h *Handler) HandleConfirmed(ctx context.Context, routingKey string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// Permanent: redelivery cannot fix a malformed payload.
		h.logger.Error("dropping malformed event", "error", err, "routing_key", routingKey)
		return nil
	}
	if event.OrderID == "" {
		h.logger.Error("dropping event without order id", "routing_key", routingKey)
		return nil
	}

	started, err := h.store.StartPreparation(ctx, event.OrderID, time.Now().Add(h.prepTime))
	if errors.Is(err, domain.ErrOrderNotFound) {
		// Permanent: the order was deleted after the event was published.
		h.logger.Warn("order gone, acknowledging", "order_id", event.OrderID)
		return nil
	}
	if err != nil {
		// Transient store failure: leave unacked so the broker redelivers.
		return fmt.Errorf("start preparation for order %s: %w", event.OrderID, err)
	}

	if !started {
		h.logger.Info("duplicate delivery, order already past CONFIRMED", "order_id", event.OrderID)
		return nil
	}

	h.logger.Info("order in kitchen", "order_id", event.OrderID, "ready_in", h.prepTime)
	h.emit(ctx, domain.EventOrderInKitchen, domain.OrderEvent{
		OrderID:   event.OrderID,
		State:     domain.OrderStateInKitchen,
		Total:     event.Total,
		Items:     event.Items,
		Timestamp: time.Now().UTC(),
	})

	return nil
}

func (h *Handler) emit(ctx context.Context, routingKey string, event domain.OrderEvent) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, routingKey, event); err != nil {
		h.logger.Error("event publish failed", "error", err, "routing_key", routingKey, "order_id", event.OrderID)
	}
}
