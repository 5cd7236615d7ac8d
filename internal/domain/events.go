package domain

import "time"

// Routing keys published to the pedidos.events exchange. Consumers bind by
// exact key or by the lifecycle wildcard.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderInKitchen = "order.in_kitchen"
	EventOrderReady     = "order.ready"
	EventOrderDelivered = "order.delivered"
	EventOrderCancelled = "order.cancelled"

	EventOrderWildcard = "order.*"
)

type EventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderEvent is an immutable record of a lifecycle transition. Once published
// it is a historical fact; consumers never mutate it.
type OrderEvent struct {
	OrderID   string      `json:"order_id"`
	State     OrderState  `json:"state"`
	Total     int64       `json:"total,omitempty"`
	Items     []EventItem `json:"items,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewOrderEvent flattens an order into its event form.
func NewOrderEvent(order *Order) OrderEvent {
	items := make([]EventItem, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, EventItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return OrderEvent{
		OrderID:   order.ID,
		State:     order.State,
		Total:     order.Total,
		Items:     items,
		Timestamp: time.Now().UTC(),
	}
}
