package domain

import "time"

type OrderState string

const (
	OrderStateCreated   OrderState = "CREATED"
	OrderStateConfirmed OrderState = "CONFIRMED"
	OrderStateInKitchen OrderState = "IN_KITCHEN"
	OrderStateReady     OrderState = "READY"
	OrderStateDelivered OrderState = "DELIVERED"
	OrderStateCancelled OrderState = "CANCELLED"
)

// transitions is the full order lifecycle. Cancellation is only reachable
// before the kitchen picks an order up.
var transitions = map[OrderState][]OrderState{
	OrderStateCreated:   {OrderStateConfirmed, OrderStateCancelled},
	OrderStateConfirmed: {OrderStateInKitchen, OrderStateCancelled},
	OrderStateInKitchen: {OrderStateReady},
	OrderStateReady:     {OrderStateDelivered},
}

func (s OrderState) CanTransitionTo(next OrderState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderState) Valid() bool {
	switch s {
	case OrderStateCreated, OrderStateConfirmed, OrderStateInKitchen,
		OrderStateReady, OrderStateDelivered, OrderStateCancelled:
		return true
	}
	return false
}

type OrderLine struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type Order struct {
	ID        string      `json:"id"`
	State     OrderState  `json:"state"`
	Total     int64       `json:"total"`
	CreatedBy string      `json:"created_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Lines     []OrderLine `json:"lines"`
}

// LinesTotal sums the line subtotals. Order.Total must always equal this
// after a committed mutation.
func (o *Order) LinesTotal() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.Subtotal
	}
	return total
}
