package domain

import "testing"

func TestOrderState_CanTransitionTo(t *testing.T) {
	allowed := []struct {
		from, to OrderState
	}{
		{OrderStateCreated, OrderStateConfirmed},
		{OrderStateCreated, OrderStateCancelled},
		{OrderStateConfirmed, OrderStateInKitchen},
		{OrderStateConfirmed, OrderStateCancelled},
		{OrderStateInKitchen, OrderStateReady},
		{OrderStateReady, OrderStateDelivered},
	}

	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to OrderState
	}{
		{OrderStateCreated, OrderStateInKitchen},
		{OrderStateConfirmed, OrderStateReady},
		{OrderStateInKitchen, OrderStateCancelled},
		{OrderStateReady, OrderStateCancelled},
		{OrderStateDelivered, OrderStateCreated},
		{OrderStateCancelled, OrderStateConfirmed},
		{OrderStateConfirmed, OrderStateConfirmed},
	}

	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestOrderState_Valid(t *testing.T) {
	for _, s := range []OrderState{OrderStateCreated, OrderStateConfirmed, OrderStateInKitchen, OrderStateReady, OrderStateDelivered, OrderStateCancelled} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if OrderState("PENDING").Valid() {
		t.Error("expected unknown state to be invalid")
	}
}

func TestOrder_LinesTotal(t *testing.T) {
	order := &Order{
		Lines: []OrderLine{
			{Quantity: 2, UnitPrice: 1000, Subtotal: 2000},
			{Quantity: 3, UnitPrice: 500, Subtotal: 1500},
		},
	}
	if got := order.LinesTotal(); got != 3500 {
		t.Errorf("expected 3500, got %d", got)
	}
}

func TestNewOrderEvent(t *testing.T) {
	order := &Order{
		ID:    "order-1",
		State: OrderStateConfirmed,
		Total: 3500,
		Lines: []OrderLine{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 3},
		},
	}

	event := NewOrderEvent(order)

	if event.OrderID != "order-1" {
		t.Errorf("expected order-1, got %s", event.OrderID)
	}
	if event.State != OrderStateConfirmed {
		t.Errorf("expected CONFIRMED, got %s", event.State)
	}
	if event.Total != 3500 {
		t.Errorf("expected total 3500, got %d", event.Total)
	}
	if len(event.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(event.Items))
	}
	if event.Items[0].ProductID != "prod-a" || event.Items[0].Quantity != 2 {
		t.Errorf("unexpected first item: %+v", event.Items[0])
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}
