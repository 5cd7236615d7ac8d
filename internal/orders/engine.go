package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pedidoslab/pedidos/internal/domain"
)

// EventPublisher is the post-commit handoff to the event channel.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Engine drives order lifecycle transitions that touch stock. Confirmation
// and cancellation run as single transactions and return the order exactly
// as committed; the matching event is published best-effort after commit.
type Engine struct {
	repo            *OrderRepository
	publisher       EventPublisher
	logger          *slog.Logger
	confirmed       metric.Int64Counter
	publishFailures metric.Int64Counter
}

// NewEngine wires the engine. publisher may be nil, in which case events are
// not emitted and every confirmation is logged as degraded.
func NewEngine(repo *OrderRepository, publisher EventPublisher, logger *slog.Logger) (*Engine, error) {
	meter := otel.Meter("pedidos/orders")

	confirmed, err := meter.Int64Counter("pedidos_orders_confirmed_total",
		metric.WithDescription("Orders successfully confirmed"))
	if err != nil {
		return nil, err
	}

	publishFailures, err := meter.Int64Counter("pedidos_event_publish_failures_total",
		metric.WithDescription("Lifecycle events that failed to publish after commit"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		repo:            repo,
		publisher:       publisher,
		logger:          logger,
		confirmed:       confirmed,
		publishFailures: publishFailures,
	}, nil
}

// Confirm re-prices and commits an order against live stock, then publishes
// order.confirmed. Any validation failure aborts the whole transaction with
// no partial effect. A lock that cannot be acquired within the bounded wait
// surfaces as domain.ErrContention.
func (e *Engine) Confirm(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := e.confirmTx(ctx, orderID)
	if err != nil {
		return nil, err
	}

	e.confirmed.Add(ctx, 1)
	e.logger.Info("order confirmed", "order_id", order.ID, "total", order.Total)
	e.emit(ctx, domain.EventOrderConfirmed, order)

	return order, nil
}

// confirmTx returns the order as committed. Nothing is read after the
// transaction, so a concurrent delete of the order row cannot invalidate
// the result or the published event.
func (e *Engine) confirmTx(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := e.repo.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Order row lock first: serializes against a concurrent confirm or
	// cancel of the same order.
	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != domain.OrderStateCreated {
		return nil, fmt.Errorf("%w: order is %s", domain.ErrStateConflict, order.State)
	}
	if len(order.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	// Aggregate per product, then lock product rows in ascending ID order
	// regardless of line insertion order. Two confirmations sharing products
	// always lock them in the same sequence, so they cannot deadlock.
	needed := make(map[string]int)
	for _, line := range order.Lines {
		needed[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(needed))
	for id := range needed {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	prices := make(map[string]int64, len(productIDs))
	for _, productID := range productIDs {
		var price int64
		var stock int
		var active bool
		err := tx.QueryRowContext(ctx, `
			SELECT price, stock, active FROM products WHERE id = $1 FOR UPDATE
		`, productID).Scan(&price, &stock, &active)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
			}
			return nil, mapLockError(err)
		}
		if !active {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductInactive, productID)
		}
		if stock < needed[productID] {
			return nil, fmt.Errorf("%w: product %s has %d, need %d",
				domain.ErrInsufficientStock, productID, stock, needed[productID])
		}
		prices[productID] = price
	}

	// Re-snapshot line prices from the locked product rows.
	var total int64
	for i := range order.Lines {
		line := &order.Lines[i]
		line.UnitPrice = prices[line.ProductID]
		line.Subtotal = line.UnitPrice * int64(line.Quantity)
		total += line.Subtotal
		_, err := tx.ExecContext(ctx, `
			UPDATE order_lines SET unit_price = $1, subtotal = $2 WHERE id = $3
		`, line.UnitPrice, line.Subtotal, line.ID)
		if err != nil {
			return nil, err
		}
	}

	for _, productID := range productIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $1 WHERE id = $2
		`, needed[productID], productID)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET state = $1, total = $2, updated_at = NOW() WHERE id = $3
	`, domain.OrderStateConfirmed, total, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.State = domain.OrderStateConfirmed
	order.Total = total
	return order, nil
}

// Cancel moves a CREATED or CONFIRMED order to CANCELLED. Stock reserved by
// a confirmed order is restored, touching product rows in the same canonical
// order confirmation uses. Returns the order as committed.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := e.repo.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.State {
	case domain.OrderStateCreated:
		// Nothing was reserved yet.
	case domain.OrderStateConfirmed:
		if err := restock(ctx, tx, order.Lines); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: order is %s", domain.ErrStateConflict, order.State)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET state = $1, updated_at = NOW() WHERE id = $2
	`, domain.OrderStateCancelled, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	was := order.State
	order.State = domain.OrderStateCancelled

	e.logger.Info("order cancelled", "order_id", orderID, "was", was)
	e.emit(ctx, domain.EventOrderCancelled, order)

	return order, nil
}

// Deliver closes out a READY order.
func (e *Engine) Deliver(ctx context.Context, orderID string) (*domain.Order, error) {
	ok, err := e.repo.Transition(ctx, orderID, domain.OrderStateReady, domain.OrderStateDelivered)
	if err != nil {
		return nil, err
	}

	order, err := e.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if !ok {
		return nil, fmt.Errorf("%w: order is %s", domain.ErrStateConflict, order.State)
	}

	e.logger.Info("order delivered", "order_id", orderID)
	e.emit(ctx, domain.EventOrderDelivered, order)

	return order, nil
}

// emit publishes a lifecycle event after the transaction committed. Failure
// never rolls the order back; it is a degraded-delivery condition.
func (e *Engine) emit(ctx context.Context, routingKey string, order *domain.Order) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, routingKey, domain.NewOrderEvent(order)); err != nil {
		e.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("routing_key", routingKey)))
		e.logger.Error("event publish failed", "error", err, "routing_key", routingKey, "order_id", order.ID)
	}
}

// lockOrder takes the order row lock and reads the order with its lines.
func lockOrder(ctx context.Context, tx *sql.Tx, orderID string) (*domain.Order, error) {
	order := &domain.Order{ID: orderID}
	err := tx.QueryRowContext(ctx, `
		SELECT state, total, created_by, created_at FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&order.State, &order.Total, &order.CreatedBy, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return nil, mapLockError(err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price, subtotal
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// restock returns reserved quantities to the product rows. The UPDATE takes
// each row's exclusive lock; iterating in ascending ID order keeps the
// canonical lock sequence shared with confirmTx.
func restock(ctx context.Context, tx *sql.Tx, lines []domain.OrderLine) error {
	returned := make(map[string]int)
	for _, line := range lines {
		returned[line.ProductID] += line.Quantity
	}
	productIDs := make([]string, 0, len(returned))
	for id := range returned {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	for _, productID := range productIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $1 WHERE id = $2
		`, returned[productID], productID)
		if err != nil {
			return mapLockError(err)
		}
	}
	return nil
}
