package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/pedidoslab/pedidos/internal/domain"
)

// pgLockNotAvailable is raised when a FOR UPDATE cannot acquire its lock
// within lock_timeout.
const pgLockNotAvailable = "55P03"

type NewLine struct {
	ProductID string
	Quantity  int
}

type OrderRepository struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewOrderRepository(db *sql.DB, lockTimeout time.Duration) *OrderRepository {
	return &OrderRepository{db: db, lockTimeout: lockTimeout}
}

// begin opens a transaction with a bounded lock wait. Every FOR UPDATE inside
// it fails with 55P03 instead of blocking past the timeout.
func (r *OrderRepository) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func mapLockError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgLockNotAvailable {
		return fmt.Errorf("%w: %v", domain.ErrContention, err)
	}
	return err
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, state, total, created_by, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.State, &order.Total, &order.CreatedBy, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price, subtotal
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, id)
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

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, state, total, created_by, created_at
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.State, &order.Total, &order.CreatedBy, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.Lines = []domain.OrderLine{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lineRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, quantity, unit_price, subtotal
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := lineRows.Scan(&orderID, &line.ID, &line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Lines = append(order.Lines, line)
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// Create inserts an order in CREATED state with its initial lines. Line
// prices are snapshotted from the current product price; they are
// re-snapshotted again at confirmation time.
func (r *OrderRepository) Create(ctx context.Context, createdBy string, lines []NewLine) (*domain.Order, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	orderID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, state, total, created_by, created_at, updated_at)
		VALUES ($1, $2, 0, $3, NOW(), NOW())
	`, orderID, domain.OrderStateCreated, createdBy)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if err := insertLine(ctx, tx, orderID, line); err != nil {
			return nil, err
		}
	}

	if err := recomputeTotal(ctx, tx, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, orderID)
}

func (r *OrderRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// AddLine appends a line to an order still in CREATED state and recomputes
// the stored total in the same transaction.
func (r *OrderRepository) AddLine(ctx context.Context, orderID string, line NewLine) (*domain.Order, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockCreatedOrder(ctx, tx, orderID); err != nil {
		return nil, err
	}

	if err := insertLine(ctx, tx, orderID, line); err != nil {
		return nil, err
	}

	if err := recomputeTotal(ctx, tx, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, orderID)
}

func (r *OrderRepository) RemoveLine(ctx context.Context, orderID, lineID string) (*domain.Order, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockCreatedOrder(ctx, tx, orderID); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM order_lines WHERE id = $1 AND order_id = $2
	`, lineID, orderID)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrLineNotFound, lineID)
	}

	if err := recomputeTotal(ctx, tx, orderID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, orderID)
}

// Transition applies an equality-guarded state change outside any caller
// transaction. Returns false when the order is missing or not in the
// expected state.
func (r *OrderRepository) Transition(ctx context.Context, id string, from, to domain.OrderState) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`, to, id, from)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// lockCreatedOrder takes the order row lock and verifies the order still
// accepts line mutations.
func lockCreatedOrder(ctx context.Context, tx *sql.Tx, orderID string) error {
	var state domain.OrderState
	err := tx.QueryRowContext(ctx, `
		SELECT state FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return mapLockError(err)
	}
	if state != domain.OrderStateCreated {
		return fmt.Errorf("%w: order is %s", domain.ErrStateConflict, state)
	}
	return nil
}

func insertLine(ctx context.Context, tx *sql.Tx, orderID string, line NewLine) error {
	var price int64
	var active bool
	err := tx.QueryRowContext(ctx, `
		SELECT price, active FROM products WHERE id = $1
	`, line.ProductID).Scan(&price, &active)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
		}
		return err
	}
	if !active {
		return fmt.Errorf("%w: %s", domain.ErrProductInactive, line.ProductID)
	}

	subtotal := price * int64(line.Quantity)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), orderID, line.ProductID, line.Quantity, price, subtotal)
	return err
}

// recomputeTotal keeps orders.total equal to the sum of line subtotals.
func recomputeTotal(ctx context.Context, tx *sql.Tx, orderID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET total = (SELECT COALESCE(SUM(subtotal), 0) FROM order_lines WHERE order_id = $1),
		    updated_at = NOW()
		WHERE id = $1
	`, orderID)
	return err
}
