package kitchen

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pedidoslab/pedidos/internal/domain"
)

// Repository persists kitchen progress. The pending READY transition lives in
// kitchen_schedule so a worker restart resumes it instead of dropping it.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// StartPreparation moves a CONFIRMED order into the kitchen and records when
// it will be ready, in one transaction. Returns false without error when the
// order is no longer CONFIRMED (duplicate or stale delivery).
func (r *Repository) StartPreparation(ctx context.Context, orderID string, readyAt time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`, domain.OrderStateInKitchen, orderID, domain.OrderStateConfirmed)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if rowsAffected == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)
		`, orderID).Scan(&exists)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kitchen_schedule (order_id, ready_at)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, readyAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// DueOrders lists schedule entries whose prep time has elapsed.
func (r *Repository) DueOrders(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id FROM kitchen_schedule WHERE ready_at <= $1 ORDER BY ready_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}

	return orderIDs, rows.Err()
}

// FinishPreparation fires a due transition. The state guard makes a
// double-fired schedule row harmless; the row is consumed either way.
func (r *Repository) FinishPreparation(ctx context.Context, orderID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders SET state = $1, updated_at = NOW()
		WHERE id = $2 AND state = $3
	`, domain.OrderStateReady, orderID, domain.OrderStateInKitchen)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM kitchen_schedule WHERE order_id = $1
	`, orderID)
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, tx.Commit()
}
