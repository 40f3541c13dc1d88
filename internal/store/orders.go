package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/roach88/tillsync/internal/domain"
)

// CreateOrder inserts a PENDING order and its lines.
// Every referenced item must exist. Returns CONFLICT on a duplicate id.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create order: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, l := range order.Lines {
		if _, err := getItem(ctx, tx, l.ItemID); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, status, decided_by, decided_at, created_at, updated_at)
		VALUES (?, ?, ?, '', NULL, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		order.ID,
		order.BuyerID,
		string(order.Status),
		toMillis(order.CreatedAt),
		toMillis(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if n == 0 {
		return domain.Conflict("order", order.ID, "order already exists")
	}

	for i, l := range order.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, line_no, item_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, order.ID, i, l.ItemID, l.Quantity, l.UnitPrice)
		if err != nil {
			return fmt.Errorf("create order: line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create order: commit: %w", err)
	}
	return nil
}

// GetOrder reads an order and its lines.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := getOrder(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ApproveOrder commits a PENDING order as one unit: every referenced item is
// re-read, checked and decremented, items reaching zero become SOLD_OUT, and
// the order becomes COMPLETED. Any failure leaves nothing changed.
//
// Items are processed in ascending id order. The returned changes follow the
// same order.
func (s *Store) ApproveOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, []domain.StockChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("approve order: begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := getOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("approve order: %w", err)
	}
	if order.Status != domain.OrderPending {
		return nil, nil, domain.InvalidState("order", orderID, string(order.Status), "approve")
	}

	requested, err := order.RequestedQuantities()
	if err != nil {
		return nil, nil, fmt.Errorf("approve order: %w", err)
	}
	ids := sortedItemIDs(requested)

	changes := make([]domain.StockChange, 0, len(ids))
	for _, id := range ids {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("approve order: %w", err)
		}
		if !item.Availability.Sellable() {
			return nil, nil, domain.InvalidState("item", strconv.FormatInt(id, 10), string(item.Availability), "sell")
		}
		want := requested[id]
		if want <= 0 {
			return nil, nil, domain.InvalidArgument("item %d: requested quantity must be positive", id)
		}
		if item.QuantityAvailable < want {
			return nil, nil, domain.InsufficientStock(id, want, item.QuantityAvailable)
		}

		remaining := item.QuantityAvailable - want
		avail := domain.AfterDecrement(item.Availability, remaining)
		change, err := applyStock(ctx, tx, item, remaining, avail, -want, at)
		if err != nil {
			return nil, nil, fmt.Errorf("approve order: %w", err)
		}
		changes = append(changes, change)
	}

	if err := decideOrder(ctx, tx, order, domain.OrderCompleted, approverID, at); err != nil {
		return nil, nil, fmt.Errorf("approve order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("approve order: commit: %w", err)
	}
	return order, changes, nil
}

// RejectOrder moves a PENDING order to REJECTED without touching stock.
func (s *Store) RejectOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reject order: begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := getOrder(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reject order: %w", err)
	}
	if order.Status != domain.OrderPending {
		return nil, domain.InvalidState("order", orderID, string(order.Status), "reject")
	}

	if err := decideOrder(ctx, tx, order, domain.OrderRejected, approverID, at); err != nil {
		return nil, fmt.Errorf("reject order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reject order: commit: %w", err)
	}
	return order, nil
}

// decideOrder records the terminal status on order and in the database.
func decideOrder(ctx context.Context, q queryer, order *domain.Order, status domain.OrderStatus, approverID string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`, string(status), approverID, toMillis(at), toMillis(at), order.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if n != 1 {
		return domain.Conflict("order", order.ID, "order decided concurrently")
	}

	decidedAt := fromMillis(toMillis(at))
	order.Status = status
	order.DecidedBy = approverID
	order.DecidedAt = &decidedAt
	order.UpdatedAt = decidedAt
	return nil
}

func getOrder(ctx context.Context, q queryer, id string) (*domain.Order, error) {
	var (
		order     domain.Order
		status    string
		decidedAt sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, buyer_id, status, decided_by, decided_at, created_at, updated_at
		FROM orders
		WHERE id = ?
	`, id).Scan(&order.ID, &order.BuyerID, &status, &order.DecidedBy, &decidedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	if decidedAt.Valid {
		t := fromMillis(decidedAt.Int64)
		order.DecidedAt = &t
	}
	order.CreatedAt = fromMillis(createdAt)
	order.UpdatedAt = fromMillis(updatedAt)

	// Lines are read to completion before the caller issues further
	// statements on the same transaction.
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = ?
		ORDER BY line_no ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order.Lines = []domain.OrderLine{}
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

func sortedItemIDs(m map[int64]int64) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
