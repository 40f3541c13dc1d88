package pgstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/tillsync/internal/domain"
)

// CreateOrder inserts a PENDING order and its lines. Every referenced item
// must exist. Returns CONFLICT on a duplicate id.
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, l := range order.Lines {
		if _, err := getItem(ctx, tx, l.ItemID, false); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, status, decided_by, decided_at, created_at, updated_at)
		VALUES ($1, $2, $3, '', NULL, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		order.ID, order.BuyerID, string(order.Status), utc(order.CreatedAt), utc(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("order", order.ID, "order already exists")
	}

	batch := &pgx.Batch{}
	for i, l := range order.Lines {
		batch.Queue(`
			INSERT INTO order_lines (order_id, line_no, item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`, order.ID, i, l.ItemID, l.Quantity, l.UnitPrice)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create order: lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create order: commit: %w", err)
	}
	return nil
}

// GetOrder reads an order and its lines.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := getOrder(ctx, s.pool, id, false)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ApproveOrder commits a PENDING order as one unit. The order row is locked
// first, then each referenced item in ascending id order; every item is
// checked and decremented before the order becomes COMPLETED.
func (s *Store) ApproveOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, []domain.StockChange, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("approve order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := getOrder(ctx, tx, orderID, true)
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
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	changes := make([]domain.StockChange, 0, len(ids))
	for _, id := range ids {
		item, err := getItem(ctx, tx, id, true)
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
		change, err := applyStock(ctx, tx, item, remaining, domain.AfterDecrement(item.Availability, remaining), -want, at)
		if err != nil {
			return nil, nil, fmt.Errorf("approve order: %w", err)
		}
		changes = append(changes, change)
	}

	if err := decideOrder(ctx, tx, order, domain.OrderCompleted, approverID, at); err != nil {
		return nil, nil, fmt.Errorf("approve order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("approve order: commit: %w", err)
	}
	return order, changes, nil
}

// RejectOrder moves a PENDING order to REJECTED without touching stock.
func (s *Store) RejectOrder(ctx context.Context, orderID, approverID string, at time.Time) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reject order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := getOrder(ctx, tx, orderID, true)
	if err != nil {
		return nil, fmt.Errorf("reject order: %w", err)
	}
	if order.Status != domain.OrderPending {
		return nil, domain.InvalidState("order", orderID, string(order.Status), "reject")
	}

	if err := decideOrder(ctx, tx, order, domain.OrderRejected, approverID, at); err != nil {
		return nil, fmt.Errorf("reject order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reject order: commit: %w", err)
	}
	return order, nil
}

func decideOrder(ctx context.Context, q querier, order *domain.Order, status domain.OrderStatus, approverID string, at time.Time) error {
	decidedAt := utc(at)
	tag, err := q.Exec(ctx, `
		UPDATE orders
		SET status = $1, decided_by = $2, decided_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'PENDING'`,
		string(status), approverID, decidedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Conflict("order", order.ID, "order decided concurrently")
	}

	order.Status = status
	order.DecidedBy = approverID
	order.DecidedAt = &decidedAt
	order.UpdatedAt = decidedAt
	return nil
}

func getOrder(ctx context.Context, q querier, id string, lock bool) (*domain.Order, error) {
	var (
		order     domain.Order
		status    string
		decidedAt *time.Time
	)
	query := `SELECT id, buyer_id, status, decided_by, decided_at, created_at, updated_at FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	err := q.QueryRow(ctx, query, id).Scan(
		&order.ID, &order.BuyerID, &status, &order.DecidedBy, &decidedAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if decidedAt != nil {
		t := decidedAt.UTC()
		order.DecidedAt = &t
	}

	rows, err := q.Query(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY line_no ASC`, id)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderLine, error) {
		var l domain.OrderLine
		err := row.Scan(&l.ItemID, &l.Quantity, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	if order.Lines == nil {
		order.Lines = []domain.OrderLine{}
	}
	return &order, nil
}
