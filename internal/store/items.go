package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/tillsync/internal/domain"
)

// PutItem inserts an item with its opening stock, or updates the name and
// price of an existing one. The quantity and availability of an existing item
// are left untouched; stock changes go through ApproveOrder and Restock.
// The version is bumped on update so stock observers see the change.
func (s *Store) PutItem(ctx context.Context, item domain.StockedItem) (domain.StockedItem, error) {
	if item.QuantityAvailable < 0 {
		return domain.StockedItem{}, domain.InvalidArgument("item %d: quantity must not be negative", item.ID)
	}
	item.Availability = domain.OpeningAvailability(item.Availability, item.QuantityAvailable)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, unit_price, quantity_available, availability, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit_price = excluded.unit_price,
			version = items.version + 1,
			updated_at = excluded.updated_at
	`,
		item.ID,
		item.Name,
		item.UnitPrice,
		item.QuantityAvailable,
		string(item.Availability),
		toMillis(item.UpdatedAt),
	)
	if err != nil {
		return domain.StockedItem{}, fmt.Errorf("put item: %w", err)
	}
	return s.GetItem(ctx, item.ID)
}

// GetItem reads an item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (domain.StockedItem, error) {
	item, err := getItem(ctx, s.db, id)
	if err != nil {
		return domain.StockedItem{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]domain.StockedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit_price, quantity_available, availability, version, updated_at
		FROM items
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.StockedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Restock adds quantity units to an item. A SOLD_OUT item becomes AVAILABLE.
func (s *Store) Restock(ctx context.Context, itemID, quantity int64, at time.Time) (domain.StockChange, error) {
	if quantity <= 0 {
		return domain.StockChange{}, domain.InvalidArgument("restock quantity must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: begin tx: %w", err)
	}
	defer tx.Rollback()

	item, err := getItem(ctx, tx, itemID)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}

	remaining, err := domain.AddStock(item.ID, item.QuantityAvailable, quantity)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}
	avail := domain.AfterRestock(item.Availability, remaining)
	change, err := applyStock(ctx, tx, item, remaining, avail, quantity, at)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: commit: %w", err)
	}
	return change, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q queryer, id int64) (domain.StockedItem, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, unit_price, quantity_available, availability, version, updated_at
		FROM items
		WHERE id = ?
	`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockedItem{}, domain.NotFound("item", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.StockedItem{}, err
	}
	return item, nil
}

// applyStock writes a new quantity for item, guarded by the version read in
// the same transaction.
func applyStock(ctx context.Context, q queryer, item domain.StockedItem, remaining int64, avail domain.Availability, delta int64, at time.Time) (domain.StockChange, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE items
		SET quantity_available = ?, availability = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND quantity_available + ? >= 0
	`, remaining, string(avail), toMillis(at), item.ID, item.Version, delta)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("update item %d: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("update item %d: %w", item.ID, err)
	}
	if n != 1 {
		return domain.StockChange{}, domain.Conflict("item", strconv.FormatInt(item.ID, 10), "item changed concurrently")
	}

	return domain.StockChange{
		ItemID:            item.ID,
		Delta:             delta,
		QuantityAvailable: remaining,
		Availability:      avail,
		Version:           item.Version + 1,
		At:                fromMillis(toMillis(at)),
	}, nil
}

func scanItem(row rowScanner) (domain.StockedItem, error) {
	var (
		item      domain.StockedItem
		avail     string
		updatedAt int64
	)
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.UnitPrice,
		&item.QuantityAvailable,
		&avail,
		&item.Version,
		&updatedAt,
	)
	if err != nil {
		return domain.StockedItem{}, err
	}
	item.Availability = domain.Availability(avail)
	item.UpdatedAt = fromMillis(updatedAt)
	return item, nil
}
