package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/tillsync/internal/domain"
)

const itemColumns = `id, name, unit_price, quantity_available, availability, version, updated_at`

// PutItem inserts an item with its opening stock, or updates the name and
// price of an existing one, bumping its version. Stock of an existing item is
// never overwritten.
func (s *Store) PutItem(ctx context.Context, item domain.StockedItem) (domain.StockedItem, error) {
	if item.QuantityAvailable < 0 {
		return domain.StockedItem{}, domain.InvalidArgument("item %d: quantity must not be negative", item.ID)
	}
	item.Availability = domain.OpeningAvailability(item.Availability, item.QuantityAvailable)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO items (id, name, unit_price, quantity_available, availability, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit_price = EXCLUDED.unit_price,
			version = items.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING `+itemColumns,
		item.ID, item.Name, item.UnitPrice, item.QuantityAvailable, string(item.Availability), utc(item.UpdatedAt),
	)
	out, err := scanItem(row)
	if err != nil {
		return domain.StockedItem{}, fmt.Errorf("put item: %w", err)
	}
	return out, nil
}

// GetItem reads an item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (domain.StockedItem, error) {
	item, err := getItem(ctx, s.pool, id, false)
	if err != nil {
		return domain.StockedItem{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]domain.StockedItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id ASC`)
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := getItem(ctx, tx, itemID, true)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}

	remaining, err := domain.AddStock(item.ID, item.QuantityAvailable, quantity)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}
	change, err := applyStock(ctx, tx, item, remaining, domain.AfterRestock(item.Availability, remaining), quantity, at)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StockChange{}, fmt.Errorf("restock: commit: %w", err)
	}
	return change, nil
}

func getItem(ctx context.Context, q querier, id int64, lock bool) (domain.StockedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	item, err := scanItem(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockedItem{}, domain.NotFound("item", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.StockedItem{}, err
	}
	return item, nil
}

// applyStock writes a new quantity for a row locked by the caller.
func applyStock(ctx context.Context, q querier, item domain.StockedItem, remaining int64, avail domain.Availability, delta int64, at time.Time) (domain.StockChange, error) {
	tag, err := q.Exec(ctx, `
		UPDATE items
		SET quantity_available = $1, availability = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND quantity_available + $6 >= 0`,
		remaining, string(avail), utc(at), item.ID, item.Version, delta,
	)
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("update item %d: %w", item.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return domain.StockChange{}, domain.Conflict("item", strconv.FormatInt(item.ID, 10), "item changed concurrently")
	}

	return domain.StockChange{
		ItemID:            item.ID,
		Delta:             delta,
		QuantityAvailable: remaining,
		Availability:      avail,
		Version:           item.Version + 1,
		At:                utc(at),
	}, nil
}

func scanItem(row pgx.Row) (domain.StockedItem, error) {
	var (
		item  domain.StockedItem
		avail string
	)
	err := row.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.QuantityAvailable, &avail, &item.Version, &item.UpdatedAt)
	if err != nil {
		return domain.StockedItem{}, err
	}
	item.Availability = domain.Availability(avail)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}
