package store

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/domain"
)

func TestCreateOrder_UnknownItem(t *testing.T) {
	s := createTestStore(t)
	err := s.CreateOrder(context.Background(), &domain.Order{
		ID:      "o-1",
		BuyerID: "b",
		Status:  domain.OrderPending,
		Lines:   []domain.OrderLine{{ItemID: 99, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing persisted")
}

func TestCreateOrder_Duplicate(t *testing.T) {
	s := createTestStore(t)
	seedItem(t, s, 1, 5)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 1})

	err := s.CreateOrder(context.Background(), &domain.Order{
		ID:     "o-1",
		Status: domain.OrderPending,
		Lines:  []domain.OrderLine{{ItemID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestApproveOrder_DecrementsAndCompletes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 10)
	seedItem(t, s, 2, 3)
	seedOrder(t, s, "o-1",
		domain.OrderLine{ItemID: 2, Quantity: 1, UnitPrice: 500},
		domain.OrderLine{ItemID: 1, Quantity: 4, UnitPrice: 1000},
		domain.OrderLine{ItemID: 2, Quantity: 2, UnitPrice: 500},
	)

	order, changes, err := s.ApproveOrder(ctx, "o-1", "cashier-1", testTime)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, order.Status)
	assert.Equal(t, "cashier-1", order.DecidedBy)
	require.NotNil(t, order.DecidedAt)

	require.Len(t, changes, 2)
	assert.Equal(t, int64(1), changes[0].ItemID)
	assert.Equal(t, int64(-4), changes[0].Delta)
	assert.Equal(t, int64(6), changes[0].QuantityAvailable)
	assert.Equal(t, domain.Available, changes[0].Availability)
	assert.Equal(t, int64(2), changes[1].ItemID)
	assert.Equal(t, int64(-3), changes[1].Delta)
	assert.Equal(t, int64(0), changes[1].QuantityAvailable)

	// SOLD_OUT is committed in the same unit as the decrement.
	item, err := s.GetItem(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.QuantityAvailable)
	assert.Equal(t, domain.SoldOut, item.Availability)
	assert.Equal(t, int64(2), item.Version)

	stored, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, stored.Status)
}

func TestApproveOrder_InsufficientStockRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 10)
	seedItem(t, s, 2, 1)
	seedOrder(t, s, "o-1",
		domain.OrderLine{ItemID: 1, Quantity: 4},
		domain.OrderLine{ItemID: 2, Quantity: 2},
	)

	_, _, err := s.ApproveOrder(ctx, "o-1", "cashier-1", testTime)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "2", de.Details["item_id"])

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.QuantityAvailable, "item 1 untouched")

	order, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
}

func TestApproveOrder_NotPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 10)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 1})

	_, _, err := s.ApproveOrder(ctx, "o-1", "c", testTime)
	require.NoError(t, err)

	_, _, err = s.ApproveOrder(ctx, "o-1", "c", testTime)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), item.QuantityAvailable, "decremented exactly once")
}

func TestApproveOrder_UnsellableItem(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.PutItem(ctx, domain.StockedItem{
		ID: 1, Name: "draft", QuantityAvailable: 5, Availability: domain.PendingApproval, UpdatedAt: testTime,
	})
	require.NoError(t, err)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 1})

	_, _, err = s.ApproveOrder(ctx, "o-1", "c", testTime)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestApproveOrder_Concurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 5)

	const n = 8
	for i := 0; i < n; i++ {
		seedOrder(t, s, orderID(i), domain.OrderLine{ItemID: 1, Quantity: 2})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.ApproveOrder(ctx, orderID(i), "c", testTime)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.CodeOf(err) == domain.CodeInsufficientStock:
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, n-2, short)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.QuantityAvailable)
	assert.Equal(t, domain.Available, item.Availability)
}

func TestRejectOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 3)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 1})

	order, err := s.RejectOrder(ctx, "o-1", "c", testTime)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderRejected, order.Status)

	_, err = s.RejectOrder(ctx, "o-1", "c", testTime)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), item.QuantityAvailable)
}

func TestRestock_RevivesSoldOut(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 1)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 1})
	_, _, err := s.ApproveOrder(ctx, "o-1", "c", testTime)
	require.NoError(t, err)

	change, err := s.Restock(ctx, 1, 4, testTime)
	require.NoError(t, err)
	assert.Equal(t, int64(4), change.Delta)
	assert.Equal(t, int64(4), change.QuantityAvailable)
	assert.Equal(t, domain.Available, change.Availability)
	assert.Equal(t, int64(3), change.Version)

	_, err = s.Restock(ctx, 1, 0, testTime)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Restock(ctx, 42, 1, testTime)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApproveOrder_OverflowingLinesRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 5)
	seedOrder(t, s, "o-1",
		domain.OrderLine{ItemID: 1, Quantity: math.MaxInt64, UnitPrice: 0},
		domain.OrderLine{ItemID: 1, Quantity: math.MaxInt64, UnitPrice: 0},
	)

	_, changes, err := s.ApproveOrder(ctx, "o-1", "c", testTime)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, changes)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.QuantityAvailable, "stock never grows on approve")
	assert.Equal(t, int64(1), item.Version)

	order, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
}

func TestRestock_Overflow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, math.MaxInt64-1)

	_, err := s.Restock(ctx, 1, 5, testTime)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), item.QuantityAvailable)
}

func TestPutItem_KeepsStockOfExistingItem(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedItem(t, s, 1, 3)
	seedOrder(t, s, "o-1", domain.OrderLine{ItemID: 1, Quantity: 3})
	_, _, err := s.ApproveOrder(ctx, "o-1", "c", testTime)
	require.NoError(t, err)

	item, err := s.PutItem(ctx, domain.StockedItem{
		ID:                1,
		Name:              "renamed",
		UnitPrice:         2500,
		QuantityAvailable: 10,
		Availability:      domain.Available,
		UpdatedAt:         testTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", item.Name)
	assert.Equal(t, int64(2500), item.UnitPrice)
	assert.Equal(t, int64(0), item.QuantityAvailable)
	assert.Equal(t, domain.SoldOut, item.Availability)
	assert.Equal(t, int64(3), item.Version)
}

func TestPutItem_OpeningAvailability(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	item, err := s.PutItem(ctx, domain.StockedItem{ID: 1, Name: "Kopi", QuantityAvailable: 0, UpdatedAt: testTime})
	require.NoError(t, err)
	assert.Equal(t, domain.SoldOut, item.Availability)

	item, err = s.PutItem(ctx, domain.StockedItem{ID: 2, Name: "Teh", QuantityAvailable: 0, Availability: domain.PendingApproval, UpdatedAt: testTime})
	require.NoError(t, err)
	assert.Equal(t, domain.PendingApproval, item.Availability)

	_, err = s.PutItem(ctx, domain.StockedItem{ID: 3, Name: "Susu", QuantityAvailable: -1, UpdatedAt: testTime})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestListItems(t *testing.T) {
	s := createTestStore(t)
	seedItem(t, s, 3, 1)
	seedItem(t, s, 1, 1)

	items, err := s.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, int64(3), items[1].ID)
}

func orderID(i int) string {
	return "o-" + string(rune('a'+i))
}
