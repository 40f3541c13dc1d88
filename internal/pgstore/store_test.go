package pgstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/tillsync/internal/domain"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tillsync"),
		postgres.WithUsername("tillsync"),
		postgres.WithPassword("tillsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := Open(ctx, dsn, WithMaxConns(10))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPostgresStore(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	t.Run("session round trip and version check", func(t *testing.T) {
		sess := &domain.Session{
			ID:         "session-1",
			OperatorID: "op-1",
			Status:     domain.StatusOpen,
			Cart:       []domain.CartLine{},
			CreatedAt:  testTime,
			UpdatedAt:  testTime,
			Version:    1,
		}
		require.NoError(t, st.CreateSession(ctx, sess))
		assert.True(t, domain.IsConflict(st.CreateSession(ctx, sess)))

		got, err := st.GetSession(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
		assert.Empty(t, got.Cart)
		assert.True(t, got.ExpireAt.IsZero())

		got.Status = domain.StatusPayment
		got.Cart = []domain.CartLine{{ItemID: 1, Name: "Kopi", Quantity: 2, UnitPrice: 5000, Subtotal: 10000}}
		got.GrossAmount = 10000
		got.QRPayload = "qr"
		got.ExpireAt = testTime.Add(15 * time.Minute)
		got.UpdatedAt = testTime.Add(time.Minute)
		got.Version = 2
		require.NoError(t, st.UpdateSession(ctx, got, 1))

		err = st.UpdateSession(ctx, got, 1)
		var derr *domain.Error
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, domain.CodeConflict, derr.Code)
		assert.Equal(t, "2", derr.Details["actual_version"])

		ids, err := st.ListExpiredPayments(ctx, testTime.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"session-1"}, ids)

		_, err = st.GetSession(ctx, "missing")
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("concurrent approvals never oversell", func(t *testing.T) {
		_, err := st.PutItem(ctx, domain.StockedItem{
			ID: 42, Name: "Nasi Goreng", UnitPrice: 15000, QuantityAvailable: 5, UpdatedAt: testTime,
		})
		require.NoError(t, err)

		const n = 8
		for i := 0; i < n; i++ {
			require.NoError(t, st.CreateOrder(ctx, &domain.Order{
				ID:        fmt.Sprintf("order-%d", i),
				BuyerID:   "buyer",
				Status:    domain.OrderPending,
				Lines:     []domain.OrderLine{{ItemID: 42, Quantity: 2, UnitPrice: 15000}},
				CreatedAt: testTime,
				UpdatedAt: testTime,
			}))
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, err := st.ApproveOrder(ctx, fmt.Sprintf("order-%d", i), "cashier", testTime)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.Equal(t, domain.CodeInsufficientStock, domain.CodeOf(err))
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 2, successes)
		item, err := st.GetItem(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(1), item.QuantityAvailable)
		assert.Equal(t, domain.Available, item.Availability)
	})

	t.Run("approval to zero marks sold out and restock recovers", func(t *testing.T) {
		_, err := st.PutItem(ctx, domain.StockedItem{
			ID: 7, Name: "Es Teh", UnitPrice: 4000, QuantityAvailable: 3, UpdatedAt: testTime,
		})
		require.NoError(t, err)
		require.NoError(t, st.CreateOrder(ctx, &domain.Order{
			ID: "order-teh", BuyerID: "buyer", Status: domain.OrderPending,
			Lines:     []domain.OrderLine{{ItemID: 7, Quantity: 3, UnitPrice: 4000}},
			CreatedAt: testTime, UpdatedAt: testTime,
		}))

		order, changes, err := st.ApproveOrder(ctx, "order-teh", "cashier", testTime)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCompleted, order.Status)
		require.Len(t, changes, 1)
		assert.Equal(t, domain.SoldOut, changes[0].Availability)

		_, _, err = st.ApproveOrder(ctx, "order-teh", "cashier", testTime)
		assert.True(t, domain.IsInvalidState(err))

		change, err := st.Restock(ctx, 7, 4, testTime)
		require.NoError(t, err)
		assert.Equal(t, int64(4), change.QuantityAvailable)
		assert.Equal(t, domain.Available, change.Availability)
	})

	t.Run("reject leaves stock untouched", func(t *testing.T) {
		require.NoError(t, st.CreateOrder(ctx, &domain.Order{
			ID: "order-rej", BuyerID: "buyer", Status: domain.OrderPending,
			Lines:     []domain.OrderLine{{ItemID: 7, Quantity: 1, UnitPrice: 4000}},
			CreatedAt: testTime, UpdatedAt: testTime,
		}))
		order, err := st.RejectOrder(ctx, "order-rej", "admin", testTime)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderRejected, order.Status)

		item, err := st.GetItem(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(4), item.QuantityAvailable)
	})
}
