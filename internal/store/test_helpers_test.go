package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/tillsync/internal/domain"
)

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession creates an OPEN session at version 1.
func createTestSession(id string) *domain.Session {
	return &domain.Session{
		ID:           id,
		OperatorID:   "cashier-1",
		OperatorName: "Ayu",
		Status:       domain.StatusOpen,
		Cart:         []domain.CartLine{},
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
		Version:      1,
	}
}

// seedItem stores an AVAILABLE item with the given quantity.
func seedItem(t *testing.T, s *Store, id, quantity int64) {
	t.Helper()
	_, err := s.PutItem(context.Background(), domain.StockedItem{
		ID:                id,
		Name:              "item",
		UnitPrice:         1000,
		QuantityAvailable: quantity,
		Availability:      domain.Available,
		UpdatedAt:         testTime,
	})
	if err != nil {
		t.Fatalf("PutItem() failed: %v", err)
	}
}

// seedOrder stores a PENDING order.
func seedOrder(t *testing.T, s *Store, id string, lines ...domain.OrderLine) {
	t.Helper()
	err := s.CreateOrder(context.Background(), &domain.Order{
		ID:        id,
		BuyerID:   "buyer-1",
		Status:    domain.OrderPending,
		Lines:     lines,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	})
	if err != nil {
		t.Fatalf("CreateOrder() failed: %v", err)
	}
}
