package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/store"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.AddInvocation("create_session", map[string]any{"session_id": "S1", "operator_id": "K1"})
	r.AddPublish("session:S1", 1, map[string]any{"status": "OPEN", "grossAmount": int64(0)})
	r.AddCompletion("ok", map[string]any{"status": "OPEN"})
	r.AddInvocation("update_cart", map[string]any{"session_id": "S1"})
	r.AddPublish("session:S1", 2, map[string]any{"status": "OPEN", "grossAmount": int64(8000)})
	r.AddCompletion("ok", map[string]any{"status": "OPEN"})
	r.AddInvocation("close_session", map[string]any{"session_id": "S1"})
	r.AddPublish("session:S1", 3, map[string]any{"status": "CLOSED", "grossAmount": int64(8000)})
	r.AddCompletion("ok", map[string]any{"status": "CLOSED"})
	r.AddInvocation("close_session", map[string]any{"session_id": "S1"})
	r.AddCompletion("ok", map[string]any{"status": "CLOSED"})
	return r.Trace
}

func TestTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: "create_session"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Type:   AssertTraceContains,
		Action: "create_session",
		Args:   map[string]any{"operator_id": "K1"},
	}))

	err := assertTraceContains(trace, Assertion{
		Type:   AssertTraceContains,
		Action: "create_session",
		Args:   map[string]any{"operator_id": "K2"},
	})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "not found in trace")
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"create_session", "update_cart", "close_session"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"create_session", "close_session"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"update_cart", "create_session"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update_cart (seq 4) should be before create_session (seq 1)")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"create_session", "restock"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: restock")
}

func TestTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "close_session", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "restock", Count: 0}))

	err := assertTraceCount(trace, Assertion{Action: "close_session", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestLastPublished(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertLastPublished(trace, Assertion{
		Key:    "session:S1",
		Expect: map[string]any{"status": "CLOSED", "grossAmount": 8000},
	}))

	err := assertLastPublished(trace, Assertion{
		Key:    "session:S1",
		Expect: map[string]any{"status": "OPEN"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.status: expected OPEN, got CLOSED")

	err = assertLastPublished(trace, Assertion{
		Key:    "session:S9",
		Expect: map[string]any{"status": "OPEN"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing published")
}

func TestFinalState(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateSession(ctx, &domain.Session{
		ID:         "S1",
		OperatorID: "K1",
		Status:     domain.StatusOpen,
		Cart:       []domain.CartLine{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}))
	_, err = st.PutItem(ctx, domain.StockedItem{ID: 5, Name: "Kopi", UnitPrice: 6000, QuantityAvailable: 2, UpdatedAt: now})
	require.NoError(t, err)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name:      "session matches",
			assertion: Assertion{Table: "sessions", Where: map[string]any{"id": "S1"}, Expect: map[string]any{"status": "OPEN", "version": 1, "cart": []any{}}},
		},
		{
			name:      "item matches",
			assertion: Assertion{Table: "items", Where: map[string]any{"id": 5}, Expect: map[string]any{"quantity_available": 2, "availability": "AVAILABLE"}},
		},
		{
			name:      "session mismatch",
			assertion: Assertion{Table: "sessions", Where: map[string]any{"id": "S1"}, Expect: map[string]any{"status": "CLOSED"}},
			wantErr:   "$.status: expected CLOSED, got OPEN",
		},
		{
			name:      "missing column",
			assertion: Assertion{Table: "items", Where: map[string]any{"id": 5}, Expect: map[string]any{"colour": "red"}},
			wantErr:   "$.colour: missing",
		},
		{
			name:      "missing row",
			assertion: Assertion{Table: "orders", Where: map[string]any{"id": "O9"}, Expect: map[string]any{"status": "PENDING"}},
			wantErr:   "NOT_FOUND",
		},
		{
			name:      "non-integer item id",
			assertion: Assertion{Table: "items", Where: map[string]any{"id": "five"}, Expect: map[string]any{"name": "Kopi"}},
			wantErr:   "item id must be an integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions_Errors(t *testing.T) {
	trace := sampleTrace()
	result := &Result{Pass: true, Trace: trace}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Action: "close_session", Count: 2},
		{Type: AssertFinalState, Table: "sessions", Where: map[string]any{"id": "S1"}, Expect: map[string]any{"status": "OPEN"}},
		{Type: "eventually"},
	}, nil)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "final_state requires database context")
	assert.Contains(t, errs[1], `unknown assertion type "eventually"`)
}

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"status": "OPEN",
		"cart": []any{
			map[string]any{"itemId": int64(7), "quantity": int64(2)},
		},
	}

	ok, _ := matchSubset(actual, map[string]any{"cart": []any{map[string]any{"quantity": 2}}})
	assert.True(t, ok)

	ok, detail := matchSubset(actual, map[string]any{"cart": []any{}})
	assert.False(t, ok)
	assert.Contains(t, detail, "$.cart")

	ok, detail = matchSubset(actual, map[string]any{"cart": []any{map[string]any{"quantity": 3}}})
	assert.False(t, ok)
	assert.Equal(t, "$.cart[0].quantity: expected 3, got 2", detail)

	ok, _ = matchSubset(actual, map[string]any(nil))
	assert.True(t, ok)
}
