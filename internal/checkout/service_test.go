package checkout

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/realtime"
)

func TestCreate_GeneratesID(t *testing.T) {
	f := newFixture(t, nil)

	snap, err := f.svc.Create(context.Background(), CreateRequest{OperatorID: "cashier-1"})
	require.NoError(t, err)
	assert.Equal(t, "session-1", snap.SessionID)
	assert.Equal(t, domain.StatusOpen, snap.Status)
	assert.Empty(t, snap.Cart)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, testStart, snap.UpdatedAt)
}

func TestCreate_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "s-1")

	_, err := f.svc.Create(context.Background(), CreateRequest{SessionID: "s-1", OperatorID: "cashier-2"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreate_RequiresOperator(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Create(context.Background(), CreateRequest{SessionID: "s-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreate_Publishes(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "s-1")

	sub, err := f.broker.Subscribe(context.Background(), realtime.SessionKey("s-1"))
	require.NoError(t, err)
	defer sub.Close()

	msg, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
	assert.JSONEq(t,
		`{"sessionId":"s-1","status":"OPEN","cart":[],"grossAmount":0,"updatedAt":"2026-03-01T09:00:00Z"}`,
		string(msg.Payload))
}

func TestUpdateCart_GrossAmountIsSumOfLines(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "s-1")

	snap, err := f.svc.UpdateCart(context.Background(), "s-1", []domain.CartLineInput{
		{ItemID: 7, Name: "Nasi Goreng", Quantity: 2, UnitPrice: 15000},
		{ItemID: 9, Name: "Es Jeruk", Quantity: 1, UnitPrice: 6000},
	})
	require.NoError(t, err)

	var sum int64
	for _, l := range snap.Cart {
		sum += l.Quantity * l.UnitPrice
	}
	assert.Equal(t, sum, snap.GrossAmount)
	assert.Equal(t, int64(36000), snap.GrossAmount)
	assert.Equal(t, int64(2), snap.Version)
}

func TestUpdateCart_NotOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")
	_, err := f.svc.Close(ctx, "s-1")
	require.NoError(t, err)

	_, err = f.svc.UpdateCart(ctx, "s-1", nasiGoreng(1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestUpdateCart_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.UpdateCart(context.Background(), "ghost", nasiGoreng(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateCart_InvalidLine(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "s-1")
	_, err := f.svc.UpdateCart(context.Background(), "s-1", nasiGoreng(0))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateCart_IfVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")

	_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(1), IfVersion(1))
	require.NoError(t, err)

	_, err = f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2), IfVersion(1))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateCart_ConcurrentWritersOneWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")

	const n = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(q int64) {
			defer wg.Done()
			_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(q), IfVersion(1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if domain.IsConflict(err) {
				conflicts++
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	snap, err := f.svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
}

func TestBeginPayment_FromOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")
	_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2))
	require.NoError(t, err)

	expire := testStart.Add(15 * time.Minute)
	snap, err := f.svc.BeginPayment(ctx, "s-1", PaymentRequest{QRPayload: "00020101", ExpireAt: expire, GrossAmount: 30000})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPayment, snap.Status)
	assert.Equal(t, "00020101", snap.QRPayload)
	require.NotNil(t, snap.ExpireAt)
	assert.Equal(t, expire, *snap.ExpireAt)
	assert.Equal(t, int64(3), snap.Version)
}

func TestBeginPayment_RejectedOutsideOpen(t *testing.T) {
	for _, status := range []domain.SessionStatus{domain.StatusPayment, domain.StatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			f.create(t, "s-1")
			_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2))
			require.NoError(t, err)
			req := PaymentRequest{QRPayload: "QR", ExpireAt: testStart.Add(time.Minute), GrossAmount: 30000}

			if status == domain.StatusPayment {
				_, err = f.svc.BeginPayment(ctx, "s-1", req)
			} else {
				_, err = f.svc.Close(ctx, "s-1")
			}
			require.NoError(t, err)
			before, err := f.svc.Get(ctx, "s-1")
			require.NoError(t, err)

			_, err = f.svc.BeginPayment(ctx, "s-1", req)
			assert.ErrorIs(t, err, domain.ErrInvalidState)

			after, err := f.svc.Get(ctx, "s-1")
			require.NoError(t, err)
			assert.Equal(t, before, after, "session unchanged")
		})
	}
}

func TestBeginPayment_AmountMismatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")
	_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2))
	require.NoError(t, err)

	_, err = f.svc.BeginPayment(ctx, "s-1", PaymentRequest{QRPayload: "QR", ExpireAt: testStart.Add(time.Minute), GrossAmount: 29999})
	require.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Equal(t, domain.CodeIntegrity, domain.CodeOf(err))

	snap, err := f.svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, snap.Status)
}

func TestBeginPayment_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")

	_, err := f.svc.BeginPayment(ctx, "s-1", PaymentRequest{QRPayload: "QR", ExpireAt: testStart.Add(time.Minute)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "empty cart")

	_, err = f.svc.UpdateCart(ctx, "s-1", nasiGoreng(1))
	require.NoError(t, err)

	_, err = f.svc.BeginPayment(ctx, "s-1", PaymentRequest{ExpireAt: testStart.Add(time.Minute), GrossAmount: 15000})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "missing qr")

	_, err = f.svc.BeginPayment(ctx, "s-1", PaymentRequest{QRPayload: "QR", ExpireAt: testStart, GrossAmount: 15000})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "expiry not in the future")
}

func TestClose_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")

	first, err := f.svc.Close(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, first.Status)

	sub, err := f.broker.Subscribe(ctx, realtime.SessionKey("s-1"))
	require.NoError(t, err)
	defer sub.Close()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Version, msg.Seq)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Close(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	wctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = sub.Next(wctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no second publish")
}

func TestClose_FromPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")
	_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(1))
	require.NoError(t, err)
	_, err = f.svc.BeginPayment(ctx, "s-1", PaymentRequest{QRPayload: "QR", ExpireAt: testStart.Add(time.Minute), GrossAmount: 15000})
	require.NoError(t, err)

	snap, err := f.svc.Close(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, snap.Status)
	assert.Equal(t, "QR", snap.QRPayload, "payment metadata is kept")
}

func TestMutation_SucceedsWhenChannelDown(t *testing.T) {
	f := newFixture(t, failingChannel{})
	ctx := context.Background()
	f.create(t, "s-1")

	snap, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2))
	require.NoError(t, err)
	assert.Equal(t, int64(30000), snap.GrossAmount)
}

// Register creates S1, adds item 7 x2 at 15000, begins payment; the display
// subscribed from the start sees the cart and then the payment metadata.
func TestScenario_RegisterAndDisplay(t *testing.T) {
	f := newFixture(t, nil, WithPollInterval(time.Second))
	ctx := context.Background()
	f.create(t, "S1")

	w, err := f.svc.Subscribe(ctx, "S1")
	require.NoError(t, err)
	defer w.Close()

	initial := nextSnapshot(t, w)
	assert.Equal(t, domain.StatusOpen, initial.Status)
	assert.Empty(t, initial.Cart)

	_, err = f.svc.UpdateCart(ctx, "S1", nasiGoreng(2))
	require.NoError(t, err)
	cart := nextSnapshot(t, w)
	require.Len(t, cart.Cart, 1)
	assert.Equal(t, int64(7), cart.Cart[0].ItemID)
	assert.Equal(t, int64(30000), cart.GrossAmount)

	expire := testStart.Add(10 * time.Minute)
	_, err = f.svc.BeginPayment(ctx, "S1", PaymentRequest{QRPayload: "K1-QR", ExpireAt: expire, GrossAmount: 30000})
	require.NoError(t, err)
	pay := nextSnapshot(t, w)
	assert.Equal(t, domain.StatusPayment, pay.Status)
	assert.Equal(t, "K1-QR", pay.QRPayload)
	require.NotNil(t, pay.ExpireAt)
	assert.Equal(t, expire, *pay.ExpireAt)

	_, err = f.svc.Close(ctx, "S1")
	require.NoError(t, err)
	final := nextSnapshot(t, w)
	assert.Equal(t, domain.StatusClosed, final.Status)

	_, err = w.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSnapshot_PublishedPayloadMatchesGet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "s-1")
	_, err := f.svc.UpdateCart(ctx, "s-1", nasiGoreng(2))
	require.NoError(t, err)

	sub, err := f.broker.Subscribe(ctx, realtime.SessionKey("s-1"))
	require.NoError(t, err)
	defer sub.Close()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, "s-1")
	require.NoError(t, err)
	want, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(msg.Payload))
	assert.Equal(t, got.Version, msg.Seq)
}
