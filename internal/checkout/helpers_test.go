package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/realtime"
	"github.com/roach88/tillsync/internal/store"
	"github.com/roach88/tillsync/internal/testutil"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *store.Store
	broker *realtime.Broker
	clock  *testutil.FixedClock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "checkout.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// newFixture wires a Service to a file-backed store and an in-process broker.
// A nil channel means the broker is used.
func newFixture(t *testing.T, channel realtime.Channel, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  openStore(t),
		broker: realtime.NewBroker(),
		clock:  testutil.NewFixedClock(testStart),
	}
	if channel == nil {
		channel = f.broker
	}
	base := []Option{
		WithClock(f.clock.Now),
		WithIDGenerator(testutil.NewSequenceIDs("session")),
		WithLogger(quietLogger()),
		WithPollInterval(20 * time.Millisecond),
		WithResubscribeBackoff(5*time.Millisecond, 20*time.Millisecond),
	}
	f.svc = New(f.store, channel, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, id string) domain.Snapshot {
	t.Helper()
	snap, err := f.svc.Create(context.Background(), CreateRequest{SessionID: id, OperatorID: "cashier-1", OperatorName: "Ayu"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return snap
}

func nasiGoreng(qty int64) []domain.CartLineInput {
	return []domain.CartLineInput{{ItemID: 7, Name: "Nasi Goreng", Quantity: qty, UnitPrice: 15000}}
}

func nextSnapshot(t *testing.T, w *Watch) domain.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := w.Next(ctx)
	if err != nil {
		t.Fatalf("Watch.Next() failed: %v", err)
	}
	return snap
}

// failingChannel rejects every publish and subscribe.
type failingChannel struct{}

func (failingChannel) Publish(context.Context, string, realtime.Message) error {
	return errors.New("channel down")
}

func (failingChannel) Subscribe(context.Context, string) (*realtime.Subscription, error) {
	return nil, errors.New("channel down")
}

// droppingChannel loses every publish but serves subscriptions from a broker.
type droppingChannel struct {
	broker *realtime.Broker
}

func (droppingChannel) Publish(context.Context, string, realtime.Message) error {
	return errors.New("publish lost")
}

func (d droppingChannel) Subscribe(ctx context.Context, key string) (*realtime.Subscription, error) {
	return d.broker.Subscribe(ctx, key)
}

// flakyChannel fails the first n subscribes, then delegates to a broker.
type flakyChannel struct {
	mu       sync.Mutex
	failures int
	broker   *realtime.Broker
}

func (c *flakyChannel) Publish(ctx context.Context, key string, msg realtime.Message) error {
	return c.broker.Publish(ctx, key, msg)
}

func (c *flakyChannel) Subscribe(ctx context.Context, key string) (*realtime.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("connection refused")
	}
	return c.broker.Subscribe(ctx, key)
}
