package realtime

import (
	"context"
	"sync"
	"time"
)

// Broker is an in-process Channel. It retains the last value per key until
// the value is older than the retention period.
//
// Thread-safety: Broker is safe for concurrent use. Its mutex guards only
// in-memory maps; no I/O happens while it is held.
type Broker struct {
	mu        sync.Mutex
	last      map[string]retained
	subs      map[string]map[*Subscription]struct{}
	retention time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type retained struct {
	msg Message
	at  time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithRetention drops a retained value once it is older than d. Zero keeps
// values forever. Default 24h, matching the Redis value TTL.
func WithRetention(d time.Duration) BrokerOption {
	return func(b *Broker) {
		b.retention = d
	}
}

// WithBrokerClock sets the time source. Default time.Now.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		last:      make(map[string]retained),
		subs:      make(map[string]map[*Subscription]struct{}),
		retention: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastSweep = b.now()
	return b
}

// Publish implements Channel.
func (b *Broker) Publish(ctx context.Context, key string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.sweep(now)
	if cur, ok := b.current(key, now); ok && msg.Seq <= cur.Seq {
		return nil
	}
	b.last[key] = retained{msg: msg, at: now}
	for sub := range b.subs[key] {
		sub.offer(msg)
	}
	return nil
}

// Subscribe implements Channel.
func (b *Broker) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(func() { b.unsubscribe(key, sub) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[key] == nil {
		b.subs[key] = make(map[*Subscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	if cur, ok := b.current(key, b.now()); ok {
		sub.offer(cur)
	}
	return sub, nil
}

// Subscribers returns the number of live subscriptions at key.
func (b *Broker) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Retained returns the number of keys holding a value.
func (b *Broker) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.last)
}

func (b *Broker) unsubscribe(key string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs[key], sub)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// current returns the live value at key. Must be called with b.mu held.
func (b *Broker) current(key string, now time.Time) (Message, bool) {
	r, ok := b.last[key]
	if !ok {
		return Message{}, false
	}
	if b.expired(r, now) {
		delete(b.last, key)
		return Message{}, false
	}
	return r.msg, true
}

// sweep drops expired values at most once per retention period.
// Must be called with b.mu held.
func (b *Broker) sweep(now time.Time) {
	if b.retention <= 0 || now.Sub(b.lastSweep) < b.retention {
		return
	}
	b.lastSweep = now
	for key, r := range b.last {
		if b.expired(r, now) {
			delete(b.last, key)
		}
	}
}

func (b *Broker) expired(r retained, now time.Time) bool {
	return b.retention > 0 && now.Sub(r.at) >= b.retention
}
