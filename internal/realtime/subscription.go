package realtime

import (
	"context"
	"sync"
)

// Subscription is a one-slot mailbox holding the newest undelivered value.
//
// Offering a value replaces any pending one, so a reader that falls behind
// sees only the latest. Values whose sequence number does not exceed the
// highest one already accepted are dropped.
//
// A Subscription has a single reader. Offers may come from any goroutine.
type Subscription struct {
	mu      sync.Mutex
	pending *Message
	highSeq int64
	err     error
	closed  bool
	signal  chan struct{} // buffered, size 1
	onClose func()
}

func newSubscription(onClose func()) *Subscription {
	return &Subscription{
		signal:  make(chan struct{}, 1),
		onClose: onClose,
	}
}

// offer stores msg as the pending value. Returns false when msg was dropped.
func (s *Subscription) offer(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil || msg.Seq <= s.highSeq {
		return false
	}
	s.highSeq = msg.Seq
	s.pending = &msg
	s.notify()
	return true
}

// fail ends the subscription with err. A pending value is still delivered
// before err is returned.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	s.err = err
	s.notify()
}

// notify must be called with s.mu held.
func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, the subscription ends or ctx is
// done.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		s.mu.Lock()
		if s.pending != nil {
			msg := *s.pending
			s.pending = nil
			s.mu.Unlock()
			return msg, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return Message{}, err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// LastSeq returns the highest sequence number accepted so far.
func (s *Subscription) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highSeq
}

// Close releases the subscription. Pending values are discarded and Next
// returns ErrClosed. Safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.err == nil {
		s.err = ErrClosed
	}
	s.notify()
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}
