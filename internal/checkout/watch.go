package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/roach88/tillsync/internal/domain"
	"github.com/roach88/tillsync/internal/realtime"
)

// Watch is a restartable, lazy sequence of session snapshots for one
// display.
//
// The first snapshot is the stored state at subscription time. Later
// snapshots arrive from the realtime channel; versions observed through one
// Watch strictly increase. When the channel is unreachable the Watch polls
// the store instead and keeps trying to resubscribe with backoff. After the
// CLOSED snapshot has been returned, Next returns io.EOF.
//
// A Watch has a single reader.
type Watch struct {
	svc       *Service
	id        string
	initial   *domain.Snapshot
	sub       *realtime.Subscription
	last      int64
	done      bool
	attempt   int
	nextRetry time.Time
}

// Subscribe starts watching a session. Returns NOT_FOUND for an unknown id.
// A channel failure does not fail Subscribe; the Watch starts degraded.
func (s *Service) Subscribe(ctx context.Context, id string) (*Watch, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	w := &Watch{svc: s, id: id, initial: &snap}
	if !snap.Terminal() {
		w.connect(ctx)
	}
	return w, nil
}

// Degraded reports whether the Watch is currently polling the store instead
// of listening on the channel.
func (w *Watch) Degraded() bool {
	return w.sub == nil && !w.done
}

// Next returns the next snapshot, blocking until one is available.
func (w *Watch) Next(ctx context.Context) (domain.Snapshot, error) {
	if w.done {
		return domain.Snapshot{}, io.EOF
	}
	if w.initial != nil {
		snap := *w.initial
		w.initial = nil
		return w.emit(snap), nil
	}

	for {
		if w.sub == nil && w.svc.channel != nil && !time.Now().Before(w.nextRetry) {
			w.connect(ctx)
		}

		if w.sub != nil {
			snap, ok, err := w.receive(ctx)
			if err != nil {
				return domain.Snapshot{}, err
			}
			if ok {
				return w.emit(snap), nil
			}
		} else if err := w.sleep(ctx); err != nil {
			return domain.Snapshot{}, err
		}

		snap, err := w.svc.Get(ctx, w.id)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if snap.Version > w.last {
			return w.emit(snap), nil
		}
	}
}

// Close stops the Watch and releases its subscription.
func (w *Watch) Close() {
	w.done = true
	w.closeSub()
}

// receive waits up to the poll interval for a newer snapshot on the channel.
// ok is false when the caller should fall back to reading the store.
func (w *Watch) receive(ctx context.Context) (domain.Snapshot, bool, error) {
	wctx, cancel := context.WithTimeout(ctx, w.svc.pollInterval)
	defer cancel()

	for {
		msg, err := w.sub.Next(wctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return domain.Snapshot{}, false, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return domain.Snapshot{}, false, nil
		default:
			w.svc.logger.Warn("session watch degraded to polling",
				"session_id", w.id,
				"error", domain.ChannelUnavailable(realtime.SessionKey(w.id), err))
			w.closeSub()
			w.scheduleRetry()
			return domain.Snapshot{}, false, nil
		}

		if msg.Seq <= w.last {
			continue
		}
		var snap domain.Snapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			w.svc.logger.Warn("discarding undecodable snapshot", "session_id", w.id, "seq", msg.Seq, "error", err)
			continue
		}
		snap.Version = msg.Seq
		return snap, true, nil
	}
}

func (w *Watch) emit(snap domain.Snapshot) domain.Snapshot {
	w.last = snap.Version
	if snap.Terminal() {
		w.Close()
	}
	return snap
}

func (w *Watch) connect(ctx context.Context) {
	if w.svc.channel == nil {
		return
	}
	sub, err := w.svc.channel.Subscribe(ctx, realtime.SessionKey(w.id))
	if err != nil {
		w.svc.logger.Warn("session subscribe failed, polling store",
			"session_id", w.id,
			"attempt", w.attempt+1,
			"error", domain.ChannelUnavailable(realtime.SessionKey(w.id), err))
		w.scheduleRetry()
		return
	}
	if w.attempt > 0 {
		w.svc.logger.Info("session watch resubscribed", "session_id", w.id, "attempts", w.attempt)
	}
	w.sub = sub
	w.attempt = 0
}

func (w *Watch) scheduleRetry() {
	w.nextRetry = time.Now().Add(backoff(w.attempt, w.svc.backoffMin, w.svc.backoffMax))
	w.attempt++
}

func (w *Watch) sleep(ctx context.Context) error {
	timer := time.NewTimer(w.svc.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Watch) closeSub() {
	if w.sub != nil {
		w.sub.Close()
		w.sub = nil
	}
}

// backoff returns min * 2^attempt, capped at max.
func backoff(attempt int, min, max time.Duration) time.Duration {
	d := min
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}
